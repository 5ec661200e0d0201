package core

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory Store that can be told to fail a given upsert call.
type fakeStore struct {
	mu      sync.Mutex
	tables  map[string]map[string]Record
	calls   int
	failOn  int // 1-based Upsert call that fails; 0 never fails
	failErr error
	onCall  func(call int)
	cursors map[string]int
	saved   []int
	runs    []ImportRun

	// honorCtx makes Upsert fail with ctx.Err() once the hook returns on a done context.
	honorCtx bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables:  make(map[string]map[string]Record),
		cursors: make(map[string]int),
	}
}

func (s *fakeStore) EnsureSchema(ctx context.Context, entities []*Entity) error { return nil }

func (s *fakeStore) Upsert(ctx context.Context, ent *Entity, records []Record) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	hook := s.onCall
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if s.failOn == call {
		return s.failErr
	}
	if s.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[ent.Table]
	if t == nil {
		t = make(map[string]Record)
		s.tables[ent.Table] = t
	}
	for _, rec := range records {
		k, ok := ent.KeyOf(rec)
		if !ok {
			continue
		}
		cp := make(Record, len(ent.Fields))
		for _, f := range ent.Fields {
			cp[f.Name] = rec[f.Name]
		}
		t[k] = cp
	}
	return nil
}

func (s *fakeStore) ExistingKeys(ctx context.Context, ent *Entity, fields []string, keys []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := make(map[string]bool)
	for _, rec := range s.tables[ent.Table] {
		if k, ok := recordKey(rec, fields); ok && want[k] {
			out[k] = true
		}
	}
	return out, nil
}

func (s *fakeStore) LoadCursor(ctx context.Context, runKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[runKey], nil
}

func (s *fakeStore) SaveCursor(ctx context.Context, runKey string, nextBatch int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[runKey] = nextBatch
	s.saved = append(s.saved, nextBatch)
	return nil
}

func (s *fakeStore) ClearCursor(ctx context.Context, runKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, runKey)
	return nil
}

func (s *fakeStore) RecordRun(ctx context.Context, run ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) RecentRuns(ctx context.Context, entity string, limit int) ([]ImportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ImportRun
	for _, r := range s.runs {
		if entity == "" || r.Entity == entity {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) PurgeRuns(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.runs[:0]
	for _, r := range s.runs {
		if !r.StartedAt.Before(before) {
			kept = append(kept, r)
		}
	}
	n := int64(len(s.runs) - len(kept))
	s.runs = kept
	return n, nil
}

func (s *fakeStore) PurgeCursors(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

func (s *fakeStore) get(table, key string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[table][key]
}

// Test entities

func testInventory() *Entity {
	return &Entity{
		Key:   "inventory",
		Label: "Inventory",
		Table: "inventory",
		Fields: []FieldSpec{
			{Name: "serial_number", Type: FieldText, Aliases: []string{"serial no", "imei"}},
			{Name: "model", Type: FieldText, Aliases: []string{"model name"}},
			{Name: "purchase_date", Type: FieldDate, Aliases: []string{"date", "purchased on"}},
			{Name: "cost", Type: FieldNumeric, Additive: true, Aliases: []string{"cost", "price"}},
			{Name: "status", Type: FieldText, Default: "in_stock"},
		},
		NaturalKey: []string{"serial_number"},
	}
}

func testSale() *Entity {
	return &Entity{
		Key:   "sale",
		Label: "Sales",
		Table: "sales",
		Fields: []FieldSpec{
			{Name: "order_id", Type: FieldText, Aliases: []string{"order no", "invoice no"}},
			{Name: "sale_date", Type: FieldDate, Aliases: []string{"date", "sold on"}},
			{Name: "amount", Type: FieldNumeric, Additive: true, Aliases: []string{"total"}},
		},
		NaturalKey: []string{"order_id"},
	}
}

func testPayment() *Entity {
	return &Entity{
		Key:   "payment",
		Label: "Payments",
		Table: "payments",
		Fields: []FieldSpec{
			{Name: "order_id", Type: FieldText, Aliases: []string{"order no"}},
			{Name: "payment_date", Type: FieldDate, Aliases: []string{"paid on", "date"}},
			{Name: "amount_paid", Type: FieldNumeric, Additive: true, Aliases: []string{"amount"}},
		},
		NaturalKey: []string{"order_id"},
		Parent:     &ParentRef{Entity: "sale", Field: "order_id"},
	}
}

// withTestRegistry registers the test entities for the duration of a test.
func withTestRegistry(t *testing.T) {
	t.Helper()
	Clear()
	Register(testInventory())
	Register(testSale())
	Register(testPayment())
	t.Cleanup(Clear)
}

// serialRows builds n inventory rows SN001..SNnnn.
func serialRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			"Serial No": serialNumber(i + 1),
			"Model":     "Phone",
			"Cost":      "100",
		}
	}
	return rows
}

func serialNumber(i int) string {
	const digits = "0123456789"
	return "SN" + string([]byte{digits[i/100%10], digits[i/10%10], digits[i%10]})
}

func serialRecords(n int) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{"serial_number": serialNumber(i + 1)}
	}
	return recs
}
