// Package memory implements core.Store in process memory.
// It backs development servers and handler tests; data is lost on Close.
package memory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

type cursor struct {
	next    int
	updated time.Time
}

// Store is a concurrency-safe in-memory core.Store.
type Store struct {
	mu      sync.RWMutex
	tables  map[string]map[string]core.Record // table -> natural key -> record
	cursors map[string]cursor
	runs    []core.ImportRun
}

var _ core.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		tables:  make(map[string]map[string]core.Record),
		cursors: make(map[string]cursor),
	}
}

func (s *Store) EnsureSchema(ctx context.Context, entities []*core.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ent := range entities {
		if s.tables[ent.Table] == nil {
			s.tables[ent.Table] = make(map[string]core.Record)
		}
	}
	return nil
}

// Upsert replaces whole records, so fields missing from a new record become null.
func (s *Store) Upsert(ctx context.Context, ent *core.Entity, records []core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.tables[ent.Table]
	if table == nil {
		table = make(map[string]core.Record)
		s.tables[ent.Table] = table
	}
	for _, rec := range records {
		key, ok := ent.KeyOf(rec)
		if !ok {
			continue
		}
		stored := make(core.Record, len(ent.Fields))
		for _, f := range ent.Fields {
			stored[f.Name] = rec[f.Name]
		}
		table[key] = stored
	}
	return nil
}

func (s *Store) ExistingKeys(ctx context.Context, ent *core.Entity, fields []string, keys []string) (map[string]bool, error) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]bool)
	for _, rec := range s.tables[ent.Table] {
		if k := joinKey(rec, fields); want[k] {
			found[k] = true
		}
	}
	return found, nil
}

// joinKey renders fields the way the SQL stores do: nulls become empty parts.
func joinKey(rec core.Record, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = core.KeyString(rec[f])
	}
	return strings.Join(parts, "|")
}

// Records returns a copy of a table's rows ordered by natural key.
func (s *Store) Records(table string) []core.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.tables[table]))
	for k := range s.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]core.Record, len(keys))
	for i, k := range keys {
		out[i] = maps.Clone(s.tables[table][k])
	}
	return out
}

func (s *Store) LoadCursor(ctx context.Context, runKey string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[runKey].next, nil
}

func (s *Store) SaveCursor(ctx context.Context, runKey string, nextBatch int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[runKey] = cursor{next: nextBatch, updated: time.Now()}
	return nil
}

func (s *Store) ClearCursor(ctx context.Context, runKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, runKey)
	return nil
}

func (s *Store) RecordRun(ctx context.Context, run core.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *Store) RecentRuns(ctx context.Context, entity string, limit int) ([]core.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.ImportRun
	for _, r := range s.runs {
		if entity == "" || r.Entity == entity {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PurgeRuns(ctx context.Context, before time.Time) (int64, error) {
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

func (s *Store) PurgeCursors(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, c := range s.cursors {
		if c.updated.Before(before) {
			delete(s.cursors, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error { return nil }
