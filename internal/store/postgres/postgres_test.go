package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

func TestToPg(t *testing.T) {
	text := core.FieldSpec{Name: "serial_number"}
	date := core.FieldSpec{Name: "sale_date", Type: core.FieldDate}
	num := core.FieldSpec{Name: "amount", Type: core.FieldNumeric}

	tests := []struct {
		name      string
		field     core.FieldSpec
		in        any
		wantValid bool
	}{
		{"text", text, "SN001", true},
		{"blank text", text, "  ", false},
		{"nil text", text, nil, false},
		{"number as text", text, 1001.0, true},
		{"date", date, "2024-01-05", true},
		{"bad date", date, "05/01/2024", false},
		{"nil date", date, nil, false},
		{"number", num, 1200.5, true},
		{"zero", num, 0.0, true},
		{"nil number", num, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var valid bool
			switch v := toPg(tt.field, tt.in).(type) {
			case pgtype.Text:
				valid = v.Valid
			case pgtype.Date:
				valid = v.Valid
			case pgtype.Numeric:
				valid = v.Valid
			default:
				t.Fatalf("toPg returned %T", v)
			}
			if valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v", valid, tt.wantValid)
			}
		})
	}
}

func TestToPgDate_Value(t *testing.T) {
	d := toPgDate("2024-01-05")
	want := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	if !d.Time.Equal(want) {
		t.Errorf("toPgDate = %v, want %v", d.Time, want)
	}
}

func TestToPgNumeric_Value(t *testing.T) {
	n := toPgNumeric(1200.5)
	f, err := n.Float64Value()
	if err != nil {
		t.Fatal(err)
	}
	if f.Float64 != 1200.5 {
		t.Errorf("toPgNumeric = %v, want 1200.5", f.Float64)
	}
}

// TestStore_Integration runs against a live database when TEST_DATABASE_URL is set.
func TestStore_Integration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := Connect(ctx, Config{URL: url, MaxConns: 2}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	ent := &core.Entity{
		Key:   "it_inventory",
		Table: "it_inventory_" + time.Now().Format("150405"),
		Fields: []core.FieldSpec{
			{Name: "serial_number"},
			{Name: "purchase_date", Type: core.FieldDate},
			{Name: "cost", Type: core.FieldNumeric},
		},
		NaturalKey: []string{"serial_number"},
	}
	if err := s.EnsureSchema(ctx, []*core.Entity{ent}); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	t.Cleanup(func() { s.pool.Exec(context.Background(), "DROP TABLE "+ent.Table) })

	recs := []core.Record{
		{"serial_number": "SN001", "purchase_date": "2024-01-05", "cost": 1200.0},
		{"serial_number": "SN002", "cost": 99.5},
	}
	for i := 0; i < 2; i++ {
		if err := s.Upsert(ctx, ent, recs); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, err := s.ExistingKeys(ctx, ent, []string{"cost"}, []string{"1200", "99.5", "7"})
	if err != nil {
		t.Fatalf("ExistingKeys: %v", err)
	}
	if len(got) != 2 || !got["1200"] || !got["99.5"] {
		t.Errorf("ExistingKeys = %v, want 1200 and 99.5", got)
	}

	if err := s.SaveCursor(ctx, "it:"+ent.Table, 2); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.LoadCursor(ctx, "it:"+ent.Table); n != 2 {
		t.Errorf("LoadCursor = %d, want 2", n)
	}
	if err := s.ClearCursor(ctx, "it:"+ent.Table); err != nil {
		t.Fatal(err)
	}
}
