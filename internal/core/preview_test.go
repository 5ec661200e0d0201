package core

import (
	"context"
	"errors"
	"testing"
)

func TestAnalyzeImport(t *testing.T) {
	store := newFakeStore()
	ent := testInventory()
	ctx := context.Background()

	if err := store.Upsert(ctx, ent, []Record{{"serial_number": "SN001"}, {"serial_number": "SN002"}}); err != nil {
		t.Fatal(err)
	}
	store.calls = 0

	rows := serialRows(5)
	rows = append(rows,
		Row{"Serial No": "", "Model": "Orphan"},
		Row{"Serial No": "SN003", "Model": "Again"},
	)

	resp, err := AnalyzeImport(ctx, store, ent, inventoryDataset(rows))
	if err != nil {
		t.Fatalf("AnalyzeImport error = %v", err)
	}

	s := resp.Summary
	if s.TotalRows != 7 || s.RejectedRows != 1 || s.DuplicateInFile != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.NewRows != 3 || s.UpdateRows != 2 {
		t.Errorf("new, update = %d, %d, want 3, 2", s.NewRows, s.UpdateRows)
	}
	if len(resp.RejectedSamples) != 1 || resp.RejectedSamples[0].LineNumber != 6 {
		t.Errorf("rejected samples = %+v, want line 6", resp.RejectedSamples)
	}
	if len(resp.DuplicateSamples) != 1 {
		t.Fatalf("duplicate samples = %+v", resp.DuplicateSamples)
	}
	if d := resp.DuplicateSamples[0]; d.RowKey != "SN003" || len(d.LineNumbers) != 2 || d.LineNumbers[1] != 7 {
		t.Errorf("duplicate sample = %+v, want SN003 at [3 7]", d)
	}
	if store.calls != 0 {
		t.Errorf("store upserts = %d, want 0", store.calls)
	}
}

func TestAnalyzeImport_MissingRequired(t *testing.T) {
	ds := &Dataset{Headers: []string{"Model"}, Rows: []Row{{"Model": "X"}}}

	resp, err := AnalyzeImport(context.Background(), nil, testInventory(), ds)
	if err != nil {
		t.Fatalf("AnalyzeImport error = %v", err)
	}
	if len(resp.MissingRequired) != 1 || resp.MissingRequired[0] != "serial_number" {
		t.Errorf("MissingRequired = %v, want [serial_number]", resp.MissingRequired)
	}
}

func TestAnalyzeImport_NoStore(t *testing.T) {
	resp, err := AnalyzeImport(context.Background(), nil, testInventory(), inventoryDataset(serialRows(4)))
	if err != nil {
		t.Fatalf("AnalyzeImport error = %v", err)
	}
	if resp.Summary.NewRows != 4 || resp.Summary.UpdateRows != 0 {
		t.Errorf("summary = %+v, want 4 new", resp.Summary)
	}
}

func TestAnalyzeImport_Orphans(t *testing.T) {
	withTestRegistry(t)
	store := newFakeStore()
	ctx := context.Background()
	if err := store.Upsert(ctx, testSale(), []Record{{"order_id": "1001"}}); err != nil {
		t.Fatal(err)
	}

	ds := &Dataset{
		Headers: []string{"Order No", "Amount"},
		Rows: []Row{
			{"Order No": "1001", "Amount": "5"},
			{"Order No": "2002", "Amount": "5"},
		},
	}
	resp, err := AnalyzeImport(ctx, store, testPayment(), ds)
	if err != nil {
		t.Fatalf("AnalyzeImport error = %v", err)
	}
	if resp.Summary.OrphanRows != 1 || resp.Summary.NewRows != 1 {
		t.Errorf("summary = %+v, want 1 orphan and 1 new", resp.Summary)
	}
}

func TestAnalyzeImport_NoRows(t *testing.T) {
	_, err := AnalyzeImport(context.Background(), nil, testInventory(), inventoryDataset(nil))
	if !errors.Is(err, ErrNoRows) {
		t.Errorf("AnalyzeImport error = %v, want ErrNoRows", err)
	}
}
