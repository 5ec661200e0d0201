package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PreviewSummary contains the summary counts for an import preview.
type PreviewSummary struct {
	TotalRows       int `json:"totalRows"`
	NewRows         int `json:"newRows"`
	UpdateRows      int `json:"updateRows"`
	RejectedRows    int `json:"rejectedRows"`
	DuplicateInFile int `json:"duplicateInFile"`
	OrphanRows      int `json:"orphanRows"`
}

// RecordPreview is one canonical record shown in a preview.
type RecordPreview struct {
	RowKey string `json:"rowKey"`
	Values Record `json:"values"`
}

// RejectedPreview is one raw row dropped for lacking a natural key.
type RejectedPreview struct {
	LineNumber int `json:"lineNumber"`
	Values     Row `json:"values"`
}

// DuplicatePreview represents keys that appear multiple times in the file.
type DuplicatePreview struct {
	RowKey      string `json:"rowKey"`
	LineNumbers []int  `json:"lineNumbers"`
}

// PreviewResponse is the read-only analysis of what an import would do.
type PreviewResponse struct {
	Entity           string             `json:"entity"`
	Mapping          ColumnMapping      `json:"mapping"`
	Unmatched        []string           `json:"unmatched"`
	MissingRequired  []string           `json:"missingRequired,omitempty"`
	Summary          PreviewSummary     `json:"summary"`
	NewSamples       []RecordPreview    `json:"newSamples"`
	UpdateSamples    []RecordPreview    `json:"updateSamples"`
	RejectedSamples  []RejectedPreview  `json:"rejectedSamples"`
	DuplicateSamples []DuplicatePreview `json:"duplicateSamples"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
}

// Sample limits
const (
	maxRecordSamples    = 10
	maxRejectedSamples  = 20
	maxDuplicateSamples = 10
)

// AnalyzeImport performs a read-only analysis of a dataset.
// store may be nil, in which case every accepted record is reported as new
// and parent filtering is not evaluated.
func AnalyzeImport(ctx context.Context, store Store, ent *Entity, ds *Dataset) (*PreviewResponse, error) {
	startTime := time.Now()

	resp := &PreviewResponse{
		Entity:  ent.Key,
		Summary: PreviewSummary{TotalRows: len(ds.Rows)},
	}

	prep, err := Prepare(ent, ds)
	if prep != nil {
		resp.Mapping = prep.Mapping
		resp.Unmatched = prep.Unmatched
	}
	if err != nil {
		var mf *MissingFieldsError
		if errors.As(err, &mf) {
			resp.MissingRequired = mf.Fields
			resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()
			return resp, nil
		}
		return nil, err
	}

	resp.Summary.RejectedRows = prep.Rejected
	resp.Summary.DuplicateInFile = prep.Duplicates
	for _, line := range prep.RejectedRows {
		if len(resp.RejectedSamples) >= maxRejectedSamples {
			break
		}
		resp.RejectedSamples = append(resp.RejectedSamples, RejectedPreview{
			LineNumber: line,
			Values:     ds.Rows[line-1],
		})
	}
	resp.DuplicateSamples = duplicateSamples(ent, ds, prep.Mapping)

	records := prep.Records
	if store != nil && ent.Parent != nil {
		kept, skipped, err := FilterByParent(ctx, store, ent, records)
		if err != nil {
			return nil, err
		}
		records = kept
		resp.Summary.OrphanRows = skipped
	}

	existing := map[string]bool{}
	if store != nil && len(records) > 0 {
		keys := make([]string, 0, len(records))
		for _, rec := range records {
			k, _ := ent.KeyOf(rec)
			keys = append(keys, k)
		}
		existing, err = store.ExistingKeys(ctx, ent, ent.NaturalKey, keys)
		if err != nil {
			return nil, fmt.Errorf("check existing keys: %w", err)
		}
	}

	for _, rec := range records {
		k, _ := ent.KeyOf(rec)
		sample := RecordPreview{RowKey: k, Values: rec}
		if existing[k] {
			resp.Summary.UpdateRows++
			if len(resp.UpdateSamples) < maxRecordSamples {
				resp.UpdateSamples = append(resp.UpdateSamples, sample)
			}
			continue
		}
		resp.Summary.NewRows++
		if len(resp.NewSamples) < maxRecordSamples {
			resp.NewSamples = append(resp.NewSamples, sample)
		}
	}

	resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	return resp, nil
}

// duplicateSamples lists keys that occur more than once, with their 1-based row numbers.
func duplicateSamples(ent *Entity, ds *Dataset, mapping ColumnMapping) []DuplicatePreview {
	lines := make(map[string][]int)
	var order []string
	for i, row := range ds.Rows {
		rec, ok := TransformRow(row, mapping, ent)
		if !ok {
			continue
		}
		k, _ := ent.KeyOf(rec)
		if _, seen := lines[k]; !seen {
			order = append(order, k)
		}
		lines[k] = append(lines[k], i+1)
	}

	var out []DuplicatePreview
	for _, k := range order {
		if len(lines[k]) < 2 {
			continue
		}
		out = append(out, DuplicatePreview{RowKey: k, LineNumbers: lines[k]})
		if len(out) >= maxDuplicateSamples {
			break
		}
	}
	return out
}
