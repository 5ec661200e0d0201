package core

// pipeline.go wires the import stages together:
//
//	headers -> column mapping -> per-row transform -> duplicate resolution
//	        -> parent filtering -> batched commits -> ImportResult
//
// Precondition failures are detected before any store interaction.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
)

// ImportOptions tunes a single import run.
type ImportOptions struct {
	ImportID      string
	ChunkSize     int           // Records per batch; DefaultChunkSize if zero
	Resume        bool          // Persist and honour resume cursors
	CommitTimeout time.Duration // Per-batch deadline; none if zero
	OnProgress    ProgressFunc
	Logger        *slog.Logger
}

// Prepared holds the output of the stages that run before any commit.
type Prepared struct {
	Mapping      ColumnMapping
	Unmatched    []string
	Records      []Record
	Rejected     int
	RejectedRows []int // 1-based data row numbers
	Duplicates   int
}

// Prepare matches columns, transforms rows, and resolves duplicates.
// Returns a precondition error if there are no rows or a required field is unmapped.
func Prepare(ent *Entity, ds *Dataset) (*Prepared, error) {
	if len(ds.Rows) == 0 {
		return nil, ErrNoRows
	}

	mapping := MatchColumns(ds.Headers, ent.Aliases())
	if missing := missingFields(ent, mapping); len(missing) > 0 {
		return &Prepared{Mapping: mapping, Unmatched: UnmatchedHeaders(ds.Headers, mapping)},
			&MissingFieldsError{Entity: ent.Key, Fields: missing}
	}

	p := &Prepared{
		Mapping:   mapping,
		Unmatched: UnmatchedHeaders(ds.Headers, mapping),
		Records:   make([]Record, 0, len(ds.Rows)),
	}
	for i, row := range ds.Rows {
		rec, ok := TransformRow(row, mapping, ent)
		if !ok {
			p.Rejected++
			p.RejectedRows = append(p.RejectedRows, i+1)
			continue
		}
		p.Records = append(p.Records, rec)
	}

	p.Records, p.Duplicates = ResolveDuplicates(p.Records, ent.NaturalKey)
	return p, nil
}

func missingFields(ent *Entity, mapping ColumnMapping) []string {
	var missing []string
	for _, f := range ent.RequiredFields() {
		if !mapping.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// FilterByParent drops records whose reference is absent from the parent entity's stored keys.
// Returns the kept records and the number skipped.
func FilterByParent(ctx context.Context, store Store, ent *Entity, records []Record) ([]Record, int, error) {
	if ent.Parent == nil || len(records) == 0 {
		return records, 0, nil
	}
	parent, ok := Get(ent.Parent.Entity)
	if !ok {
		return nil, 0, fmt.Errorf("%w: parent %q of %s", ErrUnknownEntity, ent.Parent.Entity, ent.Key)
	}

	local := []string{ent.Parent.Local()}
	candidates := make([]string, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if k, ok := recordKey(rec, local); ok && !seen[k] {
			seen[k] = true
			candidates = append(candidates, k)
		}
	}

	existing, err := store.ExistingKeys(ctx, parent, []string{ent.Parent.Field}, candidates)
	if err != nil {
		return nil, 0, fmt.Errorf("lookup %s keys: %w", parent.Key, err)
	}

	kept := records[:0:0]
	for _, rec := range records {
		if k, ok := recordKey(rec, local); ok && existing[k] {
			kept = append(kept, rec)
		}
	}
	return kept, len(records) - len(kept), nil
}

// Import runs the full pipeline for one dataset and commits to store.
// The returned result is always non-nil; err is set for precondition,
// parent-filter, commit, and cancellation failures.
func Import(ctx context.Context, store Store, ent *Entity, ds *Dataset, opts ImportOptions) (*ImportResult, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("entity", ent.Key, "file", ds.Name)

	res := &ImportResult{
		ImportID:      opts.ImportID,
		Entity:        ent.Key,
		FileName:      ds.Name,
		TotalRowsRead: len(ds.Rows),
	}
	finish := func(err error) (*ImportResult, error) {
		res.Duration = time.Since(start)
		if err != nil && res.FirstError == "" {
			res.FirstError = err.Error()
		}
		return res, err
	}
	emit := func(p Progress) {
		if opts.OnProgress != nil {
			p.ImportID, p.Entity, p.FileName = opts.ImportID, ent.Key, ds.Name
			opts.OnProgress(p)
		}
	}

	emit(Progress{Phase: PhaseMapping})
	prep, err := Prepare(ent, ds)
	if prep != nil {
		res.UnmatchedHeaders = prep.Unmatched
	}
	if err != nil {
		logger.Warn("import precondition failed", "error", err)
		return finish(err)
	}
	if len(prep.Unmatched) > 0 {
		logger.Info("ignoring unmatched headers", "headers", prep.Unmatched)
	}
	res.RecordsRejected = prep.Rejected
	res.DuplicatesCollapsed = prep.Duplicates

	emit(Progress{Phase: PhaseTransforming, RecordsTotal: len(prep.Records)})
	if store == nil {
		return finish(ErrNoStore)
	}

	records := prep.Records
	if ent.Parent != nil {
		var skipped int
		records, skipped, err = FilterByParent(ctx, store, ent, records)
		if err != nil {
			return finish(err)
		}
		res.RecordsSkipped = skipped
		if len(records) == 0 {
			logger.Warn("no rows matched parent records", "parent", ent.Parent.Entity, "skipped", skipped)
			return finish(ErrNoValidRows)
		}
	}

	orch := &Orchestrator{
		ChunkSize:  opts.ChunkSize,
		OnProgress: opts.OnProgress,
		ImportID:   opts.ImportID,
		Entity:     ent.Key,
		FileName:   ds.Name,
		Logger:     logger,
	}
	if opts.Resume {
		orch.Cursor = store
		orch.RunKey = RunKey(ent, records, opts.ChunkSize)
	}

	commit := func(ctx context.Context, chunk []Record) error {
		if opts.CommitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.CommitTimeout)
			defer cancel()
		}
		return store.Upsert(ctx, ent, chunk)
	}

	out, err := orch.Run(ctx, records, commit)
	res.RecordsAccepted = out.RecordsAccepted
	res.BatchesCommitted = out.BatchesCommitted
	res.BatchesFailed = out.BatchesFailed
	res.BatchesResumed = out.BatchesResumed
	res.Cancelled = out.Cancelled
	res.FirstError = out.FirstError

	if err != nil {
		var ce *CommitError
		if errors.As(err, &ce) {
			logger.Error("import stopped at failed batch", "batch", ce.Batch, "accepted", res.RecordsAccepted, "error", ce.Err)
		} else {
			logger.Warn("import cancelled", "accepted", res.RecordsAccepted, "error", err)
		}
		return finish(err)
	}

	emit(Progress{
		Phase:            PhaseComplete,
		TotalBatches:     out.BatchesResumed + out.BatchesCommitted,
		BatchesDone:      out.BatchesResumed + out.BatchesCommitted,
		RecordsTotal:     len(records),
		RecordsCommitted: res.RecordsAccepted,
	})
	logger.Info("import complete",
		"rows", res.TotalRowsRead,
		"accepted", res.RecordsAccepted,
		"rejected", res.RecordsRejected,
		"skipped", res.RecordsSkipped,
		"duplicates", res.DuplicatesCollapsed,
		"batches", res.BatchesCommitted,
	)
	return finish(nil)
}

// RunKey identifies an import for resume purposes: same entity, same batch
// size, and the same committed record sequence. The digest covers the records
// after mapping, de-duplication, and parent filtering, so a changed catalog or
// changed parent rows start a fresh run instead of skipping batches whose
// boundaries moved.
func RunKey(ent *Entity, records []Record, chunkSize int) string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return ent.Key + ":" + recordsDigest(ent, records) + ":" + strconv.Itoa(chunkSize)
}

// recordsDigest hashes every field of every record in order, tagging values
// by type so that a null, "" and 0 never collide.
func recordsDigest(ent *Entity, records []Record) string {
	h := xxh3.New()
	cols := ent.Columns()
	for _, rec := range records {
		for _, col := range cols {
			io.WriteString(h, col)
			switch v := rec[col].(type) {
			case nil:
				io.WriteString(h, "\x1fn")
			case string:
				io.WriteString(h, "\x1fs"+v)
			case float64:
				io.WriteString(h, "\x1ff"+KeyString(v))
			default:
				fmt.Fprintf(h, "\x1fv%v", v)
			}
			io.WriteString(h, "\x1e")
		}
		io.WriteString(h, "\x1d")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
