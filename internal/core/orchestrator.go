package core

// orchestrator.go commits records to the store in bounded, ordered batches.
//
// Batches are committed strictly one after another. The first failing batch
// stops the run; batches committed before it stay committed and nothing is
// retried. Re-running the same import is safe because every commit is an
// idempotent upsert keyed by natural key.
//
// When a CursorStore is configured, the index of the next uncommitted batch
// is persisted after every successful commit so an interrupted run can pick
// up where it left off. A run that finishes cleanly removes its cursor.

import (
	"context"
	"errors"
	"log/slog"
)

// DefaultChunkSize is the number of records committed per batch.
const DefaultChunkSize = 100

// CommitFunc commits one batch of records. It must be idempotent per natural key.
type CommitFunc func(ctx context.Context, chunk []Record) error

// CursorStore persists resume positions for interrupted imports.
type CursorStore interface {
	// LoadCursor returns the next batch index for runKey, or 0 if none is stored.
	LoadCursor(ctx context.Context, runKey string) (int, error)
	SaveCursor(ctx context.Context, runKey string, nextBatch int) error
	ClearCursor(ctx context.Context, runKey string) error
}

// Orchestrator partitions records into batches and commits them in order.
type Orchestrator struct {
	ChunkSize  int
	OnProgress ProgressFunc

	// Cursor and RunKey enable resuming; both must be set.
	Cursor CursorStore
	RunKey string

	// Progress fields copied into every emitted event.
	ImportID string
	Entity   string
	FileName string

	Logger *slog.Logger
}

// BatchOutcome is the orchestrator's share of an ImportResult.
type BatchOutcome struct {
	RecordsAccepted  int
	BatchesCommitted int
	BatchesFailed    int
	BatchesResumed   int
	Cancelled        bool
	FirstError       string
}

// Chunk splits records into consecutive slices of at most size elements.
func Chunk(records []Record, size int) [][]Record {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

// Run commits records batch by batch.
// The returned error is a *CommitError for a failed batch, or the context
// cause if the run was cancelled before or during a batch.
func (o *Orchestrator) Run(ctx context.Context, records []Record, commit CommitFunc) (BatchOutcome, error) {
	var out BatchOutcome
	chunks := Chunk(records, o.ChunkSize)
	logger := o.logger()

	start := o.loadCursor(ctx, len(chunks))
	for i := 0; i < start; i++ {
		out.RecordsAccepted += len(chunks[i])
	}
	out.BatchesResumed = start
	if start > 0 {
		logger.Info("resuming import", "run_key", o.RunKey, "next_batch", start, "total_batches", len(chunks))
	}

	o.emit(Progress{
		Phase:            PhaseCommitting,
		TotalBatches:     len(chunks),
		BatchesDone:      start,
		RecordsTotal:     len(records),
		RecordsCommitted: out.RecordsAccepted,
	})

	cancelled := func(batch int) (BatchOutcome, error) {
		err := context.Cause(ctx)
		out.Cancelled = true
		out.FirstError = err.Error()
		o.emit(Progress{
			Phase:            PhaseCancelled,
			TotalBatches:     len(chunks),
			BatchesDone:      batch,
			RecordsTotal:     len(records),
			RecordsCommitted: out.RecordsAccepted,
			Error:            out.FirstError,
		})
		return out, err
	}

	for i := start; i < len(chunks); i++ {
		if ctx.Err() != nil {
			return cancelled(i)
		}

		chunk := chunks[i]
		if err := commit(ctx, chunk); err != nil {
			// Cancelled mid-commit: the batch is not counted as failed and
			// the cursor stays on it.
			if errors.Is(ctx.Err(), context.Canceled) {
				logger.Warn("batch commit interrupted by cancellation", "batch", i, "error", err)
				return cancelled(i)
			}
			out.BatchesFailed = 1
			out.FirstError = err.Error()
			logger.Error("batch commit failed",
				"batch", i,
				"records", len(chunk),
				"committed_before", out.RecordsAccepted,
				"error", err,
			)
			o.emit(Progress{
				Phase:            PhaseFailed,
				TotalBatches:     len(chunks),
				BatchesDone:      i,
				RecordsTotal:     len(records),
				RecordsCommitted: out.RecordsAccepted,
				Error:            out.FirstError,
			})
			return out, &CommitError{Batch: i, Records: len(chunk), Err: err}
		}

		out.RecordsAccepted += len(chunk)
		out.BatchesCommitted++
		o.saveCursor(ctx, i+1)
		logger.Debug("batch committed", "batch", i, "records", len(chunk), "total_committed", out.RecordsAccepted)

		o.emit(Progress{
			Phase:            PhaseCommitting,
			TotalBatches:     len(chunks),
			BatchesDone:      i + 1,
			RecordsTotal:     len(records),
			RecordsCommitted: out.RecordsAccepted,
		})
	}

	o.clearCursor(ctx)
	return out, nil
}

func (o *Orchestrator) resumable() bool {
	return o.Cursor != nil && o.RunKey != ""
}

// loadCursor returns the first batch to commit. Cursor errors are logged and treated as a fresh start.
func (o *Orchestrator) loadCursor(ctx context.Context, total int) int {
	if !o.resumable() {
		return 0
	}
	next, err := o.Cursor.LoadCursor(ctx, o.RunKey)
	if err != nil {
		o.logger().Warn("load resume cursor", "run_key", o.RunKey, "error", err)
		return 0
	}
	if next < 0 || next > total {
		return 0
	}
	return next
}

func (o *Orchestrator) saveCursor(ctx context.Context, next int) {
	if !o.resumable() {
		return
	}
	// Persist even if the run is being cancelled; the batch is already committed.
	if err := o.Cursor.SaveCursor(context.WithoutCancel(ctx), o.RunKey, next); err != nil {
		o.logger().Warn("save resume cursor", "run_key", o.RunKey, "error", err)
	}
}

func (o *Orchestrator) clearCursor(ctx context.Context) {
	if !o.resumable() {
		return
	}
	if err := o.Cursor.ClearCursor(ctx, o.RunKey); err != nil {
		o.logger().Warn("clear resume cursor", "run_key", o.RunKey, "error", err)
	}
}

func (o *Orchestrator) emit(p Progress) {
	if o.OnProgress == nil {
		return
	}
	p.ImportID = o.ImportID
	p.Entity = o.Entity
	p.FileName = o.FileName
	o.OnProgress(p)
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
