package core

import (
	"context"
	"time"
)

// Store is the persistence contract the import engine commits to.
// Implementations live under internal/store.
type Store interface {
	// EnsureSchema creates entity tables and bookkeeping tables if missing.
	EnsureSchema(ctx context.Context, entities []*Entity) error

	// Upsert inserts records or replaces existing rows with the same natural key.
	// Fields absent from a record are stored as null.
	Upsert(ctx context.Context, ent *Entity, records []Record) error

	// ExistingKeys returns which of keys are already stored for ent, where a
	// key is the "|"-joined value of fields.
	ExistingKeys(ctx context.Context, ent *Entity, fields []string, keys []string) (map[string]bool, error)

	CursorStore
	HistoryStore

	Close() error
}

// HistoryStore records finished import runs.
type HistoryStore interface {
	RecordRun(ctx context.Context, run ImportRun) error
	RecentRuns(ctx context.Context, entity string, limit int) ([]ImportRun, error)
	PurgeRuns(ctx context.Context, before time.Time) (int64, error)
	PurgeCursors(ctx context.Context, before time.Time) (int64, error)
}

// ImportRun is one row of import history.
type ImportRun struct {
	ID         string       `json:"id"`
	Entity     string       `json:"entity"`
	FileName   string       `json:"file_name"`
	ClientIP   string       `json:"client_ip,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Result     ImportResult `json:"result"`
}
