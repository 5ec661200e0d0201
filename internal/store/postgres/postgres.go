// Package postgres implements core.Store on PostgreSQL using a pgx connection pool.
//
// Entity tables use native DATE and NUMERIC columns. Each commit runs in its
// own transaction, so a failed batch leaves earlier batches in place and
// nothing of its own.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/store/sqlgen"
)

// Config holds pool settings.
type Config struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is a core.Store backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ core.Store = (*Store)(nil)

var bookkeeping = []string{
	`CREATE TABLE IF NOT EXISTS import_cursors (
		run_key TEXT PRIMARY KEY,
		next_batch INTEGER NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS import_runs (
		id TEXT PRIMARY KEY,
		entity TEXT NOT NULL,
		file_name TEXT NOT NULL,
		client_ip TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		result JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_import_runs_entity ON import_runs(entity, started_at DESC)`,
}

// Connect creates a pool from cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool, logger), nil
}

// New wraps an existing pool. The store takes ownership of the pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// EnsureSchema creates entity and bookkeeping tables, then adds any catalog
// fields missing from existing tables.
func (s *Store) EnsureSchema(ctx context.Context, entities []*core.Entity) error {
	for _, ddl := range bookkeeping {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create bookkeeping table: %w", err)
		}
	}

	for _, ent := range entities {
		if _, err := s.pool.Exec(ctx, sqlgen.Postgres.CreateTable(ent)); err != nil {
			return fmt.Errorf("create table %s: %w", ent.Table, err)
		}
		if err := s.reconcile(ctx, ent); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) reconcile(ctx context.Context, ent *core.Entity) error {
	rows, err := s.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1`, ent.Table)
	if err != nil {
		return fmt.Errorf("inspect table %s: %w", ent.Table, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("inspect table %s: %w", ent.Table, err)
	}

	existing := make(map[string]bool, len(names))
	for _, n := range names {
		existing[n] = true
	}
	for _, f := range ent.Fields {
		if existing[f.Name] {
			continue
		}
		if _, err := s.pool.Exec(ctx, sqlgen.Postgres.AddColumn(ent, f)); err != nil {
			return fmt.Errorf("add column %s.%s: %w", ent.Table, f.Name, err)
		}
		s.logger.Info("added column", "table", ent.Table, "column", f.Name)
	}
	return nil
}

// Upsert writes records in one transaction.
func (s *Store) Upsert(ctx context.Context, ent *core.Entity, records []core.Record) error {
	stmts := sqlgen.Postgres.Upsert(ent, records, toPg)
	if len(stmts) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, st := range stmts {
			if _, err := tx.Exec(ctx, st.SQL, st.Args...); err != nil {
				return fmt.Errorf("upsert %s: %w", ent.Table, err)
			}
		}
		return nil
	})
}

// ExistingKeys reports which keys are stored for ent in a single round trip.
func (s *Store) ExistingKeys(ctx context.Context, ent *core.Entity, fields []string, keys []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(keys) == 0 || len(fields) == 0 {
		return found, nil
	}

	expr := sqlgen.Postgres.KeyExpr(ent, fields)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ANY($1)", expr, sqlgen.QuoteIdent(ent.Table), expr)
	rows, err := s.pool.Query(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("lookup keys in %s: %w", ent.Table, err)
	}
	matched, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("lookup keys in %s: %w", ent.Table, err)
	}
	for _, k := range matched {
		found[k] = true
	}
	return found, nil
}

func (s *Store) LoadCursor(ctx context.Context, runKey string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		"SELECT next_batch FROM import_cursors WHERE run_key = $1", runKey,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return next, nil
}

func (s *Store) SaveCursor(ctx context.Context, runKey string, nextBatch int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_cursors (run_key, next_batch, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (run_key) DO UPDATE SET next_batch = EXCLUDED.next_batch, updated_at = now()`,
		runKey, nextBatch)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (s *Store) ClearCursor(ctx context.Context, runKey string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM import_cursors WHERE run_key = $1", runKey); err != nil {
		return fmt.Errorf("clear cursor: %w", err)
	}
	return nil
}

func (s *Store) RecordRun(ctx context.Context, run core.ImportRun) error {
	result, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO import_runs (id, entity, file_name, client_ip, started_at, finished_at, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET finished_at = EXCLUDED.finished_at, result = EXCLUDED.result`,
		run.ID, run.Entity, run.FileName, run.ClientIP, run.StartedAt, run.FinishedAt, result)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns runs newest first. An empty entity matches all entities.
func (s *Store) RecentRuns(ctx context.Context, entity string, limit int) ([]core.ImportRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity, file_name, client_ip, started_at, finished_at, result
		 FROM import_runs WHERE ($1 = '' OR entity = $1)
		 ORDER BY started_at DESC LIMIT $2`,
		entity, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ImportRun, error) {
		var (
			run    core.ImportRun
			result []byte
		)
		if err := row.Scan(&run.ID, &run.Entity, &run.FileName, &run.ClientIP, &run.StartedAt, &run.FinishedAt, &result); err != nil {
			return run, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal(result, &run.Result); err != nil {
			return run, fmt.Errorf("decode run %s: %w", run.ID, err)
		}
		return run, nil
	})
}

func (s *Store) PurgeRuns(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM import_runs WHERE started_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PurgeCursors(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM import_cursors WHERE updated_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("purge cursors: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
