// Package sqlite implements core.Store on a local SQLite database using the
// pure-Go modernc driver. It suits single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/store/sqlgen"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for schema changes.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is a core.Store backed by a SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ core.Store = (*Store)(nil)

var bookkeeping = []string{
	`CREATE TABLE IF NOT EXISTS import_cursors (
		run_key TEXT PRIMARY KEY,
		next_batch INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS import_runs (
		id TEXT PRIMARY KEY,
		entity TEXT NOT NULL,
		file_name TEXT NOT NULL,
		client_ip TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		result TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_import_runs_entity ON import_runs(entity, started_at)`,
}

// Open opens the database at path and verifies the connection.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: pragma: %w", err)
	}

	s := &Store{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// EnsureSchema creates entity and bookkeeping tables, then adds any catalog
// fields missing from tables created by an older catalog.
func (s *Store) EnsureSchema(ctx context.Context, entities []*core.Entity) error {
	for _, ddl := range bookkeeping {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create bookkeeping table: %w", err)
		}
	}

	for _, ent := range entities {
		if _, err := s.db.ExecContext(ctx, sqlgen.SQLite.CreateTable(ent)); err != nil {
			return fmt.Errorf("create table %s: %w", ent.Table, err)
		}
		if err := s.reconcile(ctx, ent); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) reconcile(ctx context.Context, ent *core.Entity) error {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", ent.Table)
	if err != nil {
		return fmt.Errorf("inspect table %s: %w", ent.Table, err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("inspect table %s: %w", ent.Table, err)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect table %s: %w", ent.Table, err)
	}

	for _, f := range ent.Fields {
		if existing[f.Name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, sqlgen.SQLite.AddColumn(ent, f)); err != nil {
			return fmt.Errorf("add column %s.%s: %w", ent.Table, f.Name, err)
		}
		s.logger.Info("added column", "table", ent.Table, "column", f.Name)
	}
	return nil
}

// Upsert writes records in one transaction.
func (s *Store) Upsert(ctx context.Context, ent *core.Entity, records []core.Record) error {
	stmts := sqlgen.SQLite.Upsert(ent, records, nil)
	if len(stmts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.SQL, st.Args...); err != nil {
			return fmt.Errorf("upsert %s: %w", ent.Table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ExistingKeys reports which keys are stored for ent.
func (s *Store) ExistingKeys(ctx context.Context, ent *core.Entity, fields []string, keys []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for _, st := range sqlgen.SQLite.ExistingKeys(ent, fields, keys) {
		rows, err := s.db.QueryContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return nil, fmt.Errorf("lookup keys in %s: %w", ent.Table, err)
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, fmt.Errorf("lookup keys in %s: %w", ent.Table, err)
			}
			found[k] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("lookup keys in %s: %w", ent.Table, err)
		}
	}
	return found, nil
}

func (s *Store) LoadCursor(ctx context.Context, runKey string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		"SELECT next_batch FROM import_cursors WHERE run_key = ?", runKey,
	).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return next, nil
}

func (s *Store) SaveCursor(ctx context.Context, runKey string, nextBatch int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_cursors (run_key, next_batch, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (run_key) DO UPDATE SET next_batch = excluded.next_batch, updated_at = excluded.updated_at`,
		runKey, nextBatch, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (s *Store) ClearCursor(ctx context.Context, runKey string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM import_cursors WHERE run_key = ?", runKey); err != nil {
		return fmt.Errorf("clear cursor: %w", err)
	}
	return nil
}

// RecordRun stores a finished run; the result is kept as JSON.
func (s *Store) RecordRun(ctx context.Context, run core.ImportRun) error {
	result, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO import_runs (id, entity, file_name, client_ip, started_at, finished_at, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Entity, run.FileName, run.ClientIP,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), string(result))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns runs newest first. An empty entity matches all entities.
func (s *Store) RecentRuns(ctx context.Context, entity string, limit int) ([]core.ImportRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity, file_name, client_ip, started_at, finished_at, result
		 FROM import_runs WHERE (? = '' OR entity = ?)
		 ORDER BY started_at DESC LIMIT ?`,
		entity, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []core.ImportRun
	for rows.Next() {
		var (
			run               core.ImportRun
			started, finished int64
			result            string
		)
		if err := rows.Scan(&run.ID, &run.Entity, &run.FileName, &run.ClientIP, &started, &finished, &result); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(result), &run.Result); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", run.ID, err)
		}
		run.StartedAt = time.UnixMilli(started)
		run.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) PurgeRuns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM import_runs WHERE started_at < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) PurgeCursors(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM import_cursors WHERE updated_at < ?", before.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge cursors: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
