package core

// scheduler.go runs periodic housekeeping for import bookkeeping tables.
//
// Each cycle:
//  1. Purges import history older than the history retention.
//  2. Purges resume cursors that have not advanced within the cursor retention,
//     since an abandoned cursor would otherwise skip batches on a later re-import.
//
// The scheduler is long-running and context-aware for graceful shutdown. It
// logs failures but never stops the application.

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig holds configuration for the retention scheduler.
// All fields have defaults if zero values are provided.
type RetentionConfig struct {
	HistoryRetention time.Duration // Default: 90 days
	CursorRetention  time.Duration // Default: 7 days
	CheckInterval    time.Duration // Default: 24h
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 90 * 24 * time.Hour
	}
	if c.CursorRetention <= 0 {
		c.CursorRetention = 7 * 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
	return c
}

// StartRetentionScheduler purges old history and stale cursors immediately,
// then every CheckInterval, until ctx is cancelled.
func (s *Service) StartRetentionScheduler(ctx context.Context, cfg RetentionConfig) {
	if s.store == nil {
		return
	}
	cfg = cfg.withDefaults()
	slog.Info("retention scheduler started",
		"history_retention", cfg.HistoryRetention,
		"cursor_retention", cfg.CursorRetention,
		"interval", cfg.CheckInterval,
	)

	s.runRetentionJob(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			s.runRetentionJob(ctx, cfg)
		}
	}
}

// runRetentionJob performs one purge cycle.
func (s *Service) runRetentionJob(ctx context.Context, cfg RetentionConfig) {
	start := time.Now()

	runs, err := s.store.PurgeRuns(ctx, start.Add(-cfg.HistoryRetention))
	if err != nil {
		slog.Error("purge import history failed", "error", err)
	} else if runs > 0 {
		slog.Info("purged import history", "runs_purged", runs)
	}

	cursors, err := s.store.PurgeCursors(ctx, start.Add(-cfg.CursorRetention))
	if err != nil {
		slog.Error("purge resume cursors failed", "error", err)
	} else if cursors > 0 {
		slog.Info("purged stale resume cursors", "cursors_purged", cursors)
	}

	slog.Debug("retention job completed", "duration_ms", time.Since(start).Milliseconds())
}
