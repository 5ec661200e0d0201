// Package store opens the configured core.Store backend.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/sheetsync/internal/config"
	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/store/memory"
	"github.com/JonMunkholm/sheetsync/internal/store/postgres"
	"github.com/JonMunkholm/sheetsync/internal/store/sqlite"
)

// Open connects to the backend named by cfg.Store.Kind.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(cfg.Store.Kind) {
	case config.StorePostgres, "":
		s, err := postgres.Connect(ctx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.Store.SQLitePath, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}
