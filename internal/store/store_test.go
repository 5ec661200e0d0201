package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/sheetsync/internal/config"
	"github.com/JonMunkholm/sheetsync/internal/store/memory"
	"github.com/JonMunkholm/sheetsync/internal/store/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, &config.Config{Store: config.StoreConfig{Kind: "memory"}}, nil)
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	if _, ok := mem.(*memory.Store); !ok {
		t.Errorf("Open(memory) = %T, want *memory.Store", mem)
	}

	lite, err := Open(ctx, &config.Config{Store: config.StoreConfig{
		Kind:       "SQLite",
		SQLitePath: filepath.Join(t.TempDir(), "x.db"),
	}}, nil)
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer lite.Close()
	if _, ok := lite.(*sqlite.Store); !ok {
		t.Errorf("Open(sqlite) = %T, want *sqlite.Store", lite)
	}

	if _, err := Open(ctx, &config.Config{Store: config.StoreConfig{Kind: "mongo"}}, nil); err == nil {
		t.Error("Open(mongo) expected error")
	}
}
