// Package testutil provides shared test helpers for setting up recipe stores
// and indexes.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/cookshelf/internal/index"
	"github.com/starford/cookshelf/internal/storage"
)

// Logger returns a logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// RecipeStore creates a temporary recipe directory with an FS store.
func RecipeStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// SQLiteStore opens a temporary SQLite store that is closed on cleanup.
func SQLiteStore(t *testing.T) *storage.SQLite {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "recipes.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Cache returns an uninitialized index over store.
func Cache(t *testing.T, store storage.Store) *index.Cache {
	t.Helper()
	return index.New(store, Logger())
}

// Seed writes recipes (storage key without extension → content) into store.
func Seed(t *testing.T, store storage.Store, recipes map[string]string) {
	t.Helper()
	for key, content := range recipes {
		if err := store.Set(context.Background(), key+".cook", []byte(content)); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
}
