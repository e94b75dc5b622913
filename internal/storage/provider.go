// Package storage defines the key-value store that holds recipe files, with a
// local file-system driver and a SQLite driver.
//
// Keys are colon-separated ("lunch:soup.cook"); each colon maps to one
// directory level in the file-system driver. Directory keys carry no
// extension ("lunch:winter").
package storage

import (
	"context"
	"fmt"

	"github.com/starford/cookshelf/internal/apperr"
)

// Store is the interface for key-value recipe storage.
//
// Missing keys are reported with errors wrapping apperr.ErrNotFound; create
// collisions with apperr.ErrAlreadyExists. Every other failure is an
// *apperr.IOError.
type Store interface {
	// Get returns the content stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes content under key, replacing any previous value.
	Set(ctx context.Context, key string, content []byte) error
	// Remove deletes key.
	Remove(ctx context.Context, key string) error
	// Keys lists every item key under base ("" for all).
	Keys(ctx context.Context, base string) ([]string, error)
	// Exists reports whether key names an item or a directory.
	Exists(ctx context.Context, key string) (bool, error)
	// Create writes content under key only if key does not exist yet.
	Create(ctx context.Context, key string, content []byte) error
	// MakeDir creates the directory key only if it does not exist yet.
	MakeDir(ctx context.Context, key string) error
	// Dirs lists every directory, in path form, sorted.
	Dirs(ctx context.Context) ([]string, error)
}

// Drivers.
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
)

// Verify drivers satisfy Store at compile time.
var (
	_ Store = (*FS)(nil)
	_ Store = (*SQLite)(nil)
)

func notFound(key string) error {
	return fmt.Errorf("storage: %s: %w", key, apperr.ErrNotFound)
}

func alreadyExists(key string) error {
	return fmt.Errorf("storage: %s: %w", key, apperr.ErrAlreadyExists)
}

func underBase(key, base string) bool {
	return base == "" || len(key) > len(base) && key[:len(base)] == base && key[len(base)] == ':'
}
