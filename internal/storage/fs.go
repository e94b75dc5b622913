package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/starford/cookshelf/internal/apperr"
)

// FS implements Store backed by the local file system.
type FS struct {
	root string // absolute path to the storage base directory
}

// NewFS creates a new FS store rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute base directory.
func (f *FS) Root() string {
	return f.root
}

// KeyFor maps an absolute file path under the root back to its storage key.
func (f *FS) KeyFor(abs string) (string, error) {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return "", err
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("storage: path outside root: %s", abs)
	}
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ":"), nil
}

// safePath resolves a key against the root and rejects any result that
// escapes it (directory traversal).
func (f *FS) safePath(key string) (string, error) {
	if key == "" {
		return f.root, nil
	}
	rel := filepath.FromSlash(strings.ReplaceAll(key, ":", "/"))
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: absolute paths not allowed: %s", apperr.ErrInvalidPath, key)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", apperr.NewIOError("resolve", key, err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: key escapes storage root: %s", apperr.ErrInvalidPath, key)
	}
	return abs, nil
}

// Get returns the bytes stored under key.
func (f *FS) Get(_ context.Context, key string) ([]byte, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, apperr.NewIOError("get", key, err)
	}
	return data, nil
}

// Set atomically replaces the file for key, creating parent directories.
func (f *FS) Set(_ context.Context, key string, content []byte) error {
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return apperr.NewIOError("mkdir", key, err)
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(content)); err != nil {
		return apperr.NewIOError("set", key, err)
	}
	return nil
}

// Remove deletes the file for key.
func (f *FS) Remove(_ context.Context, key string) error {
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(key)
		}
		return apperr.NewIOError("remove", key, err)
	}
	return nil
}

// Keys walks base and returns the key of every regular file below it.
// Hidden files and directories are skipped.
func (f *FS) Keys(ctx context.Context, base string) ([]string, error) {
	dir, err := f.safePath(base)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == dir && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		key, err := f.KeyFor(p)
		if err != nil {
			return err
		}
		out = append(out, key)
		return nil
	})
	if err != nil {
		return nil, apperr.NewIOError("list", base, err)
	}
	sort.Strings(out)
	return out, nil
}

// Exists reports whether a file or directory exists for key.
func (f *FS) Exists(_ context.Context, key string) (bool, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, apperr.NewIOError("stat", key, err)
	}
	return true, nil
}

// Create writes content to a new file. It fails with apperr.ErrAlreadyExists
// if the file is already there.
//
// The content is written to a hidden temp file first and then hard-linked
// into place: the link is the arbiter between concurrent creators, and the
// file never appears under key partially written.
func (f *FS) Create(_ context.Context, key string, content []byte) error {
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.NewIOError("mkdir", key, err)
	}
	if _, err := os.Lstat(abs); err == nil {
		return alreadyExists(key)
	}

	tmp, err := os.CreateTemp(dir, ".create-*")
	if err != nil {
		return apperr.NewIOError("create", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return apperr.NewIOError("create", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return apperr.NewIOError("fsync", key, err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.NewIOError("close", key, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return apperr.NewIOError("chmod", key, err)
	}
	if err := os.Link(tmp.Name(), abs); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return alreadyExists(key)
		}
		return apperr.NewIOError("create", key, err)
	}
	return nil
}

// MakeDir creates a directory, failing with apperr.ErrAlreadyExists if
// anything already exists at key. Missing parents are created.
func (f *FS) MakeDir(_ context.Context, key string) error {
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return apperr.NewIOError("mkdir", key, err)
	}
	if err := os.Mkdir(abs, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return alreadyExists(key)
		}
		return apperr.NewIOError("mkdir", key, err)
	}
	return nil
}

// Dirs returns every directory below the root in slash form, sorted.
func (f *FS) Dirs(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() || p == f.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, apperr.NewIOError("list dirs", "", err)
	}
	sort.Strings(out)
	return out, nil
}
