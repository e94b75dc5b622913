// Package namer picks collision-free names for new recipes and directories.
//
// Names are disambiguated by appending " (n)" to the desired name, starting
// at 1: "Soup", "Soup (1)", "Soup (2)", ...
package namer

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/cookshelf/internal/apperr"
	"github.com/starford/cookshelf/internal/models"
	"github.com/starford/cookshelf/internal/recipepath"
	"github.com/starford/cookshelf/internal/storage"
)

// Kind says whether a name is for a recipe file or a directory.
type Kind int

const (
	File Kind = iota
	Directory
)

func (k Kind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

// DefaultMaxAttempts bounds the disambiguator.
const DefaultMaxAttempts = 10000

// Namer probes and claims names in a store.
type Namer struct {
	store       storage.Store
	maxAttempts int
}

// Option configures a Namer.
type Option func(*Namer)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(nm *Namer) {
		if n > 0 {
			nm.maxAttempts = n
		}
	}
}

// New returns a Namer over store.
func New(store storage.Store, opts ...Option) *Namer {
	nm := &Namer{store: store, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(nm)
	}
	return nm
}

// Candidate returns the n-th name tried for desired; n == 0 is desired itself.
func Candidate(desired string, n int) string {
	if n == 0 {
		return desired
	}
	return fmt.Sprintf("%s (%d)", desired, n)
}

// KeyFor returns the storage key a name of kind occupies under parent, a
// recipe directory path ("" for the root).
func KeyFor(parent, name string, kind Kind) string {
	key := recipepath.Encode(recipepath.Join(parent, name))
	if kind == File {
		return recipepath.FileKey(key)
	}
	return key
}

// FindAvailableName returns the first candidate for desired that does not
// exist under parent. The answer is advisory: another writer may take the
// name before the caller uses it. Use Claim to create atomically.
func (nm *Namer) FindAvailableName(ctx context.Context, parent, desired string, kind Kind) (models.NameResult, error) {
	desired, err := normalize(parent, desired, kind)
	if err != nil {
		return models.NameResult{}, err
	}

	for n := 0; n < nm.maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return models.NameResult{}, err
		}
		name := Candidate(desired, n)
		exists, err := nm.store.Exists(ctx, KeyFor(parent, name, kind))
		if err != nil {
			return models.NameResult{}, asIOError("exists", KeyFor(parent, name, kind), err)
		}
		if !exists {
			return models.NameResult{Renamed: n > 0, Name: name}, nil
		}
	}
	return models.NameResult{}, fmt.Errorf("namer: %s %q in %q: %w", kind, desired, parent, apperr.ErrNameConflict)
}

// Claim creates desired (or the first free disambiguated variant) under
// parent. Files are created with content; content is ignored for
// directories. Only the store's ErrAlreadyExists advances the disambiguator,
// so two concurrent claims for the same name always end with distinct names.
func (nm *Namer) Claim(ctx context.Context, parent, desired string, kind Kind, content []byte) (models.NameResult, error) {
	desired, err := normalize(parent, desired, kind)
	if err != nil {
		return models.NameResult{}, err
	}

	for n := 0; n < nm.maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return models.NameResult{}, err
		}
		name := Candidate(desired, n)
		key := KeyFor(parent, name, kind)

		if kind == File {
			err = nm.store.Create(ctx, key, content)
		} else {
			err = nm.store.MakeDir(ctx, key)
		}
		switch {
		case err == nil:
			return models.NameResult{Renamed: n > 0, Name: name}, nil
		case errors.Is(err, apperr.ErrAlreadyExists):
			continue
		default:
			return models.NameResult{}, asIOError("create", key, err)
		}
	}
	return models.NameResult{}, fmt.Errorf("namer: %s %q in %q: %w", kind, desired, parent, apperr.ErrNameConflict)
}

func normalize(parent, desired string, kind Kind) (string, error) {
	if err := recipepath.ValidateDir(parent); err != nil {
		return "", err
	}
	if kind == File {
		desired = recipepath.TrimExt(desired)
	}
	if err := recipepath.ValidateName(desired); err != nil {
		return "", err
	}
	return desired, nil
}

func asIOError(op, key string, err error) error {
	if apperr.IsIOError(err) || errors.Is(err, apperr.ErrInvalidPath) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.NewIOError(op, key, err)
}
