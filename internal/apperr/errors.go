// Package apperr defines the error taxonomy shared by the storage, index and
// handler layers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidPath   = errors.New("invalid path")
	ErrNameConflict  = errors.New("name conflict")
	ErrParse         = errors.New("parse failure")
	ErrInvalidInput  = errors.New("invalid input")
)

// IOError is a store-level failure. It carries the operation, the storage key
// and the underlying OS or driver error.
type IOError struct {
	Op  string
	Key string
	Err error
}

func (e *IOError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIOError wraps err as an *IOError unless it is nil.
func NewIOError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Key: key, Err: err}
}

// IsIOError reports whether err is (or wraps) an *IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
