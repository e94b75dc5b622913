package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/starford/cookshelf/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS items (
	key        TEXT PRIMARY KEY,
	content    BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS dirs (
	key TEXT PRIMARY KEY
);
`

// SQLite implements Store on a single SQLite database. Directories are
// tracked explicitly in the dirs table; writing an item registers all of its
// ancestor directories.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}
	// A single writer connection keeps create-if-absent decisions serialized.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Get returns the content stored under key.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx, `SELECT content FROM items WHERE key = ?`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(key)
		}
		return nil, apperr.NewIOError("get", key, err)
	}
	return data, nil
}

// Set upserts key and registers its parent directories.
func (s *SQLite) Set(ctx context.Context, key string, content []byte) error {
	return s.inTx(ctx, "set", key, func(tx *sql.Tx) error {
		if err := insertParents(ctx, tx, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO items (key, content, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET
				content    = excluded.content,
				updated_at = excluded.updated_at
		`, key, blob(content))
		return err
	})
}

// Remove deletes key.
func (s *SQLite) Remove(ctx context.Context, key string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM items WHERE key = ?`, key)
	if err != nil {
		return apperr.NewIOError("remove", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.NewIOError("remove", key, err)
	}
	if n == 0 {
		return notFound(key)
	}
	return nil
}

// Keys returns every item key under base, sorted.
func (s *SQLite) Keys(ctx context.Context, base string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key FROM items ORDER BY key`)
	if err != nil {
		return nil, apperr.NewIOError("list", base, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, apperr.NewIOError("list", base, err)
		}
		if underBase(k, base) {
			out = append(out, k)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewIOError("list", base, err)
	}
	return out, nil
}

// Exists reports whether key is an item or a directory.
func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := s.conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM items WHERE key = ?)
		    OR EXISTS(SELECT 1 FROM dirs WHERE key = ?)
	`, key, key).Scan(&found)
	if err != nil {
		return false, apperr.NewIOError("stat", key, err)
	}
	return found, nil
}

// Create inserts key, relying on the primary key to reject duplicates.
func (s *SQLite) Create(ctx context.Context, key string, content []byte) error {
	return s.inTx(ctx, "create", key, func(tx *sql.Tx) error {
		if err := insertParents(ctx, tx, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO items (key, content) VALUES (?, ?)`, key, blob(content))
		return err
	})
}

// MakeDir inserts the directory key, rejecting duplicates.
func (s *SQLite) MakeDir(ctx context.Context, key string) error {
	return s.inTx(ctx, "mkdir", key, func(tx *sql.Tx) error {
		if err := insertParents(ctx, tx, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO dirs (key) VALUES (?)`, key)
		return err
	})
}

// Dirs returns every registered directory in slash form, sorted.
func (s *SQLite) Dirs(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key FROM dirs`)
	if err != nil {
		return nil, apperr.NewIOError("list dirs", "", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, apperr.NewIOError("list dirs", "", err)
		}
		out = append(out, strings.ReplaceAll(k, ":", "/"))
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewIOError("list dirs", "", err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *SQLite) inTx(ctx context.Context, op, key string, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperr.NewIOError(op, key, err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := fn(tx); err != nil {
		if isConstraint(err) {
			return alreadyExists(key)
		}
		return apperr.NewIOError(op, key, err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.NewIOError(op, key, err)
	}
	return nil
}

// insertParents registers every ancestor directory of key.
func insertParents(ctx context.Context, tx *sql.Tx, key string) error {
	parts := strings.Split(key, ":")
	for i := 1; i < len(parts); i++ {
		dir := strings.Join(parts[:i], ":")
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO dirs (key) VALUES (?)`, dir); err != nil {
			return err
		}
	}
	return nil
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// blob keeps empty content from binding as NULL.
func blob(content []byte) []byte {
	if content == nil {
		return []byte{}
	}
	return content
}
