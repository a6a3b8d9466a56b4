// Package sqlite implements the document store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Register the pure-Go sqlite driver

	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/port/docstore"
)

// Store implements docstore.Store on SQLite. A single connection serializes
// every transaction, which gives Update its single-writer guarantee.
type Store struct {
	db *sql.DB
}

var _ docstore.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS documents (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// Get returns the document stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", key, err)
	}
	return v, nil
}

// Put writes the document.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.Update(ctx, key, func([]byte, bool) ([]byte, error) { return value, nil })
}

// Update atomically transforms the document.
func (s *Store) Update(ctx context.Context, key string, fn docstore.TransformFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur []byte
	exists := true
	if err := tx.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = ?`, key).Scan(&cur); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read %s: %w", key, err)
		}
		exists = false
	}

	next, err := fn(cur, exists)
	if err != nil {
		return err
	}

	if next == nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			key, next)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return tx.Commit()
}

// Delete removes the document.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, key, func([]byte, bool) ([]byte, error) { return nil, nil })
}

// List returns documents under prefix ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]docstore.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM documents WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]docstore.Entry, 0)
	for rows.Next() {
		var e docstore.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", prefix, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
