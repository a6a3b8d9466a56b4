package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/port/docstore"
)

// Store implements docstore.Store using PostgreSQL. Writers to the same key
// are serialized with a transaction-scoped advisory lock on the key hash, which
// also covers keys that do not exist yet.
type Store struct {
	pool *pgxpool.Pool
}

var _ docstore.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns the document stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM documents WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get document %s: %w", key, domain.ErrNotFound)
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
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}

	var cur []byte
	exists := true
	if err := tx.QueryRow(ctx, `SELECT value FROM documents WHERE key = $1`, key).Scan(&cur); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read %s: %w", key, err)
		}
		exists = false
	}

	next, err := fn(cur, exists)
	if err != nil {
		return err
	}

	if next == nil {
		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE key = $1`, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	} else {
		_, err := tx.Exec(ctx,
			`INSERT INTO documents (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			key, next)
		if err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

// Delete removes the document.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, key, func([]byte, bool) ([]byte, error) { return nil, nil })
}

// List returns documents under prefix ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]docstore.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM documents WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

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

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
