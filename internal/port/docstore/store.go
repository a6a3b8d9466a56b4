// Package docstore defines the document store port: keyed JSON documents with
// an atomic read-modify-write primitive.
package docstore

import "context"

// TransformFunc receives the current document (nil, false when absent) and
// returns its replacement. Returning an error aborts the update and leaves the
// document untouched. Returning a nil slice deletes the document.
type TransformFunc func(current []byte, exists bool) ([]byte, error)

// Store is the port interface for document persistence.
//
// Update runs fn under single-writer serialization for key: no two Update calls
// on the same key interleave, and fn observes the result of every prior
// committed Update on that key.
type Store interface {
	// Get returns the document. It returns domain.ErrNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the document unconditionally.
	Put(ctx context.Context, key string, value []byte) error

	// Update atomically transforms the document stored under key.
	Update(ctx context.Context, key string, fn TransformFunc) error

	// Delete removes the document. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every document whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Close releases backend resources.
	Close() error
}

// Entry is one listed document.
type Entry struct {
	Key   string
	Value []byte
}
