// Package memstore implements the document store in process memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/port/docstore"
)

// Store is an in-memory docstore.Store. Writers to the same key are
// serialized by a per-key mutex; readers never block on a running transform.
type Store struct {
	mu    sync.RWMutex
	docs  map[string][]byte
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

var _ docstore.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		docs:  make(map[string][]byte),
		locks: make(map[string]*keyLock),
	}
}

func (s *Store) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Get returns a copy of the document.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	v, ok := s.docs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("document %s: %w", key, domain.ErrNotFound)
	}
	return clone(v), nil
}

// Put writes the document.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	unlock := s.lock(key)
	defer unlock()
	s.set(key, value)
	return nil
}

// Update atomically transforms the document.
func (s *Store) Update(ctx context.Context, key string, fn docstore.TransformFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(key)
	defer unlock()

	s.mu.RLock()
	cur, ok := s.docs[key]
	s.mu.RUnlock()

	next, err := fn(clone(cur), ok)
	if err != nil {
		return err
	}
	s.set(key, next)
	return nil
}

// Delete removes the document.
func (s *Store) Delete(_ context.Context, key string) error {
	unlock := s.lock(key)
	defer unlock()
	s.mu.Lock()
	delete(s.docs, key)
	s.mu.Unlock()
	return nil
}

// List returns documents under prefix ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]docstore.Entry, error) {
	s.mu.RLock()
	out := make([]docstore.Entry, 0)
	for k, v := range s.docs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, docstore.Entry{Key: k, Value: clone(v)})
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == nil {
		delete(s.docs, key)
		return
	}
	s.docs[key] = clone(value)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
