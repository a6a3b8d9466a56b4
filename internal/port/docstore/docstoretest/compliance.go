// Package docstoretest provides a compliance suite for docstore.Store implementations.
package docstoretest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/port/docstore"
)

// Run exercises the full docstore.Store contract against s. Keys are
// namespaced by prefix so the suite can share a database with other tests.
func Run(t *testing.T, s docstore.Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	key := func(k string) string { return prefix + k }

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, key("missing"))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutGet", func(t *testing.T) {
		if err := s.Put(ctx, key("a"), []byte(`{"v":1}`)); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, key("a"))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != `{"v":1}` {
			t.Fatalf("expected {\"v\":1}, got %s", got)
		}
	})

	t.Run("UpdateCreatesAndTransforms", func(t *testing.T) {
		err := s.Update(ctx, key("u"), func(cur []byte, exists bool) ([]byte, error) {
			if exists {
				return nil, fmt.Errorf("expected absent document, got %s", cur)
			}
			return []byte(`{"n":1}`), nil
		})
		if err != nil {
			t.Fatal(err)
		}
		err = s.Update(ctx, key("u"), func(cur []byte, exists bool) ([]byte, error) {
			if !exists || string(cur) != `{"n":1}` {
				return nil, fmt.Errorf("unexpected current %q exists=%v", cur, exists)
			}
			return []byte(`{"n":2}`), nil
		})
		if err != nil {
			t.Fatal(err)
		}
		got, _ := s.Get(ctx, key("u"))
		if string(got) != `{"n":2}` {
			t.Fatalf("expected {\"n\":2}, got %s", got)
		}
	})

	t.Run("UpdateErrorLeavesDocument", func(t *testing.T) {
		_ = s.Put(ctx, key("e"), []byte(`{"keep":true}`))
		boom := errors.New("boom")
		err := s.Update(ctx, key("e"), func([]byte, bool) ([]byte, error) { return []byte(`{"keep":false}`), boom })
		if !errors.Is(err, boom) {
			t.Fatalf("expected transform error, got %v", err)
		}
		got, _ := s.Get(ctx, key("e"))
		if string(got) != `{"keep":true}` {
			t.Fatalf("document changed after failed transform: %s", got)
		}
	})

	t.Run("UpdateNilDeletes", func(t *testing.T) {
		_ = s.Put(ctx, key("d"), []byte(`{}`))
		if err := s.Update(ctx, key("d"), func([]byte, bool) ([]byte, error) { return nil, nil }); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(ctx, key("d")); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected deleted, got %v", err)
		}
	})

	t.Run("ConcurrentUpdatesSerialize", func(t *testing.T) {
		const workers = 16
		const perWorker = 25
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range perWorker {
					err := s.Update(ctx, key("counter"), func(cur []byte, exists bool) ([]byte, error) {
						n := 0
						if exists {
							var err error
							if n, err = strconv.Atoi(string(cur)); err != nil {
								return nil, err
							}
						}
						return []byte(strconv.Itoa(n + 1)), nil
					})
					if err != nil {
						errs <- err
						return
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, key("counter"))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != strconv.Itoa(workers*perWorker) {
			t.Fatalf("lost updates: expected %d, got %s", workers*perWorker, got)
		}
	})

	t.Run("ListByPrefixOrdered", func(t *testing.T) {
		for _, k := range []string{"list/b", "list/a", "list/c", "other/x"} {
			if err := s.Put(ctx, key(k), []byte(`"`+k+`"`)); err != nil {
				t.Fatal(err)
			}
		}
		entries, err := s.List(ctx, key("list/"))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}
		for i, want := range []string{"list/a", "list/b", "list/c"} {
			if entries[i].Key != key(want) {
				t.Errorf("entry %d: expected %s, got %s", i, key(want), entries[i].Key)
			}
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := s.Delete(ctx, key("never")); err != nil {
			t.Fatalf("delete of missing key should not error: %v", err)
		}
	})
}
