// Package ristretto implements the cache port using dgraph-io/ristretto as the
// in-process read-view cache.
package ristretto

import (
	"bytes"
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/SectorDesk/internal/config"
)

// avgViewBytes is the expected size of a serialized sector view or candle
// series; it sizes the admission counters.
const avgViewBytes = 1024

// Cache holds serialized views. Values are copied on the way in so a caller
// reusing its buffer cannot corrupt a cached view.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// Stats reports cache effectiveness since start.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// New builds a cache whose total value size stays under cfg.L1MaxSizeMB.
func New(cfg config.Cache) (*Cache, error) {
	budget := max(cfg.L1MaxSizeMB, 1) << 20
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        10 * budget / avgViewBytes,
		MaxCost:            budget,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.c.Get(key)
	return v, ok, nil
}

// Set blocks until the write is visible to Get, so a read straight after a
// store write observes the fresh view.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, bytes.Clone(value), int64(len(value)), ttl)
	c.c.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() Stats {
	m := c.c.Metrics
	return Stats{Hits: m.Hits(), Misses: m.Misses()}
}

func (c *Cache) Close() {
	c.c.Close()
}
