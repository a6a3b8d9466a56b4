// Package cache defines the port interface for the read-model cache.
package cache

import (
	"context"
	"time"
)

// Cache holds serialized read views (sector summaries, candle series) in front
// of the document store. Entries are invalidated on every write to the
// underlying document, so a miss is always safe.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SectorKey is the cache key of a sector's read view.
func SectorKey(id string) string { return "view:sector:" + id }

// CandlesKey is the cache key of a sector's candle series.
func CandlesKey(id string) string { return "view:candles:" + id }
