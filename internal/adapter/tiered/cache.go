// Package tiered layers the process-local view cache over the shared one.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/SectorDesk/internal/port/cache"
)

// Cache reads the local level first and falls back to the shared level,
// copying shared hits into the local one. A shared level that cannot be
// read is a miss. Invalidation clears the shared level before the local
// one and reports a shared failure, so a stale view is never refilled
// locally from a level the caller believes is clean.
type Cache struct {
	local    cache.Cache
	shared   cache.Cache
	localTTL time.Duration
}

var _ cache.Cache = (*Cache)(nil)

// New returns a tiered cache. Local entries never outlive localTTL.
func New(local, shared cache.Cache, localTTL time.Duration) *Cache {
	return &Cache{local: local, shared: shared, localTTL: localTTL}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := c.local.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}

	v, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "shared view cache read failed", "key", key, "error", err)
		return nil, false, nil
	}
	if ok {
		_ = c.local.Set(ctx, key, v, c.localTTL)
	}
	return v, ok, nil
}

// Set writes both levels. Only a local failure is returned.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, key, value, c.clamp(ttl)); err != nil {
		return err
	}
	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		slog.WarnContext(ctx, "shared view cache write failed", "key", key, "error", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	sharedErr := c.shared.Delete(ctx, key)
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return sharedErr
}

func (c *Cache) clamp(ttl time.Duration) time.Duration {
	if c.localTTL > 0 && (ttl <= 0 || ttl > c.localTTL) {
		return c.localTTL
	}
	return ttl
}
