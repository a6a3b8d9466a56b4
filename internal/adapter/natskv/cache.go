// Package natskv implements the cache port on a NATS JetStream key-value
// bucket, shared by every SectorDesk process attached to the same server.
package natskv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket is the key-value bucket holding shared read views.
const Bucket = "sectordesk-views"

// Cache stores views in a JetStream KeyValue bucket. Expiry is the bucket's
// TTL; the per-call ttl is ignored.
type Cache struct {
	kv jetstream.KeyValue
}

func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// EncodeKey maps a view key onto the KV key alphabet: ':' separators become
// '.' tokens and anything else outside [-/_=.A-Za-z0-9] becomes '_'.
func EncodeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ':':
			return '.'
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("-/_=.", r):
			return r
		default:
			return '_'
		}
	}, key)
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, EncodeKey(key))
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return entry.Value(), true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, EncodeKey(key), value)
	return err
}

// Delete is a no-op for keys that were never written.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.kv.Delete(ctx, EncodeKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return err
	}
	return nil
}
