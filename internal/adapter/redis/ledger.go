// Package redis mirrors ledger entries onto a capped Redis stream.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/port/ledger"
)

// Mirror implements ledger.Mirror with XADD on a single stream. The stream is
// trimmed approximately to MaxLen entries.
type Mirror struct {
	client *redis.Client
	stream string
	maxLen int64
}

var _ ledger.Mirror = (*Mirror)(nil)

// New creates a mirror for the configured Redis instance.
func New(cfg config.Redis) *Mirror {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Mirror{client: rdb, stream: cfg.Stream, maxLen: cfg.MaxLen}
}

// Ping checks connectivity.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Record appends the entry to the stream.
func (m *Mirror) Record(ctx context.Context, e ledger.Entry) error {
	err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":      e.Kind,
			"id":        e.ID,
			"sector_id": e.SectorID,
			"digest":    e.Digest,
			"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload":   string(e.Payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", m.stream, err)
	}
	return nil
}

// Close closes the client.
func (m *Mirror) Close() error {
	return m.client.Close()
}
