package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/port/cache"
	"github.com/Strob0t/SectorDesk/internal/port/docstore"
)

// Document key layout.
const (
	prefixSector     = "sector/"
	prefixAgent      = "agent/"
	prefixDiscussion = "discussion/"
	prefixActive     = "active-discussion/"
	prefixCandles    = "candles/"
	prefixExecLog    = "execlog/"
	prefixDecisions  = "decisions/"
	keyExecLogMeta   = "execlog-meta"
)

func sectorKey(id string) string     { return prefixSector + id }
func agentKey(id string) string      { return prefixAgent + id }
func discussionKey(id string) string { return prefixDiscussion + id }
func activeKey(sectorID string) string {
	return prefixActive + sectorID
}
func candlesKey(sectorID string) string    { return prefixCandles + sectorID }
func decisionsKey(managerID string) string { return prefixDecisions + managerID }
func execLogKey(seq int64) string          { return fmt.Sprintf("%s%020d", prefixExecLog, seq) }

func load[T any](ctx context.Context, s docstore.Store, key string) (*T, error) {
	b, err := s.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func save[T any](ctx context.Context, s docstore.Store, key string, v *T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Put(ctx, key, b); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// create writes v only if key is absent, otherwise it returns ErrConflict.
func create[T any](ctx context.Context, s docstore.Store, key string, v *T) error {
	return s.Update(ctx, key, func(_ []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, fmt.Errorf("%s already exists: %w", key, domain.ErrConflict)
		}
		return json.Marshal(v)
	})
}

// mutate applies fn to the stored document under the store's per-key
// serialization. An error from fn leaves the document untouched.
func mutate[T any](ctx context.Context, s docstore.Store, key string, fn func(*T) error) (*T, error) {
	var out T
	err := s.Update(ctx, key, func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
		}
		var v T
		if err := json.Unmarshal(cur, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if err := fn(&v); err != nil {
			return nil, err
		}
		b, err := json.Marshal(&v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		out = v
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func loadAll[T any](ctx context.Context, s docstore.Store, prefix string) ([]T, error) {
	entries, err := s.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Repository is the typed view of the document store shared by every service.
// Read views (sector, candles) go through an optional cache that is
// invalidated on every write to the underlying document.
type Repository struct {
	store   docstore.Store
	views   cache.Cache
	viewTTL time.Duration
	now     func() time.Time
}

// NewRepository creates a Repository. views may be nil.
func NewRepository(store docstore.Store, views cache.Cache, viewTTL time.Duration) *Repository {
	return &Repository{store: store, views: views, viewTTL: viewTTL, now: time.Now}
}

// SetClock replaces the clock used to timestamp documents.
func (r *Repository) SetClock(now func() time.Time) { r.now = now }

// Now returns the current time in UTC.
func (r *Repository) Now() time.Time { return r.now().UTC() }

// Store exposes the underlying document store.
func (r *Repository) Store() docstore.Store { return r.store }

// --- Sectors ---

// Sector reads the sector straight from the store.
func (r *Repository) Sector(ctx context.Context, id string) (*sector.Sector, error) {
	return load[sector.Sector](ctx, r.store, sectorKey(id))
}

// SectorView reads the sector through the view cache.
func (r *Repository) SectorView(ctx context.Context, id string) (*sector.Sector, error) {
	var s sector.Sector
	if r.cached(ctx, cache.SectorKey(id), &s) {
		return &s, nil
	}
	got, err := r.Sector(ctx, id)
	if err != nil {
		return nil, err
	}
	r.fill(ctx, cache.SectorKey(id), got)
	return got, nil
}

// Sectors lists every sector ordered by id.
func (r *Repository) Sectors(ctx context.Context) ([]sector.Sector, error) {
	return loadAll[sector.Sector](ctx, r.store, prefixSector)
}

// CreateSector stores a new sector, failing with ErrConflict if the id is taken.
func (r *Repository) CreateSector(ctx context.Context, s *sector.Sector) error {
	return create(ctx, r.store, sectorKey(s.ID), s)
}

// MutateSector atomically updates a sector and invalidates its view.
func (r *Repository) MutateSector(ctx context.Context, id string, fn func(*sector.Sector) error) (*sector.Sector, error) {
	s, err := mutate(ctx, r.store, sectorKey(id), fn)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, cache.SectorKey(id))
	return s, nil
}

// --- Agents ---

// Agent reads one agent.
func (r *Repository) Agent(ctx context.Context, id string) (*agent.Agent, error) {
	return load[agent.Agent](ctx, r.store, agentKey(id))
}

// Agents lists every agent ordered by id.
func (r *Repository) Agents(ctx context.Context) ([]agent.Agent, error) {
	return loadAll[agent.Agent](ctx, r.store, prefixAgent)
}

// SectorAgents loads the agents listed on the sector, skipping dangling ids.
func (r *Repository) SectorAgents(ctx context.Context, s *sector.Sector) ([]agent.Agent, error) {
	out := make([]agent.Agent, 0, len(s.AgentIDs))
	for _, id := range s.AgentIDs {
		a, err := r.Agent(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("sector references missing agent", "sector_id", s.ID, "agent_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

// CreateAgent stores a new agent, failing with ErrConflict if the id is taken.
func (r *Repository) CreateAgent(ctx context.Context, a *agent.Agent) error {
	return create(ctx, r.store, agentKey(a.ID), a)
}

// MutateAgent atomically updates an agent.
func (r *Repository) MutateAgent(ctx context.Context, id string, fn func(*agent.Agent) error) (*agent.Agent, error) {
	return mutate(ctx, r.store, agentKey(id), fn)
}

// --- Discussions ---

// Discussion reads one discussion.
func (r *Repository) Discussion(ctx context.Context, id string) (*discussion.Discussion, error) {
	return load[discussion.Discussion](ctx, r.store, discussionKey(id))
}

// Discussions lists discussions matching the filter.
func (r *Repository) Discussions(ctx context.Context, f discussion.ListFilter) ([]discussion.Discussion, error) {
	all, err := loadAll[discussion.Discussion](ctx, r.store, prefixDiscussion)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for i := range all {
		if f.Matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// CreateDiscussion stores a new discussion.
func (r *Repository) CreateDiscussion(ctx context.Context, d *discussion.Discussion) error {
	return create(ctx, r.store, discussionKey(d.ID), d)
}

// MutateDiscussion atomically updates a discussion.
func (r *Repository) MutateDiscussion(ctx context.Context, id string, fn func(*discussion.Discussion) error) (*discussion.Discussion, error) {
	return mutate(ctx, r.store, discussionKey(id), fn)
}

// ReleaseActive frees the sector's active-discussion slot if it is still held
// by discussionID.
func (r *Repository) ReleaseActive(ctx context.Context, sectorID, discussionID string) {
	err := r.store.Update(ctx, activeKey(sectorID), func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, nil
		}
		var c activeClaim
		if err := json.Unmarshal(cur, &c); err == nil && c.DiscussionID != discussionID {
			return cur, nil
		}
		return nil, nil
	})
	if err != nil {
		slog.Error("failed to release active discussion", "sector_id", sectorID, "discussion_id", discussionID, "error", err)
	}
}

// --- Candles ---

// Candles reads the sector's price history, oldest first, from the store.
func (r *Repository) Candles(ctx context.Context, sectorID string) ([]sector.Candle, error) {
	got, err := load[[]sector.Candle](ctx, r.store, candlesKey(sectorID))
	if errors.Is(err, domain.ErrNotFound) {
		return []sector.Candle{}, nil
	}
	if err != nil {
		return nil, err
	}
	return *got, nil
}

// CandlesView reads the price history through the view cache.
func (r *Repository) CandlesView(ctx context.Context, sectorID string) ([]sector.Candle, error) {
	var out []sector.Candle
	if r.cached(ctx, cache.CandlesKey(sectorID), &out) {
		return out, nil
	}
	got, err := r.Candles(ctx, sectorID)
	if err != nil {
		return nil, err
	}
	r.fill(ctx, cache.CandlesKey(sectorID), got)
	return got, nil
}

// AppendCandle adds c to the sector's history, keeping at most sector.MaxCandles.
// A candle with the same timestamp as the newest one replaces it.
func (r *Repository) AppendCandle(ctx context.Context, sectorID string, c sector.Candle) error {
	key := candlesKey(sectorID)
	err := r.store.Update(ctx, key, func(cur []byte, exists bool) ([]byte, error) {
		var series []sector.Candle
		if exists {
			if err := json.Unmarshal(cur, &series); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
		if n := len(series); n > 0 && series[n-1].Timestamp.Equal(c.Timestamp) {
			series[n-1] = c
		} else {
			series = append(series, c)
		}
		if over := len(series) - sector.MaxCandles; over > 0 {
			series = series[over:]
		}
		return json.Marshal(series)
	})
	if err != nil {
		return err
	}
	r.invalidate(ctx, cache.CandlesKey(sectorID))
	return nil
}

// --- view cache ---

func (r *Repository) cached(ctx context.Context, key string, v any) bool {
	if r.views == nil {
		return false
	}
	b, ok, err := r.views.Get(ctx, key)
	if err != nil {
		slog.Warn("view cache get failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		slog.Warn("view cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (r *Repository) fill(ctx context.Context, key string, v any) {
	if r.views == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.views.Set(ctx, key, b, r.viewTTL); err != nil {
		slog.Warn("view cache set failed", "key", key, "error", err)
	}
}

func (r *Repository) invalidate(ctx context.Context, key string) {
	if r.views == nil {
		return
	}
	if err := r.views.Delete(ctx, key); err != nil {
		slog.Warn("view cache invalidate failed", "key", key, "error", err)
	}
}
