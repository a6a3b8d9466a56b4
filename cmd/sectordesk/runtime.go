package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdhttp "github.com/Strob0t/SectorDesk/internal/adapter/http"
	"github.com/Strob0t/SectorDesk/internal/adapter/litellm"
	"github.com/Strob0t/SectorDesk/internal/adapter/memstore"
	sdnats "github.com/Strob0t/SectorDesk/internal/adapter/nats"
	"github.com/Strob0t/SectorDesk/internal/adapter/natskv"
	"github.com/Strob0t/SectorDesk/internal/adapter/otel"
	"github.com/Strob0t/SectorDesk/internal/adapter/postgres"
	"github.com/Strob0t/SectorDesk/internal/adapter/redis"
	"github.com/Strob0t/SectorDesk/internal/adapter/ristretto"
	"github.com/Strob0t/SectorDesk/internal/adapter/sqlite"
	"github.com/Strob0t/SectorDesk/internal/adapter/tiered"
	"github.com/Strob0t/SectorDesk/internal/adapter/ws"
	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/port/broadcast"
	"github.com/Strob0t/SectorDesk/internal/port/cache"
	"github.com/Strob0t/SectorDesk/internal/port/docstore"
	"github.com/Strob0t/SectorDesk/internal/port/ledger"
	"github.com/Strob0t/SectorDesk/internal/port/messagequeue"
	"github.com/Strob0t/SectorDesk/internal/resilience"
	"github.com/Strob0t/SectorDesk/internal/service"
)

// runtime is the wired dependency graph shared by serve, seed and tick.
type runtime struct {
	cfg     *config.Config
	store   docstore.Store
	queue   *sdnats.Queue
	views   cache.Cache
	mirror  *redis.Mirror
	hub     *ws.Hub
	llm     *litellm.Client
	metrics *otel.Metrics
	checks  map[string]sdhttp.HealthCheck

	sectors     *service.SectorService
	agents      *service.AgentService
	discussions *service.DiscussionService
	trigger     *service.TriggerService
	managers    *service.ManagerService
	executions  *service.ExecutionService
	market      *service.MarketService
	scheduler   *service.Scheduler

	closers []func()
}

// openRuntime connects every configured backend and builds the services.
// withHub attaches the WebSocket hub; only serve has clients to push to.
func openRuntime(ctx context.Context, cfg *config.Config, withHub bool) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, checks: map[string]sdhttp.HealthCheck{}}
	defer func() {
		if err != nil {
			rt.close()
			rt = nil
		}
	}()

	// --- Document store ---
	if err := rt.openStore(ctx); err != nil {
		return nil, err
	}

	// --- Event bus (optional) ---
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := sdnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		rt.queue = q
		queue = q
		rt.closers = append(rt.closers, func() { _ = q.Drain() })
		rt.checks["nats"] = func(context.Context) error {
			if !q.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	// --- Read-model cache: ristretto L1, NATS KV L2 when the bus is up ---
	l1, err := ristretto.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	rt.closers = append(rt.closers, l1.Close)
	rt.views = l1
	if rt.queue != nil {
		kv, err := rt.queue.KeyValue(ctx, natskv.Bucket, cfg.Cache.TTL)
		if err != nil {
			slog.Warn("view cache L2 unavailable, using L1 only", "error", err)
		} else {
			rt.views = tiered.New(l1, natskv.New(kv), cfg.Cache.TTL)
		}
	}

	// --- Ledger mirror (optional) ---
	var mirror ledger.Mirror
	if cfg.Redis.Addr != "" {
		m := redis.New(cfg.Redis)
		if err := m.Ping(ctx); err != nil {
			slog.Warn("ledger mirror unreachable, entries will be dropped until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
		rt.mirror = m
		mirror = m
		rt.closers = append(rt.closers, func() { _ = m.Close() })
		rt.checks["redis"] = m.Ping
	}

	// --- Proposal source ---
	rt.llm = litellm.NewClient(cfg.Proposer)
	rt.llm.SetBreaker(resilience.NewNamedBreaker("proposer", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	rt.checks["proposer"] = func(ctx context.Context) error {
		ok, err := rt.llm.Health(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("unhealthy")
		}
		return nil
	}

	// --- Telemetry ---
	if rt.metrics, err = otel.NewMetrics(); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	// --- Services ---
	var hub broadcast.Broadcaster
	if withHub {
		rt.hub = ws.NewHub(cfg.Server.CORSOrigin)
		rt.closers = append(rt.closers, rt.hub.Close)
		hub = rt.hub
	}
	repo := service.NewRepository(rt.store, rt.views, cfg.Cache.TTL)
	events := service.NewEvents(queue, hub, mirror)
	locks := service.NewSectorLocks()

	rt.sectors = service.NewSectorService(repo, events, cfg.Discussion, cfg.Manager)
	rt.agents = service.NewAgentService(repo, events)
	rt.executions = service.NewExecutionService(repo, events, locks, cfg.Execution, rt.metrics)
	rt.managers = service.NewManagerService(repo, events, rt.llm, rt.executions, cfg.Manager, cfg.Proposer, rt.metrics)
	rt.discussions = service.NewDiscussionService(repo, events, rt.agents, rt.managers, rt.llm, cfg.Discussion, cfg.Proposer, rt.metrics)
	rt.trigger = service.NewTriggerService(repo, rt.discussions)
	rt.market = service.NewMarketService(repo, events, locks, nil)
	rt.scheduler = service.NewScheduler(rt.trigger, rt.discussions, rt.managers, rt.market, cfg.Scheduler)
	return rt, nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	cfg := rt.cfg
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return fmt.Errorf("migrations: %w", err)
		}
		rt.store = postgres.NewStore(pool)
		rt.checks["store"] = pool.Ping
		slog.Info("postgres connected", "max_conns", cfg.Postgres.MaxConns)
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		rt.store = s
		slog.Info("sqlite store opened", "path", cfg.SQLite.Path)
	default:
		rt.store = memstore.New()
		slog.Warn("using in-memory store, state is lost on exit")
	}
	store := rt.store
	rt.closers = append(rt.closers, func() { _ = store.Close() })
	return nil
}

// handlers builds the HTTP handler set over the runtime's services.
func (rt *runtime) handlers() *sdhttp.Handlers {
	return &sdhttp.Handlers{
		Sectors:     rt.sectors,
		Agents:      rt.agents,
		Discussions: rt.discussions,
		Trigger:     rt.trigger,
		Managers:    rt.managers,
		Executions:  rt.executions,
		Checks:      rt.checks,
		Version:     version,
	}
}

// close releases backends in reverse order of acquisition.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
