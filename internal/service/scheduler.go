package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/port/messagequeue"
)

// TickReport summarizes one scheduler pass.
type TickReport struct {
	Triggered int `json:"triggered"`
	Advanced  int `json:"advanced"`
	Voted     int `json:"voted"`
	Priced    int `json:"priced"`
}

// Scheduler drives rounds, manager votes and market ticks on timers. It calls
// the same service methods as the HTTP surface.
type Scheduler struct {
	trigger     *TriggerService
	discussions *DiscussionService
	managers    *ManagerService
	market      *MarketService
	cfg         config.Scheduler

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new Scheduler.
func NewScheduler(trigger *TriggerService, discussions *DiscussionService, managers *ManagerService, market *MarketService, cfg config.Scheduler) *Scheduler {
	return &Scheduler{
		trigger:     trigger,
		discussions: discussions,
		managers:    managers,
		market:      market,
		cfg:         cfg,
		stop:        make(chan struct{}),
	}
}

// Start launches one loop per configured interval. Loops exit on Stop or
// when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		slog.Info("scheduler disabled")
		return
	}
	s.loop(ctx, "rounds", s.cfg.RoundInterval, func(ctx context.Context) { s.rounds(ctx, 1) })
	s.loop(ctx, "manager", s.cfg.ManagerInterval, func(ctx context.Context) { s.managers.VoteAll(ctx) })
	s.loop(ctx, "market", s.cfg.MarketInterval, func(ctx context.Context) { s.market.Tick(ctx) })
	slog.Info("scheduler started",
		"round_interval", s.cfg.RoundInterval,
		"manager_interval", s.cfg.ManagerInterval,
		"market_interval", s.cfg.MarketInterval)
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				start := time.Now()
				fn(ctx)
				slog.Debug("scheduler tick", "loop", name, "duration", time.Since(start))
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends every loop and waits for running ticks to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// rounds evaluates every sector's trigger, then advances active discussions.
func (s *Scheduler) rounds(ctx context.Context, count int) (triggered, advanced int) {
	for _, ev := range s.trigger.EvaluateAll(ctx) {
		if ev.Created {
			triggered++
		}
	}
	return triggered, s.discussions.AdvanceActive(ctx, count)
}

// RunOnce performs a single pass of every loop, for external cron.
func (s *Scheduler) RunOnce(ctx context.Context) TickReport {
	var r TickReport
	r.Priced = s.market.Tick(ctx)
	r.Triggered, r.Advanced = s.rounds(ctx, 1)
	r.Voted = s.managers.VoteAll(ctx)
	return r
}

// StartSubscribers accepts round and manager commands from an external
// scheduler and returns the cancel funcs.
func (s *Scheduler) StartSubscribers(ctx context.Context, queue messagequeue.Subscriber) ([]func(), error) {
	cancelRounds, err := queue.Subscribe(ctx, messagequeue.SubjectCommandRounds, func(msgCtx context.Context, _ string, data []byte) error {
		var p messagequeue.RoundsCommandPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("unmarshal rounds command: %w", err)
		}
		count := max(p.Count, 1)
		if p.DiscussionID == "" {
			s.rounds(msgCtx, count)
			return nil
		}
		_, err := s.discussions.AdvanceRounds(msgCtx, p.DiscussionID, count)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe rounds command: %w", err)
	}

	cancelTick, err := queue.Subscribe(ctx, messagequeue.SubjectCommandManagerTick, func(msgCtx context.Context, _ string, data []byte) error {
		var p messagequeue.ManagerTickPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("unmarshal manager tick: %w", err)
		}
		if p.SectorID == "" {
			s.managers.VoteAll(msgCtx)
			return nil
		}
		_, err := s.managers.Vote(msgCtx, p.SectorID)
		return err
	})
	if err != nil {
		cancelRounds()
		return nil, fmt.Errorf("subscribe manager tick: %w", err)
	}

	return []func(){cancelRounds, cancelTick}, nil
}
