package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/adapter/memstore"
	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/port/docstore"
	"github.com/Strob0t/SectorDesk/internal/port/proposer"
)

// --- fakes ---

type recordedEvent struct {
	sectorID  string
	eventType string
	payload   any
}

type recordingHub struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (h *recordingHub) BroadcastEvent(_ context.Context, sectorID, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{sectorID: sectorID, eventType: eventType, payload: payload})
}

func (h *recordingHub) count(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

// scriptedSource answers proposal prompts per agent name and decision
// prompts with a single canned reply.
type scriptedSource struct {
	mu        sync.Mutex
	byAgent   map[string]string
	fallback  string
	decision  string
	err       error
	proposals int
	decisions int
}

func (s *scriptedSource) Complete(_ context.Context, req proposer.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if req.System == decisionSystemPrompt {
		s.decisions++
		return s.decision, nil
	}
	s.proposals++
	for name, raw := range s.byAgent {
		if strings.Contains(req.Prompt, "Analyst: "+name+" ") {
			return raw, nil
		}
	}
	return s.fallback, nil
}

func (s *scriptedSource) set(name, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byAgent == nil {
		s.byAgent = map[string]string{}
	}
	s.byAgent[name] = raw
}

func (s *scriptedSource) setAll(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAgent = nil
	s.fallback = raw
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// slowStore delays every Update on keys under prefix, widening the window
// between a read and the write that depends on it.
type slowStore struct {
	docstore.Store
	prefix string
	delay  time.Duration
}

func (s *slowStore) Update(ctx context.Context, key string, fn docstore.TransformFunc) error {
	if strings.HasPrefix(key, s.prefix) {
		time.Sleep(s.delay)
	}
	return s.Store.Update(ctx, key, fn)
}

// --- harness ---

type harness struct {
	cfg         config.Config
	clock       *testClock
	source      *scriptedSource
	hub         *recordingHub
	repo        *Repository
	sectors     *SectorService
	agents      *AgentService
	discussions *DiscussionService
	managers    *ManagerService
	executor    *ExecutionService
	trigger     *TriggerService
	market      *MarketService
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	return newHarnessOn(t, memstore.New(), mutate...)
}

// newHarnessOn builds the services over the given store.
func newHarnessOn(t *testing.T, store docstore.Store, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.Proposer.Timeout = 0
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := &harness{
		cfg:    cfg,
		clock:  &testClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)},
		source: &scriptedSource{fallback: `{"action":"HOLD","confidence":50,"reasoning":"nothing to do"}`},
		hub:    &recordingHub{},
	}
	h.repo = NewRepository(store, nil, 0)
	h.repo.SetClock(h.clock.Now)
	events := NewEvents(nil, h.hub, nil)
	locks := NewSectorLocks()

	h.sectors = NewSectorService(h.repo, events, cfg.Discussion, cfg.Manager)
	h.agents = NewAgentService(h.repo, events)
	h.executor = NewExecutionService(h.repo, events, locks, cfg.Execution, nil)
	h.managers = NewManagerService(h.repo, events, h.source, h.executor, cfg.Manager, cfg.Proposer, nil)
	h.discussions = NewDiscussionService(h.repo, events, h.agents, h.managers, h.source, cfg.Discussion, cfg.Proposer, nil)
	h.trigger = NewTriggerService(h.repo, h.discussions)
	h.market = NewMarketService(h.repo, events, locks, nil)
	return h
}

// addSector creates a sector with a manager and the named workers, all at
// the given confidence.
func (h *harness) addSector(t *testing.T, id string, balance int64, confidence float64, workers ...string) *sector.Sector {
	t.Helper()
	ctx := context.Background()
	if _, err := h.sectors.Create(ctx, sector.CreateRequest{
		ID:         id,
		Name:       strings.ToUpper(id[:1]) + id[1:],
		Balance:    decimal.NewFromInt(balance),
		Volatility: 0.2,
	}); err != nil {
		t.Fatalf("create sector %s: %v", id, err)
	}
	if _, err := h.agents.Create(ctx, agent.CreateRequest{
		ID: id + "-mgr", SectorID: id, Name: id + "-mgr", Role: agent.RoleManager, Confidence: 50,
	}); err != nil {
		t.Fatalf("create manager: %v", err)
	}
	for _, w := range workers {
		if _, err := h.agents.Create(ctx, agent.CreateRequest{
			ID: w, SectorID: id, Name: w, Confidence: confidence,
			Personality: agent.Personality{RiskTolerance: "Medium"},
		}); err != nil {
			t.Fatalf("create worker %s: %v", w, err)
		}
	}
	sec, err := h.repo.Sector(ctx, id)
	if err != nil {
		t.Fatalf("reload sector: %v", err)
	}
	return sec
}

func (h *harness) sector(t *testing.T, id string) *sector.Sector {
	t.Helper()
	sec, err := h.repo.Sector(context.Background(), id)
	if err != nil {
		t.Fatalf("get sector %s: %v", id, err)
	}
	return sec
}

func (h *harness) agent(t *testing.T, id string) *agent.Agent {
	t.Helper()
	a, err := h.repo.Agent(context.Background(), id)
	if err != nil {
		t.Fatalf("get agent %s: %v", id, err)
	}
	return a
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

var errSourceDown = errors.New("source down")
