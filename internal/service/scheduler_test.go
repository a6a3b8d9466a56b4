package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/port/messagequeue"
)

var _ messagequeue.Queue = (*fakeQueue)(nil)

type fakeQueue struct {
	mu        sync.Mutex
	handlers  map[string]messagequeue.Handler
	published map[string][][]byte
	failOn    string
	cancelled int
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.published == nil {
		q.published = map[string][][]byte{}
	}
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if subject == q.failOn {
		return nil, errors.New("subscribe refused")
	}
	if q.handlers == nil {
		q.handlers = map[string]messagequeue.Handler{}
	}
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cancelled++
	}, nil
}

func (q *fakeQueue) deliver(t *testing.T, subject string, payload any) error {
	t.Helper()
	q.mu.Lock()
	h, ok := q.handlers[subject]
	q.mu.Unlock()
	if !ok {
		t.Fatalf("no handler for %s", subject)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return h(context.Background(), subject, data)
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func newScheduler(h *harness, cfg config.Scheduler) *Scheduler {
	return NewScheduler(h.trigger, h.discussions, h.managers, h.market, cfg)
}

func TestSchedulerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	h.addSector(t, "tech", 10000, 70, "alpha")
	h.source.setAll(buyConfident)
	s := newScheduler(h, config.Scheduler{
		Enabled:         true,
		RoundInterval:   5 * time.Millisecond,
		ManagerInterval: 5 * time.Millisecond,
		MarketInterval:  0,
	})

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		list, _ := h.discussions.List(context.Background(), discussion.ListFilter{SectorID: "tech"})
		if len(list) > 0 && list[0].CurrentRound > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	list, _ := h.discussions.List(context.Background(), discussion.ListFilter{SectorID: "tech"})
	if len(list) == 0 || list[0].CurrentRound == 0 {
		t.Fatal("scheduler did not open and advance a discussion")
	}
	if candles, _ := h.repo.Candles(context.Background(), "tech"); len(candles) != 0 {
		t.Errorf("disabled market loop produced %d candles", len(candles))
	}
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	s := newScheduler(h, config.Scheduler{Enabled: true, RoundInterval: time.Hour, ManagerInterval: time.Hour, MarketInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	s.Stop()
}

func TestSchedulerDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	s := newScheduler(h, config.Scheduler{Enabled: false, RoundInterval: time.Millisecond})
	s.Start(context.Background())
	s.Stop()
}

func TestSchedulerRunOnce(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 70, "alpha", "beta")
	h.addSector(t, "energy", 10000, 10, "delta")
	h.source.setAll(buyConfident)

	r := newScheduler(h, h.cfg.Scheduler).RunOnce(context.Background())
	if r.Priced != 2 {
		t.Errorf("priced = %d, want 2", r.Priced)
	}
	if r.Triggered != 1 || r.Advanced != 1 {
		t.Errorf("triggered %d advanced %d, want 1/1", r.Triggered, r.Advanced)
	}
	if r.Voted != 2 {
		t.Errorf("voted = %d, want 2", r.Voted)
	}
}

func TestSchedulerSubscribers(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 70, "alpha")
	h.source.set("alpha", buyHesitant)
	h.source.decision = `{"approve":false,"reasoning":"not yet"}`
	d := openDiscussion(t, h, "tech")
	s := newScheduler(h, h.cfg.Scheduler)
	q := &fakeQueue{}

	cancels, err := s.StartSubscribers(context.Background(), q)
	if err != nil {
		t.Fatalf("StartSubscribers: %v", err)
	}
	if len(cancels) != 2 {
		t.Fatalf("cancels = %d, want 2", len(cancels))
	}

	if err := q.deliver(t, messagequeue.SubjectCommandRounds, messagequeue.RoundsCommandPayload{DiscussionID: d.ID, Count: 2}); err != nil {
		t.Fatalf("rounds command: %v", err)
	}
	got, _ := h.discussions.Get(context.Background(), d.ID)
	if got.CurrentRound != 2 {
		t.Errorf("round = %d, want 2", got.CurrentRound)
	}

	if err := q.deliver(t, messagequeue.SubjectCommandManagerTick, messagequeue.ManagerTickPayload{SectorID: "tech"}); err != nil {
		t.Fatalf("manager tick: %v", err)
	}
	log, _ := h.managers.Decisions(context.Background(), "tech-mgr", 0)
	if len(log) != 1 {
		t.Errorf("decisions = %d, want 1", len(log))
	}

	if err := q.deliver(t, messagequeue.SubjectCommandRounds, "not an object"); err == nil {
		t.Error("expected an error for a malformed command")
	}

	for _, c := range cancels {
		c()
	}
	if q.cancelled != 2 {
		t.Errorf("cancelled = %d, want 2", q.cancelled)
	}
}

func TestSchedulerSubscribersCleanupOnFailure(t *testing.T) {
	h := newHarness(t)
	q := &fakeQueue{failOn: messagequeue.SubjectCommandManagerTick}
	if _, err := newScheduler(h, h.cfg.Scheduler).StartSubscribers(context.Background(), q); err == nil {
		t.Fatal("expected an error")
	}
	if q.cancelled != 1 {
		t.Errorf("cancelled = %d, want the first subscription cancelled", q.cancelled)
	}
}
