package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/execution"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

// approvedDiscussion opens a discussion and runs one round that approves
// every item.
func approvedDiscussion(t *testing.T, h *harness, sectorID string) *discussion.Discussion {
	t.Helper()
	d := openDiscussion(t, h, sectorID)
	got, err := h.discussions.AdvanceRounds(context.Background(), d.ID, 1)
	if err != nil {
		t.Fatalf("AdvanceRounds: %v", err)
	}
	if got.Status != discussion.StatusAwaitingExecution {
		t.Fatalf("status = %s, want AWAITING_EXECUTION", got.Status)
	}
	return got
}

func itemOf(t *testing.T, d *discussion.Discussion, agentID string) *discussion.ChecklistItem {
	t.Helper()
	for i := range d.Checklist {
		if d.Checklist[i].AgentID == agentID {
			return &d.Checklist[i]
		}
	}
	t.Fatalf("no item for %s", agentID)
	return nil
}

func execute(t *testing.T, h *harness, discussionID, itemID string) *execution.Result {
	t.Helper()
	res, err := h.executor.Execute(context.Background(), discussionID, itemID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func assertSectorInvariants(t *testing.T, sec *sector.Sector) {
	t.Helper()
	if err := sec.CheckInvariants(); err != nil {
		t.Errorf("sector invariants: %v", err)
	}
}

func TestExecuteBuy(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 70, "alpha", "beta", "gamma")
	h.source.setAll(buyConfident)
	d := approvedDiscussion(t, h, "tech")
	it := itemOf(t, d, "alpha")

	res := execute(t, h, d.ID, it.ID)
	if !res.Success || res.AlreadyExecuted || res.Log == nil {
		t.Fatalf("result = %+v, want fresh success with a log", res)
	}
	row := res.Log
	if row.Action != trade.ActionBuy || !row.Allocation.Equal(mustDecimal(t, "1000")) {
		t.Errorf("row = %s %s, want BUY 1000", row.Action, row.Allocation)
	}
	if !row.ValuationBefore.Equal(row.ValuationAfter) || !row.ValuationDelta.IsZero() {
		t.Errorf("valuation moved %s -> %s on a BUY", row.ValuationBefore, row.ValuationAfter)
	}
	if math.Abs(row.PriceImpact-0.02) > 1e-9 {
		t.Errorf("price impact = %v, want 0.02", row.PriceImpact)
	}
	if row.ImpactMultiplier != nil {
		t.Error("multiplier must be absent when disabled")
	}
	if row.Seq != 1 || row.Digest == "" {
		t.Errorf("seq %d digest %q", row.Seq, row.Digest)
	}

	sec := h.sector(t, "tech")
	if !sec.Balance.Equal(mustDecimal(t, "9000")) || !sec.Position.Equal(mustDecimal(t, "1000")) {
		t.Errorf("balance %s position %s, want 9000/1000", sec.Balance, sec.Position)
	}
	assertSectorInvariants(t, sec)

	got, _ := h.discussions.Get(context.Background(), d.ID)
	done, _ := got.Item(it.ID)
	if done.Status != discussion.ItemExecuted || done.ExecutedAt == nil || done.ExecutionLogID != row.ID {
		t.Errorf("item = %s executedAt=%v log=%q", done.Status, done.ExecutedAt, done.ExecutionLogID)
	}
	if got.Status != discussion.StatusAwaitingExecution {
		t.Errorf("status = %s, want AWAITING_EXECUTION with items left", got.Status)
	}
}

func TestExecuteAllSettlesDiscussion(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 70, "alpha", "beta", "gamma")
	h.source.setAll(buyConfident)
	d := approvedDiscussion(t, h, "tech")
	ctx := context.Background()

	results, err := h.managers.ExecuteAll(ctx, "tech-mgr")
	if err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, r := range results {
		if !r.Success {
			t.Errorf("item %s failed: %s", r.ItemID, r.Reason)
		}
	}

	got, _ := h.discussions.Get(ctx, d.ID)
	if got.Status != discussion.StatusDecided {
		t.Errorf("status = %s, want DECIDED", got.Status)
	}
	if id, _ := h.discussions.ActiveFor(ctx, "tech"); id != "" {
		t.Errorf("slot still held by %s", id)
	}
	sec := h.sector(t, "tech")
	if !sec.Balance.Equal(mustDecimal(t, "7000")) || !sec.Position.Equal(mustDecimal(t, "3000")) {
		t.Errorf("balance %s position %s, want 7000/3000", sec.Balance, sec.Position)
	}
	if _, err := h.managers.ExecuteAll(ctx, "alpha"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("worker as manager: err = %v, want ErrNotFound", err)
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 70, "alpha", "beta")
	h.source.setAll(buyConfident)
	d := approvedDiscussion(t, h, "tech")
	it := itemOf(t, d, "alpha")

	execute(t, h, d.ID, it.ID)
	before := h.sector(t, "tech")
	second := execute(t, h, d.ID, it.ID)
	if !second.Success || !second.AlreadyExecuted {
		t.Errorf("second result = %+v, want success with AlreadyExecuted", second)
	}
	after := h.sector(t, "tech")
	if !before.Balance.Equal(after.Balance) || !before.Position.Equal(after.Position) {
		t.Error("second execution changed the portfolio")
	}
	logs, err := h.executor.Logs(context.Background(), execution.Filter{})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("log rows = %d, want 1", len(logs))
	}
	if got := h.agent(t, "alpha").RewardPoints; got != rewardProposer {
		t.Errorf("alpha reward = %d, want it applied once", got)
	}
}

func TestExecuteConcurrentlyOnce(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 70, "alpha")
	h.source.setAll(buyConfident)
	d := approvedDiscussion(t, h, "tech")
	it := itemOf(t, d, "alpha")

	var wg sync.WaitGroup
	results := make([]*execution.Result, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.executor.Execute(context.Background(), d.ID, it.ID)
			if err != nil {
				t.Errorf("Execute: %v", err)
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		if r != nil && r.Success && !r.AlreadyExecuted {
			fresh++
		}
	}
	if fresh != 1 {
		t.Errorf("fresh executions = %d, want exactly 1", fresh)
	}
	if sec := h.sector(t, "tech"); !sec.Balance.Equal(mustDecimal(t, "9000")) {
		t.Errorf("balance = %s, want 9000", sec.Balance)
	}
}

func TestExecuteInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 70, "alpha", "beta", "gamma")
	h.source.setAll(`{"action":"BUY","amount":5000,"confidence":80,"riskScore":30,"reasoning":"strong conviction on the breakout"}`)
	d := approvedDiscussion(t, h, "tech")

	execute(t, h, d.ID, itemOf(t, d, "alpha").ID)
	execute(t, h, d.ID, itemOf(t, d, "beta").ID)
	before := h.sector(t, "tech")

	last := itemOf(t, d, "gamma")
	res := execute(t, h, d.ID, last.ID)
	if res.Success {
		t.Fatal("expected a refused execution")
	}
	if !strings.Contains(res.Reason, "insufficient balance") {
		t.Errorf("reason = %q", res.Reason)
	}
	after := h.sector(t, "tech")
	if !before.Balance.Equal(after.Balance) || !before.Position.Equal(after.Position) {
		t.Error("refused execution changed the portfolio")
	}

	got, _ := h.discussions.Get(context.Background(), d.ID)
	it, _ := got.Item(last.ID)
	if it.Status != discussion.ItemApproved || len(it.FailedAttempts) != 1 {
		t.Errorf("item = %s with %d attempts, want APPROVED with 1", it.Status, len(it.FailedAttempts))
	}
	if got.Status != discussion.StatusAwaitingExecution {
		t.Errorf("status = %s, want AWAITING_EXECUTION", got.Status)
	}
}

func TestExecuteActions(t *testing.T) {
	tests := []struct {
		name         string
		position     int64
		proposal     string
		wantBalance  string
		wantPosition string
		wantImpact   float64
	}{
		{
			name:         "sell",
			position:     5000,
			proposal:     `{"action":"SELL","amount":2000,"confidence":80,"riskScore":20,"reasoning":"take profit after the run up"}`,
			wantBalance:  "12000",
			wantPosition: "3000",
			wantImpact:   -2000.0 / 15000 * 0.2,
		},
		{
			name:         "hold",
			proposal:     holdConfident,
			wantBalance:  "10000",
			wantPosition: "0",
			wantImpact:   execution.HoldImpact,
		},
		{
			name:         "rebalance by percent",
			proposal:     `{"action":"REBALANCE","allocationPercent":60,"confidence":80,"riskScore":20,"reasoning":"move toward a sixty forty split"}`,
			wantBalance:  "4000",
			wantPosition: "6000",
			wantImpact:   6000.0 / 10000 * 0.2,
		},
		{
			name:         "rebalance by ratios",
			position:     10000,
			proposal:     `{"action":"REBALANCE","targetRatios":{"position":1,"balance":3},"confidence":80,"riskScore":20,"reasoning":"cut exposure to a quarter of value"}`,
			wantBalance:  "15000",
			wantPosition: "5000",
			wantImpact:   -5000.0 / 20000 * 0.2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.addSector(t, "tech", 10000, 70, "alpha")
			if tt.position > 0 {
				if _, err := h.repo.MutateSector(context.Background(), "tech", func(s *sector.Sector) error {
					s.Position = decimal.NewFromInt(tt.position)
					s.Recompute()
					return nil
				}); err != nil {
					t.Fatalf("seed position: %v", err)
				}
			}
			h.source.setAll(tt.proposal)
			d := approvedDiscussion(t, h, "tech")

			res := execute(t, h, d.ID, d.Checklist[0].ID)
			if !res.Success {
				t.Fatalf("execution refused: %s", res.Reason)
			}
			sec := h.sector(t, "tech")
			if !sec.Balance.Equal(mustDecimal(t, tt.wantBalance)) || !sec.Position.Equal(mustDecimal(t, tt.wantPosition)) {
				t.Errorf("balance %s position %s, want %s/%s", sec.Balance, sec.Position, tt.wantBalance, tt.wantPosition)
			}
			if !res.Log.ValuationDelta.IsZero() {
				t.Errorf("valuation delta = %s, want 0", res.Log.ValuationDelta)
			}
			if math.Abs(res.Log.PriceImpact-tt.wantImpact) > 1e-9 {
				t.Errorf("impact = %v, want %v", res.Log.PriceImpact, tt.wantImpact)
			}
			assertSectorInvariants(t, sec)
		})
	}
}

func TestExecuteRejectsUnapprovedItems(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 70, "alpha")
	h.source.setAll(buyHesitant)
	h.source.decision = `{"approve":false,"reasoning":"no"}`
	d := openDiscussion(t, h, "tech")
	ctx := context.Background()
	got, err := h.discussions.AdvanceRounds(ctx, d.ID, 1)
	if err != nil {
		t.Fatalf("AdvanceRounds: %v", err)
	}

	if _, err := h.executor.Execute(ctx, d.ID, got.Checklist[0].ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("executing REVISE_REQUIRED: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := h.executor.Execute(ctx, d.ID, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing item: err = %v, want ErrNotFound", err)
	}
	if _, err := h.executor.Execute(ctx, "missing", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing discussion: err = %v, want ErrNotFound", err)
	}
}

func TestRewardsAndPenalties(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 70, "alpha", "beta", "gamma", "omega")
	h.source.setAll(buyConfident)
	h.source.set("gamma", `{"action":"SELL","amount":100,"confidence":80,"riskScore":20,"reasoning":"the rally looks exhausted to me"}`)
	h.source.set("omega", holdConfident)
	if _, err := h.repo.MutateSector(context.Background(), "tech", func(s *sector.Sector) error {
		s.Position = decimal.NewFromInt(500)
		s.Recompute()
		return nil
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	d := approvedDiscussion(t, h, "tech")

	res := execute(t, h, d.ID, itemOf(t, d, "alpha").ID)
	want := map[string]int{"alpha": 2, "beta": 1, "gamma": -1, "tech-mgr": 1}
	if len(res.Log.Rewards) != len(want) {
		t.Errorf("rewards = %v, want %v", res.Log.Rewards, want)
	}
	for id, pts := range want {
		if res.Log.Rewards[id] != pts {
			t.Errorf("reward[%s] = %d, want %d", id, res.Log.Rewards[id], pts)
		}
	}

	if a := h.agent(t, "alpha"); a.RewardPoints != 2 {
		t.Errorf("alpha reward = %d, want 2", a.RewardPoints)
	}
	if a := h.agent(t, "gamma"); a.RewardPoints != 0 || a.PenaltyPoints != 1 {
		t.Errorf("gamma reward %d penalty %d, want 0/1", a.RewardPoints, a.PenaltyPoints)
	}
	if a := h.agent(t, "omega"); a.RewardPoints != 0 || a.PenaltyPoints != 0 {
		t.Errorf("neutral omega got reward %d penalty %d", a.RewardPoints, a.PenaltyPoints)
	}
	if a := h.agent(t, "tech-mgr"); a.RewardPoints != 1 {
		t.Errorf("manager reward = %d, want 1", a.RewardPoints)
	}
	if len(res.Log.ConfidenceSnapshot) != 4 || res.Log.ConfidenceSnapshot["beta"] != 70 {
		t.Errorf("snapshot = %v", res.Log.ConfidenceSnapshot)
	}
}

func TestConfidenceMultiplier(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Execution.ConfidenceMultiplier = true })
	h.addSector(t, "tech", 10000, 70, "alpha", "beta")
	h.source.setAll(buyConfident)
	d := approvedDiscussion(t, h, "tech")

	res := execute(t, h, d.ID, itemOf(t, d, "alpha").ID)
	if res.Log.ImpactMultiplier == nil {
		t.Fatal("expected a multiplier")
	}
	k := *res.Log.ImpactMultiplier
	if math.Abs(k-1.35) > 1e-9 {
		t.Errorf("multiplier = %v, want 1.35", k)
	}
	if math.Abs(res.Log.PriceImpact-0.02*1.35) > 1e-9 {
		t.Errorf("impact = %v, want %v", res.Log.PriceImpact, 0.02*1.35)
	}
}

func TestExecutionLogRetention(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Execution.LogRetention = 2 })
	h.addSector(t, "tech", 10000, 70, "alpha", "beta", "gamma")
	h.source.setAll(buyConfident)
	d := approvedDiscussion(t, h, "tech")
	ctx := context.Background()

	for _, id := range []string{"alpha", "beta", "gamma"} {
		execute(t, h, d.ID, itemOf(t, d, id).ID)
		h.clock.Advance(1)
	}
	logs, err := h.executor.Logs(ctx, execution.Filter{})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("rows = %d, want 2", len(logs))
	}
	if logs[0].Seq != 3 || logs[1].Seq != 2 {
		t.Errorf("seqs = %d,%d, want newest first 3,2", logs[0].Seq, logs[1].Seq)
	}

	got, err := h.executor.Logs(ctx, execution.Filter{Action: trade.ActionSell})
	if err != nil {
		t.Fatalf("Logs(filter): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("SELL rows = %d, want 0", len(got))
	}
	got, _ = h.executor.Logs(ctx, execution.Filter{ManagerID: "tech-mgr", Limit: 1})
	if len(got) != 1 || got[0].Seq != 3 {
		t.Errorf("limited rows = %+v", got)
	}
}

func TestVerifyDigest(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 70, "alpha")
	h.source.setAll(buyConfident)
	d := approvedDiscussion(t, h, "tech")
	execute(t, h, d.ID, d.Checklist[0].ID)

	logs, err := h.executor.Logs(context.Background(), execution.Filter{})
	if err != nil || len(logs) != 1 {
		t.Fatalf("Logs: %v (%d rows)", err, len(logs))
	}
	ok, err := VerifyDigest(logs[0])
	if err != nil || !ok {
		t.Errorf("stored row does not verify: ok=%v err=%v", ok, err)
	}

	tampered := logs[0]
	tampered.Allocation = tampered.Allocation.Add(decimal.NewFromInt(1))
	if ok, _ := VerifyDigest(tampered); ok {
		t.Error("tampered row verified")
	}
}
