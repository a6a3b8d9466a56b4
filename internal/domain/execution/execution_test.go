package execution_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/execution"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

func newSector(balance, position int64) *sector.Sector {
	s := &sector.Sector{ID: "tech", Balance: decimal.NewFromInt(balance), Position: decimal.NewFromInt(position), Volatility: 0.2}
	s.Recompute()
	return s
}

func content(a trade.Action, amount int64) discussion.Content {
	return discussion.Content{Action: a, Amount: decimal.NewFromInt(amount)}
}

func TestPlanBuy(t *testing.T) {
	s := newSector(1000, 0)
	m, err := execution.Plan(s, content(trade.ActionBuy, 200))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !m.BalanceAfter.Equal(decimal.NewFromInt(800)) || !m.PositionAfter.Equal(decimal.NewFromInt(200)) {
		t.Errorf("expected 800/200, got %s/%s", m.BalanceAfter, m.PositionAfter)
	}
	if !m.Allocation.Equal(decimal.NewFromInt(200)) || m.Direction != 1 {
		t.Errorf("unexpected mutation %+v", m)
	}
	// Plan must not touch the sector.
	if !s.Balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("sector mutated by Plan: balance %s", s.Balance)
	}
}

func TestPlanPreconditions(t *testing.T) {
	tests := []struct {
		name string
		s    *sector.Sector
		c    discussion.Content
		want error
	}{
		{"buy over balance", newSector(50, 0), content(trade.ActionBuy, 100), execution.ErrInsufficientFunds},
		{"sell over position", newSector(0, 10), content(trade.ActionSell, 20), execution.ErrInsufficientPosition},
		{"buy zero", newSector(50, 0), content(trade.ActionBuy, 0), execution.ErrInvalidAmount},
		{"sell negative", newSector(50, 10), content(trade.ActionSell, -1), execution.ErrInvalidAmount},
		{"rebalance no target", newSector(50, 10), content(trade.ActionRebalance, 0), execution.ErrInvalidTarget},
		{"unknown", newSector(50, 10), content("SHORT", 1), execution.ErrUnknownAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execution.Plan(tt.s, tt.c); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPlanHold(t *testing.T) {
	m, err := execution.Plan(newSector(300, 700), content(trade.ActionHold, 0))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !m.BalanceAfter.Equal(decimal.NewFromInt(300)) || !m.PositionAfter.Equal(decimal.NewFromInt(700)) {
		t.Errorf("HOLD must be a no-op, got %+v", m)
	}
	if got := execution.PriceImpact(trade.ActionHold, m, decimal.NewFromInt(1000), 0.2); got != execution.HoldImpact {
		t.Errorf("expected neutral impact %v, got %v", execution.HoldImpact, got)
	}
}

func TestPlanRebalance(t *testing.T) {
	half := 0.5
	c := discussion.Content{Action: trade.ActionRebalance, Target: &trade.RebalanceTarget{Fraction: &half}}
	m, err := execution.Plan(newSector(1000, 0), c)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !m.PositionAfter.Equal(decimal.NewFromInt(500)) || !m.BalanceAfter.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected 500/500, got %s/%s", m.BalanceAfter, m.PositionAfter)
	}
	if m.Direction != 1 || !m.Allocation.Equal(decimal.NewFromInt(500)) {
		t.Errorf("unexpected mutation %+v", m)
	}

	c.Target = &trade.RebalanceTarget{Ratios: map[string]float64{"position": 1, "balance": 3}}
	m, err = execution.Plan(newSector(200, 600), c)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !m.PositionAfter.Equal(decimal.NewFromInt(200)) || m.Direction != -1 {
		t.Errorf("expected position reduced to 200, got %+v", m)
	}

	if _, err := execution.Plan(newSector(0, 0), c); !errors.Is(err, execution.ErrInvalidTarget) {
		t.Errorf("expected zero valuation to be unreachable, got %v", err)
	}
}

func TestPriceImpact(t *testing.T) {
	m := execution.Mutation{Allocation: decimal.NewFromInt(200), Direction: -1}
	got := execution.PriceImpact(trade.ActionSell, m, decimal.NewFromInt(1000), 0.5)
	if got != -0.1 {
		t.Errorf("expected -0.1, got %v", got)
	}
	if got := execution.PriceImpact(trade.ActionBuy, m, decimal.Zero, 0.5); got != 0 {
		t.Errorf("expected 0 on zero valuation, got %v", got)
	}
}

func TestConfidenceMultiplier(t *testing.T) {
	if got := execution.ConfidenceMultiplier(nil); got != 1 {
		t.Errorf("expected 1 for empty snapshot, got %v", got)
	}
	got := execution.ConfidenceMultiplier(map[string]float64{"a": 100, "b": 0})
	if got != 1.25 {
		t.Errorf("expected 1.25, got %v", got)
	}
}

func TestFilterMatches(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := &execution.Log{SectorID: "tech", ManagerID: "m1", DiscussionID: "d1", Action: trade.ActionBuy, Timestamp: ts}

	if !(execution.Filter{}).Matches(l) {
		t.Error("empty filter must match")
	}
	if !(execution.Filter{SectorID: "tech", Action: trade.ActionBuy, From: ts, To: ts.Add(time.Minute)}).Matches(l) {
		t.Error("expected match with inclusive From")
	}
	misses := []execution.Filter{
		{SectorID: "energy"},
		{ManagerID: "m2"},
		{DiscussionID: "d2"},
		{Action: trade.ActionSell},
		{From: ts.Add(time.Second)},
		{To: ts},
	}
	for i, f := range misses {
		if f.Matches(l) {
			t.Errorf("case %d: expected no match", i)
		}
	}
}
