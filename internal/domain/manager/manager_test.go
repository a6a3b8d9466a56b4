package manager_test

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/manager"
	"github.com/Strob0t/SectorDesk/internal/domain/proposal"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func input(conf float64) manager.ReviewInput {
	risk := 40.0
	return manager.ReviewInput{
		Content: discussion.Content{
			Action:     trade.ActionBuy,
			Amount:     decimal.NewFromInt(100),
			Confidence: conf,
			RiskScore:  &risk,
			Reasoning:  "sector breadth improving with strong volume confirmation",
		},
		Threshold:        65,
		RiskCeiling:      70,
		WeakReasoningLen: 30,
		Balance:          decimal.NewFromInt(1000),
		Position:         decimal.NewFromInt(50),
	}
}

func TestReviewBelowThreshold(t *testing.T) {
	r := manager.Review(input(40))
	if r.AutoApproved {
		t.Error("expected autoApproved=false")
	}
	if !r.NeedsManagerReview {
		t.Error("expected needsManagerReview=true")
	}
	if r.Checks.AllocationFraction != 0.1 {
		t.Errorf("expected allocation fraction 0.1, got %v", r.Checks.AllocationFraction)
	}
	if r.Reason == "" {
		t.Error("expected a reason")
	}
}

func TestReviewAtThresholdAutoApproves(t *testing.T) {
	r := manager.Review(input(65))
	if !r.AutoApproved || r.NeedsManagerReview {
		t.Errorf("expected auto approval, got %+v", r)
	}
	ok, _ := manager.Approves(r, proposal.FallbackDecision())
	if !ok {
		t.Error("auto-approved review must not consult the decision")
	}
}

func TestReviewChecks(t *testing.T) {
	in := input(10)
	in.Content.Reasoning = "looks ok"
	in.Content.RiskScore = nil
	r := manager.Review(in)
	if r.Checks.Reasoning != discussion.ReasoningWeak {
		t.Errorf("expected weak reasoning, got %s", r.Checks.Reasoning)
	}
	if r.Checks.Risk != discussion.RiskMissing {
		t.Errorf("expected missing risk, got %s", r.Checks.Risk)
	}

	in = input(10)
	in.Content.Reasoning = ""
	high := 90.0
	in.Content.RiskScore = &high
	r = manager.Review(in)
	if r.Checks.Reasoning != discussion.ReasoningMissing || r.Checks.Risk != discussion.RiskExceeded {
		t.Errorf("unexpected checks %+v", r.Checks)
	}
}

func TestReviewCapsReported(t *testing.T) {
	in := input(80)
	in.Content.Amount = decimal.NewFromInt(5000)
	r := manager.Review(in)
	if r.Checks.CappedAmount == nil || !r.Checks.CappedAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected BUY capped to balance 1000, got %v", r.Checks.CappedAmount)
	}
	if r.Checks.CapReason == "" {
		t.Error("cap must be reported with a reason")
	}

	in = input(80)
	in.Content.Action = trade.ActionSell
	in.Content.Amount = decimal.NewFromInt(80)
	r = manager.Review(in)
	if r.Checks.CappedAmount == nil || !r.Checks.CappedAmount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected SELL capped to position 50, got %v", r.Checks.CappedAmount)
	}
}

func TestApproves(t *testing.T) {
	r := manager.Review(input(40))

	ok, _ := manager.Approves(r, proposal.Decision{Approve: true, Reasoning: "fine"})
	if !ok {
		t.Error("expected approval")
	}
	ok, _ = manager.Approves(r, proposal.FallbackDecision())
	if ok {
		t.Error("fallback decision must not approve")
	}

	in := input(40)
	high := 95.0
	in.Content.RiskScore = &high
	ok, reason := manager.Approves(manager.Review(in), proposal.Decision{Approve: true})
	if ok {
		t.Error("exceeded risk ceiling must veto approval")
	}
	if reason == "" {
		t.Error("expected veto reason")
	}
}

func TestReviewNothingToTrade(t *testing.T) {
	tests := []struct {
		name     string
		action   trade.Action
		balance  int64
		position int64
	}{
		{"sell without position", trade.ActionSell, 1000, 0},
		{"buy without balance", trade.ActionBuy, 0, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(90)
			in.Content.Action = tt.action
			in.Balance = decimal.NewFromInt(tt.balance)
			in.Position = decimal.NewFromInt(tt.position)

			r := manager.Review(in)
			if r.AutoApproved || r.NeedsManagerReview {
				t.Fatalf("review = %+v, want neither approval nor manager review", r)
			}
			if r.Checks.CappedAmount == nil || !r.Checks.CappedAmount.IsZero() {
				t.Errorf("capped amount = %v, want 0", r.Checks.CappedAmount)
			}
			ok, reason := manager.Approves(r, proposal.Decision{Approve: true, Reasoning: "fine"})
			if ok {
				t.Error("an amount capped to zero must not be approved")
			}
			if reason == "" {
				t.Error("expected the cap reason")
			}
		})
	}
}

func TestVoteScenario(t *testing.T) {
	res := manager.Vote([]manager.Signal{
		{AgentID: "a", Action: trade.ActionBuy, Confidence: 0.8},
		{AgentID: "b", Action: trade.ActionBuy, Confidence: 0.7},
		{AgentID: "c", Action: trade.ActionSell, Confidence: 0.6},
	}, now)

	if res.Action != trade.ActionBuy {
		t.Fatalf("expected BUY, got %s", res.Action)
	}
	want := map[trade.Action]int{trade.ActionBuy: 2, trade.ActionSell: 1, trade.ActionHold: 0}
	if len(res.VoteBreakdown) != len(want) {
		t.Fatalf("expected breakdown %v, got %v", want, res.VoteBreakdown)
	}
	for a, n := range want {
		if res.VoteBreakdown[a] != n {
			t.Errorf("breakdown[%s] = %d, want %d", a, res.VoteBreakdown[a], n)
		}
	}
	if math.Abs(res.ConflictScore-1.0/3.0) > 1e-9 {
		t.Errorf("expected conflict ~0.33, got %v", res.ConflictScore)
	}
	if math.Abs(res.Confidence-0.75) > 1e-9 {
		t.Errorf("expected mean winner confidence 0.75, got %v", res.Confidence)
	}
	if !res.Timestamp.Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, res.Timestamp)
	}
}

func TestVoteUnanimousAndTies(t *testing.T) {
	res := manager.Vote([]manager.Signal{
		{Action: trade.ActionHold, Confidence: 50},
		{Action: trade.ActionHold, Confidence: 70},
	}, now)
	if res.Action != trade.ActionHold || res.ConflictScore != 0 {
		t.Errorf("expected unanimous HOLD, got %+v", res)
	}

	// Tie on count: SELL has higher summed confidence.
	res = manager.Vote([]manager.Signal{
		{Action: trade.ActionBuy, Confidence: 0.2},
		{Action: trade.ActionSell, Confidence: 0.9},
	}, now)
	if res.Action != trade.ActionSell {
		t.Errorf("expected SELL on confidence tie-break, got %s", res.Action)
	}
	if res.ConflictScore != 0.5 {
		t.Errorf("expected conflict 0.5, got %v", res.ConflictScore)
	}

	// Full tie: fixed order prefers BUY.
	res = manager.Vote([]manager.Signal{
		{Action: trade.ActionSell, Confidence: 0.5},
		{Action: trade.ActionBuy, Confidence: 0.5},
	}, now)
	if res.Action != trade.ActionBuy {
		t.Errorf("expected BUY on full tie, got %s", res.Action)
	}
}

func TestVoteEmptyAndRebalance(t *testing.T) {
	res := manager.Vote(nil, now)
	if res.Action != trade.ActionHold || res.Confidence != 0 || res.ConflictScore != 0 {
		t.Errorf("expected neutral HOLD for no signals, got %+v", res)
	}
	if _, ok := res.VoteBreakdown[trade.ActionRebalance]; ok {
		t.Error("REBALANCE must be absent without votes")
	}

	res = manager.Vote([]manager.Signal{{Action: trade.ActionRebalance, Confidence: 1}, {Action: "NOPE"}}, now)
	if res.VoteBreakdown[trade.ActionRebalance] != 1 {
		t.Errorf("expected one REBALANCE vote, got %v", res.VoteBreakdown)
	}
	if res.ConflictScore != 0 {
		t.Errorf("unknown actions must be ignored, got conflict %v", res.ConflictScore)
	}
}
