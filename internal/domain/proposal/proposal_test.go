package proposal_test

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/proposal"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

func ctx() proposal.Context {
	return proposal.Context{
		Balance:             decimal.NewFromInt(1000),
		Position:            decimal.NewFromInt(400),
		LastConfidence:      60,
		ConfidenceIncrement: 2,
		Personality:         agent.Personality{RiskTolerance: "High"},
	}
}

func TestParseExplicitBuy(t *testing.T) {
	p := proposal.Parse(`{"action":"BUY","amount":200,"confidence":72,"reasoning":"earnings beat"}`, ctx())

	buy, ok := p.Order.(proposal.Buy)
	if !ok {
		t.Fatalf("expected Buy, got %T", p.Order)
	}
	if !buy.Amount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("expected amount 200, got %s", buy.Amount)
	}
	if p.AllocationPercent != 20 {
		t.Errorf("expected allocation 20%%, got %v", p.AllocationPercent)
	}
	if p.Confidence != 72 || p.Fallback {
		t.Errorf("unexpected proposal %+v", p)
	}
}

func TestParseDefaultsFromPersonality(t *testing.T) {
	// No amount and no percentage: high risk tolerance commits 15% of balance.
	p := proposal.Parse("```json\n{\"action\":\"buy\",\"reasoning\":\"x\"}\n```", ctx())

	buy, ok := p.Order.(proposal.Buy)
	if !ok {
		t.Fatalf("expected Buy, got %T", p.Order)
	}
	if !buy.Amount.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected amount 150, got %s", buy.Amount)
	}
	if p.AllocationPercent != 15 {
		t.Errorf("expected 15%%, got %v", p.AllocationPercent)
	}
	if p.Confidence != 62 {
		t.Errorf("expected lastConfidence+2 = 62, got %v", p.Confidence)
	}
}

func TestParseSellPercentOfPosition(t *testing.T) {
	p := proposal.Parse(`Sure! {"action":"SELL","allocation_percent":25} Hope that helps.`, ctx())

	sell, ok := p.Order.(proposal.Sell)
	if !ok {
		t.Fatalf("expected Sell, got %T", p.Order)
	}
	if !sell.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 25%% of position = 100, got %s", sell.Amount)
	}
}

func TestParseConfidenceClamped(t *testing.T) {
	p := proposal.Parse(`{"action":"HOLD","confidence":250}`, ctx())
	if p.Confidence != 100 {
		t.Errorf("expected 100, got %v", p.Confidence)
	}

	c := ctx()
	c.LastConfidence = 99.5
	p = proposal.Parse(`{"action":"HOLD"}`, c)
	if p.Confidence != 100 {
		t.Errorf("expected default confidence clamped to 100, got %v", p.Confidence)
	}
}

func TestParseRebalance(t *testing.T) {
	p := proposal.Parse(`{"action":"REBALANCE","allocationPercent":40}`, ctx())
	rb, ok := p.Order.(proposal.Rebalance)
	if !ok {
		t.Fatalf("expected Rebalance, got %T", p.Order)
	}
	f, err := rb.Target.PositionFraction()
	if err != nil || f != 0.4 {
		t.Errorf("expected fraction 0.4, got %v (%v)", f, err)
	}

	p = proposal.Parse(`{"action":"REBALANCE","targetRatios":{"position":1,"balance":1}}`, ctx())
	content := p.Content()
	if content.Target == nil || content.Target.Ratios["position"] != 1 {
		t.Errorf("expected ratios carried into content, got %+v", content.Target)
	}
}

func TestParseFallbacks(t *testing.T) {
	inputs := []string{
		"",
		"I cannot help with that.",
		`{"action":"SHORT","amount":10}`,
		`{"amount":10}`,
		`{"action":"BUY","amount":-5}`,
		`{"action":"BUY","confidence":"very"}`,
		`{"action":"REBALANCE"}`,
		`{"action":"REBALANCE","targetRatios":{"position":0,"balance":0}}`,
		`{"action": "BUY", "amount": 10`,
	}
	for _, in := range inputs {
		p := proposal.Parse(in, ctx())
		if !p.Fallback {
			t.Errorf("%q: expected fallback", in)
			continue
		}
		if p.Order.Action() != trade.ActionHold {
			t.Errorf("%q: expected HOLD, got %s", in, p.Order.Action())
		}
		if p.Confidence != 1 {
			t.Errorf("%q: expected confidence 1, got %v", in, p.Confidence)
		}
		if strings.TrimSpace(p.Reasoning) == "" {
			t.Errorf("%q: expected explanatory reasoning", in)
		}
	}
}

func TestParseDecision(t *testing.T) {
	d := proposal.ParseDecision(`{"approve":true,"allocationPercent":12,"confidence":80,"reasoning":"solid"}`)
	if !d.Approve || d.AllocationPercent != 12 || d.Confidence != 80 || d.Fallback {
		t.Errorf("unexpected decision %+v", d)
	}

	for _, in := range []string{"nope", `{"approve":"yes"}`, `{"confidence":90}`} {
		d := proposal.ParseDecision(in)
		want := proposal.FallbackDecision()
		if d != want {
			t.Errorf("%q: expected fallback %+v, got %+v", in, want, d)
		}
		if d.Reasoning != "parse failure, defaulting to HOLD" {
			t.Errorf("%q: unexpected reasoning %q", in, d.Reasoning)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		`text {"a":{"b":2}} tail`:  `{"a":{"b":2}}`,
		"no json here":            "",
	}
	for in, want := range tests {
		if got := proposal.ExtractJSON(in); got != want {
			t.Errorf("ExtractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeRejectsInsteadOfFallingBack(t *testing.T) {
	if _, err := proposal.Normalize(`{"action":"SHORT"}`, ctx()); err == nil {
		t.Error("expected error for unknown action")
	}
	p, err := proposal.Normalize(`{"action":"SELL","amount":40,"reasoning":"trim"}`, ctx())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.Fallback || p.Order.Action() != trade.ActionSell {
		t.Errorf("unexpected proposal %+v", p)
	}
}
