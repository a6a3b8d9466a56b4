// Package proposal parses untrusted proposal-source output into a closed set of
// orders. Parsing never fails: anything unusable becomes a conservative HOLD.
package proposal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

// FallbackConfidence is the confidence assigned to a replacement HOLD.
const FallbackConfidence = 1.0

// Order is the closed union of proposal kinds: Buy, Sell, Hold, Rebalance.
type Order interface {
	Action() trade.Action
	order()
}

// Buy spends Amount of balance.
type Buy struct{ Amount decimal.Decimal }

// Sell liquidates Amount of position.
type Sell struct{ Amount decimal.Decimal }

// Hold changes nothing.
type Hold struct{}

// Rebalance moves value toward Target.
type Rebalance struct{ Target trade.RebalanceTarget }

func (Buy) Action() trade.Action       { return trade.ActionBuy }
func (Sell) Action() trade.Action      { return trade.ActionSell }
func (Hold) Action() trade.Action      { return trade.ActionHold }
func (Rebalance) Action() trade.Action { return trade.ActionRebalance }

func (Buy) order()       {}
func (Sell) order()      {}
func (Hold) order()      {}
func (Rebalance) order() {}

// Proposal is a normalized agent proposal.
type Proposal struct {
	Order             Order
	AllocationPercent float64
	Confidence        float64
	RiskScore         *float64
	Reasoning         string
	Fallback          bool
}

// Context carries the sector and agent state that normalization depends on.
type Context struct {
	Balance             decimal.Decimal
	Position            decimal.Decimal
	LastConfidence      float64
	ConfidenceIncrement float64
	Personality         agent.Personality
}

// Fallback returns the conservative HOLD used when output is unusable.
func Fallback(reason string) Proposal {
	return Proposal{
		Order:      Hold{},
		Confidence: FallbackConfidence,
		Reasoning:  "proposal unavailable, holding: " + reason,
		Fallback:   true,
	}
}

// Parse normalizes raw proposal output. It never returns an error.
func Parse(raw string, c Context) Proposal {
	p, err := Normalize(raw, c)
	if err != nil {
		return Fallback(err.Error())
	}
	return p
}

// Normalize is Parse without the fallback: unusable output is an error.
func Normalize(raw string, c Context) (Proposal, error) {
	doc, err := decodeDocument(raw, proposalSchema)
	if err != nil {
		return Proposal{}, err
	}

	p := Proposal{Reasoning: text(doc, "reasoning")}

	if v, ok := number(doc, "confidence"); ok {
		p.Confidence = agent.ClampProposalConfidence(v)
	} else {
		p.Confidence = agent.ClampProposalConfidence(c.LastConfidence + c.ConfidenceIncrement)
	}
	if v, ok := number(doc, "riskScore"); ok {
		p.RiskScore = &v
	}

	pct, hasPct := number(doc, "allocationPercent")
	amount, hasAmount := number(doc, "amount")

	switch trade.Action(text(doc, "action")) {
	case trade.ActionBuy:
		amt, share := size(c.Balance, amount, hasAmount, pct, hasPct, c.Personality)
		p.Order, p.AllocationPercent = Buy{Amount: amt}, share
	case trade.ActionSell:
		amt, share := size(c.Position, amount, hasAmount, pct, hasPct, c.Personality)
		p.Order, p.AllocationPercent = Sell{Amount: amt}, share
	case trade.ActionHold:
		p.Order = Hold{}
	case trade.ActionRebalance:
		target, err := rebalanceTarget(doc, pct, hasPct)
		if err != nil {
			return Proposal{}, err
		}
		frac, _ := target.PositionFraction()
		p.Order, p.AllocationPercent = Rebalance{Target: target}, frac*100
	default:
		// unreachable after schema validation
		return Proposal{}, fmt.Errorf("unknown action %v", doc["action"])
	}
	return p, nil
}

// size resolves an order amount from an explicit amount or a percentage of
// available capital, returning the amount and its share of available in percent.
func size(available decimal.Decimal, amount float64, hasAmount bool, pct float64, hasPct bool, pers agent.Personality) (decimal.Decimal, float64) {
	if hasAmount && amount > 0 {
		amt := decimal.NewFromFloat(amount).Round(2)
		share := 0.0
		if available.IsPositive() {
			share, _ = amt.Div(available).Mul(decimal.NewFromInt(100)).Float64()
		}
		return amt, share
	}
	if !hasPct {
		pct = pers.DefaultAllocationPercent()
	}
	amt := available.Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100)).Round(2)
	return amt, pct
}

func rebalanceTarget(doc map[string]any, pct float64, hasPct bool) (trade.RebalanceTarget, error) {
	if raw, ok := doc["targetRatios"].(map[string]any); ok {
		ratios := make(map[string]float64, len(raw))
		for k, v := range raw {
			f, _ := v.(float64)
			ratios[k] = f
		}
		t := trade.RebalanceTarget{Ratios: ratios}
		if _, err := t.PositionFraction(); err != nil {
			return trade.RebalanceTarget{}, err
		}
		return t, nil
	}
	if !hasPct {
		return trade.RebalanceTarget{}, fmt.Errorf("rebalance proposal has no target")
	}
	f := pct / 100
	return trade.RebalanceTarget{Fraction: &f}, nil
}

// Content converts the proposal into checklist item content.
func (p Proposal) Content() discussion.Content {
	c := discussion.Content{
		Action:            p.Order.Action(),
		AllocationPercent: p.AllocationPercent,
		Confidence:        p.Confidence,
		RiskScore:         p.RiskScore,
		Reasoning:         p.Reasoning,
	}
	switch o := p.Order.(type) {
	case Buy:
		c.Amount = o.Amount
	case Sell:
		c.Amount = o.Amount
	case Rebalance:
		t := o.Target
		c.Target = &t
	}
	return c
}
