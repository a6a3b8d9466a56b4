// Package execution defines the pure mutation rules applied to a sector when
// a checklist item executes, and the append-only execution log.
package execution

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

// HoldImpact is the fixed neutral signal a HOLD contributes to analytics.
const HoldImpact = 0.001

var (
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInsufficientFunds    = errors.New("insufficient balance")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrInvalidTarget        = errors.New("invalid rebalance target")
	ErrUnknownAction        = errors.New("unknown action")
)

// Mutation is the planned effect of one execution on a sector.
type Mutation struct {
	BalanceAfter  decimal.Decimal
	PositionAfter decimal.Decimal
	Allocation    decimal.Decimal // amount moved, always >= 0
	Direction     int             // +1 into position, -1 out of it, 0 none
}

// Plan computes the balance/position after executing c against s without
// mutating anything. A returned error means the item must not execute.
func Plan(s *sector.Sector, c discussion.Content) (Mutation, error) {
	bal, pos := s.Balance, s.Position
	switch c.Action {
	case trade.ActionBuy:
		if !c.Amount.IsPositive() {
			return Mutation{}, fmt.Errorf("BUY %s: %w", c.Amount, ErrInvalidAmount)
		}
		if c.Amount.GreaterThan(bal) {
			return Mutation{}, fmt.Errorf("BUY %s exceeds balance %s: %w", c.Amount, bal, ErrInsufficientFunds)
		}
		return Mutation{BalanceAfter: bal.Sub(c.Amount), PositionAfter: pos.Add(c.Amount), Allocation: c.Amount, Direction: 1}, nil

	case trade.ActionSell:
		if !c.Amount.IsPositive() {
			return Mutation{}, fmt.Errorf("SELL %s: %w", c.Amount, ErrInvalidAmount)
		}
		if c.Amount.GreaterThan(pos) {
			return Mutation{}, fmt.Errorf("SELL %s exceeds position %s: %w", c.Amount, pos, ErrInsufficientPosition)
		}
		return Mutation{BalanceAfter: bal.Add(c.Amount), PositionAfter: pos.Sub(c.Amount), Allocation: c.Amount, Direction: -1}, nil

	case trade.ActionHold:
		return Mutation{BalanceAfter: bal, PositionAfter: pos, Allocation: decimal.Zero}, nil

	case trade.ActionRebalance:
		return planRebalance(bal, pos, c.Target)
	}
	return Mutation{}, fmt.Errorf("%q: %w", c.Action, ErrUnknownAction)
}

func planRebalance(bal, pos decimal.Decimal, target *trade.RebalanceTarget) (Mutation, error) {
	if target == nil {
		return Mutation{}, fmt.Errorf("REBALANCE without target: %w", ErrInvalidTarget)
	}
	frac, err := target.PositionFraction()
	if err != nil {
		return Mutation{}, fmt.Errorf("REBALANCE: %v: %w", err, ErrInvalidTarget)
	}
	total := sector.Valuation(bal, pos)
	if !total.IsPositive() {
		return Mutation{}, fmt.Errorf("REBALANCE on zero valuation is unreachable: %w", ErrInvalidTarget)
	}

	newPos := total.Mul(decimal.NewFromFloat(frac)).Round(2)
	if newPos.GreaterThan(total) {
		newPos = total
	}
	newBal := total.Sub(newPos)
	delta := newPos.Sub(pos)

	m := Mutation{BalanceAfter: newBal, PositionAfter: newPos, Allocation: delta.Abs()}
	switch delta.Sign() {
	case 1:
		m.Direction = 1
	case -1:
		m.Direction = -1
	}
	return m, nil
}

// PriceImpact is the signed share of value moved, scaled by volatility.
// HOLD always reports HoldImpact.
func PriceImpact(action trade.Action, m Mutation, valuationBefore decimal.Decimal, volatility float64) float64 {
	if action == trade.ActionHold {
		return HoldImpact
	}
	if !valuationBefore.IsPositive() || m.Direction == 0 {
		return 0
	}
	share, _ := m.Allocation.Div(valuationBefore).Float64()
	return float64(m.Direction) * share * volatility
}

// ConfidenceMultiplier scales price impact by the mean participant
// confidence: 1 + mean/200, so confidences in [-100,100] map to [0.5,1.5].
func ConfidenceMultiplier(snapshot map[string]float64) float64 {
	if len(snapshot) == 0 {
		return 1
	}
	var sum float64
	for _, v := range snapshot {
		sum += v
	}
	return 1 + sum/float64(len(snapshot))/200
}
