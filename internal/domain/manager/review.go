// Package manager implements the manager's two decision surfaces: the per-item
// threshold review and the sector-wide signal vote. Both are pure.
package manager

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/proposal"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

// ReviewInput is everything the threshold review looks at.
type ReviewInput struct {
	Content          discussion.Content
	Threshold        float64
	RiskCeiling      float64
	WeakReasoningLen int
	Balance          decimal.Decimal
	Position         decimal.Decimal
}

// Review evaluates an item against the sector's confidence threshold and
// reports every check, including any cap applied to the amount.
func Review(in ReviewInput) discussion.Review {
	c := in.Content
	checks := discussion.Checks{
		Reasoning: reasoningQuality(c.Reasoning, in.WeakReasoningLen),
		Risk:      riskCompliance(c.RiskScore, in.RiskCeiling),
	}

	switch c.Action {
	case trade.ActionBuy:
		checks.AllocationFraction = fraction(c.Amount, in.Balance)
		if c.Amount.GreaterThan(in.Balance) {
			capped := in.Balance
			checks.CappedAmount = &capped
			checks.CapReason = fmt.Sprintf("amount %s exceeds balance %s", c.Amount, in.Balance)
		}
	case trade.ActionSell:
		checks.AllocationFraction = fraction(c.Amount, in.Position)
		if c.Amount.GreaterThan(in.Position) {
			capped := in.Position
			checks.CappedAmount = &capped
			checks.CapReason = fmt.Sprintf("amount %s exceeds position %s", c.Amount, in.Position)
		}
	case trade.ActionRebalance:
		checks.AllocationFraction = c.AllocationPercent / 100
	}

	if reason, ok := untradable(c, checks); ok {
		return discussion.Review{Reason: reason, Checks: checks}
	}
	if c.Confidence >= in.Threshold {
		return discussion.Review{
			AutoApproved: true,
			Reason:       fmt.Sprintf("confidence %.1f meets threshold %.1f", c.Confidence, in.Threshold),
			Checks:       checks,
		}
	}
	return discussion.Review{
		NeedsManagerReview: true,
		Reason:             fmt.Sprintf("confidence %.1f below threshold %.1f", c.Confidence, in.Threshold),
		Checks:             checks,
	}
}

// Approves combines a full review with the manager's decision. A missing
// reasoning or an exceeded risk ceiling vetoes approval, and a review that
// neither approved nor asked for the manager is a rejection.
func Approves(r discussion.Review, d proposal.Decision) (bool, string) {
	if r.AutoApproved {
		return true, r.Reason
	}
	switch {
	case !r.NeedsManagerReview:
		return false, r.Reason
	case !d.Approve:
		return false, "manager declined: " + d.Reasoning
	case r.Checks.Reasoning == discussion.ReasoningMissing:
		return false, "reasoning is missing"
	case r.Checks.Risk == discussion.RiskExceeded:
		return false, "risk score exceeds the sector ceiling"
	}
	return true, "manager approved: " + d.Reasoning
}

// untradable reports a BUY or SELL whose amount, after any cap, leaves
// nothing to execute.
func untradable(c discussion.Content, checks discussion.Checks) (string, bool) {
	if c.Action != trade.ActionBuy && c.Action != trade.ActionSell {
		return "", false
	}
	amount := c.Amount
	if checks.CappedAmount != nil {
		amount = *checks.CappedAmount
	}
	if amount.IsPositive() {
		return "", false
	}
	if checks.CapReason != "" {
		return checks.CapReason + ", nothing left to trade", true
	}
	return fmt.Sprintf("%s amount %s is not positive", c.Action, amount), true
}

func reasoningQuality(s string, weakLen int) string {
	switch n := len([]rune(s)); {
	case n == 0:
		return discussion.ReasoningMissing
	case n < weakLen:
		return discussion.ReasoningWeak
	}
	return discussion.ReasoningOK
}

func riskCompliance(score *float64, ceiling float64) string {
	switch {
	case score == nil:
		return discussion.RiskMissing
	case *score > ceiling:
		return discussion.RiskExceeded
	}
	return discussion.RiskOK
}

func fraction(amount, available decimal.Decimal) float64 {
	if !available.IsPositive() {
		if amount.IsPositive() {
			return 1
		}
		return 0
	}
	f, _ := amount.Div(available).Float64()
	return f
}
