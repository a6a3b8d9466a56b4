// Package trade defines the closed set of checklist actions and rebalance targets
// shared by proposals, the manager and the execution engine.
package trade

import (
	"fmt"
	"math"
	"strings"
)

// Action is one of the four checklist actions.
type Action string

const (
	ActionBuy       Action = "BUY"
	ActionSell      Action = "SELL"
	ActionHold      Action = "HOLD"
	ActionRebalance Action = "REBALANCE"
)

// Actions lists every action in vote tie-break order.
var Actions = []Action{ActionBuy, ActionSell, ActionHold, ActionRebalance}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionRebalance:
		return true
	}
	return false
}

// Opposes reports whether a and b are logical opposites. Only BUY and SELL
// oppose each other; HOLD and REBALANCE are neutral.
func (a Action) Opposes(b Action) bool {
	return (a == ActionBuy && b == ActionSell) || (a == ActionSell && b == ActionBuy)
}

// ParseAction accepts any casing and surrounding whitespace.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Ratio keys accepted in a RebalanceTarget map.
const (
	RatioPosition = "position"
	RatioBalance  = "balance"
)

// RebalanceTarget describes the desired split of total value.
// Exactly one of Fraction (share of value held as position, in [0,1]) or
// Ratios (relative weights keyed by RatioPosition/RatioBalance) is set.
type RebalanceTarget struct {
	Fraction *float64          `json:"fraction,omitempty"`
	Ratios   map[string]float64 `json:"ratios,omitempty"`
}

// PositionFraction resolves the target into the share of value to hold as position.
func (t RebalanceTarget) PositionFraction() (float64, error) {
	if t.Fraction != nil {
		f := *t.Fraction
		if math.IsNaN(f) || f < 0 || f > 1 {
			return 0, fmt.Errorf("target fraction %v outside [0,1]", f)
		}
		return f, nil
	}
	if len(t.Ratios) == 0 {
		return 0, fmt.Errorf("rebalance target is empty")
	}
	var pos, bal float64
	for k, v := range t.Ratios {
		if math.IsNaN(v) || v < 0 {
			return 0, fmt.Errorf("ratio %q must be a non-negative number", k)
		}
		switch k {
		case RatioPosition:
			pos = v
		case RatioBalance:
			bal = v
		default:
			return 0, fmt.Errorf("unknown ratio key %q", k)
		}
	}
	if pos+bal <= 0 {
		return 0, fmt.Errorf("ratios must have a positive sum")
	}
	return pos / (pos + bal), nil
}
