// Package sector defines the Sector portfolio entity and its valuation model.
package sector

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/domain"
)

// MaxCandles bounds the stored price history per sector (one day of 5-minute candles).
const MaxCandles = 288

var (
	ErrNegativeBalance  = errors.New("sector balance is negative")
	ErrNegativePosition = errors.New("sector position is negative")
	ErrValuationDrift   = errors.New("sector valuation differs from balance + position")
)

// Performance summarizes capital usage. It is derived from balance and position.
type Performance struct {
	InvestedCapital  decimal.Decimal `json:"invested_capital"`
	AvailableCapital decimal.Decimal `json:"available_capital"`
	TotalValue       decimal.Decimal `json:"total_value"`
	PnL              decimal.Decimal `json:"pnl"`
}

// Sector is an isolated simulated portfolio. Balance, Position and Valuation are
// mutated only by the execution engine; price fields only by the market simulator.
type Sector struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Symbol              string          `json:"symbol"`
	Balance             decimal.Decimal `json:"balance"`
	Position            decimal.Decimal `json:"position"`
	Valuation           decimal.Decimal `json:"valuation"`
	InitialCapital      decimal.Decimal `json:"initial_capital"`
	Performance         Performance     `json:"performance"`
	BaselinePrice       float64         `json:"baseline_price"`
	CurrentPrice        float64         `json:"current_price"`
	Change              float64         `json:"change"`
	ChangePercent       float64         `json:"change_percent"`
	Volume              int64           `json:"volume"`
	Volatility          float64         `json:"volatility"`
	RiskScore           float64         `json:"risk_score"`
	ConfidenceThreshold float64         `json:"confidence_threshold"`
	RiskCeiling         float64         `json:"risk_ceiling"`
	ManagerID           string          `json:"manager_id,omitempty"`
	AgentIDs            []string        `json:"agent_ids"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Candle is one point of a sector's synthetic price history.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Valuation is the single definition of a sector's total value.
func Valuation(balance, position decimal.Decimal) decimal.Decimal {
	return balance.Add(position)
}

// Recompute derives Valuation and Performance from Balance and Position.
// It is the only place Valuation is assigned.
func (s *Sector) Recompute() {
	s.Valuation = Valuation(s.Balance, s.Position)
	s.Performance = Performance{
		InvestedCapital:  s.Position,
		AvailableCapital: s.Balance,
		TotalValue:       s.Valuation,
		PnL:              s.Valuation.Sub(s.InitialCapital),
	}
}

// CheckInvariants verifies balance >= 0, position >= 0 and valuation == balance + position.
func (s *Sector) CheckInvariants() error {
	if s.Balance.IsNegative() {
		return fmt.Errorf("%s: %w", s.ID, ErrNegativeBalance)
	}
	if s.Position.IsNegative() {
		return fmt.Errorf("%s: %w", s.ID, ErrNegativePosition)
	}
	if !s.Valuation.Equal(Valuation(s.Balance, s.Position)) {
		return fmt.Errorf("%s: %w", s.ID, ErrValuationDrift)
	}
	return nil
}

// HasAgent reports whether id is one of the sector's agents.
func (s *Sector) HasAgent(id string) bool {
	for _, a := range s.AgentIDs {
		if a == id {
			return true
		}
	}
	return false
}

// CreateRequest holds the fields needed to create a new sector.
type CreateRequest struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Symbol              string          `json:"symbol"`
	Balance             decimal.Decimal `json:"balance"`
	BaselinePrice       float64         `json:"baseline_price"`
	Volatility          float64         `json:"volatility"`
	RiskScore           float64         `json:"risk_score"`
	ConfidenceThreshold *float64        `json:"confidence_threshold,omitempty"`
	RiskCeiling         *float64        `json:"risk_ceiling,omitempty"`
}

// Validate checks the request for structural correctness.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if r.Balance.IsNegative() {
		return fmt.Errorf("balance must be >= 0: %w", domain.ErrValidation)
	}
	if r.BaselinePrice < 0 {
		return fmt.Errorf("baseline_price must be >= 0: %w", domain.ErrValidation)
	}
	if r.Volatility < 0 {
		return fmt.Errorf("volatility must be >= 0: %w", domain.ErrValidation)
	}
	if t := r.ConfidenceThreshold; t != nil && (*t < 0 || *t > 100) {
		return fmt.Errorf("confidence_threshold must be within [0, 100]: %w", domain.ErrValidation)
	}
	return nil
}
