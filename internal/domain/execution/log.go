package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

// Log is one immutable execution record.
type Log struct {
	ID                 string             `json:"id"`
	Seq                int64              `json:"seq"`
	ExecutionID        string             `json:"execution_id"`
	SectorID           string             `json:"sector_id"`
	DiscussionID       string             `json:"discussion_id"`
	ChecklistItemID    string             `json:"checklist_item_id"`
	AgentID            string             `json:"agent_id"`
	ManagerID          string             `json:"manager_id,omitempty"`
	Action             trade.Action       `json:"action"`
	Allocation         decimal.Decimal    `json:"allocation"`
	PriceImpact        float64            `json:"price_impact"`
	ImpactMultiplier   *float64           `json:"impact_multiplier"`
	ValuationBefore    decimal.Decimal    `json:"valuation_before"`
	ValuationAfter     decimal.Decimal    `json:"valuation_after"`
	ValuationDelta     decimal.Decimal    `json:"valuation_delta"`
	PositionValue      decimal.Decimal    `json:"position_value"`
	BalanceAfter       decimal.Decimal    `json:"balance_after"`
	ConfidenceSnapshot map[string]float64 `json:"confidence_snapshot"`
	Rewards            map[string]int     `json:"rewards"`
	Digest             string             `json:"digest,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
}

// Result is returned by an execution request. A failed precondition is a
// Result with Success=false, not an error.
type Result struct {
	Success         bool   `json:"success"`
	AlreadyExecuted bool   `json:"already_executed"`
	Reason          string `json:"reason,omitempty"`
	ItemID          string `json:"item_id"`
	Log             *Log   `json:"log,omitempty"`
}

// Filter narrows execution log queries. Zero fields match everything.
type Filter struct {
	SectorID     string
	ManagerID    string
	DiscussionID string
	Action       trade.Action
	From         time.Time
	To           time.Time
	Limit        int
}

// Matches reports whether l satisfies the filter. From is inclusive, To exclusive.
func (f Filter) Matches(l *Log) bool {
	switch {
	case f.SectorID != "" && l.SectorID != f.SectorID:
		return false
	case f.ManagerID != "" && l.ManagerID != f.ManagerID:
		return false
	case f.DiscussionID != "" && l.DiscussionID != f.DiscussionID:
		return false
	case f.Action != "" && l.Action != f.Action:
		return false
	case !f.From.IsZero() && l.Timestamp.Before(f.From):
		return false
	case !f.To.IsZero() && !l.Timestamp.Before(f.To):
		return false
	}
	return true
}
