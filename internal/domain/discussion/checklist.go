package discussion

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

// ItemStatus represents the lifecycle state of a checklist item.
type ItemStatus string

const (
	ItemPending          ItemStatus = "PENDING"
	ItemApproved         ItemStatus = "APPROVED"
	ItemRejected         ItemStatus = "REJECTED"
	ItemRevisionRequired ItemStatus = "REVISE_REQUIRED"
	ItemResubmitted      ItemStatus = "RESUBMITTED"
	ItemAcceptRejection  ItemStatus = "ACCEPT_REJECTION"
	ItemExecuted         ItemStatus = "EXECUTED"
)

// IsTerminal returns true if the item is in a final state.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemExecuted || s == ItemAcceptRejection
}

// AwaitsReview reports whether the manager still has to rule on the item.
func (s ItemStatus) AwaitsReview() bool {
	return s == ItemPending || s == ItemResubmitted
}

var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemPending:          {ItemApproved, ItemRevisionRequired, ItemRejected, ItemAcceptRejection},
	ItemResubmitted:      {ItemApproved, ItemRevisionRequired, ItemRejected, ItemAcceptRejection},
	ItemRevisionRequired: {ItemResubmitted, ItemAcceptRejection},
	ItemRejected:         {ItemResubmitted, ItemAcceptRejection},
	ItemApproved:         {ItemExecuted},
}

// CanTransitionItem reports whether an item may move between the two statuses.
func CanTransitionItem(from, to ItemStatus) bool {
	for _, s := range itemTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ItemVersion is a snapshot of an item's content before a revision.
type ItemVersion struct {
	Action            trade.Action           `json:"action"`
	Amount            decimal.Decimal        `json:"amount"`
	AllocationPercent float64                `json:"allocation_percent"`
	Target            *trade.RebalanceTarget `json:"target,omitempty"`
	Confidence        float64                `json:"confidence"`
	RiskScore         *float64               `json:"risk_score,omitempty"`
	Reasoning         string                 `json:"reasoning"`
	Status            ItemStatus             `json:"status"`
	RecordedAt        time.Time              `json:"recorded_at"`
}

// Content is the proposal-derived part of an item that a revision replaces.
type Content struct {
	Action            trade.Action           `json:"action"`
	Amount            decimal.Decimal        `json:"amount"`
	AllocationPercent float64                `json:"allocation_percent"`
	Target            *trade.RebalanceTarget `json:"target,omitempty"`
	Confidence        float64                `json:"confidence"`
	RiskScore         *float64               `json:"risk_score,omitempty"`
	Reasoning         string                 `json:"reasoning"`
}

// ExecutionAttempt records a failed execution. The item stays APPROVED.
type ExecutionAttempt struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ChecklistItem is one proposed action in a discussion.
type ChecklistItem struct {
	ID       string `json:"id"`
	AgentID  string `json:"agent_id"`
	Round    int    `json:"round"`
	Fallback bool   `json:"fallback,omitempty"`
	Content
	Status           ItemStatus         `json:"status"`
	RevisionCount    int                `json:"revision_count"`
	PreviousVersions []ItemVersion      `json:"previous_versions"`
	Review           *Review            `json:"review,omitempty"`
	FailedAttempts   []ExecutionAttempt `json:"failed_attempts,omitempty"`
	ExecutedAt       *time.Time         `json:"executed_at,omitempty"`
	ExecutionLogID   string             `json:"execution_log_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Review is the outcome of the manager's threshold review of an item.
type Review struct {
	AutoApproved       bool   `json:"auto_approved"`
	NeedsManagerReview bool   `json:"needs_manager_review"`
	Reason             string `json:"reason"`
	Checks             Checks `json:"checks"`
}

// Check outcomes reported by a review.
const (
	ReasoningMissing = "missing"
	ReasoningWeak    = "weak"
	ReasoningOK      = "ok"

	RiskOK       = "ok"
	RiskExceeded = "exceeded"
	RiskMissing  = "missing"
)

// Checks lists the individual review findings.
type Checks struct {
	Reasoning          string           `json:"reasoning"`
	Risk               string           `json:"risk"`
	AllocationFraction float64          `json:"allocation_fraction"`
	CappedAmount       *decimal.Decimal `json:"capped_amount,omitempty"`
	CapReason          string           `json:"cap_reason,omitempty"`
}

// NewItem builds a PENDING item for the given round.
func NewItem(id, agentID string, round int, c Content, fallback bool, now time.Time) ChecklistItem {
	return ChecklistItem{
		ID:        id,
		AgentID:   agentID,
		Round:     round,
		Fallback:  fallback,
		Content:   c,
		Status:    ItemPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the item to a new status.
func (it *ChecklistItem) Transition(to ItemStatus, now time.Time) error {
	if !CanTransitionItem(it.Status, to) {
		return fmt.Errorf("item %s %s -> %s: %w", it.ID, it.Status, to, domain.ErrInvalidTransition)
	}
	it.Status = to
	it.UpdatedAt = now
	return nil
}

// Revise replaces the item's content, archiving the previous version.
// If the revision would exceed maxRevisions the item is forced to
// ACCEPT_REJECTION instead and Revise returns false.
func (it *ChecklistItem) Revise(c Content, round, maxRevisions int, now time.Time) (bool, error) {
	if !CanTransitionItem(it.Status, ItemResubmitted) {
		return false, fmt.Errorf("item %s cannot be revised from %s: %w", it.ID, it.Status, domain.ErrInvalidTransition)
	}
	if it.RevisionCount >= maxRevisions {
		it.Status = ItemAcceptRejection
		it.UpdatedAt = now
		return false, nil
	}
	it.PreviousVersions = append(it.PreviousVersions, ItemVersion{
		Action:            it.Action,
		Amount:            it.Amount,
		AllocationPercent: it.AllocationPercent,
		Target:            it.Target,
		Confidence:        it.Confidence,
		RiskScore:         it.RiskScore,
		Reasoning:         it.Reasoning,
		Status:            it.Status,
		RecordedAt:        now,
	})
	it.RevisionCount++
	it.Content = c
	it.Round = round
	it.Review = nil
	it.Status = ItemResubmitted
	it.UpdatedAt = now
	return true, nil
}

// RecordFailure appends a failed execution attempt without changing status.
func (it *ChecklistItem) RecordFailure(reason string, now time.Time) {
	it.FailedAttempts = append(it.FailedAttempts, ExecutionAttempt{Reason: reason, At: now})
	it.UpdatedAt = now
}

// MarkExecuted sets ExecutedAt exactly once and links the log row.
func (it *ChecklistItem) MarkExecuted(logID string, now time.Time) error {
	if it.ExecutedAt != nil {
		return fmt.Errorf("item %s already executed: %w", it.ID, domain.ErrConflict)
	}
	if err := it.Transition(ItemExecuted, now); err != nil {
		return err
	}
	t := now
	it.ExecutedAt = &t
	it.ExecutionLogID = logID
	return nil
}
