// Package discussion defines the Discussion entity and its checklist state machine.
package discussion

import (
	"fmt"
	"time"

	"github.com/Strob0t/SectorDesk/internal/domain"
)

// Status represents the lifecycle state of a discussion.
type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusAwaitingExecution Status = "AWAITING_EXECUTION"
	StatusDecided           Status = "DECIDED"
	StatusRejected          Status = "REJECTED"
	StatusArchived          Status = "ARCHIVED"
)

// IsTerminal returns true if the discussion can no longer change.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDecided, StatusRejected, StatusArchived:
		return true
	}
	return false
}

var discussionTransitions = map[Status][]Status{
	StatusCreated:           {StatusInProgress, StatusArchived},
	StatusInProgress:        {StatusAwaitingExecution, StatusDecided, StatusRejected, StatusArchived},
	StatusAwaitingExecution: {StatusDecided, StatusArchived},
}

// CanTransition reports whether a discussion may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range discussionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Message is one utterance in a discussion.
type Message struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	Round     int       `json:"round"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewRecord captures one manager verdict on a checklist item.
type ReviewRecord struct {
	ItemID            string    `json:"item_id"`
	ManagerID         string    `json:"manager_id"`
	Round             int       `json:"round"`
	Approved          bool      `json:"approved"`
	AutoApproved      bool      `json:"auto_approved"`
	AllocationPercent float64   `json:"allocation_percent"`
	Confidence        float64   `json:"confidence"`
	Reason            string    `json:"reason"`
	CreatedAt         time.Time `json:"created_at"`
}

// Discussion is a bounded collaborative session that produces a checklist.
type Discussion struct {
	ID             string          `json:"id"`
	SectorID       string          `json:"sector_id"`
	Title          string          `json:"title"`
	ParticipantIDs []string        `json:"participant_ids"`
	ManagerID      string          `json:"manager_id,omitempty"`
	Status         Status          `json:"status"`
	CurrentRound   int             `json:"current_round"`
	MaxRounds      int             `json:"max_rounds"`
	Messages       []Message       `json:"messages"`
	Checklist      []ChecklistItem `json:"checklist"`
	Decisions      []ReviewRecord  `json:"decisions"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
}

// Transition moves the discussion to a new status.
func (d *Discussion) Transition(to Status, now time.Time) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("discussion %s %s -> %s: %w", d.ID, d.Status, to, domain.ErrInvalidTransition)
	}
	d.Status = to
	d.UpdatedAt = now
	if to.IsTerminal() {
		t := now
		d.ClosedAt = &t
	}
	return nil
}

// AdvanceRound increments CurrentRound. The counter never decreases.
func (d *Discussion) AdvanceRound(now time.Time) {
	d.CurrentRound++
	d.UpdatedAt = now
}

// Item returns a pointer to the checklist item with the given id.
func (d *Discussion) Item(id string) (*ChecklistItem, error) {
	for i := range d.Checklist {
		if d.Checklist[i].ID == id {
			return &d.Checklist[i], nil
		}
	}
	return nil, fmt.Errorf("checklist item %s: %w", id, domain.ErrNotFound)
}

// IsParticipant reports whether agentID takes part in the discussion.
func (d *Discussion) IsParticipant(agentID string) bool {
	for _, p := range d.ParticipantIDs {
		if p == agentID {
			return true
		}
	}
	return false
}

// OpenItemFor returns the agent's item that awaits a revision, if any.
func (d *Discussion) OpenItemFor(agentID string) *ChecklistItem {
	for i := len(d.Checklist) - 1; i >= 0; i-- {
		it := &d.Checklist[i]
		if it.AgentID == agentID && it.Status == ItemRevisionRequired {
			return it
		}
	}
	return nil
}

// NeedsMoreRounds reports whether any item still awaits review or revision.
func (d *Discussion) NeedsMoreRounds() bool {
	for i := range d.Checklist {
		switch d.Checklist[i].Status {
		case ItemPending, ItemResubmitted, ItemRevisionRequired:
			return true
		}
	}
	return false
}

// Outcome computes the status a discussion settles into when its rounds end:
// AWAITING_EXECUTION if any item is approved, DECIDED if every item reached a
// terminal state, REJECTED otherwise.
func (d *Discussion) Outcome() Status {
	allTerminal := true
	for i := range d.Checklist {
		st := d.Checklist[i].Status
		if st == ItemApproved {
			return StatusAwaitingExecution
		}
		if !st.IsTerminal() {
			allTerminal = false
		}
	}
	if allTerminal {
		return StatusDecided
	}
	return StatusRejected
}

// Finalize closes the round phase. When execution is pending, items still
// waiting on review or revision are dropped to ACCEPT_REJECTION so only the
// approved ones gate the move to DECIDED.
func (d *Discussion) Finalize(now time.Time) error {
	out := d.Outcome()
	if err := d.Transition(out, now); err != nil {
		return err
	}
	if out != StatusAwaitingExecution {
		return nil
	}
	for i := range d.Checklist {
		it := &d.Checklist[i]
		switch it.Status {
		case ItemPending, ItemResubmitted, ItemRevisionRequired, ItemRejected:
			it.Status = ItemAcceptRejection
			it.UpdatedAt = now
		}
	}
	return nil
}

// ExecutionSettled reports whether an AWAITING_EXECUTION discussion has no
// approved item left to execute.
func (d *Discussion) ExecutionSettled() bool {
	if d.Status != StatusAwaitingExecution {
		return false
	}
	for i := range d.Checklist {
		if d.Checklist[i].Status == ItemApproved {
			return false
		}
	}
	return true
}

// CheckInvariants verifies per-item structural invariants.
func (d *Discussion) CheckInvariants() error {
	for i := range d.Checklist {
		it := &d.Checklist[i]
		if it.Status == ItemExecuted && (it.ExecutedAt == nil || it.ExecutionLogID == "") {
			return fmt.Errorf("item %s executed without execution record", it.ID)
		}
		if it.ExecutedAt != nil && it.Status != ItemExecuted {
			return fmt.Errorf("item %s has executedAt but status %s", it.ID, it.Status)
		}
		if it.RevisionCount != len(it.PreviousVersions) {
			return fmt.Errorf("item %s revision count %d != %d versions", it.ID, it.RevisionCount, len(it.PreviousVersions))
		}
	}
	return nil
}

// CreateRequest holds the fields needed to open a discussion explicitly.
type CreateRequest struct {
	SectorID       string   `json:"sector_id"`
	Title          string   `json:"title"`
	ParticipantIDs []string `json:"participant_ids"`
}

// Validate checks the request for structural correctness.
func (r *CreateRequest) Validate() error {
	if r.SectorID == "" {
		return fmt.Errorf("sector_id is required: %w", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(r.ParticipantIDs))
	for _, p := range r.ParticipantIDs {
		if p == "" {
			return fmt.Errorf("participant id must not be empty: %w", domain.ErrValidation)
		}
		if seen[p] {
			return fmt.Errorf("duplicate participant %s: %w", p, domain.ErrValidation)
		}
		seen[p] = true
	}
	return nil
}

// ListFilter narrows discussion listings.
type ListFilter struct {
	SectorID string
	Status   Status
}

// Matches reports whether d satisfies the filter.
func (f ListFilter) Matches(d *Discussion) bool {
	if f.SectorID != "" && d.SectorID != f.SectorID {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	return true
}
