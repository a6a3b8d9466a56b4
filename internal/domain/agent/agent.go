// Package agent defines the Agent domain entity and its confidence model.
package agent

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

// Confidence bounds for an agent's belief score.
const (
	MinConfidence = -100.0
	MaxConfidence = 100.0
)

// Role distinguishes decision workers from the sector manager.
type Role string

const (
	RoleWorker  Role = "worker"
	RoleManager Role = "manager"
)

// Status represents the current activity of an agent.
type Status string

const (
	StatusActive     Status = "active"
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusOffline    Status = "offline"
)

// Personality shapes default proposal sizing and prompt tone.
type Personality struct {
	RiskTolerance string `json:"risk_tolerance"`
	DecisionStyle string `json:"decision_style"`
}

// DefaultAllocationPercent returns the share of available capital an agent commits
// when a proposal carries no amount.
func (p Personality) DefaultAllocationPercent() float64 {
	switch strings.ToLower(p.RiskTolerance) {
	case "low", "conservative":
		return 5
	case "high":
		return 15
	case "aggressive":
		return 20
	default: // moderate, medium, unknown
		return 10
	}
}

// Agent is a sector participant.
type Agent struct {
	ID             string       `json:"id"`
	SectorID       string       `json:"sector_id"`
	Name           string       `json:"name"`
	Role           Role         `json:"role"`
	Status         Status       `json:"status"`
	Personality    Personality  `json:"personality"`
	Confidence     float64      `json:"confidence"`
	RewardPoints   int          `json:"reward_points"`
	PenaltyPoints  int          `json:"penalty_points"`
	LastAction     trade.Action `json:"last_action,omitempty"`
	LastConfidence float64      `json:"last_confidence"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// IsManager reports whether the agent holds the manager role.
func (a *Agent) IsManager() bool { return a.Role == RoleManager }

// ClampConfidence bounds v to [MinConfidence, MaxConfidence]. Infinities
// collapse to the nearest bound. Callers reject NaN before calling.
func ClampConfidence(v float64) float64 {
	return math.Max(MinConfidence, math.Min(MaxConfidence, v))
}

// ClampProposalConfidence bounds a proposal confidence to [0, 100].
func ClampProposalConfidence(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// Reward adds non-negative points. RewardPoints never decreases.
func (a *Agent) Reward(points int) {
	if points > 0 {
		a.RewardPoints += points
	}
}

// Penalize records a disagreement penalty without touching RewardPoints.
func (a *Agent) Penalize(points int) {
	if points > 0 {
		a.PenaltyPoints += points
	}
}

// CreateRequest holds the fields needed to add an agent to a sector.
type CreateRequest struct {
	ID          string      `json:"id"`
	SectorID    string      `json:"sector_id"`
	Name        string      `json:"name"`
	Role        Role        `json:"role"`
	Personality Personality `json:"personality"`
	Confidence  float64     `json:"confidence"`
}

// Validate checks the request for structural correctness.
func (r *CreateRequest) Validate() error {
	if r.SectorID == "" {
		return fmt.Errorf("sector_id is required: %w", domain.ErrValidation)
	}
	if r.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	switch r.Role {
	case RoleWorker, RoleManager:
	case "":
		r.Role = RoleWorker
	default:
		return fmt.Errorf("unknown role %q: %w", r.Role, domain.ErrValidation)
	}
	if math.IsNaN(r.Confidence) {
		return fmt.Errorf("confidence must be a number: %w", domain.ErrValidation)
	}
	return nil
}

// ListFilter narrows agent listings.
type ListFilter struct {
	SectorID string
	Status   Status
}

// Matches reports whether a satisfies the filter.
func (f ListFilter) Matches(a *Agent) bool {
	if f.SectorID != "" && a.SectorID != f.SectorID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}
