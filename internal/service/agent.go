package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/port/ledger"
)

// ConfidenceMode selects how UpdateConfidence interprets its value.
type ConfidenceMode string

const (
	ConfidenceSet   ConfidenceMode = "set"
	ConfidenceDelta ConfidenceMode = "delta"
)

// AgentService manages sector agents and their confidence.
type AgentService struct {
	repo   *Repository
	events *Events
}

// NewAgentService creates a new AgentService.
func NewAgentService(repo *Repository, events *Events) *AgentService {
	return &AgentService{repo: repo, events: events}
}

// Create adds an agent to its sector. A sector holds at most one manager.
func (s *AgentService) Create(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.repo.Now()
	a := &agent.Agent{
		ID:             req.ID,
		SectorID:       req.SectorID,
		Name:           req.Name,
		Role:           req.Role,
		Status:         agent.StatusIdle,
		Personality:    req.Personality,
		Confidence:     agent.ClampConfidence(req.Confidence),
		LastConfidence: agent.ClampProposalConfidence(req.Confidence),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	// Claim the sector slot first so a rejected manager leaves no orphan agent.
	_, err := s.repo.MutateSector(ctx, a.SectorID, func(sec *sector.Sector) error {
		if sec.HasAgent(a.ID) {
			return fmt.Errorf("agent %s already in sector %s: %w", a.ID, sec.ID, domain.ErrConflict)
		}
		if a.IsManager() {
			if sec.ManagerID != "" {
				return fmt.Errorf("sector %s already has manager %s: %w", sec.ID, sec.ManagerID, domain.ErrConflict)
			}
			sec.ManagerID = a.ID
		}
		sec.AgentIDs = append(sec.AgentIDs, a.ID)
		sec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("attach agent: %w", err)
	}

	if err := s.repo.CreateAgent(ctx, a); err != nil {
		s.detach(ctx, a)
		return nil, fmt.Errorf("create agent: %w", err)
	}
	s.events.record(ctx, ledger.KindAgent, a.ID, a.SectorID, a, now)
	return a, nil
}

func (s *AgentService) detach(ctx context.Context, a *agent.Agent) {
	_, err := s.repo.MutateSector(ctx, a.SectorID, func(sec *sector.Sector) error {
		ids := sec.AgentIDs[:0]
		for _, id := range sec.AgentIDs {
			if id != a.ID {
				ids = append(ids, id)
			}
		}
		sec.AgentIDs = ids
		if sec.ManagerID == a.ID {
			sec.ManagerID = ""
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to detach agent", "agent_id", a.ID, "sector_id", a.SectorID, "error", err)
	}
}

// Get returns an agent by id.
func (s *AgentService) Get(ctx context.Context, id string) (*agent.Agent, error) {
	return s.repo.Agent(ctx, id)
}

// List returns agents matching the filter.
func (s *AgentService) List(ctx context.Context, f agent.ListFilter) ([]agent.Agent, error) {
	all, err := s.repo.Agents(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for i := range all {
		if f.Matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// UpdateConfidence sets or shifts an agent's confidence. The result is always
// clamped to [-100, 100], including for infinite input. NaN is rejected.
func (s *AgentService) UpdateConfidence(ctx context.Context, id string, value float64, mode ConfidenceMode) (*agent.Agent, error) {
	if math.IsNaN(value) {
		return nil, fmt.Errorf("confidence must be a number: %w", domain.ErrValidation)
	}
	if mode != ConfidenceSet && mode != ConfidenceDelta {
		return nil, fmt.Errorf("unknown confidence mode %q: %w", mode, domain.ErrValidation)
	}
	now := s.repo.Now()
	a, err := s.repo.MutateAgent(ctx, id, func(a *agent.Agent) error {
		next := value
		if mode == ConfidenceDelta {
			next = a.Confidence + value
		}
		a.Confidence = agent.ClampConfidence(next)
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("agent confidence updated", "agent_id", a.ID, "confidence", a.Confidence, "mode", mode)
	s.events.agentStatus(ctx, a)
	return a, nil
}

// setStatus records an activity change and broadcasts it.
func (s *AgentService) setStatus(ctx context.Context, id string, st agent.Status) {
	now := s.repo.Now()
	a, err := s.repo.MutateAgent(ctx, id, func(a *agent.Agent) error {
		a.Status = st
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		slog.Warn("failed to update agent status", "agent_id", id, "status", st, "error", err)
		return
	}
	s.events.agentStatus(ctx, a)
}
