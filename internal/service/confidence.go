package service

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
)

// Evaluation is the outcome of checking a sector's discussion trigger.
type Evaluation struct {
	SectorID   string                 `json:"sector_id"`
	Ready      bool                   `json:"ready"`
	Threshold  float64                `json:"threshold"`
	Workers    int                    `json:"workers"`
	Qualified  int                    `json:"qualified"`
	Created    bool                   `json:"created"`
	Discussion *discussion.Discussion `json:"discussion,omitempty"`
}

// TriggerService opens a discussion once every worker of a sector is
// confident enough.
type TriggerService struct {
	repo        *Repository
	discussions *DiscussionService
}

// NewTriggerService creates a new TriggerService.
func NewTriggerService(repo *Repository, discussions *DiscussionService) *TriggerService {
	return &TriggerService{repo: repo, discussions: discussions}
}

// ready reports whether every worker meets the threshold. A sector with no
// workers is never ready.
func ready(workers []agent.Agent, threshold float64) (bool, int) {
	qualified := 0
	for i := range workers {
		if workers[i].Confidence >= threshold {
			qualified++
		}
	}
	return len(workers) > 0 && qualified == len(workers), qualified
}

func workersOf(agents []agent.Agent) []agent.Agent {
	out := make([]agent.Agent, 0, len(agents))
	for i := range agents {
		if !agents[i].IsManager() {
			out = append(out, agents[i])
		}
	}
	return out
}

// EvaluateSector checks the trigger and, when it fires and the sector has no
// active discussion, opens one with the workers as participants. Confidence
// is left untouched.
func (s *TriggerService) EvaluateSector(ctx context.Context, sectorID string) (*Evaluation, error) {
	sec, err := s.repo.Sector(ctx, sectorID)
	if err != nil {
		return nil, err
	}
	agents, err := s.repo.SectorAgents(ctx, sec)
	if err != nil {
		return nil, err
	}
	workers := workersOf(agents)
	ok, qualified := ready(workers, sec.ConfidenceThreshold)
	ev := &Evaluation{
		SectorID:  sec.ID,
		Ready:     ok,
		Threshold: sec.ConfidenceThreshold,
		Workers:   len(workers),
		Qualified: qualified,
	}
	if !ok {
		return ev, nil
	}

	ids := make([]string, len(workers))
	for i := range workers {
		ids[i] = workers[i].ID
	}
	d, holder, err := s.discussions.open(ctx, sec, "", ids)
	if err != nil {
		return nil, err
	}
	if holder != "" {
		// The holder may have claimed the slot without storing its discussion yet.
		existing, err := s.repo.Discussion(ctx, holder)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		ev.Discussion = existing
		return ev, nil
	}
	slog.Info("discussion triggered", "sector_id", sec.ID, "discussion_id", d.ID, "threshold", sec.ConfidenceThreshold)
	ev.Created = true
	ev.Discussion = d
	return ev, nil
}

// EvaluateAll runs EvaluateSector for every sector in parallel. Failures are
// logged and the sector is left out of the result.
func (s *TriggerService) EvaluateAll(ctx context.Context) []Evaluation {
	sectors, err := s.repo.Sectors(ctx)
	if err != nil {
		slog.Error("list sectors for evaluation", "error", err)
		return nil
	}
	evs := make([]*Evaluation, len(sectors))
	g, gctx := errgroup.WithContext(ctx)
	for i := range sectors {
		g.Go(func() error {
			ev, err := s.EvaluateSector(gctx, sectors[i].ID)
			if err != nil {
				slog.Error("evaluate sector", "sector_id", sectors[i].ID, "error", err)
				return nil
			}
			evs[i] = ev
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Evaluation, 0, len(sectors))
	for _, ev := range evs {
		if ev != nil {
			out = append(out, *ev)
		}
	}
	return out
}
