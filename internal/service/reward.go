package service

import (
	"context"
	"log/slog"

	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

// Reward points granted per executed item.
const (
	rewardProposer = 2
	rewardAgree    = 1
	rewardManager  = 1
	penaltyOppose  = 1
)

// computeRewards returns the signed point change per agent for an executed
// action. Negative values are penalties. Participants with no stated action,
// or a neutral one, get nothing.
func computeRewards(proposerID, managerID string, action trade.Action, participants []agent.Agent) map[string]int {
	out := map[string]int{proposerID: rewardProposer}
	for i := range participants {
		a := &participants[i]
		if a.ID == proposerID || a.ID == managerID || a.LastAction == "" {
			continue
		}
		switch {
		case a.LastAction == action:
			out[a.ID] = rewardAgree
		case action.Opposes(a.LastAction):
			out[a.ID] = -penaltyOppose
		}
	}
	if managerID != "" && managerID != proposerID {
		out[managerID] += rewardManager
	}
	return out
}

// confidenceSnapshot captures each participant's current confidence.
func confidenceSnapshot(participants []agent.Agent) map[string]float64 {
	out := make(map[string]float64, len(participants))
	for i := range participants {
		out[participants[i].ID] = participants[i].Confidence
	}
	return out
}

// applyRewards credits rewards and records penalties. Failures are logged;
// the execution they belong to has already committed.
func (s *ExecutionService) applyRewards(ctx context.Context, rewards map[string]int) {
	now := s.repo.Now()
	for id, pts := range rewards {
		a, err := s.repo.MutateAgent(ctx, id, func(a *agent.Agent) error {
			if pts >= 0 {
				a.Reward(pts)
			} else {
				a.Penalize(-pts)
			}
			a.UpdatedAt = now
			return nil
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to apply reward", "agent_id", id, "points", pts, "error", err)
			continue
		}
		s.events.agentStatus(ctx, a)
	}
}
