package manager

import (
	"fmt"
	"time"

	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

// Signal is one agent's stated action and confidence.
type Signal struct {
	AgentID    string       `json:"agent_id"`
	Action     trade.Action `json:"action"`
	Confidence float64      `json:"confidence"`
}

// VoteResult is the advisory outcome of a signal vote.
type VoteResult struct {
	Action        trade.Action         `json:"action"`
	Confidence    float64              `json:"confidence"`
	Reason        string               `json:"reason"`
	VoteBreakdown map[trade.Action]int `json:"vote_breakdown"`
	ConflictScore float64              `json:"conflict_score"`
	Timestamp     time.Time            `json:"timestamp"`
}

// Decision is one entry of a manager's advisory decision log.
type Decision struct {
	ID        string `json:"id"`
	ManagerID string `json:"manager_id"`
	SectorID  string `json:"sector_id"`
	VoteResult
}

// Vote tallies signals per action. Most votes wins; ties go to the higher
// summed confidence, then to the earlier action in trade.Actions.
// Signals with an unknown action are ignored.
func Vote(signals []Signal, now time.Time) VoteResult {
	breakdown := map[trade.Action]int{trade.ActionBuy: 0, trade.ActionSell: 0, trade.ActionHold: 0}
	sums := make(map[trade.Action]float64, len(trade.Actions))
	total := 0
	for _, s := range signals {
		if !s.Action.Valid() {
			continue
		}
		breakdown[s.Action]++
		sums[s.Action] += s.Confidence
		total++
	}

	if total == 0 {
		return VoteResult{
			Action:        trade.ActionHold,
			Reason:        "no signals to vote on",
			VoteBreakdown: breakdown,
			Timestamp:     now,
		}
	}

	winner := trade.ActionHold
	best, bestSum := -1, 0.0
	for _, a := range trade.Actions {
		n := breakdown[a]
		if n == 0 {
			continue
		}
		if n > best || (n == best && sums[a] > bestSum) {
			winner, best, bestSum = a, n, sums[a]
		}
	}

	return VoteResult{
		Action:        winner,
		Confidence:    bestSum / float64(best),
		Reason:        fmt.Sprintf("%s won %d of %d votes", winner, best, total),
		VoteBreakdown: breakdown,
		ConflictScore: 1 - float64(best)/float64(total),
		Timestamp:     now,
	}
}
