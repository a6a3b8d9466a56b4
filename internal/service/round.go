package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/SectorDesk/internal/adapter/otel"
	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/proposal"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
	"github.com/Strob0t/SectorDesk/internal/logger"
	"github.com/Strob0t/SectorDesk/internal/port/proposer"
)

const maxParallelProposals = 8

// AdvanceRounds runs up to count rounds, stopping early once the discussion
// leaves IN_PROGRESS.
func (s *DiscussionService) AdvanceRounds(ctx context.Context, id string, count int) (*discussion.Discussion, error) {
	if count < 1 {
		return nil, fmt.Errorf("count must be >= 1: %w", domain.ErrValidation)
	}
	var d *discussion.Discussion
	for i := 0; i < count; i++ {
		next, err := s.runRound(ctx, id)
		if err != nil {
			return nil, err
		}
		d = next
		if d.Status != discussion.StatusInProgress {
			break
		}
	}
	return d, nil
}

// AdvanceActive advances every IN_PROGRESS discussion by count rounds, in
// parallel across sectors. It returns how many discussions advanced.
func (s *DiscussionService) AdvanceActive(ctx context.Context, count int) int {
	list, err := s.repo.Discussions(ctx, discussion.ListFilter{Status: discussion.StatusInProgress})
	if err != nil {
		slog.Error("list active discussions", "error", err)
		return 0
	}

	advanced := make([]bool, len(list))
	var g errgroup.Group
	g.SetLimit(maxParallelProposals)
	for i := range list {
		g.Go(func() error {
			if _, err := s.AdvanceRounds(ctx, list[i].ID, count); err != nil {
				slog.Error("advance discussion", "discussion_id", list[i].ID, "sector_id", list[i].SectorID, "error", err)
				return nil
			}
			advanced[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range advanced {
		if ok {
			n++
		}
	}
	return n
}

func (s *DiscussionService) runRound(ctx context.Context, id string) (*discussion.Discussion, error) {
	d, err := s.repo.Discussion(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != discussion.StatusInProgress {
		return nil, fmt.Errorf("discussion %s is %s: %w", d.ID, d.Status, domain.ErrInvalidTransition)
	}
	sec, err := s.repo.Sector(ctx, d.SectorID)
	if err != nil {
		return nil, err
	}

	round := d.CurrentRound + 1
	ctx = logger.WithDiscussionID(logger.WithSectorID(ctx, sec.ID), d.ID)
	ctx, span := otel.StartRoundSpan(ctx, d.ID, sec.ID, round)
	defer span.End()

	participants := make([]agent.Agent, 0, len(d.ParticipantIDs))
	for _, pid := range d.ParticipantIDs {
		a, err := s.repo.Agent(ctx, pid)
		if errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "participant missing, skipping", "agent_id", pid)
			continue
		}
		if err != nil {
			return nil, err
		}
		participants = append(participants, *a)
	}

	results := make([]proposal.Proposal, len(participants))
	var g errgroup.Group
	g.SetLimit(maxParallelProposals)
	for i := range participants {
		g.Go(func() error {
			s.agents.setStatus(ctx, participants[i].ID, agent.StatusProcessing)
			results[i] = s.propose(ctx, sec, d, &participants[i], round)
			return nil
		})
	}
	_ = g.Wait()

	now := s.repo.Now()
	var msgs []discussion.Message
	updated, err := s.repo.MutateDiscussion(ctx, d.ID, func(cur *discussion.Discussion) error {
		if cur.Status != discussion.StatusInProgress || cur.CurrentRound != d.CurrentRound {
			return fmt.Errorf("discussion %s changed during round %d: %w", cur.ID, round, domain.ErrConflict)
		}
		cur.AdvanceRound(now)
		msgs = msgs[:0]
		for i := range participants {
			applyProposal(cur, participants[i].ID, results[i], s.cfg.MaxRevisions, now)
			msgs = append(msgs, appendMessage(cur, participants[i].ID, summarize(results[i]), now))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range participants {
		p := results[i]
		a, err := s.repo.MutateAgent(ctx, participants[i].ID, func(a *agent.Agent) error {
			a.LastAction = p.Order.Action()
			a.LastConfidence = p.Confidence
			a.Status = agent.StatusActive
			a.UpdatedAt = now
			return nil
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to record stated action", "agent_id", participants[i].ID, "error", err)
			continue
		}
		s.events.agentStatus(ctx, a)
	}
	for i := range msgs {
		s.events.discussionMessage(ctx, updated, &msgs[i])
	}
	s.metrics.RecordRound(ctx, sec.ID)
	slog.InfoContext(ctx, "round completed", "round", updated.CurrentRound, "items", len(updated.Checklist))

	if err := s.managers.ReviewPending(ctx, d.ID); err != nil {
		return nil, err
	}
	return s.finishRound(ctx, d.ID)
}

// applyProposal turns the participant's proposal into exactly one item for
// the round: a revision of its REVISE_REQUIRED item when it has one, a new
// PENDING item otherwise. A revision past the cap closes the old item and
// the proposal becomes a new item.
func applyProposal(d *discussion.Discussion, agentID string, p proposal.Proposal, maxRevisions int, now time.Time) {
	content := p.Content()
	if it := d.OpenItemFor(agentID); it != nil {
		ok, err := it.Revise(content, d.CurrentRound, maxRevisions, now)
		if err == nil && ok {
			it.Fallback = p.Fallback
			return
		}
	}
	d.Checklist = append(d.Checklist, discussion.NewItem(uuid.NewString(), agentID, d.CurrentRound, content, p.Fallback, now))
}

// finishRound settles the discussion once the last round ran or nothing is
// left to review or revise.
func (s *DiscussionService) finishRound(ctx context.Context, id string) (*discussion.Discussion, error) {
	now := s.repo.Now()
	finalized := false
	d, err := s.repo.MutateDiscussion(ctx, id, func(d *discussion.Discussion) error {
		finalized = false
		if d.Status != discussion.StatusInProgress {
			return nil
		}
		if d.CurrentRound < d.MaxRounds && d.NeedsMoreRounds() {
			return nil
		}
		finalized = true
		return d.Finalize(now)
	})
	if err != nil {
		return nil, err
	}
	if finalized {
		s.settled(ctx, d)
	}
	return d, nil
}

// propose asks the source for one agent's proposal. It never fails: any
// error degrades to the fallback HOLD.
func (s *DiscussionService) propose(ctx context.Context, sec *sector.Sector, d *discussion.Discussion, a *agent.Agent, round int) proposal.Proposal {
	ctx, span := otel.StartProposalSpan(ctx, a.ID)
	defer span.End()
	start := time.Now()

	p := s.callSource(ctx, sec, d, a, round)
	s.metrics.RecordProposal(ctx, time.Since(start).Seconds(), p.Fallback)
	if p.Fallback {
		slog.WarnContext(ctx, "proposal fell back to HOLD", "agent_id", a.ID, "reason", p.Reasoning)
	}
	return p
}

func (s *DiscussionService) callSource(ctx context.Context, sec *sector.Sector, d *discussion.Discussion, a *agent.Agent, round int) proposal.Proposal {
	prompt, err := renderProposalPrompt(sec, d, a, round)
	if err != nil {
		return proposal.Fallback(err.Error())
	}
	if s.propCfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.propCfg.Timeout)
		defer cancel()
	}
	raw, err := s.source.Complete(ctx, proposer.Request{
		Model:       s.propCfg.Model,
		System:      proposalSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   s.propCfg.MaxTokens,
		Temperature: s.propCfg.Temperature,
	})
	if err != nil {
		return proposal.Fallback(err.Error())
	}
	return proposal.Parse(raw, proposal.Context{
		Balance:             sec.Balance,
		Position:            sec.Position,
		LastConfidence:      a.LastConfidence,
		ConfidenceIncrement: s.cfg.ConfidenceIncrement,
		Personality:         a.Personality,
	})
}

// summarize renders a proposal as a discussion message.
func summarize(p proposal.Proposal) string {
	var head string
	switch o := p.Order.(type) {
	case proposal.Buy:
		head = fmt.Sprintf("BUY %s", o.Amount.StringFixed(2))
	case proposal.Sell:
		head = fmt.Sprintf("SELL %s", o.Amount.StringFixed(2))
	case proposal.Rebalance:
		head = fmt.Sprintf("REBALANCE to %.0f%% position", p.AllocationPercent)
	default:
		head = string(trade.ActionHold)
	}
	return fmt.Sprintf("%s (confidence %.0f): %s", head, p.Confidence, truncate(p.Reasoning, 280))
}
