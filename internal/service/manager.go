package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/SectorDesk/internal/adapter/otel"
	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/execution"
	"github.com/Strob0t/SectorDesk/internal/domain/manager"
	"github.com/Strob0t/SectorDesk/internal/domain/proposal"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/port/broadcast"
	"github.com/Strob0t/SectorDesk/internal/port/ledger"
	"github.com/Strob0t/SectorDesk/internal/port/messagequeue"
	"github.com/Strob0t/SectorDesk/internal/port/proposer"
)

const defaultDecisionLimit = 50

// ManagerStatus is the manager's view of its sector.
type ManagerStatus struct {
	Manager            agent.Agent       `json:"manager"`
	SectorID           string            `json:"sector_id"`
	ActiveDiscussionID string            `json:"active_discussion_id,omitempty"`
	PendingReview      int               `json:"pending_review"`
	AwaitingExecution  int               `json:"awaiting_execution"`
	Executed           int               `json:"executed"`
	DecisionCount      int               `json:"decision_count"`
	LastDecision       *manager.Decision `json:"last_decision,omitempty"`
}

// verdict is a review outcome computed outside the discussion update.
type verdict struct {
	itemID    string
	status    discussion.ItemStatus
	revisions int
	review    discussion.Review
	record    discussion.ReviewRecord
}

// ManagerService runs the manager's item reviews and signal votes.
type ManagerService struct {
	repo     *Repository
	events   *Events
	source   proposer.Source
	executor *ExecutionService
	cfg      config.Manager
	propCfg  config.Proposer
	metrics  *otel.Metrics
}

// NewManagerService creates a new ManagerService. metrics may be nil.
func NewManagerService(
	repo *Repository,
	events *Events,
	source proposer.Source,
	executor *ExecutionService,
	cfg config.Manager,
	propCfg config.Proposer,
	metrics *otel.Metrics,
) *ManagerService {
	return &ManagerService{
		repo:     repo,
		events:   events,
		source:   source,
		executor: executor,
		cfg:      cfg,
		propCfg:  propCfg,
		metrics:  metrics,
	}
}

// ReviewPending rules on every PENDING or RESUBMITTED item of the discussion.
// Items at or above the sector threshold are approved outright; the rest go
// to the decision source. Approved BUY/SELL amounts are capped to what the
// sector can cover.
func (s *ManagerService) ReviewPending(ctx context.Context, discussionID string) error {
	d, err := s.repo.Discussion(ctx, discussionID)
	if err != nil {
		return err
	}
	sec, err := s.repo.Sector(ctx, d.SectorID)
	if err != nil {
		return err
	}

	var verdicts []verdict
	for i := range d.Checklist {
		it := &d.Checklist[i]
		if !it.Status.AwaitsReview() {
			continue
		}
		verdicts = append(verdicts, s.review(ctx, sec, d, it))
	}
	if len(verdicts) == 0 {
		return nil
	}

	now := s.repo.Now()
	_, err = s.repo.MutateDiscussion(ctx, discussionID, func(d *discussion.Discussion) error {
		for _, v := range verdicts {
			it, err := d.Item(v.itemID)
			if err != nil {
				return err
			}
			// Skip items that moved on while the decision source was consulted.
			if !it.Status.AwaitsReview() || it.RevisionCount != v.revisions {
				continue
			}
			if err := it.Transition(v.status, now); err != nil {
				return err
			}
			review := v.review
			it.Review = &review
			if v.status == discussion.ItemApproved && review.Checks.CappedAmount != nil {
				it.Amount = *review.Checks.CappedAmount
			}
			rec := v.record
			rec.CreatedAt = now
			d.Decisions = append(d.Decisions, rec)
		}
		d.UpdatedAt = now
		return nil
	})
	return err
}

func (s *ManagerService) review(ctx context.Context, sec *sector.Sector, d *discussion.Discussion, it *discussion.ChecklistItem) verdict {
	r := manager.Review(manager.ReviewInput{
		Content:          it.Content,
		Threshold:        sec.ConfidenceThreshold,
		RiskCeiling:      sec.RiskCeiling,
		WeakReasoningLen: s.cfg.WeakReasoningLen,
		Balance:          sec.Balance,
		Position:         sec.Position,
	})
	v := verdict{
		itemID:    it.ID,
		revisions: it.RevisionCount,
		review:    r,
		record: discussion.ReviewRecord{
			ItemID:            it.ID,
			ManagerID:         d.ManagerID,
			Round:             d.CurrentRound,
			AutoApproved:      r.AutoApproved,
			AllocationPercent: it.AllocationPercent,
			Confidence:        it.Confidence,
		},
	}

	dec := proposal.Decision{}
	if r.NeedsManagerReview {
		dec = s.decide(ctx, sec, it, r)
		v.record.AllocationPercent = dec.AllocationPercent
		v.record.Confidence = dec.Confidence
	}
	ok, reason := manager.Approves(r, dec)
	v.record.Approved = ok
	v.record.Reason = reason
	v.review.Reason = reason
	if ok {
		v.status = discussion.ItemApproved
	} else {
		v.status = discussion.ItemRevisionRequired
	}
	return v
}

// decide consults the decision source. Any failure yields the fallback decision.
func (s *ManagerService) decide(ctx context.Context, sec *sector.Sector, it *discussion.ChecklistItem, r discussion.Review) proposal.Decision {
	prompt, err := renderDecisionPrompt(sec, it, r)
	if err != nil {
		slog.WarnContext(ctx, "decision prompt failed", "item_id", it.ID, "error", err)
		return proposal.FallbackDecision()
	}
	if s.propCfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.propCfg.Timeout)
		defer cancel()
	}
	model := s.propCfg.ManagerModel
	if model == "" {
		model = s.propCfg.Model
	}
	raw, err := s.source.Complete(ctx, proposer.Request{
		Model:       model,
		System:      decisionSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   s.propCfg.MaxTokens,
		Temperature: s.propCfg.Temperature,
	})
	if err != nil {
		slog.WarnContext(ctx, "decision source failed", "item_id", it.ID, "error", err)
		return proposal.FallbackDecision()
	}
	return proposal.ParseDecision(raw)
}

// managerOf loads a manager agent and its sector.
func (s *ManagerService) managerOf(ctx context.Context, managerID string) (*agent.Agent, *sector.Sector, error) {
	m, err := s.repo.Agent(ctx, managerID)
	if err != nil {
		return nil, nil, err
	}
	if !m.IsManager() {
		return nil, nil, fmt.Errorf("agent %s is not a manager: %w", managerID, domain.ErrNotFound)
	}
	sec, err := s.repo.Sector(ctx, m.SectorID)
	if err != nil {
		return nil, nil, err
	}
	return m, sec, nil
}

// Vote tallies the latest stated actions of the sector's workers and appends
// the result to the manager's advisory decision log. It never touches a
// checklist or the sector portfolio.
func (s *ManagerService) Vote(ctx context.Context, sectorID string) (*manager.Decision, error) {
	ctx, span := otel.StartManagerTickSpan(ctx, sectorID)
	defer span.End()

	sec, err := s.repo.Sector(ctx, sectorID)
	if err != nil {
		return nil, err
	}
	if sec.ManagerID == "" {
		return nil, fmt.Errorf("sector %s has no manager: %w", sectorID, domain.ErrValidation)
	}
	agents, err := s.repo.SectorAgents(ctx, sec)
	if err != nil {
		return nil, err
	}
	var signals []manager.Signal
	for _, a := range workersOf(agents) {
		if a.LastAction == "" {
			continue
		}
		signals = append(signals, manager.Signal{AgentID: a.ID, Action: a.LastAction, Confidence: a.LastConfidence / 100})
	}

	now := s.repo.Now()
	dec := manager.Decision{
		ID:         uuid.NewString(),
		ManagerID:  sec.ManagerID,
		SectorID:   sec.ID,
		VoteResult: manager.Vote(signals, now),
	}
	if err := s.appendDecision(ctx, dec); err != nil {
		return nil, err
	}

	s.metrics.RecordDecision(ctx, sec.ID, string(dec.Action), dec.ConflictScore)
	s.events.emit(ctx, messagequeue.SubjectManagerDecision, sec.ID, broadcast.EventManagerDecision,
		messagequeue.ManagerDecisionPayload{
			DecisionID:    dec.ID,
			ManagerID:     dec.ManagerID,
			SectorID:      dec.SectorID,
			Action:        string(dec.Action),
			Confidence:    dec.Confidence,
			ConflictScore: dec.ConflictScore,
		})
	s.events.record(ctx, ledger.KindDecision, dec.ID, sec.ID, dec, now)
	return &dec, nil
}

func (s *ManagerService) appendDecision(ctx context.Context, dec manager.Decision) error {
	key := decisionsKey(dec.ManagerID)
	retention := s.cfg.DecisionRetention
	return s.repo.Store().Update(ctx, key, func(cur []byte, exists bool) ([]byte, error) {
		var log []manager.Decision
		if exists {
			if err := json.Unmarshal(cur, &log); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
		log = append(log, dec)
		if retention > 0 && len(log) > retention {
			log = log[len(log)-retention:]
		}
		return json.Marshal(log)
	})
}

// VoteAll runs a vote for every sector with a manager, in parallel.
func (s *ManagerService) VoteAll(ctx context.Context) int {
	sectors, err := s.repo.Sectors(ctx)
	if err != nil {
		slog.Error("list sectors for vote", "error", err)
		return 0
	}
	voted := make([]bool, len(sectors))
	g, gctx := errgroup.WithContext(ctx)
	for i := range sectors {
		if sectors[i].ManagerID == "" {
			continue
		}
		g.Go(func() error {
			if _, err := s.Vote(gctx, sectors[i].ID); err != nil {
				slog.Error("manager vote", "sector_id", sectors[i].ID, "error", err)
				return nil
			}
			voted[i] = true
			return nil
		})
	}
	_ = g.Wait()
	n := 0
	for _, ok := range voted {
		if ok {
			n++
		}
	}
	return n
}

// Decisions returns the manager's advisory log, newest first.
func (s *ManagerService) Decisions(ctx context.Context, managerID string, limit int) ([]manager.Decision, error) {
	if _, _, err := s.managerOf(ctx, managerID); err != nil {
		return nil, err
	}
	log, err := s.decisionLog(ctx, managerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultDecisionLimit
	}
	out := make([]manager.Decision, 0, min(limit, len(log)))
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, log[i])
	}
	return out, nil
}

func (s *ManagerService) decisionLog(ctx context.Context, managerID string) ([]manager.Decision, error) {
	log, err := load[[]manager.Decision](ctx, s.repo.Store(), decisionsKey(managerID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return *log, nil
}

// Status summarizes the manager's sector and its open work.
func (s *ManagerService) Status(ctx context.Context, managerID string) (*ManagerStatus, error) {
	m, sec, err := s.managerOf(ctx, managerID)
	if err != nil {
		return nil, err
	}
	st := &ManagerStatus{Manager: *m, SectorID: sec.ID}

	discussions, err := s.repo.Discussions(ctx, discussion.ListFilter{SectorID: sec.ID})
	if err != nil {
		return nil, err
	}
	for i := range discussions {
		d := &discussions[i]
		if !d.Status.IsTerminal() {
			st.ActiveDiscussionID = d.ID
		}
		for j := range d.Checklist {
			switch d.Checklist[j].Status {
			case discussion.ItemPending, discussion.ItemResubmitted:
				st.PendingReview++
			case discussion.ItemApproved:
				st.AwaitingExecution++
			case discussion.ItemExecuted:
				st.Executed++
			}
		}
	}

	log, err := s.decisionLog(ctx, managerID)
	if err != nil {
		return nil, err
	}
	st.DecisionCount = len(log)
	if n := len(log); n > 0 {
		last := log[n-1]
		st.LastDecision = &last
	}
	return st, nil
}

// ExecuteAll executes every APPROVED item of the manager's sector.
func (s *ManagerService) ExecuteAll(ctx context.Context, managerID string) ([]execution.Result, error) {
	_, sec, err := s.managerOf(ctx, managerID)
	if err != nil {
		return nil, err
	}
	discussions, err := s.repo.Discussions(ctx, discussion.ListFilter{SectorID: sec.ID})
	if err != nil {
		return nil, err
	}
	results := []execution.Result{}
	for i := range discussions {
		d := &discussions[i]
		if d.Status != discussion.StatusInProgress && d.Status != discussion.StatusAwaitingExecution {
			continue
		}
		for j := range d.Checklist {
			if d.Checklist[j].Status != discussion.ItemApproved {
				continue
			}
			res, err := s.executor.Execute(ctx, d.ID, d.Checklist[j].ID)
			if err != nil {
				return results, err
			}
			results = append(results, *res)
		}
	}
	return results, nil
}
