package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/SectorDesk/internal/adapter/otel"
	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/proposal"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/port/proposer"
)

const maxMessageLen = 4000

// MessageRequest is a message posted to a discussion.
type MessageRequest struct {
	AgentID string `json:"agent_id"`
	Content string `json:"content"`
}

// claimGrace is how long a claim may point at a discussion that has not been
// written yet. open claims the slot before storing the discussion.
const claimGrace = time.Minute

// activeClaim is the document that reserves a sector's single active discussion.
type activeClaim struct {
	DiscussionID string    `json:"discussion_id"`
	ClaimedAt    time.Time `json:"claimed_at"`
}

// DiscussionService runs discussion lifecycles and their checklists.
type DiscussionService struct {
	repo     *Repository
	events   *Events
	agents   *AgentService
	managers *ManagerService
	source   proposer.Source
	cfg      config.Discussion
	propCfg  config.Proposer
	metrics  *otel.Metrics
}

// NewDiscussionService creates a new DiscussionService. metrics may be nil.
func NewDiscussionService(
	repo *Repository,
	events *Events,
	agents *AgentService,
	managers *ManagerService,
	source proposer.Source,
	cfg config.Discussion,
	propCfg config.Proposer,
	metrics *otel.Metrics,
) *DiscussionService {
	return &DiscussionService{
		repo:     repo,
		events:   events,
		agents:   agents,
		managers: managers,
		source:   source,
		cfg:      cfg,
		propCfg:  propCfg,
		metrics:  metrics,
	}
}

// Create opens a discussion explicitly. Without participant ids every worker
// of the sector takes part. It fails with ErrConflict while another
// discussion of the sector is active.
func (s *DiscussionService) Create(ctx context.Context, req discussion.CreateRequest) (*discussion.Discussion, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sec, err := s.repo.Sector(ctx, req.SectorID)
	if err != nil {
		return nil, err
	}
	agents, err := s.repo.SectorAgents(ctx, sec)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*agent.Agent, len(agents))
	for i := range agents {
		byID[agents[i].ID] = &agents[i]
	}
	participants := req.ParticipantIDs
	if len(participants) == 0 {
		for i := range agents {
			if !agents[i].IsManager() {
				participants = append(participants, agents[i].ID)
			}
		}
	}
	for _, id := range participants {
		a, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("agent %s is not in sector %s: %w", id, sec.ID, domain.ErrValidation)
		}
		if a.IsManager() {
			return nil, fmt.Errorf("manager %s cannot be a participant: %w", id, domain.ErrValidation)
		}
	}

	d, holder, err := s.open(ctx, sec, req.Title, participants)
	if err != nil {
		return nil, err
	}
	if holder != "" {
		return nil, fmt.Errorf("sector %s already has active discussion %s: %w", sec.ID, holder, domain.ErrConflict)
	}
	return d, nil
}

// open claims the sector's active slot and stores a new IN_PROGRESS
// discussion. When another discussion holds the slot its id is returned
// instead and nothing is written.
func (s *DiscussionService) open(ctx context.Context, sec *sector.Sector, title string, participants []string) (*discussion.Discussion, string, error) {
	id := uuid.NewString()
	holder, err := s.claim(ctx, sec.ID, id)
	if err != nil || holder != "" {
		return nil, holder, err
	}

	now := s.repo.Now()
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("%s discussion %s", sec.Name, now.Format("2006-01-02 15:04"))
	}
	d := &discussion.Discussion{
		ID:             id,
		SectorID:       sec.ID,
		Title:          title,
		ParticipantIDs: append([]string{}, participants...),
		ManagerID:      sec.ManagerID,
		Status:         discussion.StatusCreated,
		MaxRounds:      s.cfg.MaxRounds,
		Messages:       []discussion.Message{},
		Checklist:      []discussion.ChecklistItem{},
		Decisions:      []discussion.ReviewRecord{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.Transition(discussion.StatusInProgress, now); err != nil {
		s.release(ctx, sec.ID, id)
		return nil, "", err
	}
	if err := s.repo.CreateDiscussion(ctx, d); err != nil {
		s.release(ctx, sec.ID, id)
		return nil, "", fmt.Errorf("create discussion: %w", err)
	}

	slog.Info("discussion opened", "discussion_id", d.ID, "sector_id", sec.ID, "participants", len(participants))
	s.events.discussionStatus(ctx, d)
	return d, "", nil
}

// claim reserves the sector's active slot for id. It returns the id of the
// discussion already holding the slot, or "" when the claim succeeded.
// A slot held by a terminal discussion, or by one still missing after
// claimGrace, is reclaimed.
func (s *DiscussionService) claim(ctx context.Context, sectorID, id string) (string, error) {
	if stale, err := s.staleHolder(ctx, sectorID); err != nil {
		return "", err
	} else if stale != "" {
		s.release(ctx, sectorID, stale)
	}

	var holder string
	now := s.repo.Now()
	err := s.repo.Store().Update(ctx, activeKey(sectorID), func(cur []byte, exists bool) ([]byte, error) {
		if exists {
			var c activeClaim
			if err := json.Unmarshal(cur, &c); err != nil {
				return nil, fmt.Errorf("decode active claim: %w", err)
			}
			holder = c.DiscussionID
			return cur, nil
		}
		return json.Marshal(activeClaim{DiscussionID: id, ClaimedAt: now})
	})
	if err != nil {
		return "", fmt.Errorf("claim active discussion: %w", err)
	}
	return holder, nil
}

// staleHolder returns the id holding the sector's slot if that discussion no
// longer needs it.
func (s *DiscussionService) staleHolder(ctx context.Context, sectorID string) (string, error) {
	c, err := load[activeClaim](ctx, s.repo.Store(), activeKey(sectorID))
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	d, err := s.repo.Discussion(ctx, c.DiscussionID)
	if errors.Is(err, domain.ErrNotFound) {
		if s.repo.Now().Sub(c.ClaimedAt) < claimGrace {
			return "", nil
		}
		return c.DiscussionID, nil
	}
	if err != nil {
		return "", err
	}
	if d.Status.IsTerminal() {
		return c.DiscussionID, nil
	}
	return "", nil
}

// release frees the sector's slot if it is still held by id.
func (s *DiscussionService) release(ctx context.Context, sectorID, id string) {
	s.repo.ReleaseActive(ctx, sectorID, id)
}

// ActiveFor returns the id of the sector's active discussion, or "".
func (s *DiscussionService) ActiveFor(ctx context.Context, sectorID string) (string, error) {
	c, err := load[activeClaim](ctx, s.repo.Store(), activeKey(sectorID))
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.DiscussionID, nil
}

// settled releases the slot and broadcasts the new status after a change.
func (s *DiscussionService) settled(ctx context.Context, d *discussion.Discussion) {
	settle(ctx, s.repo, s.events, d)
}

// settle frees a terminal discussion's sector slot and broadcasts its status.
func settle(ctx context.Context, repo *Repository, events *Events, d *discussion.Discussion) {
	if d.Status.IsTerminal() {
		repo.ReleaseActive(ctx, d.SectorID, d.ID)
		slog.Info("discussion closed", "discussion_id", d.ID, "sector_id", d.SectorID, "status", d.Status)
	}
	events.discussionStatus(ctx, d)
}

// Get returns a discussion by id.
func (s *DiscussionService) Get(ctx context.Context, id string) (*discussion.Discussion, error) {
	return s.repo.Discussion(ctx, id)
}

// List returns discussions matching the filter.
func (s *DiscussionService) List(ctx context.Context, f discussion.ListFilter) ([]discussion.Discussion, error) {
	return s.repo.Discussions(ctx, f)
}

// Checklist returns the discussion's checklist items.
func (s *DiscussionService) Checklist(ctx context.Context, id string) ([]discussion.ChecklistItem, error) {
	d, err := s.repo.Discussion(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Checklist, nil
}

// AddMessage appends a message from a participant or the manager.
func (s *DiscussionService) AddMessage(ctx context.Context, id string, req MessageRequest) (*discussion.Message, error) {
	content := strings.TrimSpace(sanitizePromptInput(req.Content))
	if content == "" {
		return nil, fmt.Errorf("content is required: %w", domain.ErrValidation)
	}
	if len(content) > maxMessageLen {
		return nil, fmt.Errorf("content exceeds %d bytes: %w", maxMessageLen, domain.ErrValidation)
	}

	var msg discussion.Message
	now := s.repo.Now()
	d, err := s.repo.MutateDiscussion(ctx, id, func(d *discussion.Discussion) error {
		if d.Status.IsTerminal() {
			return fmt.Errorf("discussion %s is %s: %w", d.ID, d.Status, domain.ErrInvalidTransition)
		}
		if !d.IsParticipant(req.AgentID) && req.AgentID != d.ManagerID {
			return fmt.Errorf("agent %q does not take part in discussion %s: %w", req.AgentID, d.ID, domain.ErrValidation)
		}
		msg = appendMessage(d, req.AgentID, content, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.events.discussionMessage(ctx, d, &msg)
	return &msg, nil
}

func appendMessage(d *discussion.Discussion, agentID, content string, now time.Time) discussion.Message {
	m := discussion.Message{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Content:   content,
		Round:     d.CurrentRound,
		CreatedAt: now,
	}
	d.Messages = append(d.Messages, m)
	d.UpdatedAt = now
	return m
}

// Close ends the round phase now and settles the discussion's outcome.
func (s *DiscussionService) Close(ctx context.Context, id string) (*discussion.Discussion, error) {
	now := s.repo.Now()
	d, err := s.repo.MutateDiscussion(ctx, id, func(d *discussion.Discussion) error {
		if d.Status == discussion.StatusCreated {
			if err := d.Transition(discussion.StatusInProgress, now); err != nil {
				return err
			}
		}
		if d.Status != discussion.StatusInProgress {
			return fmt.Errorf("discussion %s is %s, not in progress: %w", d.ID, d.Status, domain.ErrInvalidTransition)
		}
		return d.Finalize(now)
	})
	if err != nil {
		return nil, err
	}
	s.settled(ctx, d)
	return d, nil
}

// Archive moves a non-terminal discussion to ARCHIVED.
func (s *DiscussionService) Archive(ctx context.Context, id string) (*discussion.Discussion, error) {
	now := s.repo.Now()
	d, err := s.repo.MutateDiscussion(ctx, id, func(d *discussion.Discussion) error {
		return d.Transition(discussion.StatusArchived, now)
	})
	if err != nil {
		return nil, err
	}
	s.settled(ctx, d)
	return d, nil
}

// --- checklist item operations ---

// AcceptItem approves an item awaiting review.
func (s *DiscussionService) AcceptItem(ctx context.Context, discussionID, itemID string) (*discussion.ChecklistItem, error) {
	return s.updateItem(ctx, discussionID, itemID, func(d *discussion.Discussion, it *discussion.ChecklistItem, now time.Time) error {
		if err := it.Transition(discussion.ItemApproved, now); err != nil {
			return err
		}
		d.Decisions = append(d.Decisions, discussion.ReviewRecord{
			ItemID:            it.ID,
			ManagerID:         d.ManagerID,
			Round:             d.CurrentRound,
			Approved:          true,
			AllocationPercent: it.AllocationPercent,
			Confidence:        it.Confidence,
			Reason:            "accepted on request",
			CreatedAt:         now,
		})
		return nil
	})
}

// RejectItem rejects an item awaiting review.
func (s *DiscussionService) RejectItem(ctx context.Context, discussionID, itemID string) (*discussion.ChecklistItem, error) {
	return s.updateItem(ctx, discussionID, itemID, func(d *discussion.Discussion, it *discussion.ChecklistItem, now time.Time) error {
		if err := it.Transition(discussion.ItemRejected, now); err != nil {
			return err
		}
		d.Decisions = append(d.Decisions, discussion.ReviewRecord{
			ItemID:    it.ID,
			ManagerID: d.ManagerID,
			Round:     d.CurrentRound,
			Reason:    "rejected on request",
			CreatedAt: now,
		})
		return nil
	})
}

// AcceptRejection closes a rejected or revision-required item for good.
func (s *DiscussionService) AcceptRejection(ctx context.Context, discussionID, itemID string) (*discussion.ChecklistItem, error) {
	return s.updateItem(ctx, discussionID, itemID, func(_ *discussion.Discussion, it *discussion.ChecklistItem, now time.Time) error {
		return it.Transition(discussion.ItemAcceptRejection, now)
	})
}

// SubmitRevision replaces a rejected or revision-required item's content
// with raw proposal JSON and sends it straight back to the manager. Past the
// revision cap the item is forced to ACCEPT_REJECTION instead.
func (s *DiscussionService) SubmitRevision(ctx context.Context, discussionID, itemID, raw string) (*discussion.ChecklistItem, error) {
	d, err := s.repo.Discussion(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	it, err := d.Item(itemID)
	if err != nil {
		return nil, err
	}
	sec, err := s.repo.Sector(ctx, d.SectorID)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.Agent(ctx, it.AgentID)
	if err != nil {
		return nil, err
	}
	p, err := proposal.Normalize(raw, proposal.Context{
		Balance:             sec.Balance,
		Position:            sec.Position,
		LastConfidence:      a.LastConfidence,
		ConfidenceIncrement: s.cfg.ConfidenceIncrement,
		Personality:         a.Personality,
	})
	if err != nil {
		return nil, fmt.Errorf("revision: %v: %w", err, domain.ErrValidation)
	}

	revised := false
	item, err := s.updateItem(ctx, discussionID, itemID, func(d *discussion.Discussion, it *discussion.ChecklistItem, now time.Time) error {
		ok, err := it.Revise(p.Content(), d.CurrentRound, s.cfg.MaxRevisions, now)
		revised = ok
		return err
	})
	if err != nil || !revised {
		return item, err
	}
	if err := s.managers.ReviewPending(ctx, discussionID); err != nil {
		return nil, err
	}
	d, err = s.repo.Discussion(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	return d.Item(itemID)
}

type itemFunc func(d *discussion.Discussion, it *discussion.ChecklistItem, now time.Time) error

func (s *DiscussionService) updateItem(ctx context.Context, discussionID, itemID string, fn itemFunc) (*discussion.ChecklistItem, error) {
	var out discussion.ChecklistItem
	now := s.repo.Now()
	d, err := s.repo.MutateDiscussion(ctx, discussionID, func(d *discussion.Discussion) error {
		if d.Status != discussion.StatusInProgress && d.Status != discussion.StatusAwaitingExecution {
			return fmt.Errorf("discussion %s is %s: %w", d.ID, d.Status, domain.ErrInvalidTransition)
		}
		it, err := d.Item(itemID)
		if err != nil {
			return err
		}
		if err := fn(d, it, now); err != nil {
			return err
		}
		d.UpdatedAt = now
		out = *it
		if d.ExecutionSettled() {
			return d.Transition(discussion.StatusDecided, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.settled(ctx, d)
	return &out, nil
}
