package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/adapter/otel"
	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/execution"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/port/broadcast"
	"github.com/Strob0t/SectorDesk/internal/port/ledger"
	"github.com/Strob0t/SectorDesk/internal/port/messagequeue"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// SectorLocks serializes portfolio and price writes per sector. Different
// sectors never contend.
type SectorLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSectorLocks creates an empty lock set.
func NewSectorLocks() *SectorLocks {
	return &SectorLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *SectorLocks) lock(sectorID string) func() {
	l.mu.Lock()
	m, ok := l.locks[sectorID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sectorID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// execLogMeta tracks sequence allocation and retention of the execution log.
type execLogMeta struct {
	NextSeq int64 `json:"next_seq"`
	Oldest  int64 `json:"oldest"`
	Count   int   `json:"count"`
}

// ExecutionService applies approved checklist items to sector portfolios.
type ExecutionService struct {
	repo    *Repository
	events  *Events
	locks   *SectorLocks
	cfg     config.Execution
	metrics *otel.Metrics
}

// NewExecutionService creates a new ExecutionService. metrics may be nil.
func NewExecutionService(repo *Repository, events *Events, locks *SectorLocks, cfg config.Execution, metrics *otel.Metrics) *ExecutionService {
	return &ExecutionService{repo: repo, events: events, locks: locks, cfg: cfg, metrics: metrics}
}

// Execute applies one APPROVED item. It is idempotent: an item that already
// executed reports success with AlreadyExecuted set and changes nothing. A
// failed precondition is a Result with Success=false; the item stays
// APPROVED and the sector is untouched.
func (s *ExecutionService) Execute(ctx context.Context, discussionID, itemID string) (*execution.Result, error) {
	d, err := s.repo.Discussion(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	if _, err := d.Item(itemID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(d.SectorID)
	defer unlock()
	ctx, span := otel.StartExecutionSpan(ctx, d.SectorID, itemID)
	defer span.End()

	// Re-read under the lock: a concurrent execution may have finished first.
	d, err = s.repo.Discussion(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	it, err := d.Item(itemID)
	if err != nil {
		return nil, err
	}
	if it.ExecutedAt != nil {
		return &execution.Result{Success: true, AlreadyExecuted: true, ItemID: it.ID, Reason: "already executed"}, nil
	}
	if d.Status != discussion.StatusInProgress && d.Status != discussion.StatusAwaitingExecution {
		return nil, fmt.Errorf("discussion %s is %s: %w", d.ID, d.Status, domain.ErrInvalidTransition)
	}
	if it.Status != discussion.ItemApproved {
		return nil, fmt.Errorf("item %s is %s, not approved: %w", it.ID, it.Status, domain.ErrInvalidTransition)
	}

	sec, err := s.repo.Sector(ctx, d.SectorID)
	if err != nil {
		return nil, err
	}
	if _, err := execution.Plan(sec, it.Content); err != nil {
		return s.fail(ctx, d, it, err)
	}

	participants := make([]agent.Agent, 0, len(d.ParticipantIDs))
	for _, id := range d.ParticipantIDs {
		a, err := s.repo.Agent(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		participants = append(participants, *a)
	}

	now := s.repo.Now()
	var (
		m      execution.Mutation
		before decimal.Decimal
	)
	updated, err := s.repo.MutateSector(ctx, sec.ID, func(cur *sector.Sector) error {
		planned, err := execution.Plan(cur, it.Content)
		if err != nil {
			return err
		}
		m, before = planned, cur.Valuation
		cur.Balance, cur.Position = planned.BalanceAfter, planned.PositionAfter
		if cur.Balance.IsNegative() {
			slog.WarnContext(ctx, "negative balance clamped to zero", "sector_id", cur.ID, "balance", cur.Balance)
			cur.Balance = decimal.Zero
		}
		cur.Recompute()
		cur.UpdatedAt = now
		return cur.CheckInvariants()
	})
	if err != nil {
		if isPlanError(err) {
			return s.fail(ctx, d, it, err)
		}
		return nil, fmt.Errorf("apply execution: %w", err)
	}

	snapshot := confidenceSnapshot(participants)
	impact := execution.PriceImpact(it.Action, m, before, updated.Volatility)
	var multiplier *float64
	if s.cfg.ConfidenceMultiplier {
		k := execution.ConfidenceMultiplier(snapshot)
		impact *= k
		multiplier = &k
	}
	rewards := computeRewards(it.AgentID, d.ManagerID, it.Action, participants)

	row := &execution.Log{
		ID:                 uuid.NewString(),
		ExecutionID:        uuid.NewString(),
		SectorID:           sec.ID,
		DiscussionID:       d.ID,
		ChecklistItemID:    it.ID,
		AgentID:            it.AgentID,
		ManagerID:          d.ManagerID,
		Action:             it.Action,
		Allocation:         m.Allocation,
		PriceImpact:        impact,
		ImpactMultiplier:   multiplier,
		ValuationBefore:    before,
		ValuationAfter:     updated.Valuation,
		ValuationDelta:     updated.Valuation.Sub(before),
		PositionValue:      updated.Position,
		BalanceAfter:       updated.Balance,
		ConfidenceSnapshot: snapshot,
		Rewards:            rewards,
		Timestamp:          now,
	}
	if err := s.appendLog(ctx, row); err != nil {
		return nil, err
	}

	d, err = s.repo.MutateDiscussion(ctx, d.ID, func(d *discussion.Discussion) error {
		it, err := d.Item(itemID)
		if err != nil {
			return err
		}
		if err := it.MarkExecuted(row.ID, now); err != nil {
			return err
		}
		d.UpdatedAt = now
		if d.ExecutionSettled() {
			return d.Transition(discussion.StatusDecided, now)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark executed: %w", err)
	}

	s.applyRewards(ctx, rewards)
	s.metrics.RecordExecution(ctx, sec.ID, string(row.Action), true)
	slog.InfoContext(ctx, "item executed",
		"sector_id", sec.ID, "discussion_id", d.ID, "item_id", itemID,
		"action", row.Action, "allocation", row.Allocation, "valuation", row.ValuationAfter)

	s.events.emit(ctx, messagequeue.SubjectExecution, sec.ID, broadcast.EventExecution, messagequeue.ExecutionPayload{
		LogID:        row.ID,
		SectorID:     row.SectorID,
		DiscussionID: row.DiscussionID,
		ItemID:       row.ChecklistItemID,
		Action:       string(row.Action),
		Allocation:   row.Allocation.String(),
		Valuation:    row.ValuationAfter.String(),
	})
	s.events.record(ctx, ledger.KindExecution, row.ID, sec.ID, row, now)
	s.events.record(ctx, ledger.KindSector, sec.ID, sec.ID, updated, now)
	settle(ctx, s.repo, s.events, d)

	return &execution.Result{Success: true, ItemID: itemID, Log: row}, nil
}

func isPlanError(err error) bool {
	for _, target := range []error{
		execution.ErrInvalidAmount,
		execution.ErrInsufficientFunds,
		execution.ErrInsufficientPosition,
		execution.ErrInvalidTarget,
		execution.ErrUnknownAction,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// fail records a failed attempt on the item and reports it as a Result.
func (s *ExecutionService) fail(ctx context.Context, d *discussion.Discussion, it *discussion.ChecklistItem, cause error) (*execution.Result, error) {
	reason := cause.Error()
	now := s.repo.Now()
	_, err := s.repo.MutateDiscussion(ctx, d.ID, func(d *discussion.Discussion) error {
		cur, err := d.Item(it.ID)
		if err != nil {
			return err
		}
		cur.RecordFailure(reason, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record failed attempt: %w", err)
	}
	s.metrics.RecordExecution(ctx, d.SectorID, string(it.Action), false)
	slog.WarnContext(ctx, "execution refused", "sector_id", d.SectorID, "item_id", it.ID, "reason", reason)
	return &execution.Result{Success: false, ItemID: it.ID, Reason: reason}, nil
}

// appendLog allocates the next sequence number, writes the row with its
// digest and evicts rows beyond the retention bound, oldest first.
func (s *ExecutionService) appendLog(ctx context.Context, row *execution.Log) error {
	var seq int64
	var evict []int64
	retention := s.cfg.LogRetention
	err := s.repo.Store().Update(ctx, keyExecLogMeta, func(cur []byte, exists bool) ([]byte, error) {
		var m execLogMeta
		if exists {
			if err := json.Unmarshal(cur, &m); err != nil {
				return nil, fmt.Errorf("decode %s: %w", keyExecLogMeta, err)
			}
		}
		if m.NextSeq == 0 {
			m.NextSeq, m.Oldest = 1, 1
		}
		seq = m.NextSeq
		m.NextSeq++
		m.Count++
		evict = evict[:0]
		for retention > 0 && m.Count > retention {
			evict = append(evict, m.Oldest)
			m.Oldest++
			m.Count--
		}
		return json.Marshal(m)
	})
	if err != nil {
		return fmt.Errorf("allocate log sequence: %w", err)
	}

	row.Seq = seq
	row.Digest = ""
	_, digest, err := canonical(row)
	if err != nil {
		return fmt.Errorf("digest log row: %w", err)
	}
	row.Digest = digest
	if err := save(ctx, s.repo.Store(), execLogKey(seq), row); err != nil {
		return err
	}
	for _, old := range evict {
		if err := s.repo.Store().Delete(ctx, execLogKey(old)); err != nil {
			slog.WarnContext(ctx, "failed to evict execution log row", "seq", old, "error", err)
		}
	}
	return nil
}

// Logs returns rows matching the filter, newest first.
func (s *ExecutionService) Logs(ctx context.Context, f execution.Filter) ([]execution.Log, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	all, err := loadAll[execution.Log](ctx, s.repo.Store(), prefixExecLog)
	if err != nil {
		return nil, err
	}
	out := make([]execution.Log, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if f.Matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// VerifyDigest reports whether the row's digest matches its content.
func VerifyDigest(row execution.Log) (bool, error) {
	want := row.Digest
	row.Digest = ""
	_, got, err := canonical(&row)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
