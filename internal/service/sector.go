package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/port/ledger"
)

const defaultBaselinePrice = 100.0

// SectorSummary is the listing view of a sector.
type SectorSummary struct {
	sector.Sector
	AgentCount         int    `json:"agent_count"`
	WorkerCount        int    `json:"worker_count"`
	DiscussionCount    int    `json:"discussion_count"`
	ActiveDiscussionID string `json:"active_discussion_id,omitempty"`
}

// SectorService manages sector portfolios and their read views.
type SectorService struct {
	repo   *Repository
	events *Events
	disc   config.Discussion
	mgr    config.Manager
}

// NewSectorService creates a new SectorService.
func NewSectorService(repo *Repository, events *Events, disc config.Discussion, mgr config.Manager) *SectorService {
	return &SectorService{repo: repo, events: events, disc: disc, mgr: mgr}
}

// Create validates and stores a new sector with no agents.
func (s *SectorService) Create(ctx context.Context, req sector.CreateRequest) (*sector.Sector, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.repo.Now()
	sec := &sector.Sector{
		ID:                  req.ID,
		Name:                req.Name,
		Symbol:              req.Symbol,
		Balance:             req.Balance.Round(2),
		Position:            decimal.Zero,
		InitialCapital:      req.Balance.Round(2),
		BaselinePrice:       req.BaselinePrice,
		CurrentPrice:        req.BaselinePrice,
		Volatility:          req.Volatility,
		RiskScore:           req.RiskScore,
		ConfidenceThreshold: s.disc.ConfidenceThreshold,
		RiskCeiling:         s.mgr.RiskCeiling,
		AgentIDs:            []string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if sec.ID == "" {
		sec.ID = uuid.NewString()
	}
	if sec.Symbol == "" {
		sec.Symbol = strings.ToUpper(sec.ID)
	}
	if sec.BaselinePrice == 0 {
		sec.BaselinePrice = defaultBaselinePrice
		sec.CurrentPrice = defaultBaselinePrice
	}
	if req.ConfidenceThreshold != nil {
		sec.ConfidenceThreshold = *req.ConfidenceThreshold
	}
	if req.RiskCeiling != nil {
		sec.RiskCeiling = *req.RiskCeiling
	}
	sec.Recompute()

	if err := s.repo.CreateSector(ctx, sec); err != nil {
		return nil, fmt.Errorf("create sector: %w", err)
	}
	s.events.record(ctx, ledger.KindSector, sec.ID, sec.ID, sec, now)
	return sec, nil
}

// Get returns the sector's read view.
func (s *SectorService) Get(ctx context.Context, id string) (*sector.Sector, error) {
	return s.repo.SectorView(ctx, id)
}

// List returns every sector with agent and discussion counts.
func (s *SectorService) List(ctx context.Context) ([]SectorSummary, error) {
	sectors, err := s.repo.Sectors(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := s.repo.Agents(ctx)
	if err != nil {
		return nil, err
	}
	discussions, err := s.repo.Discussions(ctx, discussion.ListFilter{})
	if err != nil {
		return nil, err
	}

	out := make([]SectorSummary, len(sectors))
	index := make(map[string]*SectorSummary, len(sectors))
	for i := range sectors {
		out[i] = SectorSummary{Sector: sectors[i]}
		index[sectors[i].ID] = &out[i]
	}
	for i := range agents {
		if sum, ok := index[agents[i].SectorID]; ok {
			sum.AgentCount++
			if !agents[i].IsManager() {
				sum.WorkerCount++
			}
		}
	}
	for i := range discussions {
		if sum, ok := index[discussions[i].SectorID]; ok {
			sum.DiscussionCount++
			if !discussions[i].Status.IsTerminal() {
				sum.ActiveDiscussionID = discussions[i].ID
			}
		}
	}
	return out, nil
}

// Candles returns the sector's price history, oldest first.
func (s *SectorService) Candles(ctx context.Context, id string) ([]sector.Candle, error) {
	if _, err := s.repo.SectorView(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.CandlesView(ctx, id)
}

// exists reports whether the sector is stored.
func (s *SectorService) exists(ctx context.Context, id string) (bool, error) {
	_, err := s.repo.Sector(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
