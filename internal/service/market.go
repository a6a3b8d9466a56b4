package service

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Strob0t/SectorDesk/internal/domain/sector"
	"github.com/Strob0t/SectorDesk/internal/port/broadcast"
	"github.com/Strob0t/SectorDesk/internal/port/messagequeue"
)

// CandleInterval is the width of one price candle.
const CandleInterval = 5 * time.Minute

const (
	minPrice        = 0.01
	trendWeight     = 0.2
	waveWeight      = 0.3
	waveStep        = 0.1
	momentumWeight  = 0.2
	momentumDecay   = 0.7
	noiseWeight     = 0.3
	trendSwitchProb = 0.1
	minVolume       = 1000
	maxVolume       = 10000
)

type trend int

const (
	trendUp trend = iota
	trendDown
	trendVolatile
)

type trendState struct {
	trend    trend
	phase    float64
	momentum float64
}

// MarketService simulates sector index prices. It writes only price fields
// and candles, under the same per-sector lock as the execution engine.
type MarketService struct {
	repo   *Repository
	events *Events
	locks  *SectorLocks

	mu     sync.Mutex
	rng    *rand.Rand
	trends map[string]*trendState
}

// NewMarketService creates a MarketService. A nil rng seeds one from the clock.
func NewMarketService(repo *Repository, events *Events, locks *SectorLocks, rng *rand.Rand) *MarketService {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>17))
	}
	return &MarketService{
		repo:   repo,
		events: events,
		locks:  locks,
		rng:    rng,
		trends: make(map[string]*trendState),
	}
}

// Tick advances every sector's price by one step. It returns how many
// sectors were updated.
func (s *MarketService) Tick(ctx context.Context) int {
	sectors, err := s.repo.Sectors(ctx)
	if err != nil {
		slog.Error("list sectors for market tick", "error", err)
		return 0
	}
	ts := s.repo.Now().Truncate(CandleInterval)
	n := 0
	for i := range sectors {
		if err := s.tickSector(ctx, sectors[i].ID, ts); err != nil {
			slog.Error("market tick", "sector_id", sectors[i].ID, "error", err)
			continue
		}
		n++
	}
	return n
}

func (s *MarketService) tickSector(ctx context.Context, sectorID string, ts time.Time) error {
	unlock := s.locks.lock(sectorID)
	defer unlock()

	candles, err := s.repo.Candles(ctx, sectorID)
	if err != nil {
		return err
	}

	var price float64
	var volume int64
	updated, err := s.repo.MutateSector(ctx, sectorID, func(sec *sector.Sector) error {
		base := sec.CurrentPrice
		if n := len(candles); n > 0 {
			base = candles[n-1].Value
		}
		if base <= 0 {
			base = defaultBaselinePrice
		}
		price, volume = s.step(sec.ID, base)

		old := sec.CurrentPrice
		if old <= 0 {
			old = base
		}
		sec.CurrentPrice = price
		sec.Change = price - old
		sec.ChangePercent = 0
		if old > 0 {
			sec.ChangePercent = sec.Change / old * 100
		}
		sec.Volume = volume
		sec.UpdatedAt = s.repo.Now()
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.repo.AppendCandle(ctx, sectorID, sector.Candle{Timestamp: ts, Value: price}); err != nil {
		return err
	}

	s.events.emit(ctx, messagequeue.SubjectSectorCandle, sectorID, broadcast.EventSectorCandle,
		messagequeue.SectorCandlePayload{SectorID: sectorID, Value: price, Timestamp: ts})
	s.events.emit(ctx, messagequeue.SubjectMarketUpdate, sectorID, broadcast.EventMarketUpdate,
		messagequeue.MarketUpdatePayload{
			SectorID:      sectorID,
			IndexValue:    updated.CurrentPrice,
			Change:        updated.Change,
			ChangePercent: updated.ChangePercent,
			Timestamp:     updated.UpdatedAt,
		})
	return nil
}

// step draws the next price from a trend-biased random walk smoothed by a
// sine wave and momentum.
func (s *MarketService) step(sectorID string, base float64) (float64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.trends[sectorID]
	if !ok {
		st = &trendState{trend: trend(s.rng.IntN(3)), phase: s.rng.Float64() * 2 * math.Pi}
		s.trends[sectorID] = st
	}

	dir := 1.0
	switch st.trend {
	case trendDown:
		dir = -1
	case trendVolatile:
		if s.rng.IntN(2) == 0 {
			dir = -1
		}
	}

	st.phase += waveStep
	if st.phase > 2*math.Pi {
		st.phase -= 2 * math.Pi
	}
	noise := s.rng.Float64() - 0.5
	changePct := dir*trendWeight + math.Sin(st.phase)*waveWeight + st.momentum*momentumWeight + noise*noiseWeight
	st.momentum = st.momentum*momentumDecay + changePct*(1-momentumDecay)

	if s.rng.Float64() < trendSwitchProb {
		st.trend = trend(s.rng.IntN(3))
	}

	price := math.Max(minPrice, base*(1+changePct/100))
	volume := int64(minVolume + s.rng.IntN(maxVolume-minVolume+1))
	return price, volume
}
