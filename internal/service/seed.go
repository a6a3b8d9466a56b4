package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
)

type seedSector struct {
	id, name, symbol string
	volatility       float64
	risk             float64
}

var seedSectors = []seedSector{
	{"tech", "Technology", "TECH", 0.25, 55},
	{"healthcare", "Healthcare", "HLTH", 0.18, 40},
	{"finance", "Financial", "FINC", 0.22, 50},
	{"energy", "Energy", "ENRG", 0.30, 60},
	{"consumer", "Consumer Goods", "CSGD", 0.15, 35},
	{"industrial", "Industrial", "INDU", 0.20, 45},
}

type seedAgent struct {
	suffix      string
	role        agent.Role
	personality agent.Personality
	confidence  float64
}

var seedAgents = []seedAgent{
	{"manager", agent.RoleManager, agent.Personality{RiskTolerance: "Medium", DecisionStyle: "Balanced"}, 50},
	{"trader", agent.RoleWorker, agent.Personality{RiskTolerance: "High", DecisionStyle: "Intuitive"}, 40},
	{"analyst", agent.RoleWorker, agent.Personality{RiskTolerance: "Low", DecisionStyle: "Analytical"}, 30},
	{"advisor", agent.RoleWorker, agent.Personality{RiskTolerance: "Medium", DecisionStyle: "Conservative"}, 20},
}

const seedCapital = 100000

// SeedReport lists what Seed created.
type SeedReport struct {
	Sectors []string `json:"sectors"`
	Agents  []string `json:"agents"`
	Skipped []string `json:"skipped"`
}

// Seed creates the demo sectors with one manager and three workers each.
// Sectors that already exist are left untouched.
func Seed(ctx context.Context, sectors *SectorService, agents *AgentService) (*SeedReport, error) {
	r := &SeedReport{}
	for _, ss := range seedSectors {
		ok, err := sectors.exists(ctx, ss.id)
		if err != nil {
			return r, err
		}
		if ok {
			r.Skipped = append(r.Skipped, ss.id)
			continue
		}
		sec, err := sectors.Create(ctx, sector.CreateRequest{
			ID:         ss.id,
			Name:       ss.name,
			Symbol:     ss.symbol,
			Balance:    decimal.NewFromInt(seedCapital),
			Volatility: ss.volatility,
			RiskScore:  ss.risk,
		})
		if err != nil {
			return r, fmt.Errorf("seed sector %s: %w", ss.id, err)
		}
		r.Sectors = append(r.Sectors, sec.ID)

		for _, sa := range seedAgents {
			a, err := agents.Create(ctx, agent.CreateRequest{
				ID:          sec.ID + "-" + sa.suffix,
				SectorID:    sec.ID,
				Name:        ss.name + " " + sa.suffix,
				Role:        sa.role,
				Personality: sa.personality,
				Confidence:  sa.confidence,
			})
			if err != nil {
				return r, fmt.Errorf("seed agent %s-%s: %w", sec.ID, sa.suffix, err)
			}
			r.Agents = append(r.Agents, a.ID)
		}
	}
	slog.Info("seed complete", "sectors", len(r.Sectors), "agents", len(r.Agents), "skipped", len(r.Skipped))
	return r, nil
}
