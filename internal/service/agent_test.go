package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/Strob0t/SectorDesk/internal/domain"
	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/port/broadcast"
)

func TestAgentServiceCreate(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 20, "alpha")
	ctx := context.Background()

	a, err := h.agents.Create(ctx, agent.CreateRequest{SectorID: "tech", Name: "Beta", Confidence: 250})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" || a.Role != agent.RoleWorker || a.Status != agent.StatusIdle {
		t.Errorf("agent = %+v", a)
	}
	if a.Confidence != agent.MaxConfidence {
		t.Errorf("confidence = %v, want clamped to %v", a.Confidence, agent.MaxConfidence)
	}
	sec := h.sector(t, "tech")
	if !sec.HasAgent(a.ID) || len(sec.AgentIDs) != 3 {
		t.Errorf("sector agents = %v", sec.AgentIDs)
	}
	if sec.ManagerID != "tech-mgr" {
		t.Errorf("manager = %q", sec.ManagerID)
	}
}

func TestAgentServiceCreateErrors(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 20, "alpha")
	ctx := context.Background()

	tests := []struct {
		name    string
		req     agent.CreateRequest
		wantErr error
	}{
		{"second manager", agent.CreateRequest{SectorID: "tech", Name: "Boss", Role: agent.RoleManager}, domain.ErrConflict},
		{"duplicate id", agent.CreateRequest{ID: "alpha", SectorID: "tech", Name: "Alpha"}, domain.ErrConflict},
		{"missing sector", agent.CreateRequest{SectorID: "nope", Name: "Ghost"}, domain.ErrNotFound},
		{"missing name", agent.CreateRequest{SectorID: "tech"}, domain.ErrValidation},
		{"unknown role", agent.CreateRequest{SectorID: "tech", Name: "X", Role: "oracle"}, domain.ErrValidation},
		{"nan confidence", agent.CreateRequest{SectorID: "tech", Name: "X", Confidence: math.NaN()}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.agents.Create(ctx, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	sec := h.sector(t, "tech")
	if len(sec.AgentIDs) != 2 || sec.ManagerID != "tech-mgr" {
		t.Errorf("failed creates changed the sector: %v manager %q", sec.AgentIDs, sec.ManagerID)
	}
}

func TestAgentServiceList(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 20, "alpha", "beta")
	h.addSector(t, "energy", 10000, 20, "delta")
	ctx := context.Background()

	all, err := h.agents.List(ctx, agent.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("agents = %d, want 5", len(all))
	}
	tech, _ := h.agents.List(ctx, agent.ListFilter{SectorID: "tech"})
	if len(tech) != 3 {
		t.Errorf("tech agents = %d, want 3", len(tech))
	}
	busy, _ := h.agents.List(ctx, agent.ListFilter{Status: agent.StatusProcessing})
	if len(busy) != 0 {
		t.Errorf("processing agents = %d, want 0", len(busy))
	}
	if _, err := h.agents.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get missing: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateConfidenceClamps(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		mode  ConfidenceMode
		want  float64
	}{
		{"set within range", 42.5, ConfidenceSet, 42.5},
		{"set above range", 150, ConfidenceSet, 100},
		{"set below range", -1000, ConfidenceSet, -100},
		{"delta up", 15, ConfidenceDelta, 35},
		{"delta past ceiling", 500, ConfidenceDelta, 100},
		{"delta past floor", -500, ConfidenceDelta, -100},
		{"positive infinity", math.Inf(1), ConfidenceSet, 100},
		{"negative infinity", math.Inf(-1), ConfidenceDelta, -100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.addSector(t, "tech", 10000, 20, "alpha")
			a, err := h.agents.UpdateConfidence(context.Background(), "alpha", tt.value, tt.mode)
			if err != nil {
				t.Fatalf("UpdateConfidence: %v", err)
			}
			if a.Confidence != tt.want {
				t.Errorf("confidence = %v, want %v", a.Confidence, tt.want)
			}
			if got := h.agent(t, "alpha").Confidence; got != tt.want {
				t.Errorf("stored confidence = %v, want %v", got, tt.want)
			}
			if h.hub.count(broadcast.EventAgentStatus) != 1 {
				t.Errorf("agent status events = %d, want 1", h.hub.count(broadcast.EventAgentStatus))
			}
		})
	}
}

func TestUpdateConfidenceRejects(t *testing.T) {
	h := newHarness(t)
	h.addSector(t, "tech", 10000, 20, "alpha")
	ctx := context.Background()

	if _, err := h.agents.UpdateConfidence(ctx, "alpha", math.NaN(), ConfidenceSet); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("NaN: err = %v, want ErrValidation", err)
	}
	if _, err := h.agents.UpdateConfidence(ctx, "alpha", 1, "multiply"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("unknown mode: err = %v, want ErrValidation", err)
	}
	if _, err := h.agents.UpdateConfidence(ctx, "nope", 1, ConfidenceSet); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing agent: err = %v, want ErrNotFound", err)
	}
	if got := h.agent(t, "alpha").Confidence; got != 20 {
		t.Errorf("rejected updates changed confidence to %v", got)
	}
}
