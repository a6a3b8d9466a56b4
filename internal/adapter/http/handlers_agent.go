package http

import (
	"net/http"

	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/service"
)

// ListAgents handles GET /api/v1/agents?sectorId=&status=
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	sectorID, ok := queryParam(w, r, "sectorId")
	if !ok {
		return
	}
	status, ok := queryParam(w, r, "status")
	if !ok {
		return
	}
	items, err := h.Agents.List(r.Context(), agent.ListFilter{SectorID: sectorID, Status: agent.Status(status)})
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if items == nil {
		items = []agent.Agent{}
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateAgent handles POST /api/v1/agents
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	handleCreate(maxRequestBodySize, h.Agents.Create)(w, r)
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Agents.Get, "agent not found")(w, r)
}

type confidenceRequest struct {
	Value *float64 `json:"value"`
	Delta *float64 `json:"delta"`
}

// UpdateAgentConfidence handles POST /api/v1/agents/{id}/confidence.
// The body carries exactly one of {"value": n} (absolute) or {"delta": n} (relative).
func (h *Handlers) UpdateAgentConfidence(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[confidenceRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	var (
		value float64
		mode  service.ConfidenceMode
	)
	switch {
	case req.Value != nil && req.Delta != nil:
		writeError(w, http.StatusBadRequest, "value and delta are mutually exclusive")
		return
	case req.Value != nil:
		value, mode = *req.Value, service.ConfidenceSet
	case req.Delta != nil:
		value, mode = *req.Delta, service.ConfidenceDelta
	default:
		writeError(w, http.StatusBadRequest, "value or delta is required")
		return
	}

	a, err := h.Agents.UpdateConfidence(r.Context(), urlParam(r, "id"), value, mode)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}
