package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/service"
)

const maxRoundsPerRequest = 10

// ListDiscussions handles GET /api/v1/discussions?sectorId=&status=
func (h *Handlers) ListDiscussions(w http.ResponseWriter, r *http.Request) {
	sectorID, ok := queryParam(w, r, "sectorId")
	if !ok {
		return
	}
	status, ok := queryParam(w, r, "status")
	if !ok {
		return
	}
	f := discussion.ListFilter{SectorID: sectorID, Status: discussion.Status(strings.ToUpper(status))}
	items, err := h.Discussions.List(r.Context(), f)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if items == nil {
		items = []discussion.Discussion{}
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateDiscussion handles POST /api/v1/discussions
func (h *Handlers) CreateDiscussion(w http.ResponseWriter, r *http.Request) {
	handleCreate(maxRequestBodySize, h.Discussions.Create)(w, r)
}

// GetDiscussion handles GET /api/v1/discussions/{id}
func (h *Handlers) GetDiscussion(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Discussions.Get, "discussion not found")(w, r)
}

// GetChecklist handles GET /api/v1/discussions/{id}/checklist
func (h *Handlers) GetChecklist(w http.ResponseWriter, r *http.Request) {
	handleListByID(h.Discussions.Checklist, "discussion not found")(w, r)
}

// AddMessage handles POST /api/v1/discussions/{id}/messages
func (h *Handlers) AddMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.MessageRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.AgentID, "agent_id") {
		return
	}
	msg, err := h.Discussions.AddMessage(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "discussion or agent not found")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type roundsRequest struct {
	Count int `json:"count"`
}

// AdvanceRounds handles POST /api/v1/discussions/{id}/rounds.
// An empty body or a zero count runs a single round.
func (h *Handlers) AdvanceRounds(w http.ResponseWriter, r *http.Request) {
	req := roundsRequest{Count: 1}
	if r.ContentLength != 0 {
		body, ok := readJSON[roundsRequest](w, r, maxRequestBodySize)
		if !ok {
			return
		}
		if body.Count != 0 {
			req.Count = body.Count
		}
	}
	if req.Count < 1 || req.Count > maxRoundsPerRequest {
		writeError(w, http.StatusBadRequest, "count must be between 1 and 10")
		return
	}
	d, err := h.Discussions.AdvanceRounds(r.Context(), urlParam(r, "id"), req.Count)
	if err != nil {
		writeDomainError(w, err, "discussion not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CloseDiscussion handles POST /api/v1/discussions/{id}/close
func (h *Handlers) CloseDiscussion(w http.ResponseWriter, r *http.Request) {
	handleAction(h.Discussions.Close, "discussion not found")(w, r)
}

// ArchiveDiscussion handles POST /api/v1/discussions/{id}/archive
func (h *Handlers) ArchiveDiscussion(w http.ResponseWriter, r *http.Request) {
	handleAction(h.Discussions.Archive, "discussion not found")(w, r)
}

// ---------------------------------------------------------------------------
// Checklist items
// ---------------------------------------------------------------------------

// AcceptItem handles POST /api/v1/discussions/{id}/items/{itemId}/accept
func (h *Handlers) AcceptItem(w http.ResponseWriter, r *http.Request) {
	handleItemAction(h.Discussions.AcceptItem)(w, r)
}

// RejectItem handles POST /api/v1/discussions/{id}/items/{itemId}/reject
func (h *Handlers) RejectItem(w http.ResponseWriter, r *http.Request) {
	handleItemAction(h.Discussions.RejectItem)(w, r)
}

// AcceptRejection handles POST /api/v1/discussions/{id}/items/{itemId}/accept-rejection
func (h *Handlers) AcceptRejection(w http.ResponseWriter, r *http.Request) {
	handleItemAction(h.Discussions.AcceptRejection)(w, r)
}

// ExecuteItem handles POST /api/v1/discussions/{id}/items/{itemId}/execute
func (h *Handlers) ExecuteItem(w http.ResponseWriter, r *http.Request) {
	handleItemAction(h.Executions.Execute)(w, r)
}

// SubmitRevision handles POST /api/v1/discussions/{id}/items/{itemId}/revision.
// The body is the raw revised proposal; it goes through the same parser as
// proposal-source output, so it need not be well-formed JSON.
func (h *Handlers) SubmitRevision(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		writeError(w, http.StatusBadRequest, "revision body is required")
		return
	}
	item, err := h.Discussions.SubmitRevision(r.Context(), urlParam(r, "id"), urlParam(r, "itemId"), string(raw))
	if err != nil {
		writeDomainError(w, err, "discussion or checklist item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}
