package http

import (
	"net/http"

	"github.com/Strob0t/SectorDesk/internal/domain/execution"
	"github.com/Strob0t/SectorDesk/internal/domain/manager"
	"github.com/Strob0t/SectorDesk/internal/domain/trade"
)

const maxLogLimit = 1000

// GetManagerStatus handles GET /api/v1/managers/{id}
func (h *Handlers) GetManagerStatus(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Managers.Status, "manager not found")(w, r)
}

// ListManagerDecisions handles GET /api/v1/managers/{id}/decisions?limit=
func (h *Handlers) ListManagerDecisions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	items, err := h.Managers.Decisions(r.Context(), urlParam(r, "id"), min(limit, maxLogLimit))
	if err != nil {
		writeDomainError(w, err, "manager not found")
		return
	}
	if items == nil {
		items = []manager.Decision{}
	}
	writeJSON(w, http.StatusOK, items)
}

// ExecuteManagerItems handles POST /api/v1/managers/{id}/execute.
// Every APPROVED item of the manager's sector is executed.
func (h *Handlers) ExecuteManagerItems(w http.ResponseWriter, r *http.Request) {
	handleListByID(h.Managers.ExecuteAll, "manager not found")(w, r)
}

// ManagerVote handles POST /api/v1/managers/{id}/vote.
// The vote is advisory; it is recorded in the decision log only.
func (h *Handlers) ManagerVote(w http.ResponseWriter, r *http.Request) {
	st, err := h.Managers.Status(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "manager not found")
		return
	}
	dec, err := h.Managers.Vote(r.Context(), st.SectorID)
	if err != nil {
		writeDomainError(w, err, "sector not found")
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

// ---------------------------------------------------------------------------
// Execution logs
// ---------------------------------------------------------------------------

// ListExecutions handles
// GET /api/v1/executions?sectorId=&managerId=&discussionId=&action=&from=&to=&limit=
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	var f execution.Filter
	var ok bool
	if f.SectorID, ok = queryParam(w, r, "sectorId"); !ok {
		return
	}
	if f.ManagerID, ok = queryParam(w, r, "managerId"); !ok {
		return
	}
	if f.DiscussionID, ok = queryParam(w, r, "discussionId"); !ok {
		return
	}
	action, ok := queryParam(w, r, "action")
	if !ok {
		return
	}
	if action != "" {
		a, err := trade.ParseAction(action)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Action = a
	}
	if f.From, ok = queryTime(w, r, "from"); !ok {
		return
	}
	if f.To, ok = queryTime(w, r, "to"); !ok {
		return
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		writeError(w, http.StatusBadRequest, "to must be after from")
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	f.Limit = min(limit, maxLogLimit)

	items, err := h.Executions.Logs(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "not found")
		return
	}
	if items == nil {
		items = []execution.Log{}
	}
	writeJSON(w, http.StatusOK, items)
}
