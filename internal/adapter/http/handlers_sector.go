package http

import "net/http"

// ListSectors handles GET /api/v1/sectors
func (h *Handlers) ListSectors(w http.ResponseWriter, r *http.Request) {
	handleList(h.Sectors.List)(w, r)
}

// CreateSector handles POST /api/v1/sectors
func (h *Handlers) CreateSector(w http.ResponseWriter, r *http.Request) {
	handleCreate(maxRequestBodySize, h.Sectors.Create)(w, r)
}

// GetSector handles GET /api/v1/sectors/{id}
func (h *Handlers) GetSector(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Sectors.Get, "sector not found")(w, r)
}

// GetSectorCandles handles GET /api/v1/sectors/{id}/candles
func (h *Handlers) GetSectorCandles(w http.ResponseWriter, r *http.Request) {
	handleListByID(h.Sectors.Candles, "sector not found")(w, r)
}

// EvaluateSector handles POST /api/v1/sectors/{id}/evaluate.
// It runs the discussion trigger for one sector and reports whether a discussion opened.
func (h *Handlers) EvaluateSector(w http.ResponseWriter, r *http.Request) {
	handleAction(h.Trigger.EvaluateSector, "sector not found")(w, r)
}
