package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/Strob0t/SectorDesk/internal/service"
)

// HealthCheck probes one backing dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Sectors     *service.SectorService
	Agents      *service.AgentService
	Discussions *service.DiscussionService
	Trigger     *service.TriggerService
	Managers    *service.ManagerService
	Executions  *service.ExecutionService
	Checks      map[string]HealthCheck
	Version     string
}

type healthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Health reports overall service health plus the state of each registered dependency.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Version: h.Version}
	if len(h.Checks) > 0 {
		names := make([]string, 0, len(h.Checks))
		for name := range h.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		resp.Dependencies = make(map[string]string, len(names))
		for _, name := range names {
			if err := h.Checks[name](ctx); err != nil {
				resp.Dependencies[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Dependencies[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
