package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/SectorDesk/internal/middleware"
	"github.com/Strob0t/SectorDesk/internal/port/cache"
)

// RouterOptions configures the outer middleware stack built by NewRouter.
// Nil or zero fields disable the corresponding layer.
type RouterOptions struct {
	CORSOrigin     string
	RateLimiter    *middleware.RateLimiter
	IdempotencyTTL time.Duration
	Idempotency    cache.Cache
	Tracing        func(http.Handler) http.Handler
	WebSocket      http.HandlerFunc
	RequestTimeout time.Duration
}

// NewRouter builds the full HTTP surface: middleware, /health, /ws and the v1 API.
func NewRouter(h *Handlers, opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	if opts.CORSOrigin != "" {
		r.Use(CORS(opts.CORSOrigin))
	}
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	if opts.Tracing != nil {
		r.Use(opts.Tracing)
	}

	r.Get("/health", h.Health)
	if opts.WebSocket != nil {
		r.Get("/ws", opts.WebSocket)
	}

	r.Group(func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		if opts.Idempotency != nil && opts.IdempotencyTTL > 0 {
			r.Use(middleware.Idempotency(opts.Idempotency, opts.IdempotencyTTL))
		}
		if opts.RequestTimeout > 0 {
			r.Use(chimw.Timeout(opts.RequestTimeout))
		}
		MountRoutes(r, h)
	})
	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Sectors
		r.Get("/sectors", h.ListSectors)
		r.Post("/sectors", h.CreateSector)
		r.Get("/sectors/{id}", h.GetSector)
		r.Get("/sectors/{id}/candles", h.GetSectorCandles)
		r.Post("/sectors/{id}/evaluate", h.EvaluateSector)

		// Agents
		r.Get("/agents", h.ListAgents)
		r.Post("/agents", h.CreateAgent)
		r.Get("/agents/{id}", h.GetAgent)
		r.Post("/agents/{id}/confidence", h.UpdateAgentConfidence)

		// Discussions
		r.Get("/discussions", h.ListDiscussions)
		r.Post("/discussions", h.CreateDiscussion)
		r.Get("/discussions/{id}", h.GetDiscussion)
		r.Get("/discussions/{id}/checklist", h.GetChecklist)
		r.Post("/discussions/{id}/messages", h.AddMessage)
		r.Post("/discussions/{id}/rounds", h.AdvanceRounds)
		r.Post("/discussions/{id}/close", h.CloseDiscussion)
		r.Post("/discussions/{id}/archive", h.ArchiveDiscussion)

		// Checklist items (nested under discussions)
		r.Post("/discussions/{id}/items/{itemId}/accept", h.AcceptItem)
		r.Post("/discussions/{id}/items/{itemId}/reject", h.RejectItem)
		r.Post("/discussions/{id}/items/{itemId}/revision", h.SubmitRevision)
		r.Post("/discussions/{id}/items/{itemId}/accept-rejection", h.AcceptRejection)
		r.Post("/discussions/{id}/items/{itemId}/execute", h.ExecuteItem)

		// Managers
		r.Get("/managers/{id}", h.GetManagerStatus)
		r.Get("/managers/{id}/decisions", h.ListManagerDecisions)
		r.Post("/managers/{id}/execute", h.ExecuteManagerItems)
		r.Post("/managers/{id}/vote", h.ManagerVote)

		// Execution log
		r.Get("/executions", h.ListExecutions)
	})
}
