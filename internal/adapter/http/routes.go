package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/orchestry/missiond/internal/config"
)

// NewRouter builds the full router with middleware applied.
func NewRouter(h *Handlers, cfg config.Server) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	if cfg.CORSOrigin != "" {
		r.Use(CORS(cfg.CORSOrigin))
	}
	MountRoutes(r, h)
	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Missions
		r.Post("/missions", h.StartMission)
		r.Get("/missions", h.ListMissions)
		r.Get("/missions/{id}", h.GetMission)
		r.Post("/missions/{id}/cancel", h.CancelMission)
		r.Post("/missions/{id}/resume", h.ResumeMission)
		r.Get("/missions/{id}/rounds", h.ListMissionRounds)
		r.Get("/missions/{id}/events", h.ListMissionEvents)
		r.Get("/missions/{id}/cost", h.MissionCost)

		// Cost reporting
		r.Get("/costs/daily", h.DailyCost)

		// Workflow templates
		r.Post("/workflows", h.RegisterWorkflow)
		r.Get("/workflows", h.ListWorkflows)
		r.Get("/workflows/{id}", h.GetWorkflow)

		// Approval requests
		r.Post("/approvals", h.CreateApproval)
		r.Get("/approvals", h.ListOpenApprovals)
		r.Get("/approvals/{id}", h.GetApproval)
		r.Post("/approvals/{id}/decisions", h.SubmitDecision)
		r.Get("/approvals/{id}/decisions", h.ListDecisions)
	})

	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}
}
