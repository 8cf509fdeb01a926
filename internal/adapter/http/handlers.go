package http

import (
	"net/http"

	"github.com/orchestry/missiond/internal/adapter/ws"
	"github.com/orchestry/missiond/internal/resilience"
	"github.com/orchestry/missiond/internal/service"
)

// Handlers bundles the services the HTTP surface exposes.
type Handlers struct {
	Missions  *service.MissionService
	Approvals *service.ApprovalService
	Registry  *service.RegistryService
	Costs     *service.CostService
	Hub       *ws.Hub
	Breaker   *resilience.Breaker
}

// NewHandlers constructs the handler set.
func NewHandlers(
	missions *service.MissionService,
	approvals *service.ApprovalService,
	registry *service.RegistryService,
	costs *service.CostService,
	hub *ws.Hub,
	breaker *resilience.Breaker,
) *Handlers {
	return &Handlers{
		Missions:  missions,
		Approvals: approvals,
		Registry:  registry,
		Costs:     costs,
		Hub:       hub,
		Breaker:   breaker,
	}
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.Breaker != nil {
		body["collaborator_breaker"] = h.Breaker.Current()
	}
	if h.Hub != nil {
		body["ws_connections"] = h.Hub.ConnectionCount()
	}
	writeJSON(w, http.StatusOK, body)
}
