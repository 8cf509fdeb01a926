package http

import (
	"net/http"
	"strconv"

	"github.com/orchestry/missiond/internal/domain/event"
	"github.com/orchestry/missiond/internal/domain/mission"
)

// StartMission handles POST /api/v1/missions.
func (h *Handlers) StartMission(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[mission.StartRequest](w, r)
	if !ok {
		return
	}
	m, err := h.Missions.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMission handles GET /api/v1/missions/{id}.
func (h *Handlers) GetMission(w http.ResponseWriter, r *http.Request) {
	m, err := h.Missions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListMissions handles GET /api/v1/missions.
func (h *Handlers) ListMissions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	missions, err := h.Missions.List(r.Context(), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if missions == nil {
		missions = []mission.Mission{}
	}
	writeJSON(w, http.StatusOK, missions)
}

// CancelMission handles POST /api/v1/missions/{id}/cancel.
func (h *Handlers) CancelMission(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Missions.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

// ResumeMission handles POST /api/v1/missions/{id}/resume.
func (h *Handlers) ResumeMission(w http.ResponseWriter, r *http.Request) {
	m, err := h.Missions.Resume(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

// ListMissionRounds handles GET /api/v1/missions/{id}/rounds.
func (h *Handlers) ListMissionRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := h.Missions.Rounds(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	if rounds == nil {
		rounds = []mission.Round{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

// ListMissionEvents handles GET /api/v1/missions/{id}/events.
func (h *Handlers) ListMissionEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Missions.Events(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// MissionCost handles GET /api/v1/missions/{id}/cost.
func (h *Handlers) MissionCost(w http.ResponseWriter, r *http.Request) {
	report, err := h.Costs.MissionReport(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// DailyCost handles GET /api/v1/costs/daily.
func (h *Handlers) DailyCost(w http.ResponseWriter, r *http.Request) {
	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		if parsed, err := strconv.Atoi(d); err == nil && parsed > 0 {
			days = parsed
		}
	}
	daily, err := h.Costs.Daily(r.Context(), days)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, daily)
}
