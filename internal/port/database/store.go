// Package database defines the durable store port (interface).
package database

import (
	"context"
	"time"

	"github.com/orchestry/missiond/internal/domain/approval"
	"github.com/orchestry/missiond/internal/domain/cost"
	"github.com/orchestry/missiond/internal/domain/event"
	"github.com/orchestry/missiond/internal/domain/mission"
)

// MissionCostSummary aggregates a mission's spend.
type MissionCostSummary struct {
	MissionID      string  `json:"mission_id"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	TotalTokensIn  int64   `json:"total_tokens_in"`
	TotalTokensOut int64   `json:"total_tokens_out"`
	CallCount      int     `json:"call_count"`
}

// ModelCostSummary breaks down spend by model.
type ModelCostSummary struct {
	Model          string  `json:"model"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	TotalTokensIn  int64   `json:"total_tokens_in"`
	TotalTokensOut int64   `json:"total_tokens_out"`
	CallCount      int     `json:"call_count"`
}

// DailyCost holds aggregated spend for a single day.
type DailyCost struct {
	Date      string  `json:"date"`
	CostUSD   float64 `json:"cost_usd"`
	CallCount int     `json:"call_count"`
}

// Store is the port interface for durable state. Implementations back
// it with an embedded single-writer database (sqlite, the default) or a
// shared one (postgres); either way all mutation methods are safe under
// concurrent missions.
type Store interface {
	// Missions (audit record of every run; checkpoints are separate).
	CreateMission(ctx context.Context, m *mission.Mission) error
	GetMission(ctx context.Context, id string) (*mission.Mission, error)
	ListMissions(ctx context.Context, limit int) ([]mission.Mission, error)
	UpdateMissionStatus(ctx context.Context, id string, status mission.Status, errMsg string) error
	UpdateMissionProgress(ctx context.Context, id string, round int, costUSD float64, artifacts []string) error
	SetMissionApprovalRequest(ctx context.Context, id, requestID string) error
	GetMissionByApprovalRequest(ctx context.Context, requestID string) (*mission.Mission, error)

	// Rounds (append-only history).
	AppendRound(ctx context.Context, r *mission.Round) error
	ListRounds(ctx context.Context, missionID string) ([]mission.Round, error)

	// Cost entries (append-only; reporting only, the live cap check is
	// the in-memory ledger's job).
	AppendCostEntry(ctx context.Context, missionID string, e *cost.Entry) error
	CostSummaryByMission(ctx context.Context, missionID string) (*MissionCostSummary, error)
	CostByModel(ctx context.Context, missionID string) ([]ModelCostSummary, error)
	CostDaily(ctx context.Context, days int) ([]DailyCost, error)

	// Approval workflows (templates).
	CreateWorkflow(ctx context.Context, wf *approval.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*approval.Workflow, error)
	ListWorkflows(ctx context.Context) ([]approval.Workflow, error)

	// Approval requests and step states.
	CreateRequest(ctx context.Context, req *approval.Request, steps []approval.StepState) error
	GetRequest(ctx context.Context, id string) (*approval.Request, error)
	ListOpenRequests(ctx context.Context) ([]approval.Request, error)
	UpdateRequestStatus(ctx context.Context, id string, status approval.RequestStatus) error
	InsertStepStates(ctx context.Context, states []approval.StepState) error
	UpdateStepState(ctx context.Context, st *approval.StepState) error
	ListStepStates(ctx context.Context, requestID string) ([]approval.StepState, error)
	ListExpiredSteps(ctx context.Context, now time.Time) ([]approval.StepState, error)

	// Approval decisions (append-only).
	AppendDecision(ctx context.Context, d *approval.Decision) error
	ListDecisions(ctx context.Context, requestID string) ([]approval.Decision, error)

	// Audit events (append-only).
	AppendEvent(ctx context.Context, ev *event.Event) error
	ListEventsByMission(ctx context.Context, missionID string) ([]event.Event, error)

	Close() error
}
