// Package mission defines the Mission domain entity: one end-to-end
// execution of an orchestrated multi-round task.
package mission

import "time"

// Status represents the current state of a mission's run loop.
type Status string

const (
	StatusPlanning         Status = "planning"
	StatusExecuting        Status = "executing"
	StatusReviewing        Status = "reviewing"
	StatusNeedsChanges     Status = "needs_changes"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusAbortedCostCap   Status = "aborted_cost_cap"
	StatusAbortedRetryLoop Status = "aborted_retry_loop"
	StatusAbortedMaxRounds Status = "aborted_max_rounds"
	StatusAbortedError     Status = "aborted_error"
	StatusCancelled        Status = "cancelled"
)

// IsTerminal reports whether no further rounds will run for this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAbortedCostCap, StatusAbortedRetryLoop,
		StatusAbortedMaxRounds, StatusAbortedError, StatusCancelled:
		return true
	}
	return false
}

// Role identifies which agent persona acted in a round.
type Role string

const (
	RolePlanner    Role = "planner"
	RoleWorker     Role = "worker"
	RoleSupervisor Role = "supervisor"
)

// Outcome classifies the result of a single collaborator call.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeNeedsChanges Outcome = "needs_changes"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeError        Outcome = "error"
)

// Mission represents one run of the orchestrated loop. The mission's ID
// keys its checkpoint, its ledger and its audit trail.
type Mission struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Status            Status     `json:"status"`
	Round             int        `json:"round"`
	MaxRounds         int        `json:"max_rounds"`
	CostCapUSD        float64    `json:"cost_cap_usd"` // <= 0 means uncapped
	CostWarnUSD       float64    `json:"cost_warn_usd,omitempty"`
	CostUSD           float64    `json:"cost_usd"`
	Model             string     `json:"model,omitempty"`
	Objective         string     `json:"objective"`
	Artifacts         []string   `json:"artifacts,omitempty"`
	Feedback          []string   `json:"feedback,omitempty"` // carried verbatim into the next executing round
	ApprovalWorkflow  string     `json:"approval_workflow,omitempty"`
	ApprovalRequestID string     `json:"approval_request_id,omitempty"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// StartRequest holds the fields needed to start a new mission.
type StartRequest struct {
	Name             string  `json:"name"`
	Objective        string  `json:"objective"`
	Model            string  `json:"model,omitempty"`
	MaxRounds        int     `json:"max_rounds,omitempty"`
	CostCapUSD       float64 `json:"cost_cap_usd,omitempty"`
	ApprovalWorkflow string  `json:"approval_workflow,omitempty"`
}
