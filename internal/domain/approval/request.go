package approval

import "time"

// RequestStatus is the overall state of one in-flight workflow instance.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestEscalated RequestStatus = "escalated" // escalation exhausted, needs external intervention
)

// IsTerminal reports whether the request can still change state.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected || s == RequestEscalated
}

// StepStatus is the state of one instantiated step of a request.
type StepStatus string

const (
	StepAwaitingDecision StepStatus = "awaiting_decision"
	StepApproved         StepStatus = "approved"
	StepRejected         StepStatus = "rejected"
	StepSkipped          StepStatus = "skipped" // include-condition false
	StepTimedOut         StepStatus = "timed_out"
	StepEscalated        StepStatus = "escalated" // timed out after escalation, terminal
)

// Request is one invocation of a workflow template against a payload.
// Requests are never hard-deleted by the engine; they are retained for
// audit and only retention policy may remove them.
type Request struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	MissionID  string         `json:"mission_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	Status     RequestStatus  `json:"status"`
	CreatedBy  string         `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// StepState is the live state of one step of one request. It is a
// materialization of the decision log against the template; Replay can
// always rebuild it from scratch.
type StepState struct {
	RequestID   string     `json:"request_id"`
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	CurrentRole string     `json:"current_role"` // escalation retargets this
	Escalated   bool       `json:"escalated"`
	Deadline    time.Time  `json:"deadline"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DecisionValue is an approver's vote.
type DecisionValue string

const (
	DecisionApprove  DecisionValue = "approve"
	DecisionReject   DecisionValue = "reject"
	DecisionEscalate DecisionValue = "escalate"
)

// SystemApprover attributes auto-approval decision records so every
// approved request has at least one decision entry of uniform shape.
const SystemApprover = "system:auto-approval"

// Decision is one approver's vote on one step. Decisions are append-only.
type Decision struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id"`
	StepID    string        `json:"step_id"`
	Approver  string        `json:"approver"`
	Role      string        `json:"role"`
	Value     DecisionValue `json:"value"`
	Comment   string        `json:"comment,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
