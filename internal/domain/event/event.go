// Package event defines the structured audit event every reliability
// component emits: round transitions, checkpoint writes, cost and retry
// aborts, approval decisions. One event stream, multiple emitters.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of audit event.
type Type string

const (
	TypeMissionStarted   Type = "mission.started"
	TypeMissionResumed   Type = "mission.resumed"
	TypeRoundCompleted   Type = "mission.round_completed"
	TypeCheckpointSaved  Type = "mission.checkpoint_saved"
	TypeCostRegistered   Type = "mission.cost_registered"
	TypeCostWarning      Type = "mission.cost_warning"
	TypeMissionCompleted Type = "mission.completed"
	TypeMissionAborted   Type = "mission.aborted"
	TypeMissionCancelled Type = "mission.cancelled"

	TypeApprovalRequested Type = "approval.requested"
	TypeApprovalDecision  Type = "approval.decision"
	TypeApprovalTimeout   Type = "approval.step_timeout"
	TypeApprovalResolved  Type = "approval.resolved"
)

// Event is a single immutable record in the append-only audit stream.
type Event struct {
	ID        string          `json:"id"`
	MissionID string          `json:"mission_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"` // approval request, when relevant
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
