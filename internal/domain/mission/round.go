package mission

import "time"

// Round records one plan/execute/review iteration. Rounds are immutable
// once created; they are appended to the mission's history in order.
type Round struct {
	MissionID string    `json:"mission_id"`
	Index     int       `json:"index"`
	Role      Role      `json:"role"`
	Outcome   Outcome   `json:"outcome"`
	Feedback  []string  `json:"feedback,omitempty"`
	Artifacts []string  `json:"artifacts,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is what one call to the controller's advance step yields.
type Result string

const (
	ResultContinue Result = "continue"
	ResultSuspend  Result = "suspend_for_approval"
	ResultTerminal Result = "terminal"
)
