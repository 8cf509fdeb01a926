// Package checkpoint defines the durable snapshot a mission writes after
// every round. The checkpoint is the sole resume mechanism: on restart
// the controller rebuilds its full state (round index, spend, retry
// detector) from exactly one of these records.
package checkpoint

import (
	"errors"
	"time"

	"github.com/orchestry/missiond/internal/domain/mission"
)

// ErrCorrupt is returned when a checkpoint exists but cannot be parsed.
// Callers must stop the mission rather than resume from zero: a silent
// restart would lose real spend against the cap or re-execute a round.
var ErrCorrupt = errors.New("checkpoint corrupt")

// Checkpoint is the snapshot of a mission at the end of a completed
// round. A record on disk always corresponds to a fully finished round;
// partial writes are never observable (atomic replace contract).
type Checkpoint struct {
	MissionID    string          `json:"mission_id"`
	Round        int             `json:"round"`
	Status       mission.Status  `json:"status"`
	CostUSD      float64         `json:"cost_usd"`
	LastOutcome  mission.Outcome `json:"last_outcome,omitempty"`
	LastFeedback []string        `json:"last_feedback,omitempty"`
	RetryRepeats int             `json:"retry_repeats"`
	RetryHash    uint64          `json:"retry_hash"`
	Artifacts    []string        `json:"artifacts,omitempty"`
	ApprovalReq  string          `json:"approval_request_id,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Validate checks the invariants a checkpoint must satisfy before it is
// persisted or after it is loaded.
func (c *Checkpoint) Validate() error {
	if c.MissionID == "" {
		return errors.New("mission_id is required")
	}
	if c.Round < 0 {
		return errors.New("round must be non-negative")
	}
	if c.CostUSD < 0 {
		return errors.New("cost_usd must be non-negative")
	}
	return nil
}
