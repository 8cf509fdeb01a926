package mission

import (
	"fmt"

	"github.com/orchestry/missiond/internal/domain"
)

// validStatuses enumerates all valid mission statuses.
var validStatuses = map[Status]bool{
	StatusPlanning:         true,
	StatusExecuting:        true,
	StatusReviewing:        true,
	StatusNeedsChanges:     true,
	StatusAwaitingApproval: true,
	StatusCompleted:        true,
	StatusAbortedCostCap:   true,
	StatusAbortedRetryLoop: true,
	StatusAbortedMaxRounds: true,
	StatusAbortedError:     true,
	StatusCancelled:        true,
}

// validOutcomes enumerates all valid round outcomes.
var validOutcomes = map[Outcome]bool{
	OutcomeApproved:     true,
	OutcomeNeedsChanges: true,
	OutcomeTimeout:      true,
	OutcomeError:        true,
}

// Validate checks that a Mission has all required fields and valid values.
func (m *Mission) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.Objective == "" {
		return fmt.Errorf("objective is required")
	}
	if m.Status != "" && !validStatuses[m.Status] {
		return fmt.Errorf("invalid status %q", m.Status)
	}
	if m.Round < 0 {
		return fmt.Errorf("round must be non-negative")
	}
	if m.MaxRounds <= 0 {
		return fmt.Errorf("max_rounds must be positive")
	}
	if m.CostUSD < 0 {
		return fmt.Errorf("cost_usd must be non-negative")
	}
	return nil
}

// Validate checks that a StartRequest has all required fields.
func (r *StartRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if r.Objective == "" {
		return fmt.Errorf("objective is required: %w", domain.ErrValidation)
	}
	if r.MaxRounds < 0 {
		return fmt.Errorf("max_rounds must be non-negative: %w", domain.ErrValidation)
	}
	if r.CostCapUSD < 0 {
		return fmt.Errorf("cost_cap_usd must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}

// Validate checks that a Round is well-formed before it is appended.
func (r *Round) Validate() error {
	if r.MissionID == "" {
		return fmt.Errorf("mission_id is required")
	}
	if r.Index < 0 {
		return fmt.Errorf("index must be non-negative")
	}
	if !validOutcomes[r.Outcome] {
		return fmt.Errorf("invalid outcome %q", r.Outcome)
	}
	return nil
}
