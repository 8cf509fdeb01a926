package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orchestry/missiond/internal/domain/approval"
	"github.com/orchestry/missiond/internal/domain/event"
)

// RunSweeper drives the timeout sweep on a ticker until ctx is done.
// The sweep is the only polling component in the system; it scans the
// step table, never individual missions.
func (s *ApprovalService) RunSweeper(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("approval timeout sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("approval timeout sweeper stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx, time.Now().UTC()); err != nil {
				slog.Error("timeout sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce expires every awaiting step whose deadline has passed. An
// expired step passes through timed_out and its expiry is recorded as
// an escalate decision attributed to the sweeper, so derived request
// state stays a pure fold of the decision log: the first escalation
// re-arms the step under the escalation role, a second is terminal.
// A step already escalated at creation (include-condition error)
// terminal-escalates on its first expiry. Running the sweep
// twice over the same instant is a no-op — processed steps either carry
// a future deadline or are no longer awaiting.
func (s *ApprovalService) SweepOnce(ctx context.Context, now time.Time) error {
	expired, err := s.store.ListExpiredSteps(ctx, now)
	if err != nil {
		return err
	}

	for i := range expired {
		st := &expired[i]
		if err := s.expireStep(ctx, st, now); err != nil {
			slog.Error("expire step failed",
				"request_id", st.RequestID, "step_id", st.StepID, "error", err)
		}
	}
	return nil
}

func (s *ApprovalService) expireStep(ctx context.Context, st *approval.StepState, now time.Time) error {
	lock := s.requestLock(st.RequestID)
	lock.Lock()
	defer lock.Unlock()

	req, err := s.store.GetRequest(ctx, st.RequestID)
	if err != nil {
		return err
	}
	if req.Status.IsTerminal() {
		return nil
	}
	// Re-read under the lock: a decision may have resolved the step
	// between the scan and now.
	states, err := s.store.ListStepStates(ctx, st.RequestID)
	if err != nil {
		return err
	}
	current := findStep(states, st.StepID)
	if current == nil || current.Status != approval.StepAwaitingDecision || current.Deadline.After(now) {
		return nil
	}

	current.Status = approval.StepTimedOut
	current.UpdatedAt = now
	if err := s.store.UpdateStepState(ctx, current); err != nil {
		return err
	}

	d := &approval.Decision{
		ID:        uuid.NewString(),
		RequestID: st.RequestID,
		StepID:    st.StepID,
		Approver:  approval.SystemSweeper,
		Role:      current.CurrentRole,
		Value:     approval.DecisionEscalate,
		Comment:   "decision deadline expired",
		CreatedAt: now,
	}
	if err := s.store.AppendDecision(ctx, d); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ApprovalTimeouts.Add(ctx, 1)
	}
	s.emit(ctx, event.TypeApprovalTimeout, req.MissionID, st.RequestID, map[string]any{
		"step_id":   st.StepID,
		"escalated": current.Escalated,
	})
	slog.Info("approval step timed out",
		"request_id", st.RequestID, "step_id", st.StepID, "was_escalated", current.Escalated)

	return s.advance(ctx, req, d)
}
