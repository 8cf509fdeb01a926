package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchestry/missiond/internal/adapter/otel"
	"github.com/orchestry/missiond/internal/config"
	"github.com/orchestry/missiond/internal/domain"
	"github.com/orchestry/missiond/internal/domain/approval"
	"github.com/orchestry/missiond/internal/domain/event"
	"github.com/orchestry/missiond/internal/port/database"
	"github.com/orchestry/missiond/internal/port/eventsink"
)

// ResolvedFunc is invoked once when a request reaches a terminal
// status. Comments carries the reject or escalation comments, for
// feeding back into a suspended mission.
type ResolvedFunc func(ctx context.Context, requestID string, status approval.RequestStatus, comments []string)

// ApprovalService runs approval requests through their workflow DAG:
// instantiation with auto-approval and conditional step inclusion,
// decision submission with quorum and first-reject-wins, wave
// advancement, and timeout-driven escalation (see SweepOnce).
type ApprovalService struct {
	store    database.Store
	registry *RegistryService
	sink     eventsink.Sink
	cfg      config.Approval
	metrics  *otel.Metrics

	onResolved ResolvedFunc

	// Same-step decisions do not commute (quorum, first-reject-wins),
	// so each request gets a linearizing mutex.
	mu       sync.Mutex
	requests map[string]*sync.Mutex
}

// NewApprovalService creates an ApprovalService.
func NewApprovalService(store database.Store, registry *RegistryService, sink eventsink.Sink, cfg config.Approval, metrics *otel.Metrics) *ApprovalService {
	return &ApprovalService{
		store:    store,
		registry: registry,
		sink:     sink,
		cfg:      cfg,
		metrics:  metrics,
		requests: make(map[string]*sync.Mutex),
	}
}

// SetOnResolved registers the terminal-status callback. Must be called
// before any request can resolve (i.e. during wiring).
func (s *ApprovalService) SetOnResolved(fn ResolvedFunc) {
	s.onResolved = fn
}

func (s *ApprovalService) requestLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.requests[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.requests[id] = l
	return l
}

func (s *ApprovalService) releaseLock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
}

// CreateRequest instantiates a workflow template against a payload.
// The auto-approval condition is evaluated first; when it holds, the
// request is created already approved with one system-attributed
// decision record. Otherwise the first wave of steps is armed.
func (s *ApprovalService) CreateRequest(ctx context.Context, workflowID, missionID string, payload map[string]any, createdBy string) (*approval.Request, error) {
	wf, err := s.registry.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	ctx, span := otel.StartApprovalSpan(ctx, "", workflowID)
	defer span.End()

	now := time.Now().UTC()
	req := &approval.Request{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		MissionID:  missionID,
		Payload:    payload,
		Status:     approval.RequestPending,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if wf.AutoApprove != nil {
		auto, err := wf.AutoApprove.Eval(payload)
		if err != nil {
			return nil, fmt.Errorf("auto_approve condition for %s: %w", workflowID, err)
		}
		if auto {
			req.Status = approval.RequestApproved
			if err := s.store.CreateRequest(ctx, req, nil); err != nil {
				return nil, err
			}
			d := &approval.Decision{
				ID:        uuid.NewString(),
				RequestID: req.ID,
				Approver:  approval.SystemApprover,
				Value:     approval.DecisionApprove,
				Comment:   "auto-approval condition satisfied",
				CreatedAt: now,
			}
			if err := s.store.AppendDecision(ctx, d); err != nil {
				return nil, err
			}
			s.emit(ctx, event.TypeApprovalResolved, missionID, req.ID, map[string]any{"status": req.Status})
			slog.Info("request auto-approved", "request_id", req.ID, "workflow_id", workflowID)
			if s.onResolved != nil {
				s.onResolved(ctx, req.ID, approval.RequestApproved, nil)
			}
			return req, nil
		}
	}

	included, condErrs := approval.IncludedSteps(wf, payload)
	ready := approval.ReadySteps(wf, included, initialResolved(included))

	var states []approval.StepState
	for _, id := range ready {
		states = append(states, s.armStep(wf, id, now, false))
	}
	// A step whose include-condition cannot be evaluated is neither
	// skipped nor silently run: it goes straight to the admin role.
	for id, cerr := range condErrs {
		slog.Warn("include condition failed, escalating step",
			"workflow_id", workflowID, "step_id", id, "error", cerr)
		st := s.armStep(wf, id, now, true)
		st.CurrentRole = s.cfg.AdminRole
		states = append(states, st)
	}
	for i := range states {
		states[i].RequestID = req.ID
	}

	if err := s.store.CreateRequest(ctx, req, states); err != nil {
		return nil, err
	}
	// Condition-error escalations are recorded in the decision log so
	// derived state stays a pure fold: when such a step later expires,
	// the sweep's escalate is already its second and therefore terminal.
	for id, cerr := range condErrs {
		d := &approval.Decision{
			ID:        uuid.NewString(),
			RequestID: req.ID,
			StepID:    id,
			Approver:  approval.SystemEscalator,
			Role:      wf.StepByID(id).ApproverRole,
			Value:     approval.DecisionEscalate,
			Comment:   fmt.Sprintf("include condition: %v", cerr),
			CreatedAt: now,
		}
		if err := s.store.AppendDecision(ctx, d); err != nil {
			return nil, err
		}
	}
	s.emit(ctx, event.TypeApprovalRequested, missionID, req.ID, map[string]any{
		"workflow_id": workflowID,
		"steps":       len(states),
	})
	slog.Info("approval request created", "request_id", req.ID, "workflow_id", workflowID, "first_wave", len(states))
	return req, nil
}

// initialResolved marks excluded steps as skipped so the first wave
// computation can pass over them.
func initialResolved(included map[string]bool) map[string]approval.StepStatus {
	resolved := make(map[string]approval.StepStatus)
	for id, inc := range included {
		if !inc {
			resolved[id] = approval.StepSkipped
		}
	}
	return resolved
}

func (s *ApprovalService) armStep(wf *approval.Workflow, stepID string, now time.Time, escalated bool) approval.StepState {
	st := wf.StepByID(stepID)
	timeout := st.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	return approval.StepState{
		StepID:      stepID,
		Status:      approval.StepAwaitingDecision,
		CurrentRole: st.ApproverRole,
		Escalated:   escalated,
		Deadline:    now.Add(timeout),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SubmitDecision records one approver's vote and advances the request.
func (s *ApprovalService) SubmitDecision(ctx context.Context, requestID, stepID, approver, role string, value approval.DecisionValue, comment string) (*approval.Request, error) {
	lock := s.requestLock(requestID)
	lock.Lock()
	defer lock.Unlock()

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, fmt.Errorf("request %s is already %s: %w", requestID, req.Status, domain.ErrConflict)
	}

	states, err := s.store.ListStepStates(ctx, requestID)
	if err != nil {
		return nil, err
	}
	current := findStep(states, stepID)
	if current == nil {
		return nil, fmt.Errorf("step %s is not active on request %s: %w", stepID, requestID, domain.ErrNotFound)
	}
	if current.Status != approval.StepAwaitingDecision {
		return nil, fmt.Errorf("step %s is %s, not awaiting a decision: %w", stepID, current.Status, domain.ErrConflict)
	}
	if role != current.CurrentRole {
		return nil, fmt.Errorf("step %s requires role %s, approver has %s: %w",
			stepID, current.CurrentRole, role, domain.ErrValidation)
	}

	d := &approval.Decision{
		ID:        uuid.NewString(),
		RequestID: requestID,
		StepID:    stepID,
		Approver:  approver,
		Role:      role,
		Value:     value,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendDecision(ctx, d); err != nil {
		return nil, err
	}
	s.emit(ctx, event.TypeApprovalDecision, req.MissionID, requestID, map[string]any{
		"step_id": stepID, "approver": approver, "value": value,
	})

	if err := s.advance(ctx, req, d); err != nil {
		return nil, err
	}
	return s.store.GetRequest(ctx, requestID)
}

// advance recomputes the request's derived state from its full decision
// log and reconciles the stored step states: resolves voted steps,
// re-arms freshly escalated ones, instantiates the next wave, and fires
// the resolution callback on terminal status. Caller holds the request
// lock.
func (s *ApprovalService) advance(ctx context.Context, req *approval.Request, last *approval.Decision) error {
	wf, err := s.registry.Get(ctx, req.WorkflowID)
	if err != nil {
		return err
	}
	decisions, err := s.store.ListDecisions(ctx, req.ID)
	if err != nil {
		return err
	}
	// Steps whose include-condition could not be evaluated were armed
	// under the admin role at creation; the fold treats them as included.
	included, condErrs := approval.IncludedSteps(wf, req.Payload)
	for id := range condErrs {
		included[id] = true
	}
	replay, err := approval.ReplayIncluded(wf, included, decisions)
	if err != nil {
		return fmt.Errorf("replay request %s: %w", req.ID, err)
	}

	states, err := s.store.ListStepStates(ctx, req.ID)
	if err != nil {
		return err
	}
	// Deadlines derive from the triggering decision's timestamp so the
	// sweeper's logical clock carries through re-arms.
	now := time.Now().UTC()
	if last != nil && last.CreatedAt.After(now) {
		now = last.CreatedAt
	}

	for i := range states {
		st := &states[i]
		derived, ok := replay.Steps[st.StepID]
		if !ok {
			continue
		}
		// A step the sweep drove to timed_out re-arms under the
		// escalation role when the fold still has it awaiting.
		if derived == approval.StepAwaitingDecision && st.Status == approval.StepTimedOut {
			s.rearm(ctx, wf, st, now)
			continue
		}
		if derived == st.Status {
			// Freshly escalated steps stay awaiting in the fold but
			// must be re-armed under the escalation role.
			if derived == approval.StepAwaitingDecision &&
				last != nil && last.StepID == st.StepID && last.Value == approval.DecisionEscalate && !st.Escalated {
				s.rearm(ctx, wf, st, now)
			}
			continue
		}
		st.Status = derived
		if err := s.store.UpdateStepState(ctx, st); err != nil {
			return err
		}
	}

	if replay.Status.IsTerminal() {
		if err := s.store.UpdateRequestStatus(ctx, req.ID, replay.Status); err != nil {
			return err
		}
		s.emit(ctx, event.TypeApprovalResolved, req.MissionID, req.ID, map[string]any{"status": replay.Status})
		slog.Info("approval request resolved", "request_id", req.ID, "status", replay.Status)
		s.releaseLock(req.ID)
		if s.onResolved != nil {
			s.onResolved(ctx, req.ID, replay.Status, rejectComments(decisions))
		}
		return nil
	}

	// Next wave: included steps not yet instantiated whose predecessors
	// are all satisfied.
	known := make(map[string]approval.StepStatus, len(states))
	for i := range states {
		known[states[i].StepID] = states[i].Status
	}
	for id, status := range replay.Steps {
		if _, have := known[id]; !have {
			known[id] = status
		}
	}

	var wave []approval.StepState
	for _, id := range approval.ReadySteps(wf, included, known) {
		st := s.armStep(wf, id, now, false)
		st.RequestID = req.ID
		wave = append(wave, st)
	}
	if len(wave) > 0 {
		if err := s.store.InsertStepStates(ctx, wave); err != nil {
			return err
		}
		slog.Info("approval wave advanced", "request_id", req.ID, "steps", len(wave))
	}
	return nil
}

// rearm retargets a step at its escalation role with a fresh deadline.
func (s *ApprovalService) rearm(ctx context.Context, wf *approval.Workflow, st *approval.StepState, now time.Time) {
	tmpl := wf.StepByID(st.StepID)
	role := tmpl.EscalationRole
	if role == "" {
		role = s.cfg.AdminRole
	}
	timeout := tmpl.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	st.CurrentRole = role
	st.Escalated = true
	st.Status = approval.StepAwaitingDecision
	st.Deadline = now.Add(timeout)
	if err := s.store.UpdateStepState(ctx, st); err != nil {
		slog.Error("step re-arm failed", "request_id", st.RequestID, "step_id", st.StepID, "error", err)
		return
	}
	slog.Info("step escalated", "request_id", st.RequestID, "step_id", st.StepID, "role", role)
}

// GetRequest returns a request with its step states and decision log.
func (s *ApprovalService) GetRequest(ctx context.Context, id string) (*approval.Request, []approval.StepState, []approval.Decision, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	states, err := s.store.ListStepStates(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	decisions, err := s.store.ListDecisions(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return req, states, decisions, nil
}

// ListOpen returns all pending requests.
func (s *ApprovalService) ListOpen(ctx context.Context) ([]approval.Request, error) {
	return s.store.ListOpenRequests(ctx)
}

// rejectComments extracts the comments from reject and escalate
// decisions, for mission feedback.
func rejectComments(decisions []approval.Decision) []string {
	var out []string
	for i := range decisions {
		d := &decisions[i]
		if d.Value != approval.DecisionApprove && d.Comment != "" {
			out = append(out, d.Comment)
		}
	}
	return out
}

func findStep(states []approval.StepState, stepID string) *approval.StepState {
	for i := range states {
		if states[i].StepID == stepID {
			return &states[i]
		}
	}
	return nil
}

func (s *ApprovalService) emit(ctx context.Context, t event.Type, missionID, requestID string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event payload", "type", t, "error", err)
		data = []byte(`{}`)
	}
	s.sink.Emit(ctx, &event.Event{
		ID:        uuid.NewString(),
		MissionID: missionID,
		RequestID: requestID,
		Type:      t,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	})
}
