package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/orchestry/missiond/internal/adapter/otel"
	"github.com/orchestry/missiond/internal/config"
	"github.com/orchestry/missiond/internal/domain"
	"github.com/orchestry/missiond/internal/domain/approval"
	"github.com/orchestry/missiond/internal/domain/checkpoint"
	"github.com/orchestry/missiond/internal/domain/cost"
	"github.com/orchestry/missiond/internal/domain/event"
	"github.com/orchestry/missiond/internal/domain/mission"
	checkpointport "github.com/orchestry/missiond/internal/port/checkpoint"
	"github.com/orchestry/missiond/internal/port/collaborator"
	"github.com/orchestry/missiond/internal/port/database"
	"github.com/orchestry/missiond/internal/port/eventsink"
)

// MissionService is the run-loop controller. One mission is one
// sequential state machine in its own goroutine; missions run
// concurrently but rounds of the same mission never do.
type MissionService struct {
	store       database.Store
	checkpoints checkpointport.Store
	client      collaborator.Client
	approvals   *ApprovalService
	sink        eventsink.Sink
	cfg         config.Mission
	pricing     *cost.Pricing
	metrics     *otel.Metrics

	sem chan struct{} // bounds concurrently executing missions

	mu      sync.Mutex
	running map[string]*runHandle

	// resolveMu serializes approval resolutions so the suspend path's
	// re-check and the engine callback cannot both act on one request.
	resolveMu sync.Mutex
}

// runHandle identifies one launched run goroutine; cleanup only removes
// its own registration, never a relaunch that replaced it.
type runHandle struct {
	cancel context.CancelFunc
}

// NewMissionService creates the controller. The approval service's
// resolution callback is wired here; callers must not re-wire it.
func NewMissionService(
	store database.Store,
	checkpoints checkpointport.Store,
	client collaborator.Client,
	approvals *ApprovalService,
	sink eventsink.Sink,
	cfg config.Mission,
	pricing *cost.Pricing,
	metrics *otel.Metrics,
) *MissionService {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	s := &MissionService{
		store:       store,
		checkpoints: checkpoints,
		client:      client,
		approvals:   approvals,
		sink:        sink,
		cfg:         cfg,
		pricing:     pricing,
		metrics:     metrics,
		sem:         make(chan struct{}, maxConcurrent),
		running:     make(map[string]*runHandle),
	}
	if approvals != nil {
		approvals.SetOnResolved(s.handleApprovalResolved)
	}
	return s
}

// runState is the in-memory controller state for one mission. It is
// rebuilt from exactly one checkpoint on resume; the ledger and
// detector never have their own persistence.
type runState struct {
	m        *mission.Mission
	ledger   *cost.Ledger
	detector *mission.RetryLoopDetector

	planContent string
	workContent string
	lastOutcome mission.Outcome
	warned      bool // cost warning emitted once per run
}

// Start validates and launches a new mission.
func (s *MissionService) Start(ctx context.Context, req mission.StartRequest) (*mission.Mission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	maxRounds := req.MaxRounds
	if maxRounds == 0 {
		maxRounds = s.cfg.MaxRounds
	}
	capUSD := req.CostCapUSD
	if capUSD == 0 {
		capUSD = s.cfg.DefaultCostCapUSD
	}
	var warnUSD float64
	if capUSD > 0 && s.cfg.CostWarnRatio > 0 {
		warnUSD = capUSD * s.cfg.CostWarnRatio
	}

	now := time.Now().UTC()
	m := &mission.Mission{
		ID:               uuid.NewString(),
		Name:             req.Name,
		Status:           mission.StatusPlanning,
		MaxRounds:        maxRounds,
		CostCapUSD:       capUSD,
		CostWarnUSD:      warnUSD,
		Model:            req.Model,
		Objective:        req.Objective,
		ApprovalWorkflow: req.ApprovalWorkflow,
		StartedAt:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := s.store.CreateMission(ctx, m); err != nil {
		return nil, err
	}

	s.emit(ctx, event.TypeMissionStarted, m.ID, map[string]any{"objective": m.Objective})
	if s.metrics != nil {
		s.metrics.MissionsStarted.Add(ctx, 1)
	}
	slog.Info("mission started", "mission_id", m.ID, "max_rounds", maxRounds, "cost_cap_usd", capUSD)

	st := &runState{
		m:        m,
		ledger:   cost.NewLedger(s.pricing),
		detector: mission.NewRetryLoopDetector(s.cfg.RetryLoopThreshold),
	}
	s.launch(st)
	return m, nil
}

// Resume reconstructs a mission's controller state from its checkpoint
// and relaunches the loop. A corrupt checkpoint fails loudly; resuming
// from zero would silently lose real spend against the cap.
func (s *MissionService) Resume(ctx context.Context, id string) (*mission.Mission, error) {
	m, err := s.store.GetMission(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status.IsTerminal() {
		return nil, fmt.Errorf("mission %s is %s: %w", id, m.Status, domain.ErrConflict)
	}
	if s.isRunning(id) {
		return nil, fmt.Errorf("mission %s is already running: %w", id, domain.ErrConflict)
	}

	cp, err := s.checkpoints.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	var st *runState
	if cp == nil {
		// Absence means no round ever completed: restart from scratch.
		m.Status = mission.StatusPlanning
		m.Round = 0
		st = &runState{
			m:        m,
			ledger:   cost.NewLedger(s.pricing),
			detector: mission.NewRetryLoopDetector(s.cfg.RetryLoopThreshold),
		}
	} else {
		st = s.restore(m, cp)
	}
	s.emit(ctx, event.TypeMissionResumed, m.ID, map[string]any{
		"round": m.Round, "cost_usd": m.CostUSD, "status": m.Status,
	})
	if s.metrics != nil {
		s.metrics.MissionsResumed.Add(ctx, 1)
	}
	slog.Info("mission resumed", "mission_id", id, "round", m.Round, "cost_usd", m.CostUSD)

	if m.Status != mission.StatusAwaitingApproval {
		s.launch(st)
	}
	// A mission suspended on approval stays parked; the resolution
	// callback relaunches it.
	return m, nil
}

func (s *MissionService) restore(m *mission.Mission, cp *checkpoint.Checkpoint) *runState {
	m.Round = cp.Round
	m.Status = cp.Status
	m.CostUSD = cp.CostUSD
	m.Feedback = cp.LastFeedback
	m.Artifacts = cp.Artifacts
	if cp.ApprovalReq != "" {
		m.ApprovalRequestID = cp.ApprovalReq
	}

	led := cost.NewLedger(s.pricing)
	led.Restore(cp.CostUSD)
	det := mission.NewRetryLoopDetector(s.cfg.RetryLoopThreshold)
	det.Restore(cp.RetryHash, cp.RetryRepeats)

	return &runState{m: m, ledger: led, detector: det, lastOutcome: cp.LastOutcome}
}

// Cancel stops a mission at its next suspension point. The final
// checkpoint is persisted before the status flips, so a
// cancelled-but-crashed mission is distinguishable from a live one.
func (s *MissionService) Cancel(ctx context.Context, id string) error {
	m, err := s.store.GetMission(ctx, id)
	if err != nil {
		return err
	}
	if m.Status.IsTerminal() {
		return fmt.Errorf("mission %s is already %s: %w", id, m.Status, domain.ErrConflict)
	}

	s.mu.Lock()
	h, live := s.running[id]
	s.mu.Unlock()
	if live {
		h.cancel()
		return nil // the loop persists the cancelled state on its way out
	}

	// Parked (awaiting approval) or orphaned: finalize directly.
	st := &runState{m: m, ledger: cost.NewLedger(s.pricing), detector: mission.NewRetryLoopDetector(s.cfg.RetryLoopThreshold)}
	st.ledger.Restore(m.CostUSD)
	s.finish(ctx, st, mission.StatusCancelled, "cancelled by operator")
	return nil
}

// Get returns one mission.
func (s *MissionService) Get(ctx context.Context, id string) (*mission.Mission, error) {
	return s.store.GetMission(ctx, id)
}

// List returns recent missions.
func (s *MissionService) List(ctx context.Context, limit int) ([]mission.Mission, error) {
	return s.store.ListMissions(ctx, limit)
}

// Rounds returns a mission's round history.
func (s *MissionService) Rounds(ctx context.Context, id string) ([]mission.Round, error) {
	return s.store.ListRounds(ctx, id)
}

// Events returns a mission's audit trail.
func (s *MissionService) Events(ctx context.Context, id string) ([]event.Event, error) {
	return s.store.ListEventsByMission(ctx, id)
}

func (s *MissionService) isRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// launch runs the mission loop in its own goroutine under the
// concurrency limiter.
func (s *MissionService) launch(st *runState) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &runHandle{cancel: cancel}
	s.mu.Lock()
	s.running[st.m.ID] = h
	s.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			if s.running[st.m.ID] == h {
				delete(s.running, st.m.ID)
			}
			s.mu.Unlock()
		}()

		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			s.finish(ctx, st, mission.StatusCancelled, "cancelled while queued")
			return
		}

		s.run(ctx, st)
	}()
}

// run drives the state machine until a terminal state or suspension.
func (s *MissionService) run(ctx context.Context, st *runState) {
	ctx, span := otel.StartMissionSpan(ctx, st.m.ID, st.m.Objective)
	defer span.End()

	for {
		if st.m.Status.IsTerminal() || st.m.Status == mission.StatusAwaitingApproval {
			return
		}
		if ctx.Err() != nil {
			s.finish(context.WithoutCancel(ctx), st, mission.StatusCancelled, "cancelled by operator")
			return
		}

		result := s.advance(ctx, st)
		if result != mission.ResultContinue {
			return
		}
	}
}

// advance performs one collaborator call and the transition it implies:
// cap check, call, outcome classification, retry-loop check, checkpoint.
func (s *MissionService) advance(ctx context.Context, st *runState) mission.Result {
	m := st.m
	role := roleFor(m.Status)

	rctx, span := otel.StartRoundSpan(ctx, m.ID, m.Round, string(role))
	defer span.End()

	// Predictive cap check before the call is dispatched.
	estimate := s.cfg.EstimateTokens
	if wouldExceed, total, msg := st.ledger.CheckCap(m.CostCapUSD, estimate, m.Model); wouldExceed {
		slog.Warn("cost cap would be exceeded", "mission_id", m.ID, "total_usd", total, "detail", msg)
		s.finish(rctx, st, mission.StatusAbortedCostCap, msg)
		return mission.ResultTerminal
	}

	resp, err := s.client.Complete(rctx, collaborator.Request{
		MissionID:      m.ID,
		Role:           role,
		Prompt:         s.promptFor(st, role),
		Feedback:       m.Feedback,
		ModelHint:      m.Model,
		MaxCostUSD:     m.CostCapUSD,
		EstimateTokens: estimate,
	})
	if err != nil {
		if ctx.Err() != nil {
			s.finish(context.WithoutCancel(ctx), st, mission.StatusCancelled, "cancelled by operator")
			return mission.ResultTerminal
		}
		outcome := mission.OutcomeError
		if errors.Is(err, collaborator.ErrTimeout) {
			outcome = mission.OutcomeTimeout
		}
		slog.Error("collaborator call failed", "mission_id", m.ID, "role", role, "outcome", outcome, "error", err)
		s.finish(rctx, st, mission.StatusAbortedError, fmt.Sprintf("%s: %v", outcome, err))
		return mission.ResultTerminal
	}

	s.registerCost(rctx, st, role, resp)

	switch role {
	case mission.RolePlanner:
		st.planContent = resp.Content
		m.Status = mission.StatusExecuting
		return mission.ResultContinue

	case mission.RoleWorker:
		st.workContent = resp.Content
		m.Artifacts = mergeArtifacts(m.Artifacts, resp.Artifacts)
		m.Status = mission.StatusReviewing
		return mission.ResultContinue

	default: // supervisor review closes the round
		return s.review(rctx, st, resp)
	}
}

// review classifies the supervisor's verdict and closes the round.
func (s *MissionService) review(ctx context.Context, st *runState, resp *collaborator.Response) mission.Result {
	m := st.m
	outcome := resp.Outcome
	if outcome == "" {
		outcome = mission.OutcomeError
	}

	round := &mission.Round{
		MissionID: m.ID,
		Index:     m.Round,
		Role:      mission.RoleSupervisor,
		Outcome:   outcome,
		Feedback:  resp.Feedback,
		Artifacts: resp.Artifacts,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendRound(ctx, round); err != nil {
		slog.Error("append round failed", "mission_id", m.ID, "round", m.Round, "error", err)
	}
	s.emit(ctx, event.TypeRoundCompleted, m.ID, map[string]any{
		"round": m.Round, "outcome": outcome, "feedback": resp.Feedback,
	})
	if s.metrics != nil {
		s.metrics.RoundsCompleted.Add(ctx, 1)
	}

	st.lastOutcome = outcome
	abort := st.detector.Classify(outcome, resp.Feedback)

	switch outcome {
	case mission.OutcomeApproved:
		if m.ApprovalWorkflow != "" {
			return s.suspendForApproval(ctx, st)
		}
		s.finish(ctx, st, mission.StatusCompleted, "")
		return mission.ResultTerminal

	case mission.OutcomeNeedsChanges:
		if abort {
			s.finish(ctx, st, mission.StatusAbortedRetryLoop,
				"no-progress retry loop: reviewer repeated identical feedback")
			return mission.ResultTerminal
		}
		if m.Round+1 >= m.MaxRounds {
			s.finish(ctx, st, mission.StatusAbortedMaxRounds,
				fmt.Sprintf("max rounds (%d) exhausted with changes still requested", m.MaxRounds))
			return mission.ResultTerminal
		}
		m.Round++
		m.Feedback = resp.Feedback // carried verbatim into the next round
		m.Status = mission.StatusExecuting
		s.checkpointNow(ctx, st)
		s.progress(ctx, st)
		return mission.ResultContinue

	default: // timeout or error verdict from the reviewer
		s.finish(ctx, st, mission.StatusAbortedError, fmt.Sprintf("reviewer returned %s", outcome))
		return mission.ResultTerminal
	}
}

// suspendForApproval checkpoints the mission and hands it to the
// approval engine. The checkpoint precedes the request so a crash
// during the human wait resumes without redoing the round.
func (s *MissionService) suspendForApproval(ctx context.Context, st *runState) mission.Result {
	m := st.m
	m.Status = mission.StatusAwaitingApproval
	s.checkpointNow(ctx, st)

	payload := map[string]any{
		"mission_id": m.ID,
		"name":       m.Name,
		"objective":  m.Objective,
		"round":      m.Round,
		"cost_usd":   st.ledger.Total(),
	}
	req, err := s.approvals.CreateRequest(ctx, m.ApprovalWorkflow, m.ID, payload, "mission:"+m.ID)
	if err != nil {
		slog.Error("approval request creation failed", "mission_id", m.ID, "error", err)
		s.finish(ctx, st, mission.StatusAbortedError, fmt.Sprintf("approval request: %v", err))
		return mission.ResultTerminal
	}
	if req.Status == approval.RequestApproved {
		// Auto-approved, no human wait.
		s.finish(ctx, st, mission.StatusCompleted, "")
		return mission.ResultTerminal
	}

	m.ApprovalRequestID = req.ID
	if err := s.store.SetMissionApprovalRequest(ctx, m.ID, req.ID); err != nil {
		slog.Error("record approval request failed", "mission_id", m.ID, "error", err)
	}
	s.checkpointNow(ctx, st) // capture the request ID for resume
	// Status flips last: anyone who observes awaiting_approval can
	// already look the request up.
	s.progress(ctx, st)
	slog.Info("mission suspended for approval", "mission_id", m.ID, "request_id", req.ID)

	// The request was decidable the moment it committed. A decision
	// landing before the status flip finds the mission still in its
	// pre-suspension state and drops the resolution, so re-check now
	// that awaiting_approval is durable.
	if final, err := s.store.GetRequest(ctx, req.ID); err == nil && final.Status.IsTerminal() {
		decisions, derr := s.store.ListDecisions(ctx, req.ID)
		if derr != nil {
			slog.Error("list decisions on suspend re-check failed", "request_id", req.ID, "error", derr)
		}
		s.handleApprovalResolved(ctx, req.ID, final.Status, rejectComments(decisions))
	}
	return mission.ResultSuspend
}

// handleApprovalResolved is the approval engine's terminal callback.
// Serialized: the awaiting_approval check below makes a duplicate
// invocation for the same request a no-op.
func (s *MissionService) handleApprovalResolved(ctx context.Context, requestID string, status approval.RequestStatus, comments []string) {
	s.resolveMu.Lock()
	defer s.resolveMu.Unlock()

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil || req.MissionID == "" {
		return // request not tied to a mission
	}
	m, err := s.store.GetMission(ctx, req.MissionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("approval resolution lookup failed", "request_id", requestID, "error", err)
		}
		return
	}
	if m.Status != mission.StatusAwaitingApproval {
		return
	}

	cp, err := s.checkpoints.Load(ctx, m.ID)
	if err != nil || cp == nil {
		slog.Error("checkpoint missing on approval resolution", "mission_id", m.ID, "error", err)
		return
	}
	st := s.restore(m, cp)

	switch status {
	case approval.RequestApproved:
		s.finish(ctx, st, mission.StatusCompleted, "")

	case approval.RequestRejected:
		// Rejection feeds the approver comments back into the loop.
		if m.Round+1 >= m.MaxRounds {
			s.finish(ctx, st, mission.StatusAbortedMaxRounds,
				fmt.Sprintf("max rounds (%d) exhausted after approval rejection", m.MaxRounds))
			return
		}
		m.Round++
		m.Feedback = comments
		m.Status = mission.StatusExecuting
		s.checkpointNow(ctx, st)
		s.progress(ctx, st)
		slog.Info("mission resumed after rejection", "mission_id", m.ID, "feedback", len(comments))
		s.launch(st)

	case approval.RequestEscalated:
		s.finish(ctx, st, mission.StatusAbortedError,
			"approval escalation exhausted, external intervention required")
	}
}

// registerCost prices the call, appends the audit entry and emits the
// one-shot warning when spend crosses the warn threshold.
func (s *MissionService) registerCost(ctx context.Context, st *runState, role mission.Role, resp *collaborator.Response) {
	m := st.m
	total := st.ledger.Register(string(role), resp.Model, resp.TokensIn, resp.TokensOut)
	m.CostUSD = total

	entry := &cost.Entry{
		Role:      string(role),
		Model:     resp.Model,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		CostUSD:   s.pricingTable().Cost(resp.Model, resp.TokensIn, resp.TokensOut),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendCostEntry(ctx, m.ID, entry); err != nil {
		slog.Error("append cost entry failed", "mission_id", m.ID, "error", err)
	}
	s.emit(ctx, event.TypeCostRegistered, m.ID, map[string]any{
		"role": role, "model": resp.Model, "cost_usd": entry.CostUSD, "total_usd": total,
	})

	if !st.warned && m.CostWarnUSD > 0 && total >= m.CostWarnUSD {
		st.warned = true
		s.emit(ctx, event.TypeCostWarning, m.ID, map[string]any{
			"total_usd": total, "cap_usd": m.CostCapUSD,
		})
		slog.Warn("mission spend crossed warn threshold",
			"mission_id", m.ID, "total_usd", total, "cap_usd", m.CostCapUSD)
	}
}

func (s *MissionService) pricingTable() *cost.Pricing {
	if s.pricing != nil {
		return s.pricing
	}
	return cost.DefaultPricing()
}

// checkpointNow persists the current controller state. Checkpoints are
// overwritten in place; round N's write happens before round N+1 starts.
func (s *MissionService) checkpointNow(ctx context.Context, st *runState) {
	m := st.m
	cp := &checkpoint.Checkpoint{
		MissionID:    m.ID,
		Round:        m.Round,
		Status:       m.Status,
		CostUSD:      st.ledger.Total(),
		LastOutcome:  st.lastOutcome,
		LastFeedback: m.Feedback,
		RetryRepeats: st.detector.Repeats(),
		RetryHash:    st.detector.LastHash(),
		Artifacts:    m.Artifacts,
		ApprovalReq:  m.ApprovalRequestID,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.checkpoints.Save(ctx, cp); err != nil {
		slog.Error("checkpoint save failed", "mission_id", m.ID, "error", err)
		return
	}
	s.emit(ctx, event.TypeCheckpointSaved, m.ID, map[string]any{"round": m.Round, "status": m.Status})
	if s.metrics != nil {
		s.metrics.CheckpointWrites.Add(ctx, 1)
	}
}

// progress mirrors live state into the audit row.
func (s *MissionService) progress(ctx context.Context, st *runState) {
	m := st.m
	if err := s.store.UpdateMissionProgress(ctx, m.ID, m.Round, st.ledger.Total(), m.Artifacts); err != nil {
		slog.Error("update mission progress failed", "mission_id", m.ID, "error", err)
	}
	if err := s.store.UpdateMissionStatus(ctx, m.ID, m.Status, m.Error); err != nil {
		slog.Error("update mission status failed", "mission_id", m.ID, "error", err)
	}
}

// finish drives the mission to a terminal status. The checkpoint is
// cleared only on completed; aborted missions keep theirs for forensic
// inspection.
func (s *MissionService) finish(ctx context.Context, st *runState, status mission.Status, errMsg string) {
	m := st.m
	m.Status = status
	m.Error = errMsg
	m.CostUSD = st.ledger.Total()

	if status == mission.StatusCompleted {
		if err := s.checkpoints.Clear(ctx, m.ID); err != nil {
			slog.Error("checkpoint clear failed", "mission_id", m.ID, "error", err)
		}
	} else {
		s.checkpointNow(ctx, st)
	}

	switch status {
	case mission.StatusCompleted:
		s.emit(ctx, event.TypeMissionCompleted, m.ID, map[string]any{
			"rounds": m.Round + 1, "cost_usd": m.CostUSD,
		})
		if s.metrics != nil {
			s.metrics.MissionsDone.Add(ctx, 1)
			s.metrics.MissionDuration.Record(ctx, time.Since(m.StartedAt).Seconds())
			s.metrics.MissionCost.Record(ctx, m.CostUSD)
		}
		slog.Info("mission completed", "mission_id", m.ID, "rounds", m.Round+1, "cost_usd", m.CostUSD)

	case mission.StatusCancelled:
		s.emit(ctx, event.TypeMissionCancelled, m.ID, map[string]any{"round": m.Round})
		slog.Info("mission cancelled", "mission_id", m.ID, "round", m.Round)

	default:
		s.emit(ctx, event.TypeMissionAborted, m.ID, map[string]any{
			"reason": string(status), "detail": errMsg, "round": m.Round,
		})
		if s.metrics != nil {
			s.metrics.MissionsAborted.Add(ctx, 1,
				metric.WithAttributes(attribute.String("reason", string(status))))
		}
		slog.Warn("mission aborted", "mission_id", m.ID, "reason", status, "detail", errMsg)
	}

	// Persist the terminal status last: once it is visible, the
	// checkpoint and audit events for this transition already exist.
	s.progress(ctx, st)
}

// promptFor composes the role prompt from the objective and the
// previous phases' output.
func (s *MissionService) promptFor(st *runState, role mission.Role) string {
	var b strings.Builder
	b.WriteString("Objective: ")
	b.WriteString(st.m.Objective)

	switch role {
	case mission.RoleWorker:
		if st.planContent != "" {
			b.WriteString("\n\nPlan:\n")
			b.WriteString(st.planContent)
		}
	case mission.RoleSupervisor:
		if st.workContent != "" {
			b.WriteString("\n\nWork to review:\n")
			b.WriteString(st.workContent)
		}
	}
	return b.String()
}

func roleFor(status mission.Status) mission.Role {
	switch status {
	case mission.StatusPlanning:
		return mission.RolePlanner
	case mission.StatusReviewing:
		return mission.RoleSupervisor
	default:
		return mission.RoleWorker
	}
}

func mergeArtifacts(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, a := range have {
		seen[a] = true
	}
	for _, a := range add {
		if !seen[a] {
			have = append(have, a)
			seen[a] = true
		}
	}
	return have
}

func (s *MissionService) emit(ctx context.Context, t event.Type, missionID string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event payload", "type", t, "error", err)
		data = []byte(`{}`)
	}
	s.sink.Emit(ctx, &event.Event{
		ID:        uuid.NewString(),
		MissionID: missionID,
		Type:      t,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	})
}
