package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/orchestry/missiond/internal/config"
	"github.com/orchestry/missiond/internal/domain"
	"github.com/orchestry/missiond/internal/domain/approval"
	"github.com/orchestry/missiond/internal/domain/checkpoint"
	"github.com/orchestry/missiond/internal/domain/cost"
	"github.com/orchestry/missiond/internal/domain/event"
	"github.com/orchestry/missiond/internal/domain/mission"
	"github.com/orchestry/missiond/internal/port/collaborator"
)

type missionHarness struct {
	svc         *MissionService
	approvals   *ApprovalService
	store       *fakeStore
	checkpoints *fakeCheckpoints
	client      *scriptedClient
	sink        *captureSink
}

func testMissionConfig() config.Mission {
	return config.Mission{
		MaxRounds:          5,
		RetryLoopThreshold: 2,
		CostWarnRatio:      0.8,
		EstimateTokens:     1000,
		MaxConcurrent:      4,
	}
}

func newMissionHarness(t *testing.T, client *scriptedClient, cfg config.Mission) *missionHarness {
	t.Helper()
	store := newFakeStore()
	checkpoints := newFakeCheckpoints()
	sink := &captureSink{}
	registry := NewRegistryService(store, newMemCache())
	approvals := NewApprovalService(store, registry, sink,
		config.Approval{DefaultTimeout: time.Hour, AdminRole: "admin"}, nil)
	svc := NewMissionService(store, checkpoints, client, approvals, sink, cfg, cost.DefaultPricing(), nil)
	return &missionHarness{
		svc:         svc,
		approvals:   approvals,
		store:       store,
		checkpoints: checkpoints,
		client:      client,
		sink:        sink,
	}
}

func (h *missionHarness) registerWorkflow(t *testing.T, wf *approval.Workflow) {
	t.Helper()
	if err := NewRegistryService(h.store, newMemCache()).Register(context.Background(), wf); err != nil {
		t.Fatalf("register workflow: %v", err)
	}
}

func (h *missionHarness) waitStatus(t *testing.T, id string, want mission.Status) *mission.Mission {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		m, err := h.store.GetMission(context.Background(), id)
		if err != nil {
			t.Fatalf("get mission: %v", err)
		}
		if m.Status == want {
			return m
		}
		time.Sleep(5 * time.Millisecond)
	}
	m, _ := h.store.GetMission(context.Background(), id)
	t.Fatalf("mission %s status = %s, want %s", id, m.Status, want)
	return nil
}

func reply(role mission.Role, outcome mission.Outcome, feedback ...string) collaborator.Response {
	return collaborator.Response{
		Outcome:   outcome,
		Content:   string(role) + " output",
		Feedback:  feedback,
		Model:     "openai/gpt-4o",
		TokensIn:  500,
		TokensOut: 200,
	}
}

func TestMissionCompletesWithoutApproval(t *testing.T) {
	client := &scriptedClient{script: []collaborator.Response{
		reply(mission.RolePlanner, ""),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeApproved),
	}}
	h := newMissionHarness(t, client, testMissionConfig())

	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "demo", Objective: "ship the feature", Model: "openai/gpt-4o",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	done := h.waitStatus(t, m.ID, mission.StatusCompleted)
	if done.CostUSD <= 0 {
		t.Fatalf("cost = %f, want positive after three calls", done.CostUSD)
	}
	if h.checkpoints.get(m.ID) != nil {
		t.Fatal("checkpoint not cleared on completion")
	}

	rounds, _ := h.store.ListRounds(context.Background(), m.ID)
	if len(rounds) != 1 || rounds[0].Outcome != mission.OutcomeApproved {
		t.Fatalf("rounds = %+v, want one approved round", rounds)
	}
	entries := h.store.costs[m.ID]
	if len(entries) != 3 {
		t.Fatalf("cost entries = %d, want one per call", len(entries))
	}
	types := h.sink.typesSeen()
	if types[event.TypeMissionStarted] != 1 || types[event.TypeMissionCompleted] != 1 {
		t.Fatalf("events = %v, want started and completed", types)
	}
}

func TestReviewerFeedbackCarriesIntoNextRound(t *testing.T) {
	client := &scriptedClient{script: []collaborator.Response{
		reply(mission.RolePlanner, ""),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeNeedsChanges, "add tests"),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeApproved),
	}}
	h := newMissionHarness(t, client, testMissionConfig())

	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "demo", Objective: "ship it", Model: "openai/gpt-4o",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	done := h.waitStatus(t, m.ID, mission.StatusCompleted)
	if done.Round != 1 {
		t.Fatalf("round = %d, want 1 after one needs_changes", done.Round)
	}

	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	worker2 := h.client.calls[3]
	if worker2.Role != mission.RoleWorker {
		t.Fatalf("call 3 role = %s, want worker", worker2.Role)
	}
	if len(worker2.Feedback) != 1 || worker2.Feedback[0] != "add tests" {
		t.Fatalf("feedback = %v, want reviewer feedback carried verbatim", worker2.Feedback)
	}
}

func TestIdenticalFeedbackAbortsRetryLoop(t *testing.T) {
	// Three consecutive rounds with byte-identical feedback.
	client := &scriptedClient{script: []collaborator.Response{
		reply(mission.RolePlanner, ""),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeNeedsChanges, "rename the helper"),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeNeedsChanges, "rename the helper"),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeNeedsChanges, "rename the helper"),
	}}
	h := newMissionHarness(t, client, testMissionConfig())

	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "stuck", Objective: "refactor", Model: "openai/gpt-4o",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	done := h.waitStatus(t, m.ID, mission.StatusAbortedRetryLoop)
	if !strings.Contains(done.Error, "retry loop") {
		t.Fatalf("error = %q, want retry loop reason", done.Error)
	}
	// Aborted missions keep their checkpoint for forensics.
	if h.checkpoints.get(m.ID) == nil {
		t.Fatal("checkpoint missing after abort")
	}
}

func TestMaxRoundsExhaustionAborts(t *testing.T) {
	client := &scriptedClient{script: []collaborator.Response{
		reply(mission.RolePlanner, ""),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeNeedsChanges, "issue one"),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeNeedsChanges, "issue two"),
	}}
	cfg := testMissionConfig()
	h := newMissionHarness(t, client, cfg)

	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "short", Objective: "try", Model: "openai/gpt-4o", MaxRounds: 2,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	done := h.waitStatus(t, m.ID, mission.StatusAbortedMaxRounds)
	if !strings.Contains(done.Error, "max rounds") {
		t.Fatalf("error = %q, want max rounds reason", done.Error)
	}
}

func TestCostCapBlocksBeforeCall(t *testing.T) {
	client := &scriptedClient{script: []collaborator.Response{reply(mission.RolePlanner, "")}}
	h := newMissionHarness(t, client, testMissionConfig())

	// The predictive check prices the full estimate at the output rate
	// (1000 tokens of gpt-4o is a cent); half a cent of cap trips
	// before any call is dispatched.
	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "capped", Objective: "expensive work", Model: "openai/gpt-4o", CostCapUSD: 0.005,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	h.waitStatus(t, m.ID, mission.StatusAbortedCostCap)
	if n := client.callCount(); n != 0 {
		t.Fatalf("collaborator called %d times, want 0", n)
	}
}

func TestCollaboratorTimeoutAborts(t *testing.T) {
	client := &scriptedClient{
		script: []collaborator.Response{reply(mission.RolePlanner, "")},
		errs:   map[int]error{0: collaborator.ErrTimeout},
	}
	h := newMissionHarness(t, client, testMissionConfig())

	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "flaky", Objective: "anything", Model: "openai/gpt-4o",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	done := h.waitStatus(t, m.ID, mission.StatusAbortedError)
	if !strings.Contains(done.Error, "timeout") {
		t.Fatalf("error = %q, want timeout classification", done.Error)
	}
}

func TestApprovalSuspendAndApprove(t *testing.T) {
	client := &scriptedClient{script: []collaborator.Response{
		reply(mission.RolePlanner, ""),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeApproved),
	}}
	h := newMissionHarness(t, client, testMissionConfig())
	h.registerWorkflow(t, &approval.Workflow{
		ID:    "signoff",
		Steps: []approval.Step{{ID: "human", ApproverRole: "lead"}},
	})

	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "gated", Objective: "deploy", Model: "openai/gpt-4o", ApprovalWorkflow: "signoff",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	suspended := h.waitStatus(t, m.ID, mission.StatusAwaitingApproval)
	if suspended.ApprovalRequestID == "" {
		t.Fatal("no approval request recorded")
	}
	cp := h.checkpoints.get(m.ID)
	if cp == nil || cp.Status != mission.StatusAwaitingApproval {
		t.Fatalf("checkpoint = %+v, want awaiting_approval persisted before the human wait", cp)
	}

	if _, err := h.approvals.SubmitDecision(context.Background(),
		suspended.ApprovalRequestID, "human", "carol", "lead", approval.DecisionApprove, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	h.waitStatus(t, m.ID, mission.StatusCompleted)
	if h.checkpoints.get(m.ID) != nil {
		t.Fatal("checkpoint not cleared after approved completion")
	}
}

func TestApprovalDecidedBeforeStatusFlipStillResolves(t *testing.T) {
	client := &scriptedClient{script: []collaborator.Response{
		reply(mission.RolePlanner, ""),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeApproved),
	}}
	h := newMissionHarness(t, client, testMissionConfig())
	h.registerWorkflow(t, &approval.Workflow{
		ID:    "signoff",
		Steps: []approval.Step{{ID: "human", ApproverRole: "lead"}},
	})

	// The approver decides the instant the request commits, before the
	// mission's stored status has flipped to awaiting_approval.
	h.store.onRequestCreated = func(req *approval.Request) {
		h.store.onRequestCreated = nil
		if _, err := h.approvals.SubmitDecision(context.Background(),
			req.ID, "human", "dana", "lead", approval.DecisionApprove, ""); err != nil {
			t.Errorf("approve during suspend: %v", err)
		}
	}

	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "gated", Objective: "deploy", Model: "openai/gpt-4o", ApprovalWorkflow: "signoff",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	h.waitStatus(t, m.ID, mission.StatusCompleted)
	if h.checkpoints.get(m.ID) != nil {
		t.Fatal("checkpoint not cleared after approved completion")
	}
}

func TestApprovalRejectionFeedsBackComments(t *testing.T) {
	client := &scriptedClient{script: []collaborator.Response{
		reply(mission.RolePlanner, ""),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeApproved),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeApproved),
	}}
	h := newMissionHarness(t, client, testMissionConfig())
	h.registerWorkflow(t, &approval.Workflow{
		ID:    "signoff",
		Steps: []approval.Step{{ID: "human", ApproverRole: "lead"}},
	})

	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "gated", Objective: "deploy", Model: "openai/gpt-4o", ApprovalWorkflow: "signoff",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	first := h.waitStatus(t, m.ID, mission.StatusAwaitingApproval)
	if _, err := h.approvals.SubmitDecision(context.Background(),
		first.ApprovalRequestID, "human", "carol", "lead", approval.DecisionReject, "wrong region"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// The rejection re-enters the loop with the comment as feedback and
	// suspends again on the next approved review.
	var second *mission.Mission
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		cur, _ := h.store.GetMission(context.Background(), m.ID)
		if cur.Status == mission.StatusAwaitingApproval && cur.ApprovalRequestID != first.ApprovalRequestID {
			second = cur
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if second == nil {
		t.Fatal("mission did not suspend on a second approval request")
	}
	if second.Round != 1 {
		t.Fatalf("round = %d, want 1 after rejection", second.Round)
	}

	h.client.mu.Lock()
	worker2 := h.client.calls[3]
	h.client.mu.Unlock()
	if len(worker2.Feedback) != 1 || worker2.Feedback[0] != "wrong region" {
		t.Fatalf("feedback = %v, want the approver comment", worker2.Feedback)
	}

	if _, err := h.approvals.SubmitDecision(context.Background(),
		second.ApprovalRequestID, "human", "carol", "lead", approval.DecisionApprove, ""); err != nil {
		t.Fatalf("approve second request: %v", err)
	}
	h.waitStatus(t, m.ID, mission.StatusCompleted)
}

func TestApprovalEscalationExhaustionAbortsMission(t *testing.T) {
	client := &scriptedClient{script: []collaborator.Response{
		reply(mission.RolePlanner, ""),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeApproved),
	}}
	h := newMissionHarness(t, client, testMissionConfig())
	h.registerWorkflow(t, &approval.Workflow{
		ID:    "signoff",
		Steps: []approval.Step{{ID: "human", ApproverRole: "lead", EscalationRole: "manager"}},
	})

	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "gated", Objective: "deploy", Model: "openai/gpt-4o", ApprovalWorkflow: "signoff",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	suspended := h.waitStatus(t, m.ID, mission.StatusAwaitingApproval)

	for _, vote := range []struct{ approver, role string }{
		{"carol", "lead"}, {"boss", "manager"},
	} {
		if _, err := h.approvals.SubmitDecision(context.Background(),
			suspended.ApprovalRequestID, "human", vote.approver, vote.role, approval.DecisionEscalate, ""); err != nil {
			t.Fatalf("escalate as %s: %v", vote.role, err)
		}
	}

	done := h.waitStatus(t, m.ID, mission.StatusAbortedError)
	if !strings.Contains(done.Error, "escalation") {
		t.Fatalf("error = %q, want escalation reason", done.Error)
	}
}

func TestResumeRestoresCheckpointState(t *testing.T) {
	client := &scriptedClient{script: []collaborator.Response{
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeApproved),
	}}
	h := newMissionHarness(t, client, testMissionConfig())

	m := &mission.Mission{
		ID: "m-resume", Name: "crashed", Status: mission.StatusExecuting,
		Objective: "finish", Model: "openai/gpt-4o", MaxRounds: 5,
		StartedAt: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateMission(context.Background(), m); err != nil {
		t.Fatalf("seed mission: %v", err)
	}
	cp := &checkpoint.Checkpoint{
		MissionID: m.ID, Round: 2, Status: mission.StatusExecuting,
		CostUSD: 1.5, LastFeedback: []string{"earlier note"},
		RetryRepeats: 1, RetryHash: 42, Artifacts: []string{"report.md"},
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.checkpoints.Save(context.Background(), cp); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	if _, err := h.svc.Resume(context.Background(), m.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	done := h.waitStatus(t, m.ID, mission.StatusCompleted)

	// Accumulated spend includes the restored total plus the new calls.
	if done.CostUSD <= 1.5 {
		t.Fatalf("cost = %f, want restored 1.5 plus new spend", done.CostUSD)
	}
	if done.Round != 2 {
		t.Fatalf("round = %d, want restored round index", done.Round)
	}

	h.client.mu.Lock()
	first := h.client.calls[0]
	h.client.mu.Unlock()
	if first.Role != mission.RoleWorker {
		t.Fatalf("first resumed call role = %s, want worker", first.Role)
	}
	if len(first.Feedback) != 1 || first.Feedback[0] != "earlier note" {
		t.Fatalf("feedback = %v, want checkpoint feedback", first.Feedback)
	}
}

func TestResumeTerminalMissionConflicts(t *testing.T) {
	h := newMissionHarness(t, &scriptedClient{}, testMissionConfig())
	m := &mission.Mission{
		ID: "m-done", Name: "done", Status: mission.StatusCompleted,
		Objective: "x", MaxRounds: 1, CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateMission(context.Background(), m); err != nil {
		t.Fatalf("seed mission: %v", err)
	}
	if _, err := h.svc.Resume(context.Background(), m.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestCancelPersistsFinalCheckpoint(t *testing.T) {
	client := &scriptedClient{
		script:   []collaborator.Response{reply(mission.RolePlanner, "")},
		callGate: make(chan struct{}),
	}
	h := newMissionHarness(t, client, testMissionConfig())

	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "long", Objective: "slow work", Model: "openai/gpt-4o",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Wait until the loop is blocked inside the collaborator call.
	deadline := time.Now().Add(time.Second)
	for !h.svc.isRunning(m.ID) && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if err := h.svc.Cancel(context.Background(), m.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	done := h.waitStatus(t, m.ID, mission.StatusCancelled)
	if done.CompletedAt == nil {
		t.Fatal("cancelled mission has no completion timestamp")
	}
	if h.checkpoints.get(m.ID) == nil {
		t.Fatal("no final checkpoint persisted on cancellation")
	}
	if err := h.svc.Cancel(context.Background(), m.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second cancel err = %v, want ErrConflict", err)
	}
}

func TestCostWarningEmittedOnce(t *testing.T) {
	client := &scriptedClient{script: []collaborator.Response{
		reply(mission.RolePlanner, ""),
		reply(mission.RoleWorker, ""),
		reply(mission.RoleSupervisor, mission.OutcomeApproved),
	}}
	cfg := testMissionConfig()
	cfg.EstimateTokens = 10 // keep the predictive check permissive
	cfg.CostWarnRatio = 0.1
	h := newMissionHarness(t, client, cfg)

	// Cap high enough to finish; the warn threshold (10% of cap) is
	// crossed by the first registered call and every one after it.
	m, err := h.svc.Start(context.Background(), mission.StartRequest{
		Name: "warned", Objective: "spend", Model: "openai/gpt-4o", CostCapUSD: 0.02,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	h.waitStatus(t, m.ID, mission.StatusCompleted)

	if n := h.sink.typesSeen()[event.TypeCostWarning]; n != 1 {
		t.Fatalf("cost warnings = %d, want exactly one", n)
	}
}
