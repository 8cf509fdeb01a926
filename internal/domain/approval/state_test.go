package approval

import "testing"

func branchingWorkflow() *Workflow {
	return &Workflow{
		ID: "purchase",
		Steps: []Step{
			{ID: "manager", ApproverRole: "manager"},
			{
				ID:           "finance",
				ApproverRole: "finance",
				Predecessors: []string{"manager"},
				Include:      &Condition{Field: "amount", Op: OpGt, Value: 100},
			},
			{ID: "security", ApproverRole: "security", Predecessors: []string{"manager"}},
			{ID: "cfo", ApproverRole: "cfo", Predecessors: []string{"finance", "security"}},
		},
	}
}

func dec(step, approver string, v DecisionValue) Decision {
	return Decision{ID: "d-" + step + "-" + approver, StepID: step, Approver: approver, Value: v}
}

func TestIncludedSteps_ConditionalBranch(t *testing.T) {
	wf := branchingWorkflow()

	inc, errs := IncludedSteps(wf, map[string]any{"amount": 50.0})
	if len(errs) != 0 {
		t.Fatalf("unexpected condition errors: %v", errs)
	}
	if inc["finance"] {
		t.Fatal("finance must be excluded for amount=50")
	}
	if !inc["manager"] || !inc["security"] || !inc["cfo"] {
		t.Fatal("unconditional steps must be included")
	}

	inc, _ = IncludedSteps(wf, map[string]any{"amount": 150.0})
	if !inc["finance"] {
		t.Fatal("finance must be included for amount=150")
	}
}

func TestIncludedSteps_ReportsConditionErrors(t *testing.T) {
	wf := branchingWorkflow()
	_, errs := IncludedSteps(wf, map[string]any{}) // amount missing
	if errs["finance"] == nil {
		t.Fatal("expected condition error for finance step")
	}
}

func TestReadySteps_WaveOrdering(t *testing.T) {
	wf := branchingWorkflow()
	inc, _ := IncludedSteps(wf, map[string]any{"amount": 150.0})

	// Wave 1: only manager (no predecessors).
	ready := ReadySteps(wf, inc, map[string]StepStatus{})
	if len(ready) != 1 || ready[0] != "manager" {
		t.Fatalf("expected first wave [manager], got %v", ready)
	}

	// Wave 2 after manager approves: finance and security in parallel.
	resolved := map[string]StepStatus{"manager": StepApproved}
	ready = ReadySteps(wf, inc, resolved)
	if len(ready) != 2 {
		t.Fatalf("expected parallel wave of 2, got %v", ready)
	}

	// cfo waits for both.
	resolved["finance"] = StepApproved
	ready = ReadySteps(wf, inc, resolved)
	if len(ready) != 1 || ready[0] != "security" {
		t.Fatalf("cfo must stay blocked until security resolves, got %v", ready)
	}

	resolved["security"] = StepApproved
	ready = ReadySteps(wf, inc, resolved)
	if len(ready) != 1 || ready[0] != "cfo" {
		t.Fatalf("expected final wave [cfo], got %v", ready)
	}
}

func TestReadySteps_ExcludedPredecessorUnblocks(t *testing.T) {
	wf := branchingWorkflow()
	inc, _ := IncludedSteps(wf, map[string]any{"amount": 50.0}) // finance excluded

	resolved := map[string]StepStatus{"manager": StepApproved, "security": StepApproved}
	ready := ReadySteps(wf, inc, resolved)
	if len(ready) != 1 || ready[0] != "cfo" {
		t.Fatalf("excluded finance must not block cfo, got %v", ready)
	}
}

func TestReplay_QuorumAndOrderIndependence(t *testing.T) {
	wf := &Workflow{
		ID:    "quorum",
		Steps: []Step{{ID: "board", ApproverRole: "board", RequiredCount: 3}},
	}

	decisions := []Decision{
		dec("board", "alice", DecisionApprove),
		dec("board", "bob", DecisionApprove),
	}
	res, err := Replay(wf, map[string]any{}, decisions)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != RequestPending {
		t.Fatalf("2 of 3 approvals must stay pending, got %s", res.Status)
	}

	// Duplicate approver does not count twice.
	res, err = Replay(wf, map[string]any{}, append(decisions, dec("board", "alice", DecisionApprove)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != RequestPending {
		t.Fatalf("duplicate approver must not satisfy quorum, got %s", res.Status)
	}

	res, err = Replay(wf, map[string]any{}, append(decisions, dec("board", "carol", DecisionApprove)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != RequestApproved {
		t.Fatalf("3 distinct approvals must approve, got %s", res.Status)
	}
}

func TestReplay_FirstRejectWins(t *testing.T) {
	wf := &Workflow{
		ID:    "quorum",
		Steps: []Step{{ID: "board", ApproverRole: "board", RequiredCount: 3}},
	}
	decisions := []Decision{
		dec("board", "alice", DecisionApprove),
		dec("board", "bob", DecisionReject),
		dec("board", "carol", DecisionApprove),
	}
	res, err := Replay(wf, map[string]any{}, decisions)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != RequestRejected {
		t.Fatalf("single reject must reject the request, got %s", res.Status)
	}
	if res.Steps["board"] != StepRejected {
		t.Fatalf("step must be rejected, got %s", res.Steps["board"])
	}
}

func TestReplay_EscalationChain(t *testing.T) {
	wf := linearWorkflow()

	// One sweep escalation keeps the step open.
	res, err := Replay(wf, map[string]any{}, []Decision{
		dec("manager", SystemSweeper, DecisionEscalate),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != RequestPending || res.Steps["manager"] != StepAwaitingDecision {
		t.Fatalf("first escalation must keep the request open, got %+v", res)
	}

	// A second escalation exhausts the chain.
	res, err = Replay(wf, map[string]any{}, []Decision{
		dec("manager", SystemSweeper, DecisionEscalate),
		dec("manager", SystemSweeper, DecisionEscalate),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != RequestEscalated || res.Steps["manager"] != StepEscalated {
		t.Fatalf("second escalation must be terminal, got %+v", res)
	}
}

func TestReplay_AutoApprove(t *testing.T) {
	wf := linearWorkflow()
	wf.AutoApprove = &Condition{Field: "amount", Op: OpLte, Value: 10}

	res, err := Replay(wf, map[string]any{"amount": 5.0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != RequestApproved {
		t.Fatalf("auto-approve condition must approve, got %s", res.Status)
	}
}

func TestReplay_SkippedBranchApproves(t *testing.T) {
	wf := branchingWorkflow()
	payload := map[string]any{"amount": 50.0}

	decisions := []Decision{
		dec("manager", "m1", DecisionApprove),
		dec("security", "s1", DecisionApprove),
		dec("cfo", "c1", DecisionApprove),
	}
	res, err := Replay(wf, payload, decisions)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != RequestApproved {
		t.Fatalf("request must approve without the skipped finance step, got %s", res.Status)
	}
	if res.Steps["finance"] != StepSkipped {
		t.Fatalf("finance must be skipped, got %s", res.Steps["finance"])
	}
}
