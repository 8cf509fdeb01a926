package approval

import (
	"testing"
	"time"
)

func linearWorkflow() *Workflow {
	return &Workflow{
		ID: "expense",
		Steps: []Step{
			{ID: "manager", ApproverRole: "manager", Timeout: time.Hour, EscalationRole: "director"},
			{ID: "finance", ApproverRole: "finance", Predecessors: []string{"manager"}},
		},
	}
}

func TestWorkflowValidate_OK(t *testing.T) {
	if err := linearWorkflow().Validate(); err != nil {
		t.Fatalf("valid workflow rejected: %v", err)
	}
}

func TestWorkflowValidate_RejectsCycle(t *testing.T) {
	wf := &Workflow{
		ID: "cyclic",
		Steps: []Step{
			{ID: "a", ApproverRole: "r", Predecessors: []string{"c"}},
			{ID: "b", ApproverRole: "r", Predecessors: []string{"a"}},
			{ID: "c", ApproverRole: "r", Predecessors: []string{"b"}},
		},
	}
	if err := wf.Validate(); err == nil {
		t.Fatal("expected cycle to be rejected")
	}
}

func TestWorkflowValidate_RejectsSelfCycle(t *testing.T) {
	wf := &Workflow{
		ID:    "self",
		Steps: []Step{{ID: "a", ApproverRole: "r", Predecessors: []string{"a"}}},
	}
	if err := wf.Validate(); err == nil {
		t.Fatal("expected self-referencing step to be rejected")
	}
}

func TestWorkflowValidate_RejectsUnknownPredecessor(t *testing.T) {
	wf := &Workflow{
		ID:    "dangling",
		Steps: []Step{{ID: "a", ApproverRole: "r", Predecessors: []string{"ghost"}}},
	}
	if err := wf.Validate(); err == nil {
		t.Fatal("expected unknown predecessor to be rejected")
	}
}

func TestWorkflowValidate_RejectsDuplicateIDs(t *testing.T) {
	wf := &Workflow{
		ID: "dup",
		Steps: []Step{
			{ID: "a", ApproverRole: "r"},
			{ID: "a", ApproverRole: "r"},
		},
	}
	if err := wf.Validate(); err == nil {
		t.Fatal("expected duplicate step id to be rejected")
	}
}

func TestWorkflowValidate_RequiresRoleAndSteps(t *testing.T) {
	if err := (&Workflow{ID: "empty"}).Validate(); err == nil {
		t.Fatal("expected empty workflow to be rejected")
	}
	wf := &Workflow{ID: "norole", Steps: []Step{{ID: "a"}}}
	if err := wf.Validate(); err == nil {
		t.Fatal("expected step without approver_role to be rejected")
	}
}

func TestStepQuorum(t *testing.T) {
	if (&Step{}).Quorum() != 1 {
		t.Fatal("zero required_count must mean quorum 1")
	}
	if (&Step{RequiredCount: 3}).Quorum() != 3 {
		t.Fatal("required_count must be honored")
	}
}
