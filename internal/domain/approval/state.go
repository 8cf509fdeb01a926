package approval

import "fmt"

// SystemSweeper attributes escalation decisions produced by the timeout
// sweep, so that escalations appear in the same append-only log as
// human votes and request state stays a pure function of that log.
const SystemSweeper = "system:timeout-sweep"

// SystemEscalator attributes the escalation the engine records itself
// when a step's include-condition cannot be evaluated at creation
// time. Recording it as a decision keeps the fold authoritative: the
// step's first deadline expiry is already its second escalation.
const SystemEscalator = "system:condition-error"

// IncludedSteps evaluates every step's include-condition against the
// payload. Steps without a condition are always included. Evaluation
// errors are returned per step; the engine escalates those steps to the
// admin role instead of guessing.
func IncludedSteps(wf *Workflow, payload map[string]any) (included map[string]bool, errs map[string]error) {
	included = make(map[string]bool, len(wf.Steps))
	errs = map[string]error{}
	for i := range wf.Steps {
		st := &wf.Steps[i]
		if st.Include == nil {
			included[st.ID] = true
			continue
		}
		ok, err := st.Include.Eval(payload)
		if err != nil {
			errs[st.ID] = err
			continue
		}
		included[st.ID] = ok
	}
	return included, errs
}

// satisfied reports whether a resolved step status unblocks successors.
func satisfied(s StepStatus) bool {
	return s == StepApproved || s == StepSkipped
}

// ReadySteps returns the next wave: included steps that are not yet
// instantiated and whose included predecessors are all satisfied.
// Excluded steps count as satisfied for their successors.
func ReadySteps(wf *Workflow, included map[string]bool, resolved map[string]StepStatus) []string {
	var ready []string
	for i := range wf.Steps {
		st := &wf.Steps[i]
		if !included[st.ID] {
			continue
		}
		if _, done := resolved[st.ID]; done {
			continue
		}
		blocked := false
		for _, pred := range st.Predecessors {
			if !included[pred] {
				continue
			}
			if !satisfied(resolved[pred]) {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, st.ID)
		}
	}
	return ready
}

// ReplayResult is the derived state of a request after folding its
// decision log over the template.
type ReplayResult struct {
	Status RequestStatus
	Steps  map[string]StepStatus
}

// Replay computes a request's state as a deterministic fold of its
// ordered decision log plus the workflow template. The engine's stored
// step states are a cache of exactly this computation.
func Replay(wf *Workflow, payload map[string]any, decisions []Decision) (*ReplayResult, error) {
	included, condErrs := IncludedSteps(wf, payload)
	if len(condErrs) > 0 {
		for id, err := range condErrs {
			return nil, fmt.Errorf("step %s include condition: %w", id, err)
		}
	}

	if wf.AutoApprove != nil {
		auto, err := wf.AutoApprove.Eval(payload)
		if err != nil {
			return nil, fmt.Errorf("auto_approve condition: %w", err)
		}
		if auto {
			return &ReplayResult{Status: RequestApproved, Steps: map[string]StepStatus{}}, nil
		}
	}

	return ReplayIncluded(wf, included, decisions)
}

// ReplayIncluded folds the decision log with a precomputed inclusion
// map. The engine uses this form for requests whose include-conditions
// were resolved (or escalated) at creation time.
func ReplayIncluded(wf *Workflow, included map[string]bool, decisions []Decision) (*ReplayResult, error) {
	steps := make(map[string]StepStatus, len(wf.Steps))
	for id, inc := range included {
		if !inc {
			steps[id] = StepSkipped
		}
	}

	approvers := map[string]map[string]bool{} // stepID -> distinct approvers
	escalated := map[string]bool{}
	status := RequestPending

	for i := range decisions {
		d := &decisions[i]
		if status.IsTerminal() {
			break
		}
		st := wf.StepByID(d.StepID)
		if st == nil {
			return nil, fmt.Errorf("decision %s targets unknown step %s", d.ID, d.StepID)
		}
		if s, done := steps[d.StepID]; done && s != StepAwaitingDecision {
			continue // votes on a resolved step are kept for audit but change nothing
		}

		switch d.Value {
		case DecisionReject:
			steps[d.StepID] = StepRejected
			status = RequestRejected

		case DecisionEscalate:
			if escalated[d.StepID] {
				steps[d.StepID] = StepEscalated
				status = RequestEscalated
				break
			}
			escalated[d.StepID] = true
			steps[d.StepID] = StepAwaitingDecision

		case DecisionApprove:
			if approvers[d.StepID] == nil {
				approvers[d.StepID] = map[string]bool{}
			}
			approvers[d.StepID][d.Approver] = true
			if len(approvers[d.StepID]) >= st.Quorum() {
				steps[d.StepID] = StepApproved
			} else {
				steps[d.StepID] = StepAwaitingDecision
			}

		default:
			return nil, fmt.Errorf("decision %s has unknown value %q", d.ID, d.Value)
		}
	}

	if status == RequestPending && allApproved(wf, included, steps) {
		status = RequestApproved
	}
	return &ReplayResult{Status: status, Steps: steps}, nil
}

func allApproved(wf *Workflow, included map[string]bool, steps map[string]StepStatus) bool {
	for i := range wf.Steps {
		id := wf.Steps[i].ID
		if !included[id] {
			continue
		}
		if steps[id] != StepApproved {
			return false
		}
	}
	return true
}
