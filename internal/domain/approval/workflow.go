// Package approval defines the human sign-off domain: workflow templates
// (a DAG of approval steps with conditional inclusion, parallel quorums,
// timeouts and escalation), in-flight requests and their decision logs.
package approval

import (
	"fmt"
	"time"
)

// Workflow is a reusable template. It is registered once and
// instantiated many times against different payloads.
type Workflow struct {
	ID          string     `json:"id" yaml:"id"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step     `json:"steps" yaml:"steps"`
	AutoApprove *Condition `json:"auto_approve,omitempty" yaml:"auto_approve,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"-"`
}

// Step is one sign-off node in the template DAG. Ordering is determined
// by Predecessors, not by slice position.
type Step struct {
	ID             string        `json:"id" yaml:"id"`
	ApproverRole   string        `json:"approver_role" yaml:"approver_role"`
	RequiredCount  int           `json:"required_count,omitempty" yaml:"required_count,omitempty"` // distinct approvers; 0 means 1
	Timeout        time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	EscalationRole string        `json:"escalation_role,omitempty" yaml:"escalation_role,omitempty"`
	Predecessors   []string      `json:"predecessors,omitempty" yaml:"predecessors,omitempty"`
	Include        *Condition    `json:"include,omitempty" yaml:"include,omitempty"`
}

// Quorum returns the number of distinct approvals the step needs.
func (s *Step) Quorum() int {
	if s.RequiredCount < 1 {
		return 1
	}
	return s.RequiredCount
}

// Validate checks template structure: unique step IDs, resolvable
// predecessor edges and an acyclic graph.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", w.ID)
	}

	byID := make(map[string]*Step, len(w.Steps))
	for i := range w.Steps {
		st := &w.Steps[i]
		if st.ID == "" {
			return fmt.Errorf("workflow %s: step %d has no id", w.ID, i)
		}
		if st.ApproverRole == "" {
			return fmt.Errorf("workflow %s: step %s has no approver_role", w.ID, st.ID)
		}
		if st.RequiredCount < 0 {
			return fmt.Errorf("workflow %s: step %s has negative required_count", w.ID, st.ID)
		}
		if _, dup := byID[st.ID]; dup {
			return fmt.Errorf("workflow %s: duplicate step id %s", w.ID, st.ID)
		}
		byID[st.ID] = st
	}

	for i := range w.Steps {
		for _, pred := range w.Steps[i].Predecessors {
			if _, ok := byID[pred]; !ok {
				return fmt.Errorf("workflow %s: step %s references unknown predecessor %s",
					w.ID, w.Steps[i].ID, pred)
			}
		}
	}

	if err := w.checkAcyclic(); err != nil {
		return err
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm over the predecessor edges.
func (w *Workflow) checkAcyclic() error {
	indegree := make(map[string]int, len(w.Steps))
	successors := make(map[string][]string, len(w.Steps))
	for i := range w.Steps {
		st := &w.Steps[i]
		indegree[st.ID] += 0
		for _, pred := range st.Predecessors {
			indegree[st.ID]++
			successors[pred] = append(successors[pred], st.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range successors[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited != len(w.Steps) {
		return fmt.Errorf("workflow %s: step graph contains a cycle", w.ID)
	}
	return nil
}

// StepByID returns the step with the given ID, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}
