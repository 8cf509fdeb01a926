package http

import (
	"net/http"

	"github.com/orchestry/missiond/internal/domain/approval"
)

// RegisterWorkflow handles POST /api/v1/workflows.
func (h *Handlers) RegisterWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := readJSON[approval.Workflow](w, r)
	if !ok {
		return
	}
	if err := h.Registry.Register(r.Context(), &wf); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// GetWorkflow handles GET /api/v1/workflows/{id}.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.Registry.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// ListWorkflows handles GET /api/v1/workflows.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.Registry.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if workflows == nil {
		workflows = []approval.Workflow{}
	}
	writeJSON(w, http.StatusOK, workflows)
}

type createApprovalRequest struct {
	WorkflowID string         `json:"workflow_id"`
	MissionID  string         `json:"mission_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	CreatedBy  string         `json:"created_by"`
}

// CreateApproval handles POST /api/v1/approvals. Approval requests are
// usually opened by suspending missions, but the engine stands alone
// and accepts direct requests too.
func (h *Handlers) CreateApproval(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[createApprovalRequest](w, r)
	if !ok {
		return
	}
	if body.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow_id is required")
		return
	}
	req, err := h.Approvals.CreateRequest(r.Context(), body.WorkflowID, body.MissionID, body.Payload, body.CreatedBy)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// approvalDetail is the GET /approvals/{id} response shape.
type approvalDetail struct {
	Request   *approval.Request    `json:"request"`
	Steps     []approval.StepState `json:"steps"`
	Decisions []approval.Decision  `json:"decisions"`
}

// GetApproval handles GET /api/v1/approvals/{id}.
func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	req, steps, decisions, err := h.Approvals.GetRequest(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, approvalDetail{Request: req, Steps: steps, Decisions: decisions})
}

// ListOpenApprovals handles GET /api/v1/approvals.
func (h *Handlers) ListOpenApprovals(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Approvals.ListOpen(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if requests == nil {
		requests = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, requests)
}

type submitDecisionRequest struct {
	StepID   string                 `json:"step_id"`
	Approver string                 `json:"approver"`
	Role     string                 `json:"role"`
	Value    approval.DecisionValue `json:"value"`
	Comment  string                 `json:"comment,omitempty"`
}

// SubmitDecision handles POST /api/v1/approvals/{id}/decisions.
func (h *Handlers) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[submitDecisionRequest](w, r)
	if !ok {
		return
	}
	if body.StepID == "" || body.Approver == "" || body.Role == "" {
		writeError(w, http.StatusBadRequest, "step_id, approver and role are required")
		return
	}
	switch body.Value {
	case approval.DecisionApprove, approval.DecisionReject, approval.DecisionEscalate:
	default:
		writeError(w, http.StatusBadRequest, "value must be approve, reject or escalate")
		return
	}

	req, err := h.Approvals.SubmitDecision(r.Context(),
		urlParam(r, "id"), body.StepID, body.Approver, body.Role, body.Value, body.Comment)
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListDecisions handles GET /api/v1/approvals/{id}/decisions.
func (h *Handlers) ListDecisions(w http.ResponseWriter, r *http.Request) {
	_, _, decisions, err := h.Approvals.GetRequest(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	if decisions == nil {
		decisions = []approval.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}
