package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orchestry/missiond/internal/domain"
	"github.com/orchestry/missiond/internal/domain/approval"
)

// --- Workflows ---

// Workflow templates are stored as a single JSON document: steps,
// conditions and escalation rules round-trip through the domain types
// without a normalized table per node.

func (s *Store) CreateWorkflow(ctx context.Context, wf *approval.Workflow) error {
	definition, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow %s: %w", wf.ID, err)
	}
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO workflows (id, description, definition, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET description = excluded.description, definition = excluded.definition`,
			wf.ID, wf.Description, string(definition), wf.CreatedAt)
		if err != nil {
			return fmt.Errorf("create workflow %s: %w", wf.ID, err)
		}
		return nil
	})
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*approval.Workflow, error) {
	var definition string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE id = ?`, id).Scan(&definition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get workflow %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	var wf approval.Workflow
	if err := json.Unmarshal([]byte(definition), &wf); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", id, err)
	}
	return &wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]approval.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM workflows ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []approval.Workflow
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var wf approval.Workflow
		if err := json.Unmarshal([]byte(definition), &wf); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// --- Requests ---

func (s *Store) CreateRequest(ctx context.Context, req *approval.Request, steps []approval.StepState) error {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO approval_requests (id, workflow_id, mission_id, payload, status, created_by, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			req.ID, req.WorkflowID, req.MissionID, string(payload), req.Status, req.CreatedBy, req.CreatedAt, req.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create request %s: %w", req.ID, err)
		}
		for i := range steps {
			if err := insertStepState(tx, &steps[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetRequest(ctx context.Context, id string) (*approval.Request, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, mission_id, payload, status, created_by, created_at, updated_at
		 FROM approval_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get request %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return req, nil
}

func (s *Store) ListOpenRequests(ctx context.Context) ([]approval.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, mission_id, payload, status, created_by, created_at, updated_at
		 FROM approval_requests WHERE status = ? ORDER BY created_at ASC`, approval.RequestPending)
	if err != nil {
		return nil, fmt.Errorf("list open requests: %w", err)
	}
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list open requests: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRequestStatus(ctx context.Context, id string, status approval.RequestStatus) error {
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE approval_requests SET status = ?, updated_at = ? WHERE id = ?`,
			status, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("update request %s status: %w", id, err)
		}
		return requireRow(res, "update request "+id)
	})
}

// --- Step states ---

func (s *Store) InsertStepStates(ctx context.Context, states []approval.StepState) error {
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		for i := range states {
			if err := insertStepState(tx, &states[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) UpdateStepState(ctx context.Context, st *approval.StepState) error {
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE approval_step_states SET status = ?, current_role = ?, escalated = ?, deadline = ?, updated_at = ?
			 WHERE request_id = ? AND step_id = ?`,
			st.Status, st.CurrentRole, st.Escalated, st.Deadline, time.Now().UTC(), st.RequestID, st.StepID)
		if err != nil {
			return fmt.Errorf("update step %s/%s: %w", st.RequestID, st.StepID, err)
		}
		return requireRow(res, fmt.Sprintf("update step %s/%s", st.RequestID, st.StepID))
	})
}

func (s *Store) ListStepStates(ctx context.Context, requestID string) ([]approval.StepState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, step_id, status, current_role, escalated, deadline, created_at, updated_at
		 FROM approval_step_states WHERE request_id = ? ORDER BY created_at ASC, step_id ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list step states for %s: %w", requestID, err)
	}
	defer rows.Close()
	return scanStepStates(rows)
}

// ListExpiredSteps returns steps still awaiting a decision whose
// deadline has passed, across all pending requests.
func (s *Store) ListExpiredSteps(ctx context.Context, now time.Time) ([]approval.StepState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT st.request_id, st.step_id, st.status, st.current_role, st.escalated, st.deadline, st.created_at, st.updated_at
		 FROM approval_step_states st
		 JOIN approval_requests r ON r.id = st.request_id
		 WHERE st.status = ? AND st.deadline <= ? AND r.status = ?
		 ORDER BY st.deadline ASC`,
		approval.StepAwaitingDecision, now, approval.RequestPending)
	if err != nil {
		return nil, fmt.Errorf("list expired steps: %w", err)
	}
	defer rows.Close()
	return scanStepStates(rows)
}

// --- Decisions ---

func (s *Store) AppendDecision(ctx context.Context, d *approval.Decision) error {
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO approval_decisions (id, request_id, step_id, approver, role, value, comment, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.RequestID, d.StepID, d.Approver, d.Role, d.Value, d.Comment, d.CreatedAt)
		if err != nil {
			return fmt.Errorf("append decision %s: %w", d.ID, err)
		}
		return nil
	})
}

func (s *Store) ListDecisions(ctx context.Context, requestID string) ([]approval.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, step_id, approver, role, value, comment, created_at
		 FROM approval_decisions WHERE request_id = ? ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list decisions for %s: %w", requestID, err)
	}
	defer rows.Close()

	var out []approval.Decision
	for rows.Next() {
		var d approval.Decision
		if err := rows.Scan(&d.ID, &d.RequestID, &d.StepID, &d.Approver, &d.Role, &d.Value, &d.Comment, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- helpers ---

func insertStepState(tx *sql.Tx, st *approval.StepState) error {
	_, err := tx.Exec(
		`INSERT INTO approval_step_states (request_id, step_id, status, current_role, escalated, deadline, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.RequestID, st.StepID, st.Status, st.CurrentRole, st.Escalated, st.Deadline, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert step %s/%s: %w", st.RequestID, st.StepID, err)
	}
	return nil
}

func scanRequest(row rowScanner) (*approval.Request, error) {
	var req approval.Request
	var payload string
	if err := row.Scan(&req.ID, &req.WorkflowID, &req.MissionID, &payload,
		&req.Status, &req.CreatedBy, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &req.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &req, nil
}

func scanStepStates(rows *sql.Rows) ([]approval.StepState, error) {
	var out []approval.StepState
	for rows.Next() {
		var st approval.StepState
		if err := rows.Scan(&st.RequestID, &st.StepID, &st.Status, &st.CurrentRole,
			&st.Escalated, &st.Deadline, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan step state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
