package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orchestry/missiond/internal/domain"
	"github.com/orchestry/missiond/internal/domain/approval"
	"github.com/orchestry/missiond/internal/domain/cost"
	"github.com/orchestry/missiond/internal/port/database"
)

// --- Workflows ---

func (s *Store) CreateWorkflow(ctx context.Context, wf *approval.Workflow) error {
	definition, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow %s: %w", wf.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflows (id, description, definition, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET description = EXCLUDED.description, definition = EXCLUDED.definition`,
		wf.ID, wf.Description, definition, wf.CreatedAt)
	if err != nil {
		return fmt.Errorf("create workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*approval.Workflow, error) {
	var definition []byte
	err := s.pool.QueryRow(ctx,
		`SELECT definition FROM workflows WHERE id = $1`, id).Scan(&definition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get workflow %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	var wf approval.Workflow
	if err := json.Unmarshal(definition, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", id, err)
	}
	return &wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]approval.Workflow, error) {
	rows, err := s.pool.Query(ctx, `SELECT definition FROM workflows ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []approval.Workflow
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var wf approval.Workflow
		if err := json.Unmarshal(definition, &wf); err != nil {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO approval_requests (id, workflow_id, mission_id, payload, status, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.WorkflowID, req.MissionID, payload, req.Status, req.CreatedBy, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create request %s: %w", req.ID, err)
	}
	for i := range steps {
		st := &steps[i]
		_, err = tx.Exec(ctx,
			`INSERT INTO approval_step_states (request_id, step_id, status, current_role, escalated, deadline, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			st.RequestID, st.StepID, st.Status, st.CurrentRole, st.Escalated, st.Deadline, st.CreatedAt, st.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert step %s/%s: %w", st.RequestID, st.StepID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetRequest(ctx context.Context, id string) (*approval.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, workflow_id, mission_id, payload, status, created_by, created_at, updated_at
		 FROM approval_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get request %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return req, nil
}

func (s *Store) ListOpenRequests(ctx context.Context) ([]approval.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workflow_id, mission_id, payload, status, created_by, created_at, updated_at
		 FROM approval_requests WHERE status = $1 ORDER BY created_at ASC`, approval.RequestPending)
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
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update request %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update request %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// --- Step states ---

func (s *Store) InsertStepStates(ctx context.Context, states []approval.StepState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range states {
		st := &states[i]
		_, err = tx.Exec(ctx,
			`INSERT INTO approval_step_states (request_id, step_id, status, current_role, escalated, deadline, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			st.RequestID, st.StepID, st.Status, st.CurrentRole, st.Escalated, st.Deadline, st.CreatedAt, st.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert step %s/%s: %w", st.RequestID, st.StepID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) UpdateStepState(ctx context.Context, st *approval.StepState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_step_states SET status = $3, current_role = $4, escalated = $5, deadline = $6, updated_at = $7
		 WHERE request_id = $1 AND step_id = $2`,
		st.RequestID, st.StepID, st.Status, st.CurrentRole, st.Escalated, st.Deadline, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update step %s/%s: %w", st.RequestID, st.StepID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update step %s/%s: %w", st.RequestID, st.StepID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ListStepStates(ctx context.Context, requestID string) ([]approval.StepState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT request_id, step_id, status, current_role, escalated, deadline, created_at, updated_at
		 FROM approval_step_states WHERE request_id = $1 ORDER BY created_at ASC, step_id ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list step states for %s: %w", requestID, err)
	}
	defer rows.Close()
	return scanStepStates(rows)
}

func (s *Store) ListExpiredSteps(ctx context.Context, now time.Time) ([]approval.StepState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT st.request_id, st.step_id, st.status, st.current_role, st.escalated, st.deadline, st.created_at, st.updated_at
		 FROM approval_step_states st
		 JOIN approval_requests r ON r.id = st.request_id
		 WHERE st.status = $1 AND st.deadline <= $2 AND r.status = $3
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO approval_decisions (id, request_id, step_id, approver, role, value, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.RequestID, d.StepID, d.Approver, d.Role, d.Value, d.Comment, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("append decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) ListDecisions(ctx context.Context, requestID string) ([]approval.Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, request_id, step_id, approver, role, value, comment, created_at
		 FROM approval_decisions WHERE request_id = $1 ORDER BY created_at ASC, id ASC`, requestID)
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

// --- Cost entries ---

func (s *Store) AppendCostEntry(ctx context.Context, missionID string, e *cost.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_entries (mission_id, role, model, tokens_in, tokens_out, cost_usd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		missionID, e.Role, e.Model, e.TokensIn, e.TokensOut, e.CostUSD, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append cost entry for mission %s: %w", missionID, err)
	}
	return nil
}

func (s *Store) CostSummaryByMission(ctx context.Context, missionID string) (*database.MissionCostSummary, error) {
	sum := database.MissionCostSummary{MissionID: missionID}
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0), COUNT(*)
		 FROM cost_entries WHERE mission_id = $1`, missionID).
		Scan(&sum.TotalCostUSD, &sum.TotalTokensIn, &sum.TotalTokensOut, &sum.CallCount)
	if err != nil {
		return nil, fmt.Errorf("cost summary for mission %s: %w", missionID, err)
	}
	return &sum, nil
}

func (s *Store) CostByModel(ctx context.Context, missionID string) ([]database.ModelCostSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT model, SUM(cost_usd), SUM(tokens_in), SUM(tokens_out), COUNT(*)
		 FROM cost_entries WHERE mission_id = $1
		 GROUP BY model ORDER BY SUM(cost_usd) DESC`, missionID)
	if err != nil {
		return nil, fmt.Errorf("cost by model for mission %s: %w", missionID, err)
	}
	defer rows.Close()

	var out []database.ModelCostSummary
	for rows.Next() {
		var m database.ModelCostSummary
		if err := rows.Scan(&m.Model, &m.TotalCostUSD, &m.TotalTokensIn, &m.TotalTokensOut, &m.CallCount); err != nil {
			return nil, fmt.Errorf("scan model cost: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CostDaily(ctx context.Context, days int) ([]database.DailyCost, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.pool.Query(ctx,
		`SELECT TO_CHAR(created_at, 'YYYY-MM-DD'), SUM(cost_usd), COUNT(*)
		 FROM cost_entries
		 WHERE created_at >= NOW() - make_interval(days => $1)
		 GROUP BY 1 ORDER BY 1 DESC`, days)
	if err != nil {
		return nil, fmt.Errorf("daily cost: %w", err)
	}
	defer rows.Close()

	var out []database.DailyCost
	for rows.Next() {
		var d database.DailyCost
		if err := rows.Scan(&d.Date, &d.CostUSD, &d.CallCount); err != nil {
			return nil, fmt.Errorf("scan daily cost: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- helpers ---

func scanRequest(row rowScanner) (*approval.Request, error) {
	var req approval.Request
	var payload []byte
	if err := row.Scan(&req.ID, &req.WorkflowID, &req.MissionID, &payload,
		&req.Status, &req.CreatedBy, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &req.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &req, nil
}

func scanStepStates(rows pgx.Rows) ([]approval.StepState, error) {
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
