package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orchestry/missiond/internal/domain"
	"github.com/orchestry/missiond/internal/domain/event"
	"github.com/orchestry/missiond/internal/domain/mission"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- Missions ---

const missionCols = `id, name, status, round, max_rounds, cost_cap_usd, cost_warn_usd, cost_usd,
	model, objective, artifacts, feedback, approval_workflow, approval_request_id, error,
	started_at, completed_at, created_at, updated_at`

func (s *Store) CreateMission(ctx context.Context, m *mission.Mission) error {
	artifacts, err := json.Marshal(stringsOrEmpty(m.Artifacts))
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	feedback, err := json.Marshal(stringsOrEmpty(m.Feedback))
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO missions (`+missionCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		m.ID, m.Name, m.Status, m.Round, m.MaxRounds, m.CostCapUSD, m.CostWarnUSD, m.CostUSD,
		m.Model, m.Objective, artifacts, feedback, m.ApprovalWorkflow, m.ApprovalRequestID, m.Error,
		m.StartedAt, m.CompletedAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create mission %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) GetMission(ctx context.Context, id string) (*mission.Mission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+missionCols+` FROM missions WHERE id = $1`, id)
	m, err := scanMission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get mission %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get mission %s: %w", id, err)
	}
	return m, nil
}

func (s *Store) ListMissions(ctx context.Context, limit int) ([]mission.Mission, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+missionCols+` FROM missions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var out []mission.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("list missions: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateMissionStatus(ctx context.Context, id string, status mission.Status, errMsg string) error {
	now := time.Now().UTC()
	var completed *time.Time
	if status.IsTerminal() {
		completed = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE missions SET status = $2, error = $3, completed_at = COALESCE($4, completed_at), updated_at = $5
		 WHERE id = $1`,
		id, status, errMsg, completed, now)
	if err != nil {
		return fmt.Errorf("update mission %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update mission %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateMissionProgress(ctx context.Context, id string, round int, costUSD float64, artifacts []string) error {
	encoded, err := json.Marshal(stringsOrEmpty(artifacts))
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE missions SET round = $2, cost_usd = $3, artifacts = $4, updated_at = $5 WHERE id = $1`,
		id, round, costUSD, encoded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update mission %s progress: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update mission %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) SetMissionApprovalRequest(ctx context.Context, id, requestID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE missions SET approval_request_id = $2, updated_at = $3 WHERE id = $1`,
		id, requestID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set mission %s approval request: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update mission %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) GetMissionByApprovalRequest(ctx context.Context, requestID string) (*mission.Mission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+missionCols+` FROM missions WHERE approval_request_id = $1`, requestID)
	m, err := scanMission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("mission for approval request %s: %w", requestID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("mission for approval request %s: %w", requestID, err)
	}
	return m, nil
}

// --- Rounds ---

func (s *Store) AppendRound(ctx context.Context, r *mission.Round) error {
	feedback, err := json.Marshal(stringsOrEmpty(r.Feedback))
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	artifacts, err := json.Marshal(stringsOrEmpty(r.Artifacts))
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO rounds (mission_id, idx, role, outcome, feedback, artifacts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.MissionID, r.Index, r.Role, r.Outcome, feedback, artifacts, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("append round %d for mission %s: %w", r.Index, r.MissionID, err)
	}
	return nil
}

func (s *Store) ListRounds(ctx context.Context, missionID string) ([]mission.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT mission_id, idx, role, outcome, feedback, artifacts, created_at
		 FROM rounds WHERE mission_id = $1 ORDER BY idx ASC`, missionID)
	if err != nil {
		return nil, fmt.Errorf("list rounds for mission %s: %w", missionID, err)
	}
	defer rows.Close()

	var out []mission.Round
	for rows.Next() {
		var r mission.Round
		var feedback, artifacts []byte
		if err := rows.Scan(&r.MissionID, &r.Index, &r.Role, &r.Outcome, &feedback, &artifacts, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if err := json.Unmarshal(feedback, &r.Feedback); err != nil {
			return nil, fmt.Errorf("decode round feedback: %w", err)
		}
		if err := json.Unmarshal(artifacts, &r.Artifacts); err != nil {
			return nil, fmt.Errorf("decode round artifacts: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Events ---

func (s *Store) AppendEvent(ctx context.Context, ev *event.Event) error {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, mission_id, request_id, type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.MissionID, ev.RequestID, ev.Type, []byte(payload), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *Store) ListEventsByMission(ctx context.Context, missionID string) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, mission_id, request_id, type, payload, created_at
		 FROM events WHERE mission_id = $1 ORDER BY created_at ASC`, missionID)
	if err != nil {
		return nil, fmt.Errorf("list events for mission %s: %w", missionID, err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var ev event.Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.MissionID, &ev.RequestID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row rowScanner) (*mission.Mission, error) {
	var m mission.Mission
	var artifacts, feedback []byte
	if err := row.Scan(&m.ID, &m.Name, &m.Status, &m.Round, &m.MaxRounds,
		&m.CostCapUSD, &m.CostWarnUSD, &m.CostUSD,
		&m.Model, &m.Objective, &artifacts, &feedback,
		&m.ApprovalWorkflow, &m.ApprovalRequestID, &m.Error,
		&m.StartedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(artifacts, &m.Artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	if err := json.Unmarshal(feedback, &m.Feedback); err != nil {
		return nil, fmt.Errorf("decode feedback: %w", err)
	}
	return &m, nil
}

func stringsOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
