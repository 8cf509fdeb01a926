package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orchestry/missiond/internal/domain"
	"github.com/orchestry/missiond/internal/domain/event"
	"github.com/orchestry/missiond/internal/domain/mission"
)

// Store implements database.Store on an embedded SQLite database.
// Reads go straight to the pool; every mutation runs through the
// serializing Writer.
type Store struct {
	db     *sql.DB
	writer *Writer
}

// NewStore wraps an opened database with a serializing writer.
func NewStore(db *sql.DB, queueDepth int) *Store {
	return &Store{db: db, writer: NewWriter(db, queueDepth)}
}

// Close drains pending writes and closes the database.
func (s *Store) Close() error {
	s.writer.Close()
	return s.db.Close()
}

// --- Missions ---

const missionCols = `id, name, status, round, max_rounds, cost_cap_usd, cost_warn_usd, cost_usd,
	model, objective, artifacts, feedback, approval_workflow, approval_request_id, error,
	started_at, completed_at, created_at, updated_at`

func (s *Store) CreateMission(ctx context.Context, m *mission.Mission) error {
	artifacts, err := marshalStrings(m.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	feedback, err := marshalStrings(m.Feedback)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO missions (`+missionCols+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.Name, m.Status, m.Round, m.MaxRounds, m.CostCapUSD, m.CostWarnUSD, m.CostUSD,
			m.Model, m.Objective, artifacts, feedback, m.ApprovalWorkflow, m.ApprovalRequestID, m.Error,
			m.StartedAt, nullTime(m.CompletedAt), m.CreatedAt, m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create mission %s: %w", m.ID, err)
		}
		return nil
	})
}

func (s *Store) GetMission(ctx context.Context, id string) (*mission.Mission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+missionCols+` FROM missions WHERE id = ?`, id)
	m, err := scanMission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+missionCols+` FROM missions ORDER BY created_at DESC LIMIT ?`, limit)
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
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		var completed any
		if status.IsTerminal() {
			completed = now
		}
		res, err := tx.Exec(
			`UPDATE missions SET status = ?, error = ?, completed_at = COALESCE(?, completed_at), updated_at = ?
			 WHERE id = ?`,
			status, errMsg, completed, now, id)
		if err != nil {
			return fmt.Errorf("update mission %s status: %w", id, err)
		}
		return requireRow(res, "update mission "+id)
	})
}

func (s *Store) UpdateMissionProgress(ctx context.Context, id string, round int, costUSD float64, artifacts []string) error {
	encoded, err := marshalStrings(artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE missions SET round = ?, cost_usd = ?, artifacts = ?, updated_at = ? WHERE id = ?`,
			round, costUSD, encoded, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("update mission %s progress: %w", id, err)
		}
		return requireRow(res, "update mission "+id)
	})
}

func (s *Store) SetMissionApprovalRequest(ctx context.Context, id, requestID string) error {
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE missions SET approval_request_id = ?, updated_at = ? WHERE id = ?`,
			requestID, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("set mission %s approval request: %w", id, err)
		}
		return requireRow(res, "update mission "+id)
	})
}

func (s *Store) GetMissionByApprovalRequest(ctx context.Context, requestID string) (*mission.Mission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+missionCols+` FROM missions WHERE approval_request_id = ?`, requestID)
	m, err := scanMission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mission for approval request %s: %w", requestID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("mission for approval request %s: %w", requestID, err)
	}
	return m, nil
}

// --- Rounds ---

func (s *Store) AppendRound(ctx context.Context, r *mission.Round) error {
	feedback, err := marshalStrings(r.Feedback)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	artifacts, err := marshalStrings(r.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO rounds (mission_id, idx, role, outcome, feedback, artifacts, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.MissionID, r.Index, r.Role, r.Outcome, feedback, artifacts, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("append round %d for mission %s: %w", r.Index, r.MissionID, err)
		}
		return nil
	})
}

func (s *Store) ListRounds(ctx context.Context, missionID string) ([]mission.Round, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mission_id, idx, role, outcome, feedback, artifacts, created_at
		 FROM rounds WHERE mission_id = ? ORDER BY idx ASC`, missionID)
	if err != nil {
		return nil, fmt.Errorf("list rounds for mission %s: %w", missionID, err)
	}
	defer rows.Close()

	var out []mission.Round
	for rows.Next() {
		var r mission.Round
		var feedback, artifacts string
		if err := rows.Scan(&r.MissionID, &r.Index, &r.Role, &r.Outcome, &feedback, &artifacts, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if r.Feedback, err = unmarshalStrings(feedback); err != nil {
			return nil, fmt.Errorf("decode round feedback: %w", err)
		}
		if r.Artifacts, err = unmarshalStrings(artifacts); err != nil {
			return nil, fmt.Errorf("decode round artifacts: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Events ---

func (s *Store) AppendEvent(ctx context.Context, ev *event.Event) error {
	payload := string(ev.Payload)
	if payload == "" {
		payload = "{}"
	}
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO events (id, mission_id, request_id, type, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.MissionID, ev.RequestID, ev.Type, payload, ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("append event %s: %w", ev.ID, err)
		}
		return nil
	})
}

func (s *Store) ListEventsByMission(ctx context.Context, missionID string) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mission_id, request_id, type, payload, created_at
		 FROM events WHERE mission_id = ? ORDER BY created_at ASC`, missionID)
	if err != nil {
		return nil, fmt.Errorf("list events for mission %s: %w", missionID, err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var ev event.Event
		var payload string
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
	var artifacts, feedback string
	var completed sql.NullTime
	if err := row.Scan(&m.ID, &m.Name, &m.Status, &m.Round, &m.MaxRounds,
		&m.CostCapUSD, &m.CostWarnUSD, &m.CostUSD,
		&m.Model, &m.Objective, &artifacts, &feedback,
		&m.ApprovalWorkflow, &m.ApprovalRequestID, &m.Error,
		&m.StartedAt, &completed, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if m.Artifacts, err = unmarshalStrings(artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	if m.Feedback, err = unmarshalStrings(feedback); err != nil {
		return nil, fmt.Errorf("decode feedback: %w", err)
	}
	if completed.Valid {
		t := completed.Time
		m.CompletedAt = &t
	}
	return &m, nil
}

func marshalStrings(v []string) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}
