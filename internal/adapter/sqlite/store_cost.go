package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/orchestry/missiond/internal/domain/cost"
	"github.com/orchestry/missiond/internal/port/database"
)

func (s *Store) AppendCostEntry(ctx context.Context, missionID string, e *cost.Entry) error {
	return s.writer.Do(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO cost_entries (mission_id, role, model, tokens_in, tokens_out, cost_usd, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			missionID, e.Role, e.Model, e.TokensIn, e.TokensOut, e.CostUSD, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("append cost entry for mission %s: %w", missionID, err)
		}
		return nil
	})
}

func (s *Store) CostSummaryByMission(ctx context.Context, missionID string) (*database.MissionCostSummary, error) {
	sum := database.MissionCostSummary{MissionID: missionID}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0), COUNT(*)
		 FROM cost_entries WHERE mission_id = ?`, missionID).
		Scan(&sum.TotalCostUSD, &sum.TotalTokensIn, &sum.TotalTokensOut, &sum.CallCount)
	if err != nil {
		return nil, fmt.Errorf("cost summary for mission %s: %w", missionID, err)
	}
	return &sum, nil
}

func (s *Store) CostByModel(ctx context.Context, missionID string) ([]database.ModelCostSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, SUM(cost_usd), SUM(tokens_in), SUM(tokens_out), COUNT(*)
		 FROM cost_entries WHERE mission_id = ?
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT DATE(created_at), SUM(cost_usd), COUNT(*)
		 FROM cost_entries
		 WHERE created_at >= DATETIME('now', ?)
		 GROUP BY DATE(created_at) ORDER BY DATE(created_at) DESC`,
		fmt.Sprintf("-%d days", days))
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
