package service

import (
	"context"

	"github.com/orchestry/missiond/internal/port/database"
)

// CostReport bundles a mission's spend summary with its per-model
// breakdown for the cost endpoint.
type CostReport struct {
	Summary  *database.MissionCostSummary `json:"summary"`
	ByModel  []database.ModelCostSummary  `json:"by_model"`
	CapUSD   float64                      `json:"cap_usd"`
	WarnUSD  float64                      `json:"warn_usd"`
	Exceeded bool                         `json:"exceeded"`
}

// CostService answers spend queries from the durable cost entry log.
type CostService struct {
	store database.Store
}

func NewCostService(store database.Store) *CostService {
	return &CostService{store: store}
}

// MissionReport returns the full cost picture for one mission.
func (s *CostService) MissionReport(ctx context.Context, missionID string) (*CostReport, error) {
	m, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	summary, err := s.store.CostSummaryByMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	byModel, err := s.store.CostByModel(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return &CostReport{
		Summary:  summary,
		ByModel:  byModel,
		CapUSD:   m.CostCapUSD,
		WarnUSD:  m.CostWarnUSD,
		Exceeded: m.CostCapUSD > 0 && summary.TotalCostUSD >= m.CostCapUSD,
	}, nil
}

// Daily returns aggregated spend per day over the trailing window.
func (s *CostService) Daily(ctx context.Context, days int) ([]database.DailyCost, error) {
	if days <= 0 {
		days = 30
	}
	return s.store.CostDaily(ctx, days)
}
