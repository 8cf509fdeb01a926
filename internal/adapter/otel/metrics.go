// Package otel holds missiond's OpenTelemetry instruments and span
// helpers. Exporter wiring is the deployment's concern; these resolve
// against the global meter and tracer providers.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "missiond"

// Metrics holds all missiond metric instruments.
type Metrics struct {
	MissionsStarted  metric.Int64Counter
	MissionsResumed  metric.Int64Counter
	MissionsAborted  metric.Int64Counter
	MissionsDone     metric.Int64Counter
	RoundsCompleted  metric.Int64Counter
	CheckpointWrites metric.Int64Counter
	ApprovalTimeouts metric.Int64Counter
	MissionDuration  metric.Float64Histogram
	MissionCost      metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.MissionsStarted, err = meter.Int64Counter("missiond.missions.started",
		metric.WithDescription("Number of missions started"))
	if err != nil {
		return nil, err
	}

	m.MissionsResumed, err = meter.Int64Counter("missiond.missions.resumed",
		metric.WithDescription("Number of missions resumed from a checkpoint"))
	if err != nil {
		return nil, err
	}

	m.MissionsAborted, err = meter.Int64Counter("missiond.missions.aborted",
		metric.WithDescription("Number of missions aborted, by reason attribute"))
	if err != nil {
		return nil, err
	}

	m.MissionsDone, err = meter.Int64Counter("missiond.missions.completed",
		metric.WithDescription("Number of missions completed successfully"))
	if err != nil {
		return nil, err
	}

	m.RoundsCompleted, err = meter.Int64Counter("missiond.rounds.completed",
		metric.WithDescription("Number of run-loop rounds completed"))
	if err != nil {
		return nil, err
	}

	m.CheckpointWrites, err = meter.Int64Counter("missiond.checkpoints.saved",
		metric.WithDescription("Number of checkpoint writes"))
	if err != nil {
		return nil, err
	}

	m.ApprovalTimeouts, err = meter.Int64Counter("missiond.approvals.step_timeouts",
		metric.WithDescription("Number of approval steps that hit their deadline"))
	if err != nil {
		return nil, err
	}

	m.MissionDuration, err = meter.Float64Histogram("missiond.mission.duration_seconds",
		metric.WithDescription("Mission duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.MissionCost, err = meter.Float64Histogram("missiond.mission.cost_usd",
		metric.WithDescription("Mission spend in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
