package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "missiond"

// StartMissionSpan starts a span covering one mission run.
func StartMissionSpan(ctx context.Context, missionID, objective string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "mission",
		trace.WithAttributes(
			attribute.String("mission.id", missionID),
			attribute.String("mission.objective", objective),
		),
	)
}

// StartRoundSpan starts a span for one run-loop round.
func StartRoundSpan(ctx context.Context, missionID string, round int, role string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "round",
		trace.WithAttributes(
			attribute.String("mission.id", missionID),
			attribute.Int("round.index", round),
			attribute.String("round.role", role),
		),
	)
}

// StartApprovalSpan starts a span for approval request processing.
func StartApprovalSpan(ctx context.Context, requestID, workflowID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "approval",
		trace.WithAttributes(
			attribute.String("approval.request_id", requestID),
			attribute.String("approval.workflow_id", workflowID),
		),
	)
}
