package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sectordesk"

// StartRoundSpan starts a span for one discussion round.
func StartRoundSpan(ctx context.Context, discussionID, sectorID string, round int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "discussion.round",
		trace.WithAttributes(
			attribute.String("discussion.id", discussionID),
			attribute.String("sector.id", sectorID),
			attribute.Int("discussion.round", round),
		),
	)
}

// StartProposalSpan starts a span for one agent proposal.
func StartProposalSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "proposal",
		trace.WithAttributes(attribute.String("agent.id", agentID)),
	)
}

// StartExecutionSpan starts a span for executing one checklist item.
func StartExecutionSpan(ctx context.Context, sectorID, itemID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "execution",
		trace.WithAttributes(
			attribute.String("sector.id", sectorID),
			attribute.String("checklist_item.id", itemID),
		),
	)
}

// StartManagerTickSpan starts a span for a manager vote tick.
func StartManagerTickSpan(ctx context.Context, sectorID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "manager.tick",
		trace.WithAttributes(attribute.String("sector.id", sectorID)),
	)
}
