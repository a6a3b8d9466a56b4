package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sectordesk"

// Metrics holds all SectorDesk metric instruments. A nil *Metrics records nothing.
type Metrics struct {
	Executions        metric.Int64Counter
	RoundsAdvanced    metric.Int64Counter
	ProposalFallbacks metric.Int64Counter
	ManagerDecisions  metric.Int64Counter
	VoteConflict      metric.Float64Histogram
	ProposalDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Executions, err = meter.Int64Counter("sectordesk.executions",
		metric.WithDescription("Checklist item executions by action and outcome"))
	if err != nil {
		return nil, err
	}

	m.RoundsAdvanced, err = meter.Int64Counter("sectordesk.discussion.rounds",
		metric.WithDescription("Discussion rounds advanced"))
	if err != nil {
		return nil, err
	}

	m.ProposalFallbacks, err = meter.Int64Counter("sectordesk.proposal.fallbacks",
		metric.WithDescription("Proposals replaced by a conservative HOLD"))
	if err != nil {
		return nil, err
	}

	m.ManagerDecisions, err = meter.Int64Counter("sectordesk.manager.decisions",
		metric.WithDescription("Advisory manager votes written"))
	if err != nil {
		return nil, err
	}

	m.VoteConflict, err = meter.Float64Histogram("sectordesk.manager.conflict_score",
		metric.WithDescription("Conflict score of manager votes"))
	if err != nil {
		return nil, err
	}

	m.ProposalDuration, err = meter.Float64Histogram("sectordesk.proposal.duration_seconds",
		metric.WithDescription("Proposal source latency in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordExecution counts one execution attempt.
func (m *Metrics) RecordExecution(ctx context.Context, sectorID, action string, success bool) {
	if m == nil {
		return
	}
	m.Executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sector.id", sectorID),
		attribute.String("action", action),
		attribute.Bool("success", success),
	))
}

// RecordRound counts an advanced round.
func (m *Metrics) RecordRound(ctx context.Context, sectorID string) {
	if m == nil {
		return
	}
	m.RoundsAdvanced.Add(ctx, 1, metric.WithAttributes(attribute.String("sector.id", sectorID)))
}

// RecordProposal records proposal latency and whether it fell back to HOLD.
func (m *Metrics) RecordProposal(ctx context.Context, seconds float64, fallback bool) {
	if m == nil {
		return
	}
	m.ProposalDuration.Record(ctx, seconds, metric.WithAttributes(attribute.Bool("fallback", fallback)))
	if fallback {
		m.ProposalFallbacks.Add(ctx, 1)
	}
}

// RecordDecision records a manager vote.
func (m *Metrics) RecordDecision(ctx context.Context, sectorID, action string, conflict float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("sector.id", sectorID), attribute.String("action", action))
	m.ManagerDecisions.Add(ctx, 1, attrs)
	m.VoteConflict.Record(ctx, conflict, attrs)
}
