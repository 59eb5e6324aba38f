package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomeCommitted = "committed"
	outcomeDiscarded = "discarded"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeDropped   = "dropped"
)

type metrics struct {
	outcomes metric.Int64Counter
	releases metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/loqalabs/toneshift/orchestrator")
	m := &metrics{}
	if c, err := meter.Int64Counter("toneshift.pipeline.outcomes",
		metric.WithDescription("Pipeline request outcomes")); err == nil {
		m.outcomes = c
	}
	if c, err := meter.Int64Counter("toneshift.clips.released",
		metric.WithDescription("Audio clips released")); err == nil {
		m.releases = c
	}
	return m
}

func (m *metrics) outcome(ctx context.Context, p Pipeline, outcome string) {
	if m.outcomes == nil {
		return
	}
	m.outcomes.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("pipeline", string(p)),
		attribute.String("outcome", outcome),
	))
}

func (m *metrics) released(ctx context.Context) {
	if m.releases == nil {
		return
	}
	m.releases.Add(context.WithoutCancel(ctx), 1)
}
