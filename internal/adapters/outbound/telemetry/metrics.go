package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/dca/internal/ports/outbound"
)

const meterName = "github.com/archon-research/dca"

// Compile-time check that Metrics implements outbound.ExecutionMetrics
var _ outbound.ExecutionMetrics = (*Metrics)(nil)

// Metrics records cycle, sweep and quote measurements with OpenTelemetry.
type Metrics struct {
	cycles        metric.Int64Counter
	cycleDuration metric.Float64Histogram
	sweepDuration metric.Float64Histogram
	ordersDue     metric.Int64Histogram
	ordersClaimed metric.Int64Counter
	quoteDuration metric.Float64Histogram
	quoteFailures metric.Int64Counter
}

// NewMetrics creates the instruments on provider, or on the global provider
// when provider is nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.cycles, err = meter.Int64Counter("dca_cycles_total",
		metric.WithDescription("Finished execution cycles by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create dca_cycles_total counter: %w", err)
	}
	if m.cycleDuration, err = meter.Float64Histogram("dca_cycle_duration_seconds",
		metric.WithDescription("Time from claim to recorded outcome"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create dca_cycle_duration_seconds histogram: %w", err)
	}
	if m.sweepDuration, err = meter.Float64Histogram("dca_sweep_duration_seconds",
		metric.WithDescription("Time taken by one scheduler sweep"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create dca_sweep_duration_seconds histogram: %w", err)
	}
	if m.ordersDue, err = meter.Int64Histogram("dca_sweep_orders_due",
		metric.WithDescription("Orders found due per sweep")); err != nil {
		return nil, fmt.Errorf("failed to create dca_sweep_orders_due histogram: %w", err)
	}
	if m.ordersClaimed, err = meter.Int64Counter("dca_orders_claimed_total",
		metric.WithDescription("Orders claimed by sweeps")); err != nil {
		return nil, fmt.Errorf("failed to create dca_orders_claimed_total counter: %w", err)
	}
	if m.quoteDuration, err = meter.Float64Histogram("dca_quote_duration_seconds",
		metric.WithDescription("Quote source response time"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create dca_quote_duration_seconds histogram: %w", err)
	}
	if m.quoteFailures, err = meter.Int64Counter("dca_quote_failures_total",
		metric.WithDescription("Quote requests that returned an error")); err != nil {
		return nil, fmt.Errorf("failed to create dca_quote_failures_total counter: %w", err)
	}
	return m, nil
}

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSweep records a finished sweep.
func (m *Metrics) RecordSweep(ctx context.Context, due, claimed int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("status", status(err)))
	m.sweepDuration.Record(ctx, duration.Seconds(), attrs)
	m.ordersDue.Record(ctx, int64(due))
	m.ordersClaimed.Add(ctx, int64(claimed))
}

// RecordQuote records one quote source response.
func (m *Metrics) RecordQuote(ctx context.Context, source string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status(err)),
	)
	m.quoteDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.quoteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
