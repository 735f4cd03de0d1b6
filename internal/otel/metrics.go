package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "pane-relay"

// Metrics holds all OTEL metric instruments for the relay server.
// All methods are nil-safe and safe for concurrent use.
type Metrics struct {
	// Executions counts finished multiplexer invocations by outcome
	// (success, exit_nonzero, spawn_failed, timeout).
	Executions metric.Int64Counter

	// ResolutionFailures counts requests rejected before anything ran
	// (no_enter_method, malformed_enter_command, invalid_request).
	ResolutionFailures metric.Int64Counter

	// ExecutionDuration is the wall-clock time of the multiplexer process.
	ExecutionDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Executions, err = meter.Int64Counter("relay.executions",
		metric.WithDescription("Multiplexer invocations partitioned by outcome"))
	if err != nil {
		return nil, err
	}

	m.ResolutionFailures, err = meter.Int64Counter("relay.resolution_failures",
		metric.WithDescription("Requests rejected before the multiplexer was invoked"))
	if err != nil {
		return nil, err
	}

	m.ExecutionDuration, err = meter.Float64Histogram("relay.execution.duration",
		metric.WithDescription("Wall-clock duration of multiplexer invocations"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordExecution records one multiplexer invocation.
func (m *Metrics) RecordExecution(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("relay.outcome", outcome))
	m.Executions.Add(ctx, 1, attrs)
	m.ExecutionDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

// RecordResolutionFailure records a request that never reached the multiplexer.
func (m *Metrics) RecordResolutionFailure(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.ResolutionFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.type", errorType),
	))
}
