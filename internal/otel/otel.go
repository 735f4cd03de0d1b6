// Package otel provides OpenTelemetry initialization for the relay server.
//
// Traces and metrics go to an OTLP/HTTP endpoint taken from the config file,
// OTEL_EXPORTER_OTLP_ENDPOINT, or the standard OTEL env vars. Without an
// endpoint every instrument is a no-op.
package otel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "pane-relay"

// metricInterval is how often metrics are pushed to the collector.
const metricInterval = 15 * time.Second

// Version is set by the caller (from the linker-injected cmd.Version).
var Version = "dev"

// OTELConfig holds the configuration needed by the OTEL init.
type OTELConfig struct {
	Endpoint string // OTLP base URL, e.g. "http://localhost:4318"
	Headers  string // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"
}

// Telemetry holds the OTEL providers and instruments used by the server.
type Telemetry struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	Tracer  trace.Tracer
	Metrics *Metrics
}

// Init wires OTLP HTTP exporters when cfg.Endpoint is set and returns
// instruments bound to the global providers. With no endpoint the result
// is equivalent to Noop.
func Init(ctx context.Context, cfg OTELConfig) (*Telemetry, error) {
	t := &Telemetry{}

	if cfg.Endpoint != "" {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(Version),
			),
			resource.WithHost(),
		)
		if err != nil {
			return nil, fmt.Errorf("otel resource: %w", err)
		}

		traceExp, metricExp, err := newExporters(ctx, cfg)
		if err != nil {
			return nil, err
		}

		t.tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
		)
		t.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(metricInterval))),
			sdkmetric.WithResource(res),
		)
		otel.SetTracerProvider(t.tp)
		otel.SetMeterProvider(t.mp)
	}

	if err := t.bindInstruments(); err != nil {
		return nil, err
	}
	return t, nil
}

// Noop returns telemetry bound to whatever global providers are registered,
// exporting nothing on its own. Used by tests and when Init fails.
func Noop() *Telemetry {
	t := &Telemetry{}
	// A nil Metrics is safe to record on, so a failed bind is not fatal.
	_ = t.bindInstruments()
	return t
}

func (t *Telemetry) bindInstruments() error {
	t.Tracer = otel.Tracer(serviceName)
	metrics, err := NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}
	t.Metrics = metrics
	return nil
}

// newExporters builds the trace and metric exporters for an endpoint URL.
// WithEndpoint (host:port) + WithURLPath keeps any base path the collector
// is mounted under, with the standard /v1/traces and /v1/metrics suffixes.
func newExporters(ctx context.Context, cfg OTELConfig) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("otel: invalid endpoint URL %q: %w", cfg.Endpoint, err)
	}
	basePath := strings.TrimRight(u.Path, "/")

	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(u.Host),
		otlptracehttp.WithURLPath(basePath + "/v1/traces"),
	}
	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(u.Host),
		otlpmetrichttp.WithURLPath(basePath + "/v1/metrics"),
	}
	if u.Scheme == "http" {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	if headers := parseHeaders(cfg.Headers); len(headers) > 0 {
		traceOpts = append(traceOpts, otlptracehttp.WithHeaders(headers))
		metricOpts = append(metricOpts, otlpmetrichttp.WithHeaders(headers))
	}

	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("otel trace exporter: %w", err)
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, nil, fmt.Errorf("otel metric exporter: %w", err)
	}
	return traceExp, metricExp, nil
}

// parseHeaders parses the OTEL_EXPORTER_OTLP_HEADERS format
// ("key=value,key2=value2") into a map. Malformed pairs are skipped.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(val)
	}
	return headers
}

// Shutdown flushes and shuts down all OTEL providers.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t == nil {
		return
	}
	if t.tp != nil {
		_ = t.tp.Shutdown(ctx)
	}
	if t.mp != nil {
		_ = t.mp.Shutdown(ctx)
	}
}
