package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "wanderlust"

// MetricsCollector records workflow run and HTTP metrics. A zero value (or nil
// pointer) is a valid no-op collector.
type MetricsCollector struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	runsStarted   metric.Int64Counter
	runsFinished  metric.Int64Counter
	runDuration   metric.Float64Histogram
	runsActive    metric.Int64UpDownCounter
	ticks         metric.Int64Counter
	probeFailures metric.Int64Counter

	httpRequests metric.Int64Counter
	httpLatency  metric.Float64Histogram

	sseConnections metric.Int64UpDownCounter

	testHooks MetricsTestHooks
}

// MetricsTestHooks lets tests assert instrumentation without scraping.
type MetricsTestHooks struct {
	RunFinished  func(kind, status string, duration time.Duration)
	ProbeFailure func(kind, probe string)
}

// SetTestHooks registers callbacks invoked alongside the matching metric.
func (m *MetricsCollector) SetTestHooks(hooks MetricsTestHooks) {
	if m == nil {
		return
	}
	m.testHooks = hooks
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled bool
}

// NewMetricsCollector wires an OpenTelemetry meter to a dedicated Prometheus
// registry served by Handler.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	m := &MetricsCollector{registry: registry, provider: provider}
	var b builder
	m.runsStarted = b.counter(meter, "wanderlust.runs.started", "Workflow runs started", "{run}")
	m.runsFinished = b.counter(meter, "wanderlust.runs.finished", "Workflow runs that reached a terminal state", "{run}")
	m.runDuration = b.histogram(meter, "wanderlust.run.duration", "Workflow run wall time in seconds", "s")
	m.runsActive = b.upDown(meter, "wanderlust.runs.active", "Workflow runs currently polling", "{run}")
	m.ticks = b.counter(meter, "wanderlust.ticks", "Poll ticks executed", "{tick}")
	m.probeFailures = b.counter(meter, "wanderlust.probe.failures", "Failed shape fetches and status queries", "{failure}")
	m.httpRequests = b.counter(meter, "wanderlust.http.requests", "HTTP requests handled", "{request}")
	m.httpLatency = b.histogram(meter, "wanderlust.http.latency", "HTTP request latency in seconds", "s")
	m.sseConnections = b.upDown(meter, "wanderlust.sse.connections.active", "Open run event streams", "{connection}")
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

type builder struct {
	err error
}

func (b *builder) counter(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
	if b.err != nil {
		return nil
	}
	c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("create %s counter: %w", name, err)
	}
	return c
}

func (b *builder) upDown(meter metric.Meter, name, desc, unit string) metric.Int64UpDownCounter {
	if b.err != nil {
		return nil
	}
	c, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("create %s gauge: %w", name, err)
	}
	return c
}

func (b *builder) histogram(meter metric.Meter, name, desc, unit string) metric.Float64Histogram {
	if b.err != nil {
		return nil
	}
	h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("create %s histogram: %w", name, err)
	}
	return h
}

// Enabled reports whether metrics are exported.
func (m *MetricsCollector) Enabled() bool {
	return m != nil && m.registry != nil
}

// Registry exposes the Prometheus registry so other collectors can share it.
func (m *MetricsCollector) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *MetricsCollector) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordRunStarted counts a run entering the polling state.
func (m *MetricsCollector) RecordRunStarted(ctx context.Context, kind string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrKind, kind))
	m.runsStarted.Add(ctx, 1, attrs)
	m.runsActive.Add(ctx, 1, attrs)
}

// RecordRunFinished counts a terminal run and its duration.
func (m *MetricsCollector) RecordRunFinished(ctx context.Context, kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	if hook := m.testHooks.RunFinished; hook != nil {
		hook(kind, status, duration)
	}
	if m.runsFinished == nil {
		return
	}
	m.runsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrKind, kind),
		attribute.String(AttrStatus, status),
	))
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrKind, kind),
		attribute.String(AttrStatus, status),
	))
	m.runsActive.Add(ctx, -1, metric.WithAttributes(attribute.String(AttrKind, kind)))
}

// RecordTick counts one poll tick.
func (m *MetricsCollector) RecordTick(ctx context.Context, kind string) {
	if m == nil || m.ticks == nil {
		return
	}
	m.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrKind, kind)))
}

// RecordProbeFailure counts a failed fetch ("shape") or query ("status").
func (m *MetricsCollector) RecordProbeFailure(ctx context.Context, kind, probe string) {
	if m == nil {
		return
	}
	if hook := m.testHooks.ProbeFailure; hook != nil {
		hook(kind, probe)
	}
	if m.probeFailures == nil {
		return
	}
	m.probeFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrKind, kind),
		attribute.String("probe", probe),
	))
}

// RecordHTTPServerRequest records one handled HTTP request.
func (m *MetricsCollector) RecordHTTPServerRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	))
	m.httpLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
	))
}

// IncrementSSEConnections tracks an opened event stream.
func (m *MetricsCollector) IncrementSSEConnections(ctx context.Context) {
	if m == nil || m.sseConnections == nil {
		return
	}
	m.sseConnections.Add(ctx, 1)
}

// DecrementSSEConnections tracks a closed event stream.
func (m *MetricsCollector) DecrementSSEConnections(ctx context.Context) {
	if m == nil || m.sseConnections == nil {
		return
	}
	m.sseConnections.Add(ctx, -1)
}
