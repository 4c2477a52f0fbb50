package observability

import (
	"context"
	"fmt"

	"wanderlust/internal/shared/utils/id"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled        bool
	OTLPEndpoint   string
	SampleRate     float64
	ServiceName    string
	ServiceVersion string
}

// TracerProvider wraps an OpenTelemetry tracer.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider exports spans over OTLP/HTTP when enabled and falls back
// to a noop tracer otherwise.
func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return NoopTracer(), nil
	}
	if config.ServiceName == "" {
		config.ServiceName = "wanderlust"
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}
	endpoint := config.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("wanderlust"),
	}, nil
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *TracerProvider {
	return &TracerProvider{tracer: noop.NewTracerProvider().Tracer("wanderlust")}
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// StartSpan starts a span tagged with the plan, run and user found on ctx.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tp == nil || tp.tracer == nil {
		tp = NoopTracer()
	}
	ids := id.IDsFromContext(ctx)
	if ids.PlanID != "" {
		attrs = append(attrs, attribute.String(AttrPlanID, ids.PlanID))
	}
	if ids.RunID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, ids.RunID))
	}
	if ids.UserID != "" {
		attrs = append(attrs, attribute.String(AttrUserID, ids.UserID))
	}
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Span names.
const (
	SpanAgentSubmit = "wanderlust.agent.submit"
	SpanAgentQuery  = "wanderlust.agent.query"
	SpanRunTick     = "wanderlust.run.tick"
	SpanFetchShape  = "wanderlust.store.fetch_shape"
	SpanHTTPServer  = "wanderlust.http.request"
)

// Attribute keys.
const (
	AttrPlanID = "wanderlust.plan_id"
	AttrRunID  = "wanderlust.run_id"
	AttrUserID = "wanderlust.user_id"
	AttrKind   = "kind"
	AttrStatus = "status"
	AttrTaskID = "wanderlust.task_id"
)
