package observability

import (
	"context"
	"time"

	"wanderlust/internal/domain/tracker"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// InstrumentedAgent wraps an agent service with spans.
type InstrumentedAgent struct {
	inner  tracker.AgentService
	tracer *TracerProvider
}

// NewInstrumentedAgent returns inner unchanged when tracer is nil.
func NewInstrumentedAgent(inner tracker.AgentService, tracer *TracerProvider) tracker.AgentService {
	if tracer == nil {
		return inner
	}
	return &InstrumentedAgent{inner: inner, tracer: tracer}
}

func (a *InstrumentedAgent) Submit(ctx context.Context, prompt string, capabilities []string) (tracker.TaskHandle, tracker.TaskStatus, error) {
	ctx, span := a.tracer.StartSpan(ctx, SpanAgentSubmit, attribute.Int("prompt.length", len(prompt)), attribute.StringSlice("capabilities", capabilities))
	defer span.End()

	started := time.Now()
	handle, status, err := a.inner.Submit(ctx, prompt, capabilities)
	span.SetAttributes(attribute.Int64("latency_ms", time.Since(started).Milliseconds()))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return handle, status, err
	}
	span.SetAttributes(attribute.String(AttrTaskID, handle.ID), attribute.String(AttrStatus, string(status.State)))
	return handle, status, nil
}

func (a *InstrumentedAgent) Query(ctx context.Context, taskID string) (tracker.TaskStatus, error) {
	ctx, span := a.tracer.StartSpan(ctx, SpanAgentQuery, attribute.String(AttrTaskID, taskID))
	defer span.End()

	status, err := a.inner.Query(ctx, taskID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return status, err
	}
	span.SetAttributes(attribute.String(AttrStatus, string(status.State)))
	return status, nil
}

// InstrumentedFetcher wraps a shape fetcher with spans.
type InstrumentedFetcher struct {
	inner  tracker.ShapeFetcher
	tracer *TracerProvider
}

// NewInstrumentedFetcher returns inner unchanged when tracer is nil.
func NewInstrumentedFetcher(inner tracker.ShapeFetcher, tracer *TracerProvider) tracker.ShapeFetcher {
	if tracer == nil {
		return inner
	}
	return &InstrumentedFetcher{inner: inner, tracer: tracer}
}

func (f *InstrumentedFetcher) FetchShape(ctx context.Context, ref tracker.ResourceRef) (tracker.Shape, error) {
	ctx, span := f.tracer.StartSpan(ctx, SpanFetchShape, attribute.String("resource", ref.String()))
	defer span.End()

	shape, err := f.inner.FetchShape(ctx, ref)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return shape, err
	}
	span.SetAttributes(attribute.Int("shape.count", shape.Count))
	return shape, nil
}
