package observability

import (
	"context"
	"errors"
	"fmt"

	"wanderlust/internal/shared/logging"
)

// Config bundles the metrics and tracing settings.
type Config struct {
	Metrics MetricsConfig
	Tracing TracingConfig
}

// Observability owns the metrics collector and tracer provider.
type Observability struct {
	Metrics      *MetricsCollector
	Tracer       *TracerProvider
	Notification *NotificationMetrics
	logger       logging.Logger
}

// New initializes metrics and tracing. Failures degrade to no-op components
// rather than failing startup.
func New(config Config, logger logging.Logger) *Observability {
	logger = logging.OrNop(logger)

	metrics, err := NewMetricsCollector(config.Metrics)
	if err != nil {
		logger.Error("Failed to initialize metrics: %v", err)
		metrics = &MetricsCollector{}
	}

	tracer, err := NewTracerProvider(config.Tracing)
	if err != nil {
		logger.Error("Failed to initialize tracing: %v", err)
		tracer = NoopTracer()
	}

	var notification *NotificationMetrics
	if reg := metrics.Registry(); reg != nil {
		notification = NewNotificationMetrics(reg)
	}

	logger.Info("Observability initialized (metrics=%t tracing=%t)", metrics.Enabled(), config.Tracing.Enabled)
	return &Observability{
		Metrics:      metrics,
		Tracer:       tracer,
		Notification: notification,
		logger:       logger,
	}
}

// Shutdown flushes metrics and tracing.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	var errs []error
	if err := o.Metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}
	if err := o.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	return errors.Join(errs...)
}
