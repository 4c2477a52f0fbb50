package http

import (
	"strings"
	"time"

	"wanderlust/internal/infra/httpclient"
	"wanderlust/internal/infra/observability"
	"wanderlust/internal/shared/logging"
	id "wanderlust/internal/shared/utils/id"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const logIDKey = "log_id"

func resolveLogID(c *gin.Context) string {
	for _, header := range []string{httpclient.HeaderLogID, "X-Request-Id", "X-Correlation-Id"} {
		if value := strings.TrimSpace(c.GetHeader(header)); value != "" {
			return value
		}
	}
	return ""
}

// LoggingMiddleware assigns a log id to every request, echoes it in the
// response and logs the completed request.
func LoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		logID := resolveLogID(c)
		if logID == "" {
			logID = id.NewLogID()
		}
		ctx := id.WithLogID(c.Request.Context(), logID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(logIDKey, logID)
		c.Header(httpclient.HeaderLogID, logID)

		start := time.Now()
		c.Next()

		reqLogger := logging.WithLogID(logger, logID)
		status := c.Writer.Status()
		if status >= 500 {
			reqLogger.Warn("%s %s -> %d (%s) from %s", c.Request.Method, c.Request.URL.Path, status, time.Since(start), c.ClientIP())
			return
		}
		reqLogger.Info("%s %s -> %d (%s) from %s", c.Request.Method, c.Request.URL.Path, status, time.Since(start), c.ClientIP())
	}
}

// ObservabilityMiddleware records request metrics and a server span per
// request, keyed by the matched route template.
func ObservabilityMiddleware(obs *observability.Observability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if obs == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := obs.Tracer.StartSpan(c.Request.Context(), observability.SpanHTTPServer,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
		)
		c.Request = c.Request.WithContext(ctx)
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
		span.End()
		obs.Metrics.RecordHTTPServerRequest(ctx, c.Request.Method, route, status, time.Since(start))
	}
}

func logIDFrom(c *gin.Context) string {
	return c.GetString(logIDKey)
}
