package http

import (
	"net/http"
	"time"

	"wanderlust/internal/app/coordinator"
	"wanderlust/internal/delivery/server/ports"
	"wanderlust/internal/domain/tracker"
	"wanderlust/internal/infra/observability"
	"wanderlust/internal/shared/logging"

	"github.com/gin-gonic/gin"
)

const (
	defaultHeartbeat = 15 * time.Second
	clientBuffer     = 32

	sseEventSnapshot = "snapshot"
	sseEventRun      = "run"
)

// SSEHandler streams run updates of one slot until a run finishes.
type SSEHandler struct {
	runs        RunService
	broadcaster ports.RunBroadcaster
	obs         *observability.Observability
	heartbeat   time.Duration
	logger      logging.Logger
}

// SSEOption configures an SSEHandler.
type SSEOption func(*SSEHandler)

// WithSSEObservability counts open streams.
func WithSSEObservability(obs *observability.Observability) SSEOption {
	return func(h *SSEHandler) {
		h.obs = obs
	}
}

// WithHeartbeat sets the keep-alive interval.
func WithHeartbeat(d time.Duration) SSEOption {
	return func(h *SSEHandler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// NewSSEHandler streams from broadcaster.
func NewSSEHandler(runs RunService, broadcaster ports.RunBroadcaster, opts ...SSEOption) *SSEHandler {
	h := &SSEHandler{
		runs:        runs,
		broadcaster: broadcaster,
		heartbeat:   defaultHeartbeat,
		logger:      logging.NewComponentLogger("SSEHandler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// endsStream reports whether view closes the stream. A superseded run means a
// newer run owns the slot, so the stream keeps following it.
func endsStream(view coordinator.RunView) bool {
	return view.Status.IsTerminal() && view.Status != tracker.RunSuperseded
}

// HandleRunStream sends a snapshot event then one run event per update.
func (h *SSEHandler) HandleRunStream(c *gin.Context) {
	kind, err := parseKind(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "Unknown workflow kind", Details: err.Error()})
		return
	}
	if h.broadcaster == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "Streaming is not available"})
		return
	}
	key := coordinator.NewKey(c.Param("plan_id"), kind, c.Query("location_id"))

	updates := make(chan coordinator.RunView, clientBuffer)
	h.broadcaster.RegisterClient(key, updates)
	defer h.broadcaster.UnregisterClient(key, updates)

	snapshot, err := h.runs.Get(key)
	if err != nil {
		status, msg := mapDomainError(err)
		if status == 0 {
			status, msg = http.StatusInternalServerError, "Failed to load workflow"
		}
		c.AbortWithStatusJSON(status, errorResponse{Error: msg, LogID: logIDFrom(c)})
		return
	}

	ctx := c.Request.Context()
	if h.obs != nil {
		h.obs.Metrics.IncrementSSEConnections(ctx)
		defer h.obs.Metrics.DecrementSSEConnections(ctx)
	}
	log := logging.FromContext(ctx, h.logger)
	log.Debug("Stream opened for %s", key)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(sseEventSnapshot, snapshot)
	c.Writer.Flush()
	if endsStream(snapshot) {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug("Stream for %s closed by client", key)
			return
		case <-heartbeat.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case view := <-updates:
			c.SSEvent(sseEventRun, view)
			c.Writer.Flush()
			if endsStream(view) {
				log.Debug("Stream for %s finished with %s", key, view.Status)
				return
			}
		}
	}
}
