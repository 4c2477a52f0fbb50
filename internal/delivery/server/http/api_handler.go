package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"wanderlust/internal/app/coordinator"
	"wanderlust/internal/delivery/server/app"
	"wanderlust/internal/domain/tracker"
	"wanderlust/internal/shared/logging"

	"github.com/gin-gonic/gin"
)

const maxHistoryLimit = 500

// APIHandler serves the workflow run endpoints.
type APIHandler struct {
	runs         RunService
	health       *app.HealthChecker
	maxBodyBytes int64
	startedAt    time.Time
	logger       logging.Logger
}

// APIHandlerOption configures an APIHandler.
type APIHandlerOption func(*APIHandler)

// WithHealthChecker adds component probes to /health.
func WithHealthChecker(h *app.HealthChecker) APIHandlerOption {
	return func(a *APIHandler) {
		a.health = h
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) APIHandlerOption {
	return func(a *APIHandler) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// NewAPIHandler serves runs.
func NewAPIHandler(runs RunService, opts ...APIHandlerOption) *APIHandler {
	h := &APIHandler{
		runs:         runs,
		maxBodyBytes: defaultMaxBodyBytes,
		startedAt:    time.Now(),
		logger:       logging.NewComponentLogger("APIHandler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StartWorkflowRequest is the body of a workflow start.
type StartWorkflowRequest struct {
	UserID       string                `json:"user_id"`
	LocationID   string                `json:"location_id"`
	Context      tracker.PromptContext `json:"context"`
	Capabilities []string              `json:"capabilities"`
}

func (h *APIHandler) writeError(c *gin.Context, status int, message string, err error) {
	resp := errorResponse{Error: message, LogID: logIDFrom(c)}
	if err != nil {
		if status >= 500 {
			logging.FromContext(c.Request.Context(), h.logger).Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
		} else {
			resp.Details = err.Error()
		}
	}
	c.AbortWithStatusJSON(status, resp)
}

// writeMappedError uses the domain mapping when err is recognized and falls
// back to defaultStatus otherwise.
func (h *APIHandler) writeMappedError(c *gin.Context, err error, defaultStatus int, defaultMsg string) {
	if status, msg := mapDomainError(err); status != 0 {
		h.writeError(c, status, msg, err)
		return
	}
	h.writeError(c, defaultStatus, defaultMsg, err)
}

func parseKind(c *gin.Context) (tracker.WorkflowKind, error) {
	kind, err := tracker.ParseWorkflowKind(c.Param("kind"))
	if err != nil {
		return "", err
	}
	return kind, nil
}

// HandleStartWorkflow starts or regenerates a run; 202 with the run view.
func (h *APIHandler) HandleStartWorkflow(c *gin.Context) {
	kind, err := parseKind(c)
	if err != nil {
		h.writeError(c, http.StatusBadRequest, "Unknown workflow kind", err)
		return
	}

	var req StartWorkflowRequest
	if c.Request.ContentLength != 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
		if err := c.ShouldBindJSON(&req); err != nil {
			h.writeError(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	run, err := h.runs.Start(c.Request.Context(), coordinator.StartRequest{
		PlanID:       c.Param("plan_id"),
		Kind:         kind,
		LocationID:   strings.TrimSpace(req.LocationID),
		UserID:       strings.TrimSpace(req.UserID),
		Context:      req.Context,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "Failed to start workflow")
		return
	}
	c.JSON(http.StatusAccepted, run.View())
}

// HandleGetWorkflow returns the active run or the cached terminal result.
func (h *APIHandler) HandleGetWorkflow(c *gin.Context) {
	kind, err := parseKind(c)
	if err != nil {
		h.writeError(c, http.StatusBadRequest, "Unknown workflow kind", err)
		return
	}
	key := coordinator.NewKey(c.Param("plan_id"), kind, c.Query("location_id"))
	view, err := h.runs.Get(key)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "Failed to load workflow")
		return
	}
	c.JSON(http.StatusOK, view)
}

type runListResponse struct {
	Runs  []coordinator.RunView `json:"runs"`
	Count int                   `json:"count"`
}

// HandleListRuns lists active runs.
func (h *APIHandler) HandleListRuns(c *gin.Context) {
	runs := h.runs.List()
	c.JSON(http.StatusOK, runListResponse{Runs: runs, Count: len(runs)})
}

type historyResponse struct {
	Runs  []tracker.RunRecord `json:"runs"`
	Count int                 `json:"count"`
}

// HandleRunHistory lists recorded terminal runs filtered by plan_id, kind
// and status.
func (h *APIHandler) HandleRunHistory(c *gin.Context) {
	filter := tracker.RunFilter{
		PlanID: strings.TrimSpace(c.Query("plan_id")),
		Status: tracker.RunStatus(strings.TrimSpace(c.Query("status"))),
	}
	if raw := strings.TrimSpace(c.Query("kind")); raw != "" {
		kind, err := tracker.ParseWorkflowKind(raw)
		if err != nil {
			h.writeError(c, http.StatusBadRequest, "Unknown workflow kind", err)
			return
		}
		filter.Kind = kind
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.writeError(c, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		filter.Limit = min(limit, maxHistoryLimit)
	}

	records, err := h.runs.History(c.Request.Context(), filter)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "Failed to load run history")
		return
	}
	c.JSON(http.StatusOK, historyResponse{Runs: records, Count: len(records)})
}

type healthResponse struct {
	Status     app.HealthStatus      `json:"status"`
	Uptime     string                `json:"uptime"`
	ActiveRuns int                   `json:"active_runs"`
	Components []app.ComponentHealth `json:"components,omitempty"`
}

// HandleHealth reports readiness. Degraded components still answer 200 so
// the server keeps receiving traffic while a sink is down.
func (h *APIHandler) HandleHealth(c *gin.Context) {
	resp := healthResponse{
		Status:     app.HealthReady,
		Uptime:     time.Since(h.startedAt).Truncate(time.Second).String(),
		ActiveRuns: len(h.runs.List()),
	}
	if h.health != nil {
		resp.Status, resp.Components = h.health.Check(c.Request.Context())
	}
	c.JSON(http.StatusOK, resp)
}
