package http

import (
	"net/http"
	"strconv"
	"strings"

	"wanderlust/internal/infra/notification"

	"github.com/gin-gonic/gin"
)

// PushHandler manages push subscriptions and exposes delivery history.
type PushHandler struct {
	store        *notification.SubscriptionStore
	history      NotificationHistory
	maxBodyBytes int64
}

// NewPushHandler serves store. history may be nil.
func NewPushHandler(store *notification.SubscriptionStore, history NotificationHistory, maxBodyBytes int64) *PushHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &PushHandler{store: store, history: history, maxBodyBytes: maxBodyBytes}
}

// HandleSubscribe registers a subscription; 201 with the stored record.
func (h *PushHandler) HandleSubscribe(c *gin.Context) {
	var sub notification.Subscription
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}
	stored, err := h.store.Subscribe(sub)
	if err != nil {
		status, msg := mapDomainError(err)
		if status == 0 {
			status, msg = http.StatusInternalServerError, "Failed to store subscription"
		}
		c.AbortWithStatusJSON(status, errorResponse{Error: msg, Details: err.Error(), LogID: logIDFrom(c)})
		return
	}
	c.JSON(http.StatusCreated, stored)
}

// HandleList returns a user's subscriptions.
func (h *PushHandler) HandleList(c *gin.Context) {
	subs := h.store.List(c.Param("user_id"))
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

// HandleUnsubscribe removes one endpoint (?endpoint=) or all of a user's.
func (h *PushHandler) HandleUnsubscribe(c *gin.Context) {
	removed := h.store.Unsubscribe(c.Param("user_id"), strings.TrimSpace(c.Query("endpoint")))
	if removed == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "Subscription not found", LogID: logIDFrom(c)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// HandleHistory lists recent notification deliveries (?user_id=, ?limit=).
func (h *PushHandler) HandleHistory(c *gin.Context) {
	if h.history == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "Notification history is not available"})
		return
	}
	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	deliveries := h.history.History(strings.TrimSpace(c.Query("user_id")), limit)
	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries, "count": len(deliveries)})
}
