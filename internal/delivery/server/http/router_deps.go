package http

import (
	"context"
	"time"

	"wanderlust/internal/app/coordinator"
	"wanderlust/internal/delivery/server/app"
	"wanderlust/internal/delivery/server/ports"
	"wanderlust/internal/domain/tracker"
	"wanderlust/internal/infra/notification"
	"wanderlust/internal/infra/observability"
)

// RunService is the coordinator surface the API needs.
type RunService interface {
	Start(ctx context.Context, req coordinator.StartRequest) (*coordinator.Run, error)
	Get(key coordinator.Key) (coordinator.RunView, error)
	List() []coordinator.RunView
	History(ctx context.Context, filter tracker.RunFilter) ([]tracker.RunRecord, error)
}

// NotificationHistory exposes recent deliveries.
type NotificationHistory interface {
	History(userID string, limit int) []notification.DeliveryResult
}

// RouterDeps holds the services the router wires into handlers.
type RouterDeps struct {
	Runs          RunService
	Broadcaster   ports.RunBroadcaster
	Subscriptions *notification.SubscriptionStore
	Notifications NotificationHistory
	Health        *app.HealthChecker
	Obs           *observability.Observability
}

// RouterConfig holds router settings.
type RouterConfig struct {
	Environment    string
	AllowedOrigins []string
	// StreamHeartbeat is the idle interval between SSE keep-alive comments.
	StreamHeartbeat time.Duration
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64
}
