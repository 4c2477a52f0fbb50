// Package http exposes plan workflow runs over a gin HTTP API.
package http

import (
	"net/http"
	"strings"

	"wanderlust/internal/shared/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const defaultMaxBodyBytes = 1 << 20

// NewRouter builds the gin engine with every endpoint.
func NewRouter(deps RouterDeps, cfg RouterConfig) http.Handler {
	logger := logging.NewComponentLogger("Router")
	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	if env == "production" || env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggingMiddleware(logger))
	engine.Use(ObservabilityMiddleware(deps.Obs))
	engine.Use(corsMiddleware(env, cfg.AllowedOrigins))

	apiHandler := NewAPIHandler(deps.Runs, WithHealthChecker(deps.Health), WithMaxBodyBytes(cfg.MaxBodyBytes))
	sseHandler := NewSSEHandler(deps.Runs, deps.Broadcaster, WithSSEObservability(deps.Obs), WithHeartbeat(cfg.StreamHeartbeat))

	engine.GET("/health", apiHandler.HandleHealth)
	if deps.Obs != nil && deps.Obs.Metrics.Enabled() {
		engine.GET("/metrics", gin.WrapH(deps.Obs.Metrics.Handler()))
	}

	api := engine.Group("/api")
	{
		workflows := api.Group("/plans/:plan_id/workflows/:kind")
		workflows.POST("", apiHandler.HandleStartWorkflow)
		workflows.GET("", apiHandler.HandleGetWorkflow)
		workflows.GET("/events", sseHandler.HandleRunStream)

		api.GET("/runs", apiHandler.HandleListRuns)
		api.GET("/runs/history", apiHandler.HandleRunHistory)

		if deps.Subscriptions != nil {
			push := NewPushHandler(deps.Subscriptions, deps.Notifications, cfg.MaxBodyBytes)
			api.POST("/push/subscriptions", push.HandleSubscribe)
			api.GET("/push/subscriptions/:user_id", push.HandleList)
			api.DELETE("/push/subscriptions/:user_id", push.HandleUnsubscribe)
			api.GET("/notifications", push.HandleHistory)
		}
	}
	return engine
}

// corsMiddleware allows any origin in development; elsewhere only the listed
// origins, with credentials.
func corsMiddleware(env string, origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Log-Id", "Last-Event-ID"},
		ExposeHeaders:    []string{"X-Log-Id"},
		AllowCredentials: true,
	}
	if env == "" || env == "development" || env == "dev" {
		cfg.AllowOriginFunc = func(string) bool { return true }
		return cors.New(cfg)
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return false }
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
