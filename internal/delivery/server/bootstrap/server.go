// Package bootstrap wires configuration, infrastructure and the HTTP layer
// into a running server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wanderlust/internal/app/coordinator"
	"wanderlust/internal/app/prompts"
	serverApp "wanderlust/internal/delivery/server/app"
	serverHTTP "wanderlust/internal/delivery/server/http"
	"wanderlust/internal/domain/tracker"
	"wanderlust/internal/infra/agentclient"
	"wanderlust/internal/infra/httpclient"
	"wanderlust/internal/infra/notification"
	"wanderlust/internal/infra/observability"
	"wanderlust/internal/infra/planstore"
	"wanderlust/internal/shared/async"
	"wanderlust/internal/shared/config"
	"wanderlust/internal/shared/logging"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
)

const shutdownTimeout = 20 * time.Second

// Options selects the configuration sources of the server.
type Options struct {
	ConfigPath string
	Overrides  config.Overrides
}

// Server is a fully wired, not yet listening server.
type Server struct {
	Config      config.RuntimeConfig
	Coordinator *coordinator.Coordinator
	Handler     http.Handler

	logger   logging.Logger
	cleanups []func(ctx context.Context) error
}

// Build loads configuration and wires every component.
func Build(ctx context.Context, opts Options) (*Server, error) {
	cfg, meta, err := config.Load(config.WithConfigPath(opts.ConfigPath), config.WithOverrides(opts.Overrides))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Configure(logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
	logger := logging.NewComponentLogger("Bootstrap")
	if path := meta.Path(); path != "" {
		logger.Info("Loaded config from %s", path)
	}

	s := &Server{Config: cfg, logger: logger}
	obs := observability.New(observability.Config{
		Metrics: observability.MetricsConfig{Enabled: cfg.Observability.Metrics.Enabled},
		Tracing: observability.TracingConfig{
			Enabled:      cfg.Observability.Tracing.Enabled,
			OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
			SampleRate:   cfg.Observability.Tracing.SampleRate,
			ServiceName:  cfg.Observability.Tracing.ServiceName,
		},
	}, logger)
	s.addCleanup(obs.Shutdown)

	var (
		fetcher  tracker.ShapeFetcher
		recorder tracker.RunRecorder
		agent    tracker.AgentService
		natsConn *nats.Conn
	)
	health := serverApp.NewHealthChecker()
	degraded := NewDegraded()
	center := notification.NewCenter(notification.WithMetrics(obs.Notification))
	subscriptions := notification.NewSubscriptionStore(httpclient.PushEndpointOptions())

	stages := []Stage{
		{
			Name: "store", Required: true,
			Init: func(ctx context.Context) error {
				if cfg.Store.DatabaseURL == "" {
					fetcher = planstore.NewMemoryStore()
					recorder = planstore.NewMemoryRunRecorder(0)
					health.Disable("store", "in-memory store")
					logger.Warn("No database configured; using the in-memory plan store")
					return nil
				}
				pool, err := planstore.NewPool(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
				if err != nil {
					return err
				}
				s.addCleanup(closePool(pool))
				store := planstore.NewPostgresStore(pool)
				if err := store.EnsureSchema(ctx); err != nil {
					return err
				}
				runs := planstore.NewPostgresRunRecorder(pool)
				if err := runs.EnsureSchema(ctx); err != nil {
					return err
				}
				health.Register("store", store.Ping)
				fetcher, recorder = store, runs
				return nil
			},
		},
		{
			Name: "agent", Required: true,
			Init: func(context.Context) error {
				client, err := agentclient.New(agentclient.Config{
					BaseURL:    cfg.Agent.BaseURL,
					APIKey:     cfg.Agent.APIKey,
					Timeout:    cfg.Agent.Timeout,
					QueryRPS:   cfg.Agent.QueryRPS,
					QueryBurst: cfg.Agent.QueryBurst,

					BreakerFailures: cfg.Agent.BreakerFailures,
					BreakerCooldown: cfg.Agent.BreakerCooldown,
				})
				if err != nil {
					return err
				}
				agent = client
				return nil
			},
		},
		{
			Name: "notification-log",
			Init: func(context.Context) error {
				center.RegisterChannel(notification.NewLogChannel("log", os.Stdout), notification.ChannelConfig{
					Enabled: true, MinPriority: notification.PriorityNormal,
				})
				center.RegisterChannel(notification.NewPushChannel("push", subscriptions, nil), notification.ChannelConfig{
					Enabled: true, MinPriority: notification.PriorityNormal,
				})
				return nil
			},
		},
		{
			Name: "webhook",
			Init: func(context.Context) error {
				if cfg.Notification.WebhookURL == "" {
					health.Disable("webhook", "not configured")
					return nil
				}
				if _, err := httpclient.ValidateOutboundURL(cfg.Notification.WebhookURL, httpclient.DefaultURLValidationOptions()); err != nil {
					return err
				}
				center.RegisterChannel(notification.NewWebhookChannel("webhook", cfg.Notification.WebhookURL), notification.ChannelConfig{
					Enabled: true, MinPriority: notification.PriorityLow,
				})
				return nil
			},
		},
		{
			Name: "nats",
			Init: func(context.Context) error {
				if cfg.Notification.NATSURL == "" {
					health.Disable("nats", "not configured")
					return nil
				}
				conn, err := notification.ConnectNATS(cfg.Notification.NATSURL, logging.NewComponentLogger("NATS"))
				if err != nil {
					return err
				}
				natsConn = conn
				s.addCleanup(func(context.Context) error { return conn.Drain() })
				center.RegisterChannel(notification.NewNATSChannel("nats", cfg.Notification.NATSSubject, conn), notification.ChannelConfig{
					Enabled: true, MinPriority: notification.PriorityLow,
				})
				health.Register("nats", func(context.Context) error {
					if !natsConn.IsConnected() {
						return fmt.Errorf("nats status %s", natsConn.Status())
					}
					return nil
				})
				return nil
			},
		},
	}
	if err := RunStages(ctx, stages, degraded, logger); err != nil {
		s.shutdown(context.Background())
		return nil, err
	}
	for _, name := range degraded.Names() {
		reason, _ := degraded.Reason(name)
		health.Register(name, func(context.Context) error { return errors.New(reason) })
	}

	builder, err := prompts.New(prompts.WithCapabilities(cfg.Agent.Capabilities))
	if err != nil {
		s.shutdown(context.Background())
		return nil, fmt.Errorf("prompts: %w", err)
	}

	dispatcher := notification.NewDispatcher(center,
		notification.WithQueueSize(cfg.Notification.QueueSize),
		notification.WithDispatcherMetrics(obs.Notification),
	)
	broadcaster := serverApp.NewRunBroadcaster()
	coord, err := coordinator.New(
		observability.NewInstrumentedAgent(agent, obs.Tracer),
		observability.NewInstrumentedFetcher(fetcher, obs.Tracer),
		builder,
		coordinator.WithConfig(coordinatorConfig(cfg.Tracker)),
		coordinator.WithNotifier(dispatcher),
		coordinator.WithRecorder(recorder),
		coordinator.WithMetrics(obs.Metrics),
		coordinator.WithTracer(obs.Tracer),
		coordinator.WithListener(broadcaster),
	)
	if err != nil {
		s.shutdown(context.Background())
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	// Cleanups run in reverse: runs stop first, then queued notifications drain.
	s.addCleanup(dispatcher.Close)
	s.addCleanup(coord.Close)
	s.Coordinator = coord

	s.Handler = serverHTTP.NewRouter(serverHTTP.RouterDeps{
		Runs:          coord,
		Broadcaster:   broadcaster,
		Subscriptions: subscriptions,
		Notifications: center,
		Health:        health,
		Obs:           obs,
	}, serverHTTP.RouterConfig{
		Environment:    cfg.Server.Environment,
		AllowedOrigins: cfg.Server.CORSOrigins,
	})

	if !degraded.IsEmpty() {
		logger.Warn("Server starting degraded: %v", degraded.Names())
	}
	return s, nil
}

func coordinatorConfig(t config.TrackerConfig) coordinator.Config {
	return coordinator.Config{
		Interval:            t.Interval,
		Threshold:           t.Threshold,
		CompletedThreshold:  t.CompletedThreshold,
		MaxDuration:         t.MaxDuration,
		ResearchMaxDuration: t.ResearchMaxDuration,
		MaxTicks:            t.MaxTicks,
		MaxProbeFailures:    t.MaxProbeFailures,
		ResultTTL:           t.ResultTTL,
		ResultCacheSize:     t.ResultCacheSize,
	}
}

func closePool(pool *pgxpool.Pool) func(context.Context) error {
	return func(context.Context) error {
		pool.Close()
		return nil
	}
}

func (s *Server) addCleanup(fn func(ctx context.Context) error) {
	s.cleanups = append(s.cleanups, fn)
}

// shutdown runs cleanups in reverse registration order.
func (s *Server) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		if err := s.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.cleanups = nil
	return errors.Join(errs...)
}

// RunServer builds the server and serves until SIGINT/SIGTERM or ctx ends.
func RunServer(ctx context.Context, opts Options) error {
	s, err := Build(ctx, opts)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              s.Config.Server.Addr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.serveUntilSignal(ctx, httpServer)
}

func (s *Server) serveUntilSignal(ctx context.Context, server *http.Server) error {
	logger := s.logger

	errCh := make(chan error, 1)
	async.Go(logger, "server.listen", func() {
		logger.Info("Server listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Streams end once their runs are aborted, so stop runs before draining HTTP.
	if err := s.Coordinator.Close(shutdownCtx); err != nil {
		logger.Warn("Coordinator close: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown: %v", err)
	}
	if err := s.shutdown(shutdownCtx); err != nil {
		logger.Warn("Cleanup: %v", err)
	}
	logger.Info("Server stopped")
	return serveErr
}
