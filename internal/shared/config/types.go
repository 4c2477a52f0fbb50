package config

import (
	"strings"
	"time"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

const (
	DefaultServerAddr          = ":8080"
	DefaultAgentTimeout        = 30 * time.Second
	DefaultAgentQueryRPS       = 5.0
	DefaultAgentQueryBurst     = 5
	DefaultAgentBreakerFails   = 5
	DefaultAgentBreakerCool    = 30 * time.Second
	DefaultTrackerInterval     = 7 * time.Second
	DefaultTrackerThreshold    = 3
	DefaultShortRunBudget      = 2 * time.Minute
	DefaultResearchRunBudget   = 10 * time.Minute
	DefaultMaxTicks            = 120
	DefaultMaxProbeFailures    = 10
	DefaultResultTTL           = 30 * time.Minute
	DefaultResultCacheSize     = 1024
	DefaultNotificationQueue   = 256
	DefaultNATSSubject         = "wanderlust.workflow.events"
	DefaultStoreMaxConns       = 8
	DefaultTracingServiceName  = "wanderlust"
	DefaultTracingOTLPEndpoint = "localhost:4318"
)

// RuntimeConfig is the fully resolved server configuration.
type RuntimeConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Agent         AgentConfig         `yaml:"agent"`
	Tracker       TrackerConfig       `yaml:"tracker"`
	Store         StoreConfig         `yaml:"store"`
	Notification  NotificationConfig  `yaml:"notification"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	Environment string   `yaml:"environment"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// AgentConfig configures the remote agent execution service.
type AgentConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	QueryRPS   float64       `yaml:"query_rps"`
	QueryBurst int           `yaml:"query_burst"`

	// BreakerFailures consecutive failed status queries open the query
	// circuit for BreakerCooldown. Zero disables the breaker.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`

	// Capabilities overrides the connector list per workflow kind.
	Capabilities map[string][]string `yaml:"capabilities"`
}

// TrackerConfig holds the convergence polling knobs.
type TrackerConfig struct {
	Interval            time.Duration `yaml:"interval"`
	Threshold           int           `yaml:"threshold"`
	CompletedThreshold  int           `yaml:"completed_threshold"`
	MaxDuration         time.Duration `yaml:"max_duration"`
	ResearchMaxDuration time.Duration `yaml:"research_max_duration"`
	MaxTicks            int           `yaml:"max_ticks"`
	MaxProbeFailures    int           `yaml:"max_probe_failures"`
	ResultTTL           time.Duration `yaml:"result_ttl"`
	ResultCacheSize     int           `yaml:"result_cache_size"`
}

// StoreConfig configures the Postgres-backed plan store. An empty URL selects
// the in-memory store.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url"`
	MaxConns    int32  `yaml:"max_conns"`
}

// NotificationConfig configures fire-and-forget event sinks.
type NotificationConfig struct {
	WebhookURL  string `yaml:"webhook_url"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
	QueueSize   int    `yaml:"queue_size"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// Default returns the configuration used when no file or environment value is set.
func Default() RuntimeConfig {
	return RuntimeConfig{
		Server: ServerConfig{
			Addr:        DefaultServerAddr,
			Environment: "development",
		},
		Agent: AgentConfig{
			Timeout:         DefaultAgentTimeout,
			QueryRPS:        DefaultAgentQueryRPS,
			QueryBurst:      DefaultAgentQueryBurst,
			BreakerFailures: DefaultAgentBreakerFails,
			BreakerCooldown: DefaultAgentBreakerCool,
		},
		Tracker: TrackerConfig{
			Interval:            DefaultTrackerInterval,
			Threshold:           DefaultTrackerThreshold,
			MaxDuration:         DefaultShortRunBudget,
			ResearchMaxDuration: DefaultResearchRunBudget,
			MaxTicks:            DefaultMaxTicks,
			MaxProbeFailures:    DefaultMaxProbeFailures,
			ResultTTL:           DefaultResultTTL,
			ResultCacheSize:     DefaultResultCacheSize,
		},
		Store: StoreConfig{MaxConns: DefaultStoreMaxConns},
		Notification: NotificationConfig{
			NATSSubject: DefaultNATSSubject,
			QueueSize:   DefaultNotificationQueue,
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "text"},
			Metrics: MetricsConfig{Enabled: true},
			Tracing: TracingConfig{
				OTLPEndpoint: DefaultTracingOTLPEndpoint,
				SampleRate:   1.0,
				ServiceName:  DefaultTracingServiceName,
			},
		},
	}
}

// Metadata records where each configuration key came from.
type Metadata struct {
	path     string
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Path returns the config file that was read, if any.
func (m Metadata) Path() string {
	return m.path
}

// LoadedAt returns when the configuration was resolved.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}

// Sources returns a copy of the provenance map for JSON serialization.
func (m Metadata) Sources() map[string]ValueSource {
	out := make(map[string]ValueSource, len(m.sources))
	for key, value := range m.sources {
		out[key] = value
	}
	return out
}

// Source reports the origin of a dotted config key such as "tracker.interval".
func (m Metadata) Source(field string) ValueSource {
	if src, ok := m.sources[strings.ToLower(field)]; ok {
		return src
	}
	return SourceDefault
}

// EnvLookup resolves environment variables; tests swap it for a map.
type EnvLookup func(string) (string, bool)
