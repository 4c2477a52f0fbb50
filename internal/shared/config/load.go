package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envPrefix     = "WANDERLUST_"
	envConfigPath = envPrefix + "CONFIG"
)

// Overrides carries caller-supplied values (typically CLI flags) that take
// precedence over file and environment values. Nil fields are ignored.
type Overrides struct {
	ServerAddr       *string
	AgentBaseURL     *string
	AgentAPIKey      *string
	DatabaseURL      *string
	LogLevel         *string
	LogFormat        *string
	TrackerInterval  *time.Duration
	TrackerThreshold *int
}

type loadOptions struct {
	configPath string
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	overrides  Overrides
}

// Option customizes Load.
type Option func(*loadOptions)

// WithConfigPath pins the YAML file to read.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = strings.TrimSpace(path) }
}

// WithEnv swaps the environment lookup.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		if lookup != nil {
			o.envLookup = lookup
		}
	}
}

// WithFileReader swaps the file reader.
func WithFileReader(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		if read != nil {
			o.readFile = read
		}
	}
}

// WithHomeDir swaps home directory resolution for the default config path.
func WithHomeDir(home func() (string, error)) Option {
	return func(o *loadOptions) {
		if home != nil {
			o.homeDir = home
		}
	}
}

// WithOverrides applies caller overrides last.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) { o.overrides = overrides }
}

// DefaultEnvLookup reads from the process environment.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Load resolves configuration as defaults < file < environment < overrides.
func Load(opts ...Option) (RuntimeConfig, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	cfg := Default()

	if err := applyFile(&cfg, &meta, options); err != nil {
		return RuntimeConfig{}, Metadata{}, err
	}
	if err := applyEnv(&cfg, &meta, options.envLookup); err != nil {
		return RuntimeConfig{}, Metadata{}, err
	}
	applyOverrides(&cfg, &meta, options.overrides)

	normalize(&cfg)
	if err := Validate(cfg); err != nil {
		return RuntimeConfig{}, Metadata{}, err
	}
	return cfg, meta, nil
}

// ResolveConfigPath picks the config file: WANDERLUST_CONFIG, then
// ~/.wanderlust/config.yaml.
func ResolveConfigPath(lookup EnvLookup, homeDir func() (string, error)) string {
	if lookup != nil {
		if value, ok := lookup(envConfigPath); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	if homeDir == nil {
		return ""
	}
	home, err := homeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".wanderlust", "config.yaml")
}

func applyFile(cfg *RuntimeConfig, meta *Metadata, opts loadOptions) error {
	path := opts.configPath
	explicit := path != ""
	if !explicit {
		path = ResolveConfigPath(opts.envLookup, opts.homeDir)
	}
	if path == "" {
		return nil
	}

	data, err := opts.readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	meta.path = path
	data = expandEnvRefs(data, opts.envLookup)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if err := root.Decode(cfg); err != nil {
		return fmt.Errorf("decode config file: %w", err)
	}
	recordFileKeys(&root, "", meta)
	return nil
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvRefs resolves ${VAR} references so secrets can stay out of the file.
func expandEnvRefs(data []byte, lookup EnvLookup) []byte {
	if lookup == nil {
		return data
	}
	return envRefPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envRefPattern.FindSubmatch(match)[1])
		value, _ := lookup(name)
		return []byte(value)
	})
}

func recordFileKeys(node *yaml.Node, prefix string, meta *Metadata) {
	if node == nil {
		return
	}
	if node.Kind == yaml.DocumentNode {
		for _, child := range node.Content {
			recordFileKeys(child, prefix, meta)
		}
		return
	}
	if node.Kind != yaml.MappingNode {
		if prefix != "" {
			meta.sources[prefix] = SourceFile
		}
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := strings.ToLower(node.Content[i].Value)
		if prefix != "" {
			key = prefix + "." + key
		}
		value := node.Content[i+1]
		if value.Kind == yaml.MappingNode && !isMapField(key) {
			recordFileKeys(value, key, meta)
			continue
		}
		meta.sources[key] = SourceFile
	}
}

func isMapField(key string) bool {
	return key == "agent.capabilities"
}

type envBinding struct {
	name  string
	field string
	apply func(cfg *RuntimeConfig, value string) error
}

func stringBinding(name, field string, target func(*RuntimeConfig) *string) envBinding {
	return envBinding{name: name, field: field, apply: func(cfg *RuntimeConfig, value string) error {
		*target(cfg) = value
		return nil
	}}
}

func durationBinding(name, field string, target func(*RuntimeConfig) *time.Duration) envBinding {
	return envBinding{name: name, field: field, apply: func(cfg *RuntimeConfig, value string) error {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*target(cfg) = parsed
		return nil
	}}
}

func intBinding(name, field string, target func(*RuntimeConfig) *int) envBinding {
	return envBinding{name: name, field: field, apply: func(cfg *RuntimeConfig, value string) error {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*target(cfg) = parsed
		return nil
	}}
}

func boolBinding(name, field string, target func(*RuntimeConfig) *bool) envBinding {
	return envBinding{name: name, field: field, apply: func(cfg *RuntimeConfig, value string) error {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*target(cfg) = parsed
		return nil
	}}
}

var envBindings = []envBinding{
	stringBinding(envPrefix+"SERVER_ADDR", "server.addr", func(c *RuntimeConfig) *string { return &c.Server.Addr }),
	stringBinding(envPrefix+"ENVIRONMENT", "server.environment", func(c *RuntimeConfig) *string { return &c.Server.Environment }),
	stringBinding(envPrefix+"AGENT_BASE_URL", "agent.base_url", func(c *RuntimeConfig) *string { return &c.Agent.BaseURL }),
	stringBinding(envPrefix+"AGENT_API_KEY", "agent.api_key", func(c *RuntimeConfig) *string { return &c.Agent.APIKey }),
	durationBinding(envPrefix+"AGENT_TIMEOUT", "agent.timeout", func(c *RuntimeConfig) *time.Duration { return &c.Agent.Timeout }),
	intBinding(envPrefix+"AGENT_BREAKER_FAILURES", "agent.breaker_failures", func(c *RuntimeConfig) *int { return &c.Agent.BreakerFailures }),
	durationBinding(envPrefix+"TRACKER_INTERVAL", "tracker.interval", func(c *RuntimeConfig) *time.Duration { return &c.Tracker.Interval }),
	intBinding(envPrefix+"TRACKER_THRESHOLD", "tracker.threshold", func(c *RuntimeConfig) *int { return &c.Tracker.Threshold }),
	intBinding(envPrefix+"TRACKER_COMPLETED_THRESHOLD", "tracker.completed_threshold", func(c *RuntimeConfig) *int { return &c.Tracker.CompletedThreshold }),
	durationBinding(envPrefix+"TRACKER_MAX_DURATION", "tracker.max_duration", func(c *RuntimeConfig) *time.Duration { return &c.Tracker.MaxDuration }),
	durationBinding(envPrefix+"TRACKER_RESEARCH_MAX_DURATION", "tracker.research_max_duration", func(c *RuntimeConfig) *time.Duration { return &c.Tracker.ResearchMaxDuration }),
	intBinding(envPrefix+"TRACKER_MAX_TICKS", "tracker.max_ticks", func(c *RuntimeConfig) *int { return &c.Tracker.MaxTicks }),
	stringBinding(envPrefix+"DATABASE_URL", "store.database_url", func(c *RuntimeConfig) *string { return &c.Store.DatabaseURL }),
	stringBinding(envPrefix+"WEBHOOK_URL", "notification.webhook_url", func(c *RuntimeConfig) *string { return &c.Notification.WebhookURL }),
	stringBinding(envPrefix+"NATS_URL", "notification.nats_url", func(c *RuntimeConfig) *string { return &c.Notification.NATSURL }),
	stringBinding(envPrefix+"NATS_SUBJECT", "notification.nats_subject", func(c *RuntimeConfig) *string { return &c.Notification.NATSSubject }),
	stringBinding(envPrefix+"LOG_LEVEL", "observability.logging.level", func(c *RuntimeConfig) *string { return &c.Observability.Logging.Level }),
	stringBinding(envPrefix+"LOG_FORMAT", "observability.logging.format", func(c *RuntimeConfig) *string { return &c.Observability.Logging.Format }),
	boolBinding(envPrefix+"METRICS_ENABLED", "observability.metrics.enabled", func(c *RuntimeConfig) *bool { return &c.Observability.Metrics.Enabled }),
	boolBinding(envPrefix+"TRACING_ENABLED", "observability.tracing.enabled", func(c *RuntimeConfig) *bool { return &c.Observability.Tracing.Enabled }),
	stringBinding(envPrefix+"OTLP_ENDPOINT", "observability.tracing.otlp_endpoint", func(c *RuntimeConfig) *string { return &c.Observability.Tracing.OTLPEndpoint }),
}

func applyEnv(cfg *RuntimeConfig, meta *Metadata, lookup EnvLookup) error {
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	for _, binding := range envBindings {
		value, ok := lookup(binding.name)
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			continue
		}
		if err := binding.apply(cfg, value); err != nil {
			return fmt.Errorf("parse %s: %w", binding.name, err)
		}
		meta.sources[binding.field] = SourceEnv
	}
	return nil
}

func applyOverrides(cfg *RuntimeConfig, meta *Metadata, o Overrides) {
	setString := func(field string, target *string, value *string) {
		if value == nil {
			return
		}
		*target = *value
		meta.sources[field] = SourceOverride
	}
	setString("server.addr", &cfg.Server.Addr, o.ServerAddr)
	setString("agent.base_url", &cfg.Agent.BaseURL, o.AgentBaseURL)
	setString("agent.api_key", &cfg.Agent.APIKey, o.AgentAPIKey)
	setString("store.database_url", &cfg.Store.DatabaseURL, o.DatabaseURL)
	setString("observability.logging.level", &cfg.Observability.Logging.Level, o.LogLevel)
	setString("observability.logging.format", &cfg.Observability.Logging.Format, o.LogFormat)
	if o.TrackerInterval != nil {
		cfg.Tracker.Interval = *o.TrackerInterval
		meta.sources["tracker.interval"] = SourceOverride
	}
	if o.TrackerThreshold != nil {
		cfg.Tracker.Threshold = *o.TrackerThreshold
		meta.sources["tracker.threshold"] = SourceOverride
	}
}

func normalize(cfg *RuntimeConfig) {
	defaults := Default()

	cfg.Server.Addr = strings.TrimSpace(cfg.Server.Addr)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
	cfg.Server.Environment = strings.ToLower(strings.TrimSpace(cfg.Server.Environment))
	cfg.Server.CORSOrigins = dedupeTrimmed(cfg.Server.CORSOrigins)

	cfg.Agent.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Agent.BaseURL), "/")
	cfg.Agent.APIKey = strings.TrimSpace(cfg.Agent.APIKey)
	if cfg.Agent.Timeout <= 0 {
		cfg.Agent.Timeout = defaults.Agent.Timeout
	}
	if cfg.Agent.QueryRPS < 0 {
		cfg.Agent.QueryRPS = 0
	}
	if cfg.Agent.QueryBurst <= 0 {
		cfg.Agent.QueryBurst = defaults.Agent.QueryBurst
	}
	if cfg.Agent.BreakerFailures < 0 {
		cfg.Agent.BreakerFailures = 0
	}
	if cfg.Agent.BreakerCooldown <= 0 {
		cfg.Agent.BreakerCooldown = defaults.Agent.BreakerCooldown
	}
	for kind, caps := range cfg.Agent.Capabilities {
		cfg.Agent.Capabilities[kind] = dedupeTrimmed(caps)
	}

	t := &cfg.Tracker
	if t.Interval <= 0 {
		t.Interval = defaults.Tracker.Interval
	}
	if t.Threshold <= 0 {
		t.Threshold = defaults.Tracker.Threshold
	}
	if t.CompletedThreshold < 0 {
		t.CompletedThreshold = 0
	}
	if t.CompletedThreshold > t.Threshold {
		t.CompletedThreshold = t.Threshold
	}
	if t.MaxDuration < 0 {
		t.MaxDuration = 0
	}
	if t.ResearchMaxDuration < 0 {
		t.ResearchMaxDuration = 0
	}
	if t.MaxTicks < 0 {
		t.MaxTicks = 0
	}
	if t.MaxProbeFailures <= 0 {
		t.MaxProbeFailures = defaults.Tracker.MaxProbeFailures
	}
	if t.ResultTTL <= 0 {
		t.ResultTTL = defaults.Tracker.ResultTTL
	}
	if t.ResultCacheSize <= 0 {
		t.ResultCacheSize = defaults.Tracker.ResultCacheSize
	}

	cfg.Store.DatabaseURL = strings.TrimSpace(cfg.Store.DatabaseURL)
	if cfg.Store.MaxConns <= 0 {
		cfg.Store.MaxConns = defaults.Store.MaxConns
	}

	cfg.Notification.WebhookURL = strings.TrimSpace(cfg.Notification.WebhookURL)
	cfg.Notification.NATSURL = strings.TrimSpace(cfg.Notification.NATSURL)
	cfg.Notification.NATSSubject = strings.TrimSpace(cfg.Notification.NATSSubject)
	if cfg.Notification.NATSSubject == "" {
		cfg.Notification.NATSSubject = defaults.Notification.NATSSubject
	}
	if cfg.Notification.QueueSize <= 0 {
		cfg.Notification.QueueSize = defaults.Notification.QueueSize
	}

	obs := &cfg.Observability
	obs.Logging.Level = strings.ToLower(strings.TrimSpace(obs.Logging.Level))
	obs.Logging.Format = strings.ToLower(strings.TrimSpace(obs.Logging.Format))
	if obs.Tracing.SampleRate <= 0 || obs.Tracing.SampleRate > 1 {
		obs.Tracing.SampleRate = 1
	}
	if strings.TrimSpace(obs.Tracing.ServiceName) == "" {
		obs.Tracing.ServiceName = defaults.Observability.Tracing.ServiceName
	}
}

// Validate rejects configurations the server cannot run with.
func Validate(cfg RuntimeConfig) error {
	if cfg.Tracker.MaxDuration == 0 && cfg.Tracker.MaxTicks == 0 {
		return fmt.Errorf("tracker: max_duration or max_ticks must bound every run")
	}
	if cfg.Tracker.ResearchMaxDuration == 0 && cfg.Tracker.MaxTicks == 0 {
		return fmt.Errorf("tracker: research_max_duration or max_ticks must bound every run")
	}
	switch cfg.Observability.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("observability.logging.format: unsupported value %q", cfg.Observability.Logging.Format)
	}
	return nil
}

func dedupeTrimmed(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
