package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapEnv(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func fileReader(files map[string]string) func(string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		if data, ok := files[path]; ok {
			return []byte(data), nil
		}
		return nil, os.ErrNotExist
	}
}

func noHome() (string, error) { return "", nil }

func TestLoadDefaults(t *testing.T) {
	cfg, meta, err := Load(WithEnv(mapEnv(nil)), WithHomeDir(noHome))
	require.NoError(t, err)

	assert.Equal(t, DefaultTrackerInterval, cfg.Tracker.Interval)
	assert.Equal(t, DefaultTrackerThreshold, cfg.Tracker.Threshold)
	assert.Equal(t, DefaultShortRunBudget, cfg.Tracker.MaxDuration)
	assert.Equal(t, SourceDefault, meta.Source("tracker.interval"))
	assert.Empty(t, meta.Path())
}

func TestLoadPrecedenceFileEnvOverride(t *testing.T) {
	files := map[string]string{
		"/etc/wanderlust.yaml": `
server:
  addr: ":9000"
agent:
  base_url: "https://agent.example.com/"
  api_key: "${AGENT_SECRET}"
  capabilities:
    location-suggestion: [maps, maps, " search "]
tracker:
  interval: 8s
  threshold: 4
`,
	}
	env := mapEnv(map[string]string{
		"AGENT_SECRET":                "s3cret",
		"WANDERLUST_TRACKER_INTERVAL": "6s",
	})
	level := "debug"

	cfg, meta, err := Load(
		WithConfigPath("/etc/wanderlust.yaml"),
		WithFileReader(fileReader(files)),
		WithEnv(env),
		WithOverrides(Overrides{LogLevel: &level}),
	)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "https://agent.example.com", cfg.Agent.BaseURL)
	assert.Equal(t, "s3cret", cfg.Agent.APIKey)
	assert.Equal(t, []string{"maps", "search"}, cfg.Agent.Capabilities["location-suggestion"])
	assert.Equal(t, 6*time.Second, cfg.Tracker.Interval)
	assert.Equal(t, 4, cfg.Tracker.Threshold)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)

	assert.Equal(t, SourceFile, meta.Source("server.addr"))
	assert.Equal(t, SourceFile, meta.Source("agent.capabilities"))
	assert.Equal(t, SourceEnv, meta.Source("tracker.interval"))
	assert.Equal(t, SourceOverride, meta.Source("observability.logging.level"))
	assert.Equal(t, "/etc/wanderlust.yaml", meta.Path())
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, _, err := Load(WithConfigPath("/missing.yaml"), WithFileReader(fileReader(nil)), WithEnv(mapEnv(nil)))
	require.Error(t, err)
}

func TestLoadRejectsBadEnvValue(t *testing.T) {
	_, _, err := Load(WithEnv(mapEnv(map[string]string{"WANDERLUST_TRACKER_THRESHOLD": "three"})), WithHomeDir(noHome))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WANDERLUST_TRACKER_THRESHOLD")
}

func TestLoadClampsCompletedThreshold(t *testing.T) {
	env := mapEnv(map[string]string{
		"WANDERLUST_TRACKER_THRESHOLD":           "3",
		"WANDERLUST_TRACKER_COMPLETED_THRESHOLD": "9",
	})
	cfg, _, err := Load(WithEnv(env), WithHomeDir(noHome))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Tracker.CompletedThreshold)
}

func TestValidateRequiresARunBound(t *testing.T) {
	cfg := Default()
	cfg.Tracker.MaxDuration = 0
	cfg.Tracker.MaxTicks = 0
	require.Error(t, Validate(cfg))
}
