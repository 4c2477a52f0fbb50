package coordinator

import (
	"time"

	"wanderlust/internal/domain/tracker"
)

const (
	DefaultInterval            = 7 * time.Second
	DefaultMaxDuration         = 2 * time.Minute
	DefaultResearchMaxDuration = 10 * time.Minute
	DefaultMaxTicks            = 120
	DefaultMaxProbeFailures    = 10
	DefaultResultTTL           = 30 * time.Minute
	DefaultResultCacheSize     = 1024
)

// Config holds the polling and budget knobs shared by every run.
type Config struct {
	// Interval is the delay between the end of one tick and the start of the next.
	Interval time.Duration
	// Threshold is the number of consecutive unchanged observations required.
	Threshold int
	// CompletedThreshold, when positive, replaces Threshold once the remote
	// task reports completion. Zero keeps the two signals independent.
	CompletedThreshold int
	// MaxDuration bounds short workflows; ResearchMaxDuration bounds research.
	MaxDuration         time.Duration
	ResearchMaxDuration time.Duration
	// MaxTicks bounds the number of ticks of any run. Zero disables the bound.
	MaxTicks int
	// MaxProbeFailures is the number of consecutive ticks where both probes
	// failed after which the run gives up.
	MaxProbeFailures int
	ResultTTL        time.Duration
	ResultCacheSize  int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:            DefaultInterval,
		Threshold:           tracker.DefaultThreshold,
		MaxDuration:         DefaultMaxDuration,
		ResearchMaxDuration: DefaultResearchMaxDuration,
		MaxTicks:            DefaultMaxTicks,
		MaxProbeFailures:    DefaultMaxProbeFailures,
		ResultTTL:           DefaultResultTTL,
		ResultCacheSize:     DefaultResultCacheSize,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.CompletedThreshold < 0 || c.CompletedThreshold > c.Threshold {
		c.CompletedThreshold = 0
	}
	if c.MaxDuration < 0 {
		c.MaxDuration = 0
	}
	if c.ResearchMaxDuration < 0 {
		c.ResearchMaxDuration = 0
	}
	if c.MaxTicks < 0 {
		c.MaxTicks = 0
	}
	if c.MaxDuration == 0 && c.MaxTicks == 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.ResearchMaxDuration == 0 && c.MaxTicks == 0 {
		c.ResearchMaxDuration = d.ResearchMaxDuration
	}
	if c.MaxProbeFailures <= 0 {
		c.MaxProbeFailures = d.MaxProbeFailures
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = d.ResultTTL
	}
	if c.ResultCacheSize <= 0 {
		c.ResultCacheSize = d.ResultCacheSize
	}
	return c
}

type budget struct {
	maxDuration time.Duration
	maxTicks    int
}

func (c Config) budgetFor(kind tracker.WorkflowKind) budget {
	b := budget{maxDuration: c.MaxDuration, maxTicks: c.MaxTicks}
	if kind == tracker.KindLocationResearch {
		b.maxDuration = c.ResearchMaxDuration
	}
	return b
}

func (b budget) exhausted(elapsed time.Duration, ticks int) bool {
	if b.maxDuration > 0 && elapsed >= b.maxDuration {
		return true
	}
	return b.maxTicks > 0 && ticks >= b.maxTicks
}
