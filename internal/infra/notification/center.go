package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"wanderlust/internal/infra/observability"
	"wanderlust/internal/shared/logging"
)

const defaultHistorySize = 200

// ChannelConfig controls how the center routes to a channel.
type ChannelConfig struct {
	Name        string   `json:"name"`
	Enabled     bool     `json:"enabled"`
	MinPriority Priority `json:"min_priority"`
}

type registeredChannel struct {
	channel Channel
	config  ChannelConfig
}

// Center fans notifications out to registered channels and keeps a bounded
// delivery history.
type Center struct {
	mu          sync.RWMutex
	channels    map[string]registeredChannel
	history     []DeliveryResult
	historySize int
	metrics     *observability.NotificationMetrics
	logger      logging.Logger
	clock       func() time.Time
}

// CenterOption configures a Center.
type CenterOption func(*Center)

// WithHistorySize bounds the delivery history.
func WithHistorySize(size int) CenterOption {
	return func(c *Center) {
		if size > 0 {
			c.historySize = size
		}
	}
}

// WithMetrics records delivery outcomes per channel.
func WithMetrics(metrics *observability.NotificationMetrics) CenterOption {
	return func(c *Center) {
		c.metrics = metrics
	}
}

// WithCenterLogger sets the logger.
func WithCenterLogger(logger logging.Logger) CenterOption {
	return func(c *Center) {
		c.logger = logging.OrNop(logger)
	}
}

// NewCenter returns a center without channels.
func NewCenter(opts ...CenterOption) *Center {
	c := &Center{
		channels:    make(map[string]registeredChannel),
		historySize: defaultHistorySize,
		logger:      logging.NewComponentLogger("NotificationCenter"),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterChannel adds or replaces a channel.
func (c *Center) RegisterChannel(ch Channel, cfg ChannelConfig) {
	if ch == nil {
		return
	}
	cfg.Name = ch.Name()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[cfg.Name] = registeredChannel{channel: ch, config: cfg}
}

// UnregisterChannel removes a channel by name.
func (c *Center) UnregisterChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, name)
}

// ListChannels returns channel configs sorted by name.
func (c *Center) ListChannels() []ChannelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChannelConfig, 0, len(c.channels))
	for _, rc := range c.channels {
		out = append(out, rc.config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Send delivers n to every enabled channel that accepts its priority.
// Critical notifications ignore MinPriority. The returned error joins the
// failures; results cover every routed channel.
func (c *Center) Send(ctx context.Context, n Notification) ([]DeliveryResult, error) {
	targets := c.route(n.Priority)
	if len(targets) == 0 {
		return nil, fmt.Errorf("no channel accepts %s notifications", n.Priority)
	}

	results := make([]DeliveryResult, 0, len(targets))
	var failed []error
	for _, ch := range targets {
		result := DeliveryResult{
			NotificationID: n.ID,
			Event:          n.Event,
			UserID:         n.UserID,
			Channel:        ch.Name(),
		}
		if err := ch.Send(ctx, n); err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
			failed = append(failed, fmt.Errorf("%s: %w", ch.Name(), err))
			c.metrics.Failed(ch.Name())
			c.logger.Warn("Deliver %s via %s failed: %v", n.Event, ch.Name(), err)
		} else {
			result.Status = StatusDelivered
			c.metrics.Delivered(ch.Name())
		}
		result.At = c.clock()
		results = append(results, result)
	}
	c.remember(results)

	if len(failed) > 0 {
		return results, errors.Join(failed...)
	}
	return results, nil
}

func (c *Center) route(p Priority) []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Channel, 0, len(names))
	for _, name := range names {
		rc := c.channels[name]
		if !rc.config.Enabled || !rc.channel.Supports(p) {
			continue
		}
		if p != PriorityCritical && p < rc.config.MinPriority {
			continue
		}
		out = append(out, rc.channel)
	}
	return out
}

func (c *Center) remember(results []DeliveryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range results {
		c.history = append([]DeliveryResult{r}, c.history...)
	}
	if len(c.history) > c.historySize {
		c.history = c.history[:c.historySize]
	}
}

// History returns recent deliveries, newest first. An empty userID matches
// every user; limit <= 0 returns everything retained.
func (c *Center) History(userID string, limit int) []DeliveryResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DeliveryResult, 0)
	for _, r := range c.history {
		if userID != "" && r.UserID != userID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
