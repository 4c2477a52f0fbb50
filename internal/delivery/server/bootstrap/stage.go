package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"wanderlust/internal/shared/logging"
)

// Stage is one initialization step of server startup.
type Stage struct {
	Name     string
	Required bool // failure aborts startup; otherwise the component is degraded
	Init     func(ctx context.Context) error
}

// Degraded tracks optional components that failed to initialize.
type Degraded struct {
	mu         sync.RWMutex
	components map[string]string
}

// NewDegraded returns an empty tracker.
func NewDegraded() *Degraded {
	return &Degraded{components: make(map[string]string)}
}

// Record marks name as degraded.
func (d *Degraded) Record(name, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components[name] = reason
}

// Names returns the degraded component names, sorted.
func (d *Degraded) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.components))
	for name := range d.components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Reason returns why name is degraded.
func (d *Degraded) Reason(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reason, ok := d.components[name]
	return reason, ok
}

// IsEmpty reports whether nothing is degraded.
func (d *Degraded) IsEmpty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.components) == 0
}

// RunStages runs stages in order. A failing required stage stops startup; a
// failing optional stage is recorded and startup continues.
func RunStages(ctx context.Context, stages []Stage, degraded *Degraded, logger logging.Logger) error {
	logger = logging.OrNop(logger)
	for _, stage := range stages {
		logger.Debug("[Bootstrap] stage %s (required=%t)", stage.Name, stage.Required)
		if err := stage.Init(ctx); err != nil {
			if stage.Required {
				return fmt.Errorf("required stage %q failed: %w", stage.Name, err)
			}
			logger.Warn("[Bootstrap] optional stage %q failed: %v (continuing degraded)", stage.Name, err)
			if degraded != nil {
				degraded.Record(stage.Name, err.Error())
			}
		}
	}
	return nil
}
