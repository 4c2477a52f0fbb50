package app

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthStatus is the status of one component or of the whole server.
type HealthStatus string

const (
	HealthReady    HealthStatus = "ready"
	HealthDegraded HealthStatus = "degraded"
	HealthDisabled HealthStatus = "disabled"
)

// ComponentHealth is the last probe result of a component.
type ComponentHealth struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// HealthChecker runs registered probes in parallel with a shared timeout.
type HealthChecker struct {
	mu       sync.RWMutex
	probes   map[string]Probe
	disabled map[string]string
	timeout  time.Duration
}

// NewHealthChecker returns a checker with a 2s probe timeout.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		probes:   make(map[string]Probe),
		disabled: make(map[string]string),
		timeout:  2 * time.Second,
	}
}

// Register adds a probe for name.
func (h *HealthChecker) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
	delete(h.disabled, name)
}

// Disable reports name as intentionally not configured.
func (h *HealthChecker) Disable(name, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.probes, name)
	h.disabled[name] = reason
}

// Check runs all probes and returns the overall status with per-component
// results sorted by name.
func (h *HealthChecker) Check(ctx context.Context) (HealthStatus, []ComponentHealth) {
	h.mu.RLock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	results := make([]ComponentHealth, 0, len(h.probes)+len(h.disabled))
	for name, reason := range h.disabled {
		results = append(results, ComponentHealth{Name: name, Status: HealthDisabled, Message: reason})
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	overall := HealthReady
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			result := ComponentHealth{Name: name, Status: HealthReady}
			if err := probe(ctx); err != nil {
				result.Status = HealthDegraded
				result.Message = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			if result.Status == HealthDegraded {
				overall = HealthDegraded
			}
			results = append(results, result)
		}(name, probe)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return overall, results
}
