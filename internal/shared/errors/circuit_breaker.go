package errors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wanderlust/internal/shared/logging"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // half-open successes that close it again
	Cooldown         time.Duration // open time before a trial call is let through
	// OnStateChange runs synchronously after a transition, outside the lock.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the defaults for remote status probes.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker stops calling a dependency after repeated failures and lets
// a trial call through once the cooldown has passed.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger
	clock  func() time.Time

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker builds a closed breaker. Non-positive thresholds fall back
// to the defaults.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger logging.Logger) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = defaults.Cooldown
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logging.OrNop(logger),
		clock:  time.Now,
	}
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	if cb.state != StateOpen {
		cb.mu.Unlock()
		return nil
	}
	remaining := cb.config.Cooldown - cb.clock().Sub(cb.openedAt)
	if remaining > 0 {
		cb.mu.Unlock()
		return fmt.Errorf("%w: %s (retry in %s)", ErrCircuitOpen, cb.name, remaining.Round(time.Second))
	}
	cb.successes = 0
	from := cb.transition(StateHalfOpen)
	cb.mu.Unlock()
	cb.notify(from, StateHalfOpen)
	return nil
}

// Mark records the outcome of an allowed call.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	from, to := cb.state, cb.state
	if err == nil {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.failures = 0
				to = StateClosed
			}
		}
	} else {
		switch cb.state {
		case StateClosed:
			cb.failures++
			if cb.failures >= cb.config.FailureThreshold {
				to = StateOpen
			}
		case StateHalfOpen:
			to = StateOpen
		}
	}
	if to != from {
		if to == StateOpen {
			cb.openedAt = cb.clock()
		}
		cb.transition(to)
	}
	cb.mu.Unlock()
	if to != from {
		cb.notify(from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to CircuitState) CircuitState {
	from := cb.state
	cb.state = to
	return from
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	switch to {
	case StateOpen:
		cb.logger.Warn("[%s] circuit opened (%s -> %s)", cb.name, from, to)
	default:
		cb.logger.Info("[%s] circuit %s", cb.name, to)
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

// ExecuteFunc runs fn under cb. A nil breaker runs fn directly. Calls that end
// because ctx was cancelled are not counted.
func ExecuteFunc[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if cb == nil {
		return fn(ctx)
	}
	if err := cb.Allow(); err != nil {
		var zero T
		return zero, err
	}
	result, err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		return result, err
	}
	cb.Mark(err)
	return result, err
}
