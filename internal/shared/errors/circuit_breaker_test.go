package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(now *time.Time, cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := NewCircuitBreaker("agent-query", cfg, nil)
	cb.clock = func() time.Time { return *now }
	return cb
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now, CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	boom := errors.New("boom")

	cb.Mark(boom)
	cb.Mark(nil)
	cb.Mark(boom)
	assert.Equal(t, StateClosed, cb.State(), "a success resets the streak")

	cb.Mark(boom)
	assert.Equal(t, StateOpen, cb.State())
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpenTrial(t *testing.T) {
	now := time.Unix(0, 0)
	var transitions []string
	cb := newTestBreaker(&now, CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		OnStateChange: func(_ string, from, to CircuitState) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	cb.Mark(errors.New("down"))
	now = now.Add(30 * time.Second)
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	now = now.Add(31 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.Mark(errors.New("still down"))
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	cb.Mark(nil)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{
		"closed>open", "open>half-open", "half-open>open", "open>half-open", "half-open>closed",
	}, transitions)
}

func TestExecuteFuncSkipsCallWhileOpen(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now, CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	calls := 0
	fail := func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	}

	_, err := ExecuteFunc(context.Background(), cb, fail)
	require.Error(t, err)
	_, err = ExecuteFunc(context.Background(), cb, fail)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)

	v, err := ExecuteFunc(context.Background(), nil, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestExecuteFuncIgnoresCancelledCalls(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now, CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExecuteFunc(ctx, cb, func(ctx context.Context) (int, error) { return 0, ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}
