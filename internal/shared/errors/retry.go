package errors

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"wanderlust/internal/shared/logging"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts  int           // total attempts including the first one
	BaseDelay    time.Duration // initial backoff interval
	MaxDelay     time.Duration // cap on a single backoff interval
	MaxElapsed   time.Duration // overall budget; 0 means unbounded
	JitterFactor float64       // randomization factor, 0.25 = ±25%
}

// DefaultRetryConfig returns the defaults used for best-effort outbound calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		MaxElapsed:   15 * time.Second,
		JitterFactor: 0.25,
	}
}

// Retry runs fn until it succeeds, returns a non-transient error, the attempt
// budget is spent, or ctx is done.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("Retry succeeded after %d attempts", attempt)
			}
			return nil
		}
		if !IsTransient(err) {
			logger.Debug("Attempt %d failed permanently: %v", attempt, err)
			return backoff.Permanent(err)
		}
		logger.Debug("Attempt %d failed: %v", attempt, err)
		return err
	}

	return backoff.Retry(operation, cfg.backOff(ctx))
}

func (cfg RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if cfg.BaseDelay > 0 {
		exp.InitialInterval = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		exp.MaxInterval = cfg.MaxDelay
	}
	exp.MaxElapsedTime = cfg.MaxElapsed
	if cfg.JitterFactor >= 0 {
		exp.RandomizationFactor = cfg.JitterFactor
	}

	var b backoff.BackOff = exp
	if cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}
