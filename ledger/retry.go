/*
retry.go - Bounded retry for transient concurrency failures

PURPOSE:
  Serialization conflicts, deadlocks, and denied NOWAIT locks are expected
  under contention and must never leak to callers as failures. The Retry
  Driver re-runs the wrapped operation with exponential backoff plus jitter,
  up to a bounded attempt count.

SAFETY:
  Retrying is correct only because (a) the idempotency fast path prevents
  double execution under one key, and (b) every failed attempt rolled its
  transaction back, leaving no partial state. Non-transient errors are
  surfaced on the first occurrence.

BACKOFF:
  delay = base * 2^(attempt-1) + U(0, jitter). Sleeps are cancellable; a
  cancelled context terminates the retry loop immediately.
*/
package ledger

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Retry defaults per the engine configuration surface.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 100 * time.Millisecond
	DefaultJitter      = 100 * time.Millisecond
)

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.Jitter <= 0 {
		c.Jitter = DefaultJitter
	}
	return c
}

// RetryDriver wraps orchestrator invocations with bounded retry on
// transient concurrency failures.
type RetryDriver struct {
	cfg RetryConfig
	log *zap.Logger
}

// NewRetryDriver creates a driver with zero-value fields defaulted.
func NewRetryDriver(cfg RetryConfig, log *zap.Logger) *RetryDriver {
	return &RetryDriver{cfg: cfg.withDefaults(), log: log}
}

// Do runs fn until it succeeds, fails non-transiently, exhausts attempts, or
// ctx is cancelled. The last error is returned on exhaustion.
func (d *RetryDriver) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetriable(err) {
			return err
		}
		lastErr = err

		if attempt == d.cfg.MaxAttempts {
			break
		}

		delay := d.cfg.BaseBackoff<<(attempt-1) +
			time.Duration(rand.Int63n(int64(d.cfg.Jitter)))
		d.log.Debug("transient conflict, backing off",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	d.log.Warn("retries exhausted",
		zap.String("op", op),
		zap.Int("attempts", d.cfg.MaxAttempts),
		zap.Error(lastErr))
	return lastErr
}
