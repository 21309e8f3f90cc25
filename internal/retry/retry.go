// Package retry runs operations with capped exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Retryer retries an operation with exponential backoff.
type Retryer struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     bool
	name       string
}

// Option customizes a Retryer.
type Option func(*Retryer)

// WithJitter adds up to 25% random jitter to every delay.
func WithJitter() Option {
	return func(r *Retryer) { r.jitter = true }
}

// WithMultiplier overrides the backoff factor (default 2).
func WithMultiplier(m float64) Option {
	return func(r *Retryer) { r.multiplier = m }
}

// WithName labels the retried operation in logs.
func WithName(name string) Option {
	return func(r *Retryer) { r.name = name }
}

// New creates a retryer that makes up to maxRetries+1 attempts with
// delays growing from base to max.
func New(maxRetries int, base, max time.Duration, opts ...Option) *Retryer {
	r := &Retryer{
		maxRetries: maxRetries,
		baseDelay:  base,
		maxDelay:   max,
		multiplier: 2.0,
		name:       "operation",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxRetries returns how many retries follow the first attempt.
func (r *Retryer) MaxRetries() int {
	return r.maxRetries
}

// Retry executes fn until it succeeds, the attempts run out or ctx ends.
func (r *Retryer) Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == r.maxRetries {
			break
		}

		delay := r.Delay(attempt)
		slog.WarnContext(ctx, "Attempt failed, waiting before retrying",
			"event", "retry_attempt", "operation", r.name,
			"attempt", attempt+1, "max_attempts", r.maxRetries+1,
			"delay_ms", delay.Milliseconds(), "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", r.name, r.maxRetries+1, lastErr)
}

// Delay returns min(base*multiplier^attempt, max), plus jitter when enabled.
func (r *Retryer) Delay(attempt int) time.Duration {
	delay := float64(r.baseDelay) * math.Pow(r.multiplier, float64(attempt))
	if delay > float64(r.maxDelay) {
		delay = float64(r.maxDelay)
	}

	if r.jitter {
		delay += rand.Float64() * delay * 0.25
	}

	return time.Duration(delay)
}
