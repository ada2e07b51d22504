// Package retry re-runs operations that failed with a transient error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/amishk599/leadscout/internal/model"
)

// Policy controls how many times and how slowly an operation is retried.
type Policy struct {
	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries int
	// BaseDelay is the delay before the first retry, doubled on each subsequent one.
	BaseDelay time.Duration
}

// Do runs op, retrying transient failures with exponential backoff and jitter.
// Non-retryable errors are returned immediately.
func Do[T any](ctx context.Context, p Policy, logger *slog.Logger, name string, op func(context.Context) (T, error)) (T, error) {
	out, err := op(ctx)
	if err == nil || !isRetryable(err) {
		return out, err
	}

	lastErr := err
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		delay := p.backoffDelay(attempt, lastErr)

		logger.Warn("retrying after transient error",
			"op", name,
			"attempt", attempt,
			"max_retries", p.MaxRetries,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		out, err = op(ctx)
		if err == nil || !isRetryable(err) {
			return out, err
		}
		lastErr = err
	}

	var zero T
	return zero, lastErr
}

// Fetcher decorates a JobFetcher with retries.
type Fetcher struct {
	inner  model.JobFetcher
	policy Policy
	name   string
	logger *slog.Logger
}

// NewFetcher wraps inner so transient board failures are retried under p.
func NewFetcher(inner model.JobFetcher, p Policy, name string, logger *slog.Logger) *Fetcher {
	return &Fetcher{inner: inner, policy: p, name: name, logger: logger}
}

// FetchJobs fetches from the wrapped board, retrying transient errors.
func (f *Fetcher) FetchJobs(ctx context.Context) ([]model.Candidate, error) {
	return Do(ctx, f.policy, f.logger, f.name, f.inner.FetchJobs)
}

// backoffDelay computes the delay for a given attempt with ±30% jitter.
// A Retry-After duration on an HTTPError takes precedence.
func (p Policy) backoffDelay(attempt int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

// isRetryable reports whether err is a transient failure worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrValidation) {
		return false
	}
	var cfgErr *model.ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}

	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		return model.IsTransient(err)
	}

	// Network, DNS and explicitly transient errors.
	return true
}
