// Package ratelimit spaces out requests that share a key such as a job board or host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amishk599/leadscout/internal/model"
)

// Limiter enforces a minimum delay between requests with the same key.
type Limiter struct {
	mu       sync.Mutex
	next     map[string]time.Time // earliest time the next request for a key may start
	minDelay time.Duration
}

// New creates a limiter. A non-positive minDelay disables limiting.
func New(minDelay time.Duration) *Limiter {
	return &Limiter{
		next:     make(map[string]time.Time),
		minDelay: minDelay,
	}
}

// Wait blocks until a request for key may proceed. Concurrent callers for the
// same key each reserve their own slot, so they are released one minDelay apart.
func (r *Limiter) Wait(ctx context.Context, key string) error {
	if r.minDelay <= 0 {
		return ctx.Err()
	}

	r.mu.Lock()
	now := time.Now()
	slot := now
	if n, ok := r.next[key]; ok && n.After(now) {
		slot = n
	}
	r.next[key] = slot.Add(r.minDelay)
	r.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait for %s: %w", key, ctx.Err())
	case <-t.C:
		return nil
	}
}

// Fetcher decorates a JobFetcher with per-key rate limiting.
// All fetchers that hit the same backend should share one Limiter and key.
type Fetcher struct {
	inner   model.JobFetcher
	limiter *Limiter
	key     string
}

// NewFetcher wraps inner so each fetch first waits on limiter under key.
func NewFetcher(inner model.JobFetcher, limiter *Limiter, key string) *Fetcher {
	return &Fetcher{inner: inner, limiter: limiter, key: key}
}

// FetchJobs waits for the limiter, then delegates.
func (f *Fetcher) FetchJobs(ctx context.Context) ([]model.Candidate, error) {
	if err := f.limiter.Wait(ctx, f.key); err != nil {
		return nil, err
	}
	return f.inner.FetchJobs(ctx)
}
