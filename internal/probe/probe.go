// Package probe checks that a posting URL still resolves before it becomes a lead.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/amishk599/leadscout/internal/model"
	"github.com/amishk599/leadscout/internal/ratelimit"
)

// DefaultTimeout bounds a single probe, redirects included.
const DefaultTimeout = 5 * time.Second

// HTTPProber issues HEAD requests and follows redirects.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
	limiter *ratelimit.Limiter
}

// Option customizes an HTTPProber.
type Option func(*HTTPProber)

// WithClient replaces the HTTP client. Its own Timeout is left untouched.
func WithClient(c *http.Client) Option {
	return func(p *HTTPProber) { p.client = c }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPProber) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithHostLimiter spaces out probes that target the same host.
func WithHostLimiter(l *ratelimit.Limiter) Option {
	return func(p *HTTPProber) { p.limiter = l }
}

// New creates a prober.
func New(opts ...Option) *HTTPProber {
	p := &HTTPProber{
		client:  &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Probe reports whether rawURL answers with a status below 400.
// Timeouts and connection failures are returned as ErrValidation.
func (p *HTTPProber) Probe(ctx context.Context, rawURL string) (model.ProbeResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.ProbeResult{}, fmt.Errorf("probe %q: %w: not an http url", rawURL, model.ErrValidation)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, u.Host); err != nil {
			return model.ProbeResult{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("probe %q: %w: %v", rawURL, model.ErrValidation, err)
	}
	req.Header.Set("User-Agent", "LeadScout/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return model.ProbeResult{}, fmt.Errorf("probe %q: %w: %v", rawURL, model.ErrValidation, err)
	}
	defer resp.Body.Close()

	return model.ProbeResult{
		Reachable:  resp.StatusCode < http.StatusBadRequest,
		StatusCode: resp.StatusCode,
	}, nil
}
