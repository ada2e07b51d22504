// Package collector turns one user's subscribed platforms into raw leads for the analyzer.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/amishk599/leadscout/internal/metrics"
	"github.com/amishk599/leadscout/internal/model"
	"github.com/amishk599/leadscout/internal/queue"
)

const defaultProbeConcurrency = 8

// Result summarizes one collect run.
type Result struct {
	UserEmail       string
	Skipped         bool // user missing or inactive
	Candidates      int
	Unreachable     int
	AlreadyEnriched int
	RawLeadsEmitted int
}

// Collector owns the collect pipeline for a user:
// profile → search → probe → dedup → store raw → publish.
type Collector struct {
	settings    model.SettingsStore
	leads       model.LeadStore
	source      model.JobSource
	prober      model.Prober
	out         queue.Publisher[model.RawLeadMessage]
	metrics     *metrics.Pipeline
	logger      *slog.Logger
	concurrency int
}

// Option customizes a Collector.
type Option func(*Collector)

// WithProbeConcurrency caps concurrent URL probes per run.
func WithProbeConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMetrics records candidate outcomes on m.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(c *Collector) { c.metrics = m }
}

// New creates a collector wired with all its dependencies.
func New(
	settings model.SettingsStore,
	leads model.LeadStore,
	source model.JobSource,
	prober model.Prober,
	out queue.Publisher[model.RawLeadMessage],
	logger *slog.Logger,
	opts ...Option,
) *Collector {
	c := &Collector{
		settings:    settings,
		leads:       leads,
		source:      source,
		prober:      prober,
		out:         out,
		logger:      logger,
		concurrency: defaultProbeConcurrency,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Collect runs one collect cycle for email. A missing or inactive user is a
// clean skip. Per-candidate failures are logged and do not stop the run;
// store or publish failures are returned after every candidate was attempted
// so the task can be redelivered.
func (c *Collector) Collect(ctx context.Context, email string) (Result, error) {
	res := Result{UserEmail: email}

	user, err := c.settings.GetUser(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		c.logger.Info("user not found, skipping collect", "user_email", email)
		res.Skipped = true
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("collecting for %s: loading user: %w", email, err)
	}
	if !user.IsActive {
		c.logger.Info("user inactive, skipping collect", "user_email", email)
		res.Skipped = true
		return res, nil
	}
	if len(user.Platforms) == 0 {
		c.logger.Info("user has no platforms", "user_email", email)
		return res, nil
	}

	candidates, err := c.source.Search(ctx, user.Platforms)
	if err != nil {
		return res, fmt.Errorf("collecting for %s: searching: %w", email, err)
	}
	res.Candidates = len(candidates)

	reachable, err := c.probeAll(ctx, email, candidates)
	if err != nil {
		return res, fmt.Errorf("collecting for %s: %w", email, err)
	}

	var errs []error
	for i, cand := range candidates {
		if !reachable[i] {
			res.Unreachable++
			continue
		}
		emitted, err := c.emit(ctx, email, cand)
		if err != nil {
			c.metrics.Candidate(metrics.OutcomeError)
			c.logger.Error("emitting raw lead failed", "user_email", email, "job_url", cand.URL, "error", err)
			errs = append(errs, err)
			continue
		}
		if !emitted {
			res.AlreadyEnriched++
			c.metrics.Candidate(metrics.OutcomeEnriched)
			continue
		}
		res.RawLeadsEmitted++
		c.metrics.Candidate(metrics.OutcomeAccepted)
		c.metrics.RawLeadEmitted()
	}

	c.logger.Info("collected leads",
		"user_email", email,
		"candidates", res.Candidates,
		"unreachable", res.Unreachable,
		"already_enriched", res.AlreadyEnriched,
		"emitted", res.RawLeadsEmitted,
	)

	if len(errs) > 0 {
		return res, fmt.Errorf("collecting for %s: %w", email, errors.Join(errs...))
	}
	return res, nil
}

// probeAll checks candidates concurrently. A failed probe only rejects its own candidate.
func (c *Collector) probeAll(ctx context.Context, email string, candidates []model.Candidate) ([]bool, error) {
	reachable := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, cand := range candidates {
		g.Go(func() error {
			res, err := c.prober.Probe(gctx, cand.URL)
			switch {
			case err != nil:
				c.logger.Warn("candidate rejected", "user_email", email, "job_url", cand.URL, "error", err)
			case !res.Reachable:
				c.logger.Warn("candidate rejected", "user_email", email, "job_url", cand.URL, "status", res.StatusCode)
			default:
				reachable[i] = true
				return nil
			}
			c.metrics.Candidate(metrics.OutcomeUnreachable)
			return nil
		})
	}
	_ = g.Wait()

	// Probes swallow their own errors; only cancellation aborts the run.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("probing: %w", err)
	}
	return reachable, nil
}

// emit stores and publishes one raw lead unless an enriched lead already exists.
func (c *Collector) emit(ctx context.Context, email string, cand model.Candidate) (bool, error) {
	key := model.LeadKey{UserEmail: email, JobURL: cand.URL}
	_, err := c.leads.GetEnriched(ctx, key)
	if err == nil {
		c.logger.Debug("lead already enriched, skipping", "user_email", email, "job_url", cand.URL)
		return false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return false, fmt.Errorf("checking lead %s: %w", cand.URL, err)
	}

	msg := model.NewRawLeadMessage(email, cand)
	if err := c.leads.PutRaw(ctx, msg.Lead()); err != nil {
		return false, fmt.Errorf("storing raw lead %s: %w", cand.URL, err)
	}
	if err := c.out.Publish(ctx, msg); err != nil {
		return false, fmt.Errorf("publishing raw lead %s: %w", cand.URL, err)
	}
	return true, nil
}
