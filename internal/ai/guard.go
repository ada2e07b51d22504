package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/amishk599/leadscout/internal/model"
)

// GuardConfig bounds every generation call and trips a breaker on repeated upstream failures.
type GuardConfig struct {
	Timeout          time.Duration // per call; defaults to 60s
	FailureThreshold uint          // failures out of Window that open the breaker
	Window           uint
	OpenDelay        time.Duration // time the breaker stays open before probing again
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Window == 0 {
		c.Window = 10
	}
	if c.FailureThreshold == 0 || c.FailureThreshold > c.Window {
		c.FailureThreshold = c.Window / 2
		if c.FailureThreshold == 0 {
			c.FailureThreshold = 1
		}
	}
	if c.OpenDelay <= 0 {
		c.OpenDelay = 30 * time.Second
	}
	return c
}

// GuardedGenerator decorates a Generator with a timeout and a circuit breaker.
// Upstream failures come back as *model.TransientError so queues redeliver them.
// Calls rejected by the open breaker also carry a *model.UnavailableError with the
// time left until the breaker lets a call through again.
type GuardedGenerator struct {
	inner   model.Generator
	cb      circuitbreaker.CircuitBreaker[model.Enrichment]
	timeout time.Duration
	logger  *slog.Logger
}

// NewGuardedGenerator wraps inner.
func NewGuardedGenerator(inner model.Generator, cfg GuardConfig, logger *slog.Logger) *GuardedGenerator {
	cfg = cfg.withDefaults()
	cb := circuitbreaker.NewBuilder[model.Enrichment]().
		HandleIf(func(_ model.Enrichment, err error) bool {
			return err != nil && !errors.Is(err, model.ErrValidation)
		}).
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.Window).
		WithDelay(cfg.OpenDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			logger.Warn("ai circuit breaker state change",
				"from_state", stateName(e.OldState),
				"to_state", stateName(e.NewState),
			)
		}).
		Build()

	return &GuardedGenerator{inner: inner, cb: cb, timeout: cfg.Timeout, logger: logger}
}

// Generate calls the wrapped generator through the breaker with a deadline.
func (g *GuardedGenerator) Generate(ctx context.Context, req model.EnrichmentRequest) (model.Enrichment, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := failsafe.With(g.cb).WithContext(callCtx).Get(func() (model.Enrichment, error) {
		return g.inner.Generate(callCtx, req)
	})
	if err == nil {
		return out, nil
	}

	switch {
	case errors.Is(err, model.ErrValidation):
		return model.Enrichment{}, err
	case ctx.Err() != nil:
		// Caller cancelled; not an upstream problem.
		return model.Enrichment{}, err
	case errors.Is(err, circuitbreaker.ErrOpen):
		return model.Enrichment{}, model.Transient("ai generate", &model.UnavailableError{
			RetryAfter: g.cb.RemainingDelay(),
			Err:        err,
		})
	case errors.Is(err, context.DeadlineExceeded):
		return model.Enrichment{}, model.Transient("ai generate", fmt.Errorf("timed out after %s: %w", g.timeout, err))
	default:
		return model.Enrichment{}, model.Transient("ai generate", err)
	}
}

// BreakerOpen reports whether calls are currently being rejected.
func (g *GuardedGenerator) BreakerOpen() bool {
	return g.cb.IsOpen()
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}
