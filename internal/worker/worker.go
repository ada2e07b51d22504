// Package worker binds the pipeline stages to their queues.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/amishk599/leadscout/internal/analyzer"
	"github.com/amishk599/leadscout/internal/collector"
	"github.com/amishk599/leadscout/internal/model"
	"github.com/amishk599/leadscout/internal/notifier"
	"github.com/amishk599/leadscout/internal/queue"
)

// Collector runs one collect pass for a user.
type Collector interface {
	Collect(ctx context.Context, email string) (collector.Result, error)
}

// Analyzer enriches one raw lead.
type Analyzer interface {
	Analyze(ctx context.Context, msg model.RawLeadMessage) (analyzer.Result, error)
}

// Notifier sends one user's report.
type Notifier interface {
	Notify(ctx context.Context, email string) (notifier.Result, error)
}

// CollectHandler runs the collector for each task. Errors trigger redelivery.
func CollectHandler(c Collector, logger *slog.Logger) queue.Handler[model.CollectTask] {
	return func(ctx context.Context, d queue.Delivery[model.CollectTask]) error {
		_, err := c.Collect(ctx, d.Body.UserEmail)
		if err != nil {
			logger.Warn("collect task failed", "user_email", d.Body.UserEmail, "attempt", d.Attempt, "error", err)
		}
		return deferUnavailable(err)
	}
}

// AnalyzeHandler runs the analyzer for each raw lead. A malformed message is dropped
// since no redelivery can fix it.
func AnalyzeHandler(a Analyzer, logger *slog.Logger) queue.Handler[model.RawLeadMessage] {
	return func(ctx context.Context, d queue.Delivery[model.RawLeadMessage]) error {
		_, err := a.Analyze(ctx, d.Body)
		if errors.Is(err, model.ErrValidation) {
			logger.Error("dropping malformed raw lead", "message_id", d.ID, "error", err)
			return nil
		}
		if err != nil {
			logger.Warn("analyze failed", "message_id", d.ID, "job_url", d.Body.JobURL, "attempt", d.Attempt, "error", err)
		}
		return deferUnavailable(err)
	}
}

// deferUnavailable keeps a message that never reached a refusing dependency from
// spending one of its attempts.
func deferUnavailable(err error) error {
	var ue *model.UnavailableError
	if errors.As(err, &ue) {
		return queue.Defer(err, ue.RetryAfter)
	}
	return err
}

// NotifyHandler runs the notifier for each task.
func NotifyHandler(n Notifier, logger *slog.Logger) queue.Handler[model.NotifyTask] {
	return func(ctx context.Context, d queue.Delivery[model.NotifyTask]) error {
		_, err := n.Notify(ctx, d.Body.UserEmail)
		if err != nil {
			logger.Warn("notify task failed", "user_email", d.Body.UserEmail, "attempt", d.Attempt, "error", err)
		}
		return deferUnavailable(err)
	}
}

// Stage is a named consume loop.
type Stage struct {
	Name        string
	Concurrency int
	run         func(ctx context.Context) error
}

// NewStage binds h to q. Concurrency below one means one loop.
func NewStage[T any](name string, q queue.Consumer[T], h queue.Handler[T], concurrency int) Stage {
	return Stage{
		Name:        name,
		Concurrency: concurrency,
		run:         func(ctx context.Context) error { return q.Consume(ctx, h) },
	}
}

// Run starts every stage's consume loops and blocks until ctx is cancelled
// or a loop fails.
func Run(ctx context.Context, logger *slog.Logger, stages ...Stage) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range stages {
		n := max(s.Concurrency, 1)
		logger.Info("starting stage", "stage", s.Name, "concurrency", n)
		for i := range n {
			g.Go(func() error {
				if err := s.run(gctx); err != nil {
					return fmt.Errorf("stage %s loop %d: %w", s.Name, i, err)
				}
				return nil
			})
		}
	}
	err := g.Wait()
	logger.Info("workers stopped")
	return err
}
