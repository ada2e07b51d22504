// Package orchestrator fans daily collect and notify tasks out to every active user.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/amishk599/leadscout/internal/metrics"
	"github.com/amishk599/leadscout/internal/model"
	"github.com/amishk599/leadscout/internal/queue"
)

const (
	CycleCollect = "collect"
	CycleNotify  = "notify"

	defaultPageSize = 100
)

// Result counts the users a cycle submitted tasks for. Submission is not completion.
type Result struct {
	UsersTriggered int
	Failed         int
	Purged         int64
}

// Orchestrator drives the daily cycles. It holds no state between runs.
type Orchestrator struct {
	settings  model.SettingsStore
	collect   queue.Publisher[model.CollectTask]
	notify    queue.Publisher[model.NotifyTask]
	leads     model.LeadStore
	retention time.Duration
	pageSize  int
	metrics   *metrics.Pipeline
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetention purges leads older than maxAge after every collect fan-out.
func WithRetention(leads model.LeadStore, maxAge time.Duration) Option {
	return func(o *Orchestrator) {
		o.leads = leads
		o.retention = maxAge
	}
}

// WithPageSize sets how many users are read per settings scan page.
func WithPageSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithMetrics counts triggered users and purged leads on m.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator publishing to the collect and notify channels.
func New(
	settings model.SettingsStore,
	collect queue.Publisher[model.CollectTask],
	notify queue.Publisher[model.NotifyTask],
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		settings: settings,
		collect:  collect,
		notify:   notify,
		pageSize: defaultPageSize,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunDailyCycle submits one collect task per active user, then applies retention.
// A failed scan aborts the cycle; the result still counts what was submitted before it.
func (o *Orchestrator) RunDailyCycle(ctx context.Context) (Result, error) {
	res, err := o.fanOut(ctx, CycleCollect, func(ctx context.Context, email string) error {
		return o.collect.Publish(ctx, model.CollectTask{UserEmail: email})
	})
	if err != nil {
		return res, err
	}

	if o.leads != nil && o.retention > 0 {
		n, err := o.leads.Purge(ctx, o.retention)
		if err != nil {
			o.logger.Error("retention purge failed", "max_age", o.retention.String(), "error", err)
		} else {
			res.Purged = n
			o.metrics.Purged(n)
			if n > 0 {
				o.logger.Info("purged expired leads", "count", n, "max_age", o.retention.String())
			}
		}
	}
	return res, nil
}

// RunNotifyCycle submits one notify task per active user.
func (o *Orchestrator) RunNotifyCycle(ctx context.Context) (Result, error) {
	return o.fanOut(ctx, CycleNotify, func(ctx context.Context, email string) error {
		return o.notify.Publish(ctx, model.NotifyTask{UserEmail: email})
	})
}

func (o *Orchestrator) fanOut(ctx context.Context, cycle string, submit func(context.Context, string) error) (Result, error) {
	start := time.Now()
	var res Result
	token := ""
	for {
		page, err := o.settings.ScanActive(ctx, token, o.pageSize)
		if err != nil {
			o.logger.Error("scan aborted cycle",
				"cycle", cycle, "users_triggered", res.UsersTriggered, "error", err)
			return res, fmt.Errorf("%s cycle: scanning active users after %d submitted: %w", cycle, res.UsersTriggered, err)
		}

		for _, u := range page.Users {
			if !u.IsActive {
				continue
			}
			if err := submit(ctx, u.Email); err != nil {
				res.Failed++
				o.logger.Error("task submission failed", "cycle", cycle, "user_email", u.Email, "error", err)
				continue
			}
			res.UsersTriggered++
			o.metrics.UserTriggered(cycle)
		}

		if page.NextToken == "" || page.NextToken == token {
			break
		}
		token = page.NextToken
	}

	o.logger.Info("cycle submitted",
		"cycle", cycle,
		"users_triggered", res.UsersTriggered,
		"failed", res.Failed,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return res, nil
}
