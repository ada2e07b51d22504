// Package notifier sends each user a ranked report of their best enriched leads.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/amishk599/leadscout/internal/metrics"
	"github.com/amishk599/leadscout/internal/model"
)

// TopK is how many leads a report carries.
const TopK = 5

// Result reports whether an email went out and how many leads it carried.
type Result struct {
	Sent  bool
	Leads int
}

// Notifier renders and sends daily reports.
type Notifier struct {
	settings    model.SettingsStore
	leads       model.LeadStore
	mailer      model.Mailer
	sender      string
	defaultLang string
	metrics     *metrics.Pipeline
	logger      *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithDefaultLanguage sets the report language for users without a profile or locale.
func WithDefaultLanguage(lang string) Option {
	return func(n *Notifier) {
		if lang != "" {
			n.defaultLang = lang
		}
	}
}

// WithMetrics records report outcomes on m.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(n *Notifier) { n.metrics = m }
}

// New creates a Notifier that sends from sender.
func New(settings model.SettingsStore, leads model.LeadStore, mailer model.Mailer, sender string, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		settings:    settings,
		leads:       leads,
		mailer:      mailer,
		sender:      sender,
		defaultLang: "en",
		logger:      logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify sends email its top leads. Nothing is sent when there are none.
func (n *Notifier) Notify(ctx context.Context, email string) (Result, error) {
	if email == "" {
		return Result{}, fmt.Errorf("notify: empty email: %w", model.ErrValidation)
	}

	user, err := n.settings.GetUser(ctx, email)
	switch {
	case errors.Is(err, model.ErrNotFound):
		n.logger.Info("no profile, using defaults", "user_email", email)
		user = model.UserProfile{Email: email}
	case err != nil:
		return Result{}, fmt.Errorf("loading user %s: %w", email, err)
	}
	if user.Language == "" {
		user.Language = n.defaultLang
	}

	top, err := n.leads.TopK(ctx, email, TopK)
	if err != nil {
		return Result{}, fmt.Errorf("querying top leads for %s: %w", email, err)
	}
	if len(top) == 0 {
		n.logger.Info("nothing to report", "user_email", email)
		n.metrics.Report(metrics.OutcomeEmpty)
		return Result{}, nil
	}

	if err := n.send(ctx, user, top); err != nil {
		n.metrics.Report(metrics.OutcomeError)
		return Result{Leads: len(top)}, err
	}
	n.metrics.Report(metrics.OutcomeSent)
	n.logger.Info("report sent", "user_email", email, "leads", len(top), "top_score", top[0].RelevanceScore)
	return Result{Sent: true, Leads: len(top)}, nil
}

// SendSample mails a fixed sample report to email without touching the lead store.
func (n *Notifier) SendSample(ctx context.Context, email string) error {
	user := model.UserProfile{Email: email, Language: n.defaultLang}
	if u, err := n.settings.GetUser(ctx, email); err == nil {
		user = u
		if user.Language == "" {
			user.Language = n.defaultLang
		}
	}
	return n.send(ctx, user, SampleLeads(email))
}

func (n *Notifier) send(ctx context.Context, user model.UserProfile, leads []model.EnrichedLead) error {
	report, err := Render(user, leads)
	if err != nil {
		return err
	}
	err = n.mailer.Send(ctx, model.Email{
		From:    n.sender,
		To:      user.Email,
		Subject: report.Subject,
		HTML:    report.HTML,
		Text:    report.Text,
	})
	if err != nil {
		return fmt.Errorf("sending report to %s: %w", user.Email, err)
	}
	return nil
}
