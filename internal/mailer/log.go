package mailer

import (
	"context"
	"log/slog"

	"github.com/amishk599/leadscout/internal/model"
)

// Ensure LogMailer implements model.Mailer.
var _ model.Mailer = (*LogMailer)(nil)

// LogMailer writes reports to the logger instead of sending them.
// Used for dry runs and when no SMTP relay is configured.
type LogMailer struct {
	logger   *slog.Logger
	withBody bool
}

// NewLogMailer returns a mailer that logs each message. withBody adds the text part.
func NewLogMailer(logger *slog.Logger, withBody bool) *LogMailer {
	return &LogMailer{logger: logger, withBody: withBody}
}

// Send logs the message. It never fails.
func (m *LogMailer) Send(_ context.Context, msg model.Email) error {
	args := []any{"from", msg.From, "to", msg.To, "subject", msg.Subject, "html_bytes", len(msg.HTML)}
	if m.withBody {
		args = append(args, "text", msg.Text)
	}
	m.logger.Info("report email", args...)
	return nil
}
