package alert

import (
	"context"
	"errors"
	"log/slog"

	"github.com/amishk599/leadscout/internal/metrics"
	"github.com/amishk599/leadscout/internal/queue"
)

// LogAlerter writes dead letters to the logger, body included.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter returns an alerter that logs each dead letter.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

// Alert logs dl. It never fails.
func (a *LogAlerter) Alert(_ context.Context, dl queue.DeadLetter) error {
	a.logger.Error("dead letter",
		"queue", dl.Queue,
		"message_id", dl.MessageID,
		"attempts", dl.Attempts,
		"error", dl.Error,
		"body", string(dl.Body),
	)
	return nil
}

// Multi fans one dead letter out to several alerters and counts it on m.
type Multi struct {
	alerters []queue.Alerter
	metrics  *metrics.Pipeline
}

// NewMulti creates a fan-out alerter. m may be nil.
func NewMulti(m *metrics.Pipeline, alerters ...queue.Alerter) *Multi {
	return &Multi{alerters: alerters, metrics: m}
}

// Alert calls every alerter and joins their errors.
func (m *Multi) Alert(ctx context.Context, dl queue.DeadLetter) error {
	m.metrics.DeadLetter(dl.Queue)
	var errs []error
	for _, a := range m.alerters {
		if err := a.Alert(ctx, dl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
