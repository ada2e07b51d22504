// Package queue is the durable hand-off between pipeline stages.
//
// Every backend delivers at least once: a message is removed only after its handler
// returns nil. A failing message is held back with exponential backoff and redelivered
// with an incremented attempt counter until MaxAttempts, then moved to a dead-letter
// location and reported to an Alerter. A handler that returns a Deferred error puts
// the message back without spending an attempt.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

const (
	defaultMaxAttempts   = 5
	defaultRetryDelay    = 2 * time.Second
	defaultMaxRetryDelay = 5 * time.Minute
)

// Delivery is one attempt at handling a message. Attempt starts at 1.
type Delivery[T any] struct {
	ID      string
	Body    T
	Attempt int
}

// Handler processes a delivery. Returning nil acknowledges it; any error triggers redelivery.
type Handler[T any] func(ctx context.Context, d Delivery[T]) error

// Publisher submits messages. It reports submission only, never completion.
type Publisher[T any] interface {
	Publish(ctx context.Context, msg T) error
}

// Consumer runs a handler over incoming messages until ctx is cancelled.
type Consumer[T any] interface {
	Consume(ctx context.Context, h Handler[T]) error
}

// Alerter is told about every message that exhausted its attempts.
type Alerter interface {
	Alert(ctx context.Context, dl DeadLetter) error
}

// Options are shared by all backends.
type Options struct {
	MaxAttempts int
	// RetryDelay is the hold-back after the first failure. It doubles per attempt
	// up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Alerter       Alerter
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = defaultMaxRetryDelay
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = o.RetryDelay
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// DeferredError puts a message back without counting the failed attempt, e.g. when a
// dependency is refusing calls for a known period.
type DeferredError struct {
	After time.Duration
	Err   error
}

func (e *DeferredError) Error() string {
	return fmt.Sprintf("deferred for %s: %v", e.After, e.Err)
}

func (e *DeferredError) Unwrap() error {
	return e.Err
}

// Defer wraps err so the queue redelivers the message after at least d with the
// same attempt number. A nil err stays nil.
func Defer(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &DeferredError{After: d, Err: err}
}

// backoff is the hold-back after the attempt-th failure: RetryDelay doubled per
// earlier attempt, capped at MaxRetryDelay.
func (o Options) backoff(attempt int) time.Duration {
	delay := o.RetryDelay
	for i := 1; i < attempt && delay < o.MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, o.MaxRetryDelay)
}

// retry decides what happens after the attempt-th delivery failed with err:
// the attempt number of the next delivery and how long to hold it back, or
// dead when the message has run out of attempts.
func (o Options) retry(attempt int, err error) (next int, delay time.Duration, dead bool) {
	var d *DeferredError
	if errors.As(err, &d) {
		return attempt, max(d.After, o.RetryDelay), false
	}
	if attempt >= o.MaxAttempts {
		return attempt, 0, true
	}
	return attempt + 1, o.backoff(attempt), false
}

// DeadLetter captures enough context to inspect or replay a failed message.
type DeadLetter struct {
	Queue     string          `json:"queue"`
	MessageID string          `json:"message_id"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error"`
	Body      json.RawMessage `json:"body"`
	FailedAt  time.Time       `json:"failed_at"`
}

// EncodeDeadLetter serializes a failed message into a dead-letter envelope.
func EncodeDeadLetter(queue, id string, attempts int, body []byte, cause error) (DeadLetter, []byte, error) {
	dl := DeadLetter{
		Queue:     queue,
		MessageID: id,
		Attempts:  attempts,
		FailedAt:  time.Now().UTC(),
	}
	if json.Valid(body) {
		dl.Body = json.RawMessage(body)
	} else {
		quoted, _ := json.Marshal(string(body))
		dl.Body = quoted
	}
	if cause != nil {
		dl.Error = cause.Error()
	}

	b, err := json.Marshal(dl)
	if err != nil {
		return dl, nil, fmt.Errorf("marshal dead letter: %w", err)
	}
	return dl, b, nil
}

// alert reports a dead letter, logging instead of failing when the alerter errors.
func (o Options) alert(ctx context.Context, dl DeadLetter) {
	o.Logger.Error("message dead-lettered",
		"queue", dl.Queue,
		"message_id", dl.MessageID,
		"attempts", dl.Attempts,
		"error", dl.Error,
	)
	if o.Alerter == nil {
		return
	}
	if err := o.Alerter.Alert(ctx, dl); err != nil {
		o.Logger.Warn("dead letter alert failed", "queue", dl.Queue, "message_id", dl.MessageID, "error", err)
	}
}

// invoke runs h and converts a panic into an error so one bad message cannot kill a worker.
func invoke[T any](ctx context.Context, h Handler[T], d Delivery[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
