package queue

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process queue. It keeps the same retry and dead-letter
// semantics as the durable backends but loses everything on restart.
type Memory[T any] struct {
	name string
	opts Options

	mu      sync.Mutex
	pending []memoryItem[T]
	dead    []DeadLetter
	seq     int
	wake    chan struct{}
}

type memoryItem[T any] struct {
	id        string
	body      T
	attempt   int
	notBefore time.Time
}

// NewMemory creates an empty in-process queue.
func NewMemory[T any](name string, opts Options) *Memory[T] {
	return &Memory[T]{
		name: name,
		opts: opts.withDefaults(),
		wake: make(chan struct{}, 1),
	}
}

// Publish appends msg to the queue.
func (q *Memory[T]) Publish(_ context.Context, msg T) error {
	q.mu.Lock()
	q.seq++
	q.pending = append(q.pending, memoryItem[T]{id: q.name + "-" + strconv.Itoa(q.seq), body: msg, attempt: 1})
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *Memory[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Consume handles messages until ctx is cancelled.
func (q *Memory[T]) Consume(ctx context.Context, h Handler[T]) error {
	for {
		item, wait, ok := q.pop(time.Now())
		if !ok {
			var (
				timer *time.Timer
				due   <-chan time.Time
			)
			if wait > 0 {
				timer = time.NewTimer(wait)
				due = timer.C
			}
			select {
			case <-ctx.Done():
			case <-q.wake:
			case <-due:
			}
			if timer != nil {
				timer.Stop()
			}
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		q.process(ctx, h, item)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Drain handles messages until the queue is empty, waiting out redelivery delays.
func (q *Memory[T]) Drain(ctx context.Context, h Handler[T]) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, wait, ok := q.pop(time.Now())
		if !ok {
			if wait == 0 {
				return nil
			}
			sleepCtx(ctx, wait)
			continue
		}
		q.process(ctx, h, item)
	}
}

// Len returns the number of messages waiting, including those held back for redelivery.
func (q *Memory[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeadLetters returns a copy of the messages that exhausted their attempts.
func (q *Memory[T]) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// pop removes the first message due at now. When none is due it returns how long
// until the earliest held-back one, or zero when the queue is empty.
func (q *Memory[T]) pop(now time.Time) (memoryItem[T], time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var wait time.Duration
	for i, item := range q.pending {
		if !item.notBefore.After(now) {
			q.pending = slices.Delete(q.pending, i, i+1)
			return item, 0, true
		}
		if d := item.notBefore.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}
	return memoryItem[T]{}, wait, false
}

func (q *Memory[T]) process(ctx context.Context, h Handler[T], item memoryItem[T]) {
	err := invoke(ctx, h, Delivery[T]{ID: item.id, Body: item.body, Attempt: item.attempt})
	if err == nil {
		return
	}

	if ctx.Err() != nil {
		// Shutting down: keep the message for the next consumer without spending an attempt.
		q.requeue(item)
		return
	}

	next, delay, dead := q.opts.retry(item.attempt, err)
	if !dead {
		q.opts.Logger.Warn("message will be redelivered",
			"queue", q.name, "message_id", item.id, "attempt", next, "delay", delay, "error", err)
		item.attempt = next
		item.notBefore = time.Now().Add(delay)
		q.requeue(item)
		return
	}

	body, _ := json.Marshal(item.body)
	dl, _, _ := EncodeDeadLetter(q.name, item.id, item.attempt, body, err)
	q.mu.Lock()
	q.dead = append(q.dead, dl)
	q.mu.Unlock()
	q.opts.alert(ctx, dl)
}

func (q *Memory[T]) requeue(item memoryItem[T]) {
	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.mu.Unlock()
	q.signal()
}
