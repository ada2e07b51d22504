package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type task struct {
	Email string `json:"email"`
}

// recordingAlerter keeps every dead letter it is told about.
type recordingAlerter struct {
	mu   sync.Mutex
	got  []DeadLetter
	fail bool
}

func (a *recordingAlerter) Alert(_ context.Context, dl DeadLetter) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, dl)
	if a.fail {
		return errors.New("alert sink down")
	}
	return nil
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.got)
}

func TestMemory_DrainDeliversInOrder(t *testing.T) {
	q := NewMemory[task]("collect", Options{})
	ctx := context.Background()
	for _, e := range []string{"a@x.com", "b@x.com"} {
		if err := q.Publish(ctx, task{Email: e}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	var got []string
	err := q.Drain(ctx, func(_ context.Context, d Delivery[task]) error {
		got = append(got, d.Body.Email)
		if d.Attempt != 1 {
			t.Errorf("Attempt = %d, want 1", d.Attempt)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 2 || got[0] != "a@x.com" || got[1] != "b@x.com" {
		t.Errorf("got %v", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestMemory_RedeliversUntilSuccess(t *testing.T) {
	q := NewMemory[task]("collect", Options{MaxAttempts: 3, RetryDelay: time.Millisecond})
	ctx := context.Background()
	_ = q.Publish(ctx, task{Email: "a@x.com"})

	var attempts []int
	err := q.Drain(ctx, func(_ context.Context, d Delivery[task]) error {
		attempts = append(attempts, d.Attempt)
		if d.Attempt < 2 {
			return errors.New("upstream timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(attempts) != 2 || attempts[1] != 2 {
		t.Errorf("attempts = %v, want [1 2]", attempts)
	}
	if len(q.DeadLetters()) != 0 {
		t.Errorf("unexpected dead letters: %v", q.DeadLetters())
	}
}

func TestMemory_DeadLettersAfterMaxAttempts(t *testing.T) {
	alerter := &recordingAlerter{fail: true}
	q := NewMemory[task]("raw-leads", Options{MaxAttempts: 2, RetryDelay: time.Millisecond, Alerter: alerter})
	ctx := context.Background()
	_ = q.Publish(ctx, task{Email: "a@x.com"})

	calls := 0
	err := q.Drain(ctx, func(_ context.Context, _ Delivery[task]) error {
		calls++
		return errors.New("model unavailable")
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}

	dead := q.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	if dead[0].Attempts != 2 || dead[0].Error != "model unavailable" || dead[0].Queue != "raw-leads" {
		t.Errorf("dead letter = %+v", dead[0])
	}
	if string(dead[0].Body) != `{"email":"a@x.com"}` {
		t.Errorf("dead letter body = %s", dead[0].Body)
	}
	if alerter.count() != 1 {
		t.Errorf("alerts = %d, want 1", alerter.count())
	}
}

func TestMemory_PanicIsTreatedAsFailure(t *testing.T) {
	q := NewMemory[task]("collect", Options{MaxAttempts: 1})
	ctx := context.Background()
	_ = q.Publish(ctx, task{Email: "a@x.com"})

	err := q.Drain(ctx, func(_ context.Context, _ Delivery[task]) error {
		panic("nil map")
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(q.DeadLetters()) != 1 {
		t.Errorf("expected panicking message to be dead-lettered")
	}
}

func TestMemory_ConsumeStopsOnCancel(t *testing.T) {
	q := NewMemory[task]("collect", Options{})
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(_ context.Context, d Delivery[task]) error {
			got <- d.Body.Email
			return nil
		})
	}()

	_ = q.Publish(ctx, task{Email: "a@x.com"})
	select {
	case e := <-got:
		if e != "a@x.com" {
			t.Errorf("got %q", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message was not consumed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Consume returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestMemory_RedeliveryIsHeldBack(t *testing.T) {
	q := NewMemory[task]("raw-leads", Options{MaxAttempts: 3, RetryDelay: 100 * time.Millisecond})
	ctx := context.Background()
	_ = q.Publish(ctx, task{Email: "a@x.com"})
	_ = q.Publish(ctx, task{Email: "b@x.com"})

	type delivery struct {
		email   string
		attempt int
		at      time.Time
	}
	var got []delivery
	err := q.Drain(ctx, func(_ context.Context, d Delivery[task]) error {
		got = append(got, delivery{d.Body.Email, d.Attempt, time.Now()})
		if d.Body.Email == "a@x.com" && d.Attempt == 1 {
			return errors.New("throttled")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("deliveries = %+v, want 3", got)
	}
	// The held-back message does not block the one behind it.
	if got[1].email != "b@x.com" || got[2].email != "a@x.com" || got[2].attempt != 2 {
		t.Errorf("delivery order = %+v", got)
	}
	if gap := got[2].at.Sub(got[0].at); gap < 100*time.Millisecond {
		t.Errorf("redelivered after %s, want at least 100ms", gap)
	}
}

func TestMemory_DeferredFailureKeepsAttempt(t *testing.T) {
	alerter := &recordingAlerter{}
	q := NewMemory[task]("raw-leads", Options{MaxAttempts: 2, RetryDelay: time.Millisecond, Alerter: alerter})
	ctx := context.Background()
	_ = q.Publish(ctx, task{Email: "a@x.com"})

	var attempts []int
	err := q.Drain(ctx, func(_ context.Context, d Delivery[task]) error {
		attempts = append(attempts, d.Attempt)
		if len(attempts) <= 4 {
			return Defer(errors.New("circuit breaker open"), 5*time.Millisecond)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	want := []int{1, 1, 1, 1, 1}
	if len(attempts) != len(want) {
		t.Fatalf("attempts = %v, want %v", attempts, want)
	}
	for i := range want {
		if attempts[i] != want[i] {
			t.Fatalf("attempts = %v, want %v", attempts, want)
		}
	}
	if len(q.DeadLetters()) != 0 || alerter.count() != 0 {
		t.Errorf("deferred message was dead-lettered: %+v", q.DeadLetters())
	}
}

func TestMemory_ConsumeWakesForHeldBackMessage(t *testing.T) {
	q := NewMemory[task]("collect", Options{MaxAttempts: 2, RetryDelay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = q.Publish(ctx, task{Email: "a@x.com"})

	second := make(chan int, 1)
	go q.Consume(ctx, func(_ context.Context, d Delivery[task]) error {
		if d.Attempt == 1 {
			return errors.New("upstream timeout")
		}
		second <- d.Attempt
		return nil
	})

	select {
	case a := <-second:
		if a != 2 {
			t.Errorf("Attempt = %d, want 2", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("held-back message was never redelivered")
	}
}

func TestOptions_BackoffDoublesUpToCap(t *testing.T) {
	o := Options{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second}.withDefaults()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := o.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestOptions_Retry(t *testing.T) {
	o := Options{MaxAttempts: 3, RetryDelay: time.Second}.withDefaults()

	next, delay, dead := o.retry(1, errors.New("boom"))
	if next != 2 || delay != time.Second || dead {
		t.Errorf("retry(1) = %d, %s, %v", next, delay, dead)
	}
	if _, _, dead := o.retry(3, errors.New("boom")); !dead {
		t.Error("retry(3) should dead-letter at MaxAttempts")
	}
	next, delay, dead = o.retry(3, Defer(errors.New("breaker open"), 30*time.Second))
	if next != 3 || delay != 30*time.Second || dead {
		t.Errorf("deferred retry(3) = %d, %s, %v; want same attempt after 30s", next, delay, dead)
	}
}

func TestEncodeDeadLetter_NonJSONBodyIsQuoted(t *testing.T) {
	dl, encoded, err := EncodeDeadLetter("q", "1", 3, []byte("not json"), errors.New("decode"))
	if err != nil {
		t.Fatalf("EncodeDeadLetter: %v", err)
	}
	if string(dl.Body) != `"not json"` {
		t.Errorf("Body = %s", dl.Body)
	}
	if len(encoded) == 0 {
		t.Error("expected encoded envelope")
	}
}
