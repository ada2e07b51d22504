package queue

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type fakeObject struct {
	body []byte
	meta map[string]string
	etag string
}

// fakeObjects is an in-memory stand-in for a single S3 bucket, including
// conditional writes.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	version int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string]fakeObject)}
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	meta := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		meta[strings.ToLower(k)] = v
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	existing, exists := f.objects[key]
	if aws.ToString(in.IfNoneMatch) == "*" && exists {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	if in.IfMatch != nil && (!exists || existing.etag != aws.ToString(in.IfMatch)) {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	f.version++
	etag := `"` + strconv.Itoa(f.version) + `"`
	f.objects[key] = fakeObject{body: body, meta: meta, etag: etag}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(obj.body)),
		Metadata: obj.meta,
		ETag:     aws.String(obj.etag),
	}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeObjects) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeObjects) keys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func newTestBucket(api ObjectAPI, alerter Alerter) *Bucket[task] {
	return NewBucket[task](api, "leads", BucketOptions[task]{
		Options:   Options{MaxAttempts: 2, RetryDelay: time.Millisecond, Alerter: alerter},
		Prefix:    "raw-leads",
		Partition: func(m task) string { return m.Email },
	})
}

func TestBucket_PublishWritesPartitionedObject(t *testing.T) {
	api := newFakeObjects()
	q := newTestBucket(api, nil)

	if err := q.Publish(context.Background(), task{Email: "a@x.com"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	keys := api.keys("raw-leads/pending/a@x.com/")
	if len(keys) != 1 || !strings.HasSuffix(keys[0], ".json") {
		t.Fatalf("keys = %v", keys)
	}
	if got := api.objects[keys[0]].meta["attempt"]; got != "1" {
		t.Errorf("attempt metadata = %q, want 1", got)
	}
}

func TestBucket_DrainDeletesHandledObjects(t *testing.T) {
	api := newFakeObjects()
	q := newTestBucket(api, nil)
	ctx := context.Background()
	_ = q.Publish(ctx, task{Email: "a@x.com"})
	_ = q.Publish(ctx, task{Email: "b@x.com"})

	var got []string
	err := q.Drain(ctx, func(_ context.Context, d Delivery[task]) error {
		got = append(got, d.Body.Email)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("handled %v, want 2 messages", got)
	}
	if keys := api.keys("raw-leads/"); len(keys) != 0 {
		t.Errorf("objects left behind: %v", keys)
	}
}

func TestBucket_RetriesThenDeadLetters(t *testing.T) {
	api := newFakeObjects()
	alerter := &recordingAlerter{}
	q := newTestBucket(api, alerter)
	ctx := context.Background()
	_ = q.Publish(ctx, task{Email: "a@x.com"})

	var attempts []int
	err := q.Drain(ctx, func(_ context.Context, d Delivery[task]) error {
		attempts = append(attempts, d.Attempt)
		return errors.New("model unavailable")
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("attempts = %v, want [1 2]", attempts)
	}
	if keys := api.keys("raw-leads/pending/"); len(keys) != 0 {
		t.Errorf("pending objects left: %v", keys)
	}
	if keys := api.keys("raw-leads/dead/a@x.com/"); len(keys) != 1 {
		t.Errorf("dead objects = %v, want 1", keys)
	}
	if alerter.count() != 1 {
		t.Errorf("alerts = %d, want 1", alerter.count())
	}
}

func TestBucket_UndecodableObjectIsDeadLettered(t *testing.T) {
	api := newFakeObjects()
	q := newTestBucket(api, nil)
	ctx := context.Background()
	_, _ = api.PutObject(ctx, &s3.PutObjectInput{
		Key:  aws.String("raw-leads/pending/broken.json"),
		Body: strings.NewReader("{not json"),
	})

	calls := 0
	if err := q.Drain(ctx, func(context.Context, Delivery[task]) error { calls++; return nil }); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if calls != 0 {
		t.Errorf("handler called %d times for undecodable object", calls)
	}
	if keys := api.keys("raw-leads/dead/"); len(keys) != 1 {
		t.Errorf("dead objects = %v, want 1", keys)
	}
}

func TestBucket_RedeliveryIsHeldBack(t *testing.T) {
	api := newFakeObjects()
	q := NewBucket[task](api, "leads", BucketOptions[task]{
		Options:      Options{MaxAttempts: 3, RetryDelay: 150 * time.Millisecond},
		Prefix:       "raw-leads",
		PollInterval: 20 * time.Millisecond,
	})
	ctx := context.Background()
	_ = q.Publish(ctx, task{Email: "a@x.com"})

	var at []time.Time
	err := q.Drain(ctx, func(_ context.Context, d Delivery[task]) error {
		at = append(at, time.Now())
		if d.Attempt == 1 {
			return errors.New("throttled")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(at) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(at))
	}
	if gap := at[1].Sub(at[0]); gap < 150*time.Millisecond {
		t.Errorf("redelivered after %s, want at least 150ms", gap)
	}
}

func TestBucket_PendingObjectCarriesNotBefore(t *testing.T) {
	api := newFakeObjects()
	q := NewBucket[task](api, "leads", BucketOptions[task]{
		Options: Options{MaxAttempts: 3, RetryDelay: time.Hour},
		Prefix:  "raw-leads",
	})
	ctx := context.Background()
	_ = q.Publish(ctx, task{Email: "a@x.com"})

	calls := 0
	fail := func(context.Context, Delivery[task]) error { calls++; return errors.New("throttled") }
	if _, err := q.poll(ctx, fail); err != nil {
		t.Fatalf("poll: %v", err)
	}
	res, err := q.poll(ctx, fail)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1 while the message is held back", calls)
	}
	if res.seen != 1 || res.handled != 0 || res.wait < 59*time.Minute {
		t.Errorf("second poll = %+v, want one held-back object due in about an hour", res)
	}

	keys := api.keys("raw-leads/pending/")
	if len(keys) != 1 {
		t.Fatalf("pending = %v", keys)
	}
	meta := api.objects[keys[0]].meta
	if meta["attempt"] != "2" || meta["not-before"] == "" {
		t.Errorf("metadata = %v, want attempt 2 with not-before", meta)
	}
	if leases := api.keys("raw-leads/leases/"); len(leases) != 0 {
		t.Errorf("leases left behind: %v", leases)
	}
}

func TestBucket_ConcurrentConsumersDeliverOnce(t *testing.T) {
	api := newFakeObjects()
	newConsumer := func(name string) *Bucket[task] {
		return NewBucket[task](api, "leads", BucketOptions[task]{
			Prefix:       "notify-tasks",
			PollInterval: 10 * time.Millisecond,
			Consumer:     name,
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := newConsumer("pub").Publish(ctx, task{Email: "a@x.com"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var handled atomic.Int32
	h := func(context.Context, Delivery[task]) error {
		handled.Add(1)
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	var wg sync.WaitGroup
	for _, name := range []string{"worker-1", "worker-2", "worker-3"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = newConsumer(name).Consume(ctx, h)
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(api.keys("notify-tasks/pending/")) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	cancel()
	wg.Wait()

	if n := handled.Load(); n != 1 {
		t.Errorf("task handled %d times, want 1", n)
	}
	if keys := api.keys("notify-tasks/"); len(keys) != 0 {
		t.Errorf("objects left behind: %v", keys)
	}
}

func TestBucket_HeldLeaseIsSkipped(t *testing.T) {
	api := newFakeObjects()
	q := newTestBucket(api, nil)
	ctx := context.Background()
	_ = q.Publish(ctx, task{Email: "a@x.com"})
	key := api.keys("raw-leads/pending/")[0]

	other := NewBucket[task](api, "leads", BucketOptions[task]{Prefix: "raw-leads", Consumer: "other"})
	if ok, err := other.claim(ctx, key); !ok || err != nil {
		t.Fatalf("claim = %v, %v", ok, err)
	}

	calls := 0
	res, err := q.poll(ctx, func(context.Context, Delivery[task]) error { calls++; return nil })
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if calls != 0 || res.handled != 0 {
		t.Errorf("handled a message leased by another consumer: calls=%d res=%+v", calls, res)
	}
}

func TestBucket_ExpiredLeaseIsTakenOver(t *testing.T) {
	api := newFakeObjects()
	ctx := context.Background()
	crashed := NewBucket[task](api, "leads", BucketOptions[task]{
		Prefix: "raw-leads", Consumer: "crashed", LeaseTTL: time.Millisecond,
	})
	_ = crashed.Publish(ctx, task{Email: "a@x.com"})
	key := api.keys("raw-leads/pending/")[0]
	if ok, err := crashed.claim(ctx, key); !ok || err != nil {
		t.Fatalf("claim = %v, %v", ok, err)
	}
	time.Sleep(5 * time.Millisecond)

	q := newTestBucket(api, nil)
	var got []string
	if err := q.Drain(ctx, func(_ context.Context, d Delivery[task]) error {
		got = append(got, d.Body.Email)
		return nil
	}); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("handled %v, want the message once after the lease expired", got)
	}
	if keys := api.keys("raw-leads/"); len(keys) != 0 {
		t.Errorf("objects left behind: %v", keys)
	}
}
