package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// ObjectAPI is the subset of the S3 client the bucket queue needs.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// BucketOptions configures an object-storage queue.
type BucketOptions[T any] struct {
	Options
	Prefix       string        // e.g. "raw-leads"
	PollInterval time.Duration // wait between listings that found nothing to do
	// Consumer names the lease holder; unique per process.
	Consumer string
	// LeaseTTL is how long a claim lasts before another consumer may take the
	// message over. It must exceed the slowest handler.
	LeaseTTL time.Duration
	// Partition picks a sub-folder per message, e.g. the user's email.
	Partition func(T) string
}

// Bucket is a queue where each message is one object under <prefix>/pending/.
// Attempts and the earliest redelivery time live in object metadata; dead letters
// move to <prefix>/dead/. A consumer handles a message only after creating its
// lease object under <prefix>/leases/ with a conditional write, so concurrent
// consumers never handle the same message at once.
type Bucket[T any] struct {
	api    ObjectAPI
	bucket string
	opts   BucketOptions[T]
}

const (
	attemptMetaKey   = "attempt"
	notBeforeMetaKey = "not-before" // unix milliseconds
	expiresMetaKey   = "expires"    // unix milliseconds, on lease objects
)

// NewBucket creates a queue over bucket.
func NewBucket[T any](api ObjectAPI, bucket string, opts BucketOptions[T]) *Bucket[T] {
	opts.Options = opts.Options.withDefaults()
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Minute
	}
	if opts.Consumer == "" {
		opts.Consumer = "consumer-" + uuid.NewString()
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &Bucket[T]{api: api, bucket: bucket, opts: opts}
}

func (q *Bucket[T]) pendingPrefix() string { return path.Join(q.opts.Prefix, "pending") + "/" }
func (q *Bucket[T]) deadPrefix() string    { return path.Join(q.opts.Prefix, "dead") + "/" }
func (q *Bucket[T]) leasePrefix() string   { return path.Join(q.opts.Prefix, "leases") + "/" }

func (q *Bucket[T]) leaseKey(key string) string {
	return q.leasePrefix() + strings.TrimPrefix(key, q.pendingPrefix())
}

// Publish writes msg as a new pending object.
func (q *Bucket[T]) Publish(ctx context.Context, msg T) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", q.opts.Prefix, err)
	}

	name := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), uuid.NewString())
	if q.opts.Partition != nil {
		if part := q.opts.Partition(msg); part != "" {
			name = part + "/" + name
		}
	}
	return q.put(ctx, q.pendingPrefix()+name, body, 1, time.Time{})
}

func (q *Bucket[T]) put(ctx context.Context, key string, body []byte, attempt int, notBefore time.Time) error {
	meta := map[string]string{attemptMetaKey: strconv.Itoa(attempt)}
	if !notBefore.IsZero() {
		meta[notBeforeMetaKey] = strconv.FormatInt(notBefore.UnixMilli(), 10)
	}
	_, err := q.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(q.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", q.bucket, key, err)
	}
	return nil
}

// Consume polls the pending prefix until ctx is cancelled.
func (q *Bucket[T]) Consume(ctx context.Context, h Handler[T]) error {
	q.opts.Logger.Info("consuming bucket", "bucket", q.bucket, "prefix", q.pendingPrefix(), "consumer", q.opts.Consumer)
	for {
		res, err := q.poll(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			q.opts.Logger.Error("listing pending objects failed", "bucket", q.bucket, "error", err)
		}
		if res.handled == 0 || err != nil {
			sleepCtx(ctx, res.idle(q.opts.PollInterval))
		}
	}
}

// Drain handles pending objects until a listing comes back empty, waiting out
// redelivery delays and leases held by other consumers.
func (q *Bucket[T]) Drain(ctx context.Context, h Handler[T]) error {
	for {
		res, err := q.poll(ctx, h)
		if err != nil {
			return err
		}
		if res.seen == 0 {
			return ctx.Err()
		}
		if res.handled == 0 {
			sleepCtx(ctx, res.idle(q.opts.PollInterval))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

type pollResult struct {
	seen    int           // pending objects listed
	handled int           // deliveries made, successful or not
	wait    time.Duration // until the earliest held-back object is due; zero if none
}

// idle is how long to sleep after a pass that handled nothing.
func (r pollResult) idle(interval time.Duration) time.Duration {
	if r.wait > 0 && r.wait < interval {
		return r.wait
	}
	return interval
}

// poll lists pending objects once and tries to handle each.
func (q *Bucket[T]) poll(ctx context.Context, h Handler[T]) (pollResult, error) {
	paginator := s3.NewListObjectsV2Paginator(q.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(q.bucket),
		Prefix: aws.String(q.pendingPrefix()),
	})

	var res pollResult
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return res, fmt.Errorf("list s3://%s/%s: %w", q.bucket, q.pendingPrefix(), err)
		}
		for _, obj := range page.Contents {
			if ctx.Err() != nil {
				return res, nil
			}
			res.seen++
			handled, wait := q.process(ctx, h, aws.ToString(obj.Key))
			if handled {
				res.handled++
			}
			if wait > 0 && (res.wait == 0 || wait < res.wait) {
				res.wait = wait
			}
		}
	}
	return res, nil
}

// process claims key, then delivers it if it is due. It reports whether the handler
// ran, or how long until the object is due when it is held back.
func (q *Bucket[T]) process(ctx context.Context, h Handler[T], key string) (bool, time.Duration) {
	claimed, err := q.claim(ctx, key)
	if err != nil {
		q.opts.Logger.Warn("claim failed", "key", key, "error", err)
		return false, 0
	}
	if !claimed {
		return false, 0
	}
	defer q.release(ctx, key)

	out, err := q.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(q.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// Another consumer finished it between our listing and our claim.
		var nsk *types.NoSuchKey
		if !errors.As(err, &nsk) {
			q.opts.Logger.Warn("get pending object failed", "key", key, "error", err)
		}
		return false, 0
	}
	raw, err := io.ReadAll(out.Body)
	out.Body.Close()
	if err != nil {
		q.opts.Logger.Warn("read pending object failed", "key", key, "error", err)
		return false, 0
	}

	if nb, ok := metaMillis(out.Metadata, notBeforeMetaKey); ok {
		if wait := time.Until(nb); wait > 0 {
			return false, wait
		}
	}
	attempt := 1
	if n, err := strconv.Atoi(out.Metadata[attemptMetaKey]); err == nil && n > 0 {
		attempt = n
	}

	var body T
	if err := json.Unmarshal(raw, &body); err != nil {
		q.deadLetter(ctx, key, attempt, raw, fmt.Errorf("decode: %w", err))
		return true, 0
	}

	herr := invoke(ctx, h, Delivery[T]{ID: key, Body: body, Attempt: attempt})
	if herr == nil {
		q.delete(ctx, key)
		return true, 0
	}
	if ctx.Err() != nil {
		return true, 0
	}
	next, delay, dead := q.opts.retry(attempt, herr)
	if dead {
		q.deadLetter(ctx, key, attempt, raw, herr)
		return true, 0
	}
	q.opts.Logger.Warn("message will be redelivered", "key", key, "attempt", next, "delay", delay, "error", herr)
	if err := q.put(ctx, key, raw, next, time.Now().Add(delay)); err != nil {
		q.opts.Logger.Error("bump attempt failed", "key", key, "error", err)
	}
	return true, 0
}

// claim creates the lease object for key. It fails over to an expired lease left by
// a consumer that died, replacing it only if nobody else replaced it first.
func (q *Bucket[T]) claim(ctx context.Context, key string) (bool, error) {
	lease := q.leaseKey(key)
	err := q.putLease(ctx, lease, func(in *s3.PutObjectInput) { in.IfNoneMatch = aws.String("*") })
	if err == nil {
		return true, nil
	}
	if !isConditionFailed(err) {
		return false, err
	}

	out, err := q.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(q.bucket),
		Key:    aws.String(lease),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			// Released in the meantime; the next pass will claim it.
			return false, nil
		}
		return false, fmt.Errorf("get lease %s: %w", lease, err)
	}
	out.Body.Close()
	if expires, ok := metaMillis(out.Metadata, expiresMetaKey); ok && time.Now().Before(expires) {
		return false, nil
	}

	err = q.putLease(ctx, lease, func(in *s3.PutObjectInput) { in.IfMatch = out.ETag })
	if err == nil {
		q.opts.Logger.Warn("took over expired lease", "key", key)
		return true, nil
	}
	if isConditionFailed(err) {
		return false, nil
	}
	return false, err
}

func (q *Bucket[T]) putLease(ctx context.Context, lease string, cond func(*s3.PutObjectInput)) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(q.bucket),
		Key:    aws.String(lease),
		Body:   strings.NewReader(q.opts.Consumer),
		Metadata: map[string]string{
			expiresMetaKey: strconv.FormatInt(time.Now().Add(q.opts.LeaseTTL).UnixMilli(), 10),
		},
	}
	cond(in)
	_, err := q.api.PutObject(ctx, in)
	return err
}

func (q *Bucket[T]) release(ctx context.Context, key string) {
	q.delete(context.WithoutCancel(ctx), q.leaseKey(key))
}

// isConditionFailed reports whether a conditional write lost against an existing
// or concurrently written object.
func isConditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		code := status.HTTPStatusCode()
		return code == http.StatusPreconditionFailed || code == http.StatusConflict
	}
	return false
}

func metaMillis(meta map[string]string, key string) (time.Time, bool) {
	n, err := strconv.ParseInt(meta[key], 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(n), true
}

func (q *Bucket[T]) deadLetter(ctx context.Context, key string, attempt int, raw []byte, cause error) {
	dl, encoded, err := EncodeDeadLetter(q.opts.Prefix, key, attempt, raw, cause)
	if err != nil {
		q.opts.Logger.Error("encode dead letter failed", "key", key, "error", err)
		return
	}
	deadKey := q.deadPrefix() + strings.TrimPrefix(key, q.pendingPrefix())
	if err := q.put(ctx, deadKey, encoded, attempt, time.Time{}); err != nil {
		q.opts.Logger.Error("write dead letter failed, leaving message pending", "key", key, "error", err)
		return
	}
	q.opts.alert(ctx, dl)
	q.delete(ctx, key)
}

func (q *Bucket[T]) delete(ctx context.Context, key string) {
	_, err := q.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(q.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		q.opts.Logger.Error("delete object failed", "key", key, "error", err)
	}
}
