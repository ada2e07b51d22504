package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a Redis Streams queue.
type RedisOptions struct {
	Options
	Group    string        // consumer group, shared by all replicas of a stage
	Consumer string        // unique per process
	Block    time.Duration // XREADGROUP block time; keeps the loop responsive to cancellation
	Batch    int64
	MinIdle  time.Duration // pending entries idle this long are reclaimed from crashed consumers
}

// RedisStream is a queue backed by a Redis stream and consumer group.
// A failed message is parked in the "<stream>:delayed" sorted set, scored by the time
// it becomes due, before the original is acknowledged. A crash between the two steps
// produces a duplicate, never a loss. Due entries are moved back onto the stream by
// every consumer loop.
type RedisStream[T any] struct {
	client     redis.UniversalClient
	stream     string
	deadStream string
	delayedSet string
	opts       RedisOptions
}

// promoteScript moves due members of KEYS[1] onto stream KEYS[2] atomically.
// Members are "<attempt>:<nonce>:<body>".
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	local attempt, body = string.match(member, '^(%d+):[^:]*:(.*)$')
	if attempt then
		redis.call('XADD', KEYS[2], '*', 'body', body, 'attempt', attempt)
	end
end
return #due
`)

// NewRedisStream creates a queue over stream. Dead letters go to "<stream>:dead".
func NewRedisStream[T any](client redis.UniversalClient, stream string, opts RedisOptions) *RedisStream[T] {
	opts.Options = opts.Options.withDefaults()
	if opts.Group == "" {
		opts.Group = stream + "-workers"
	}
	if opts.Consumer == "" {
		opts.Consumer = "consumer-1"
	}
	if opts.Block <= 0 {
		opts.Block = 2 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 10
	}
	if opts.MinIdle <= 0 {
		opts.MinIdle = 5 * time.Minute
	}
	return &RedisStream[T]{
		client:     client,
		stream:     stream,
		deadStream: stream + ":dead",
		delayedSet: stream + ":delayed",
		opts:       opts,
	}
}

// Publish appends msg to the stream.
func (q *RedisStream[T]) Publish(ctx context.Context, msg T) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", q.stream, err)
	}
	return q.add(ctx, body, 1)
}

func (q *RedisStream[T]) add(ctx context.Context, body []byte, attempt int) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"body": string(body), "attempt": attempt},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", q.stream, err)
	}
	return nil
}

// Consume reads from the consumer group until ctx is cancelled.
func (q *RedisStream[T]) Consume(ctx context.Context, h Handler[T]) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	q.opts.Logger.Info("consuming stream", "stream", q.stream, "group", q.opts.Group, "consumer", q.opts.Consumer)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := q.promote(ctx); err != nil && ctx.Err() == nil {
			q.opts.Logger.Warn("promoting delayed messages failed", "stream", q.stream, "error", err)
		}
		if err := q.reclaim(ctx, h); err != nil && ctx.Err() == nil {
			q.opts.Logger.Warn("reclaim failed", "stream", q.stream, "error", err)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.opts.Group,
			Consumer: q.opts.Consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.opts.Batch,
			Block:    q.opts.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.opts.Logger.Error("xreadgroup failed", "stream", q.stream, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, s := range streams {
			for _, m := range s.Messages {
				q.process(ctx, h, m)
			}
		}
	}
}

func (q *RedisStream[T]) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", q.opts.Group, q.stream, err)
	}
	return nil
}

// reclaim takes over entries left pending by consumers that stopped without acknowledging.
func (q *RedisStream[T]) reclaim(ctx context.Context, h Handler[T]) error {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		MinIdle:  q.opts.MinIdle,
		Start:    "0-0",
		Count:    q.opts.Batch,
	}).Result()
	if err != nil {
		return fmt.Errorf("xautoclaim %s: %w", q.stream, err)
	}
	for _, m := range msgs {
		q.opts.Logger.Info("reclaimed idle message", "stream", q.stream, "message_id", m.ID)
		q.process(ctx, h, m)
	}
	return nil
}

func (q *RedisStream[T]) process(ctx context.Context, h Handler[T], m redis.XMessage) {
	rawBody, _ := m.Values["body"].(string)
	attempt := 1
	if a, ok := m.Values["attempt"].(string); ok {
		if n, err := strconv.Atoi(a); err == nil && n > 0 {
			attempt = n
		}
	}

	var body T
	if err := json.Unmarshal([]byte(rawBody), &body); err != nil {
		q.deadLetter(ctx, m.ID, attempt, []byte(rawBody), fmt.Errorf("decode: %w", err))
		return
	}

	herr := invoke(ctx, h, Delivery[T]{ID: m.ID, Body: body, Attempt: attempt})
	if herr != nil {
		if ctx.Err() != nil {
			// Shutting down: leave the entry pending so it is reclaimed later.
			return
		}
		next, delay, dead := q.opts.retry(attempt, herr)
		if dead {
			q.deadLetter(ctx, m.ID, attempt, []byte(rawBody), herr)
			return
		}
		q.opts.Logger.Warn("message will be redelivered",
			"stream", q.stream, "message_id", m.ID, "attempt", next, "delay", delay, "error", herr)
		if err := q.schedule(ctx, []byte(rawBody), next, delay); err != nil {
			q.opts.Logger.Error("requeue failed, leaving message pending", "stream", q.stream, "message_id", m.ID, "error", err)
			return
		}
	}
	q.ack(ctx, m.ID)
}

// schedule parks body in the delayed set until delay has passed.
func (q *RedisStream[T]) schedule(ctx context.Context, body []byte, attempt int, delay time.Duration) error {
	member := strconv.Itoa(attempt) + ":" + uuid.NewString() + ":" + string(body)
	due := time.Now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.delayedSet, redis.Z{Score: float64(due), Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", q.delayedSet, err)
	}
	return nil
}

// promote moves delayed messages that are due back onto the stream.
func (q *RedisStream[T]) promote(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	n, err := promoteScript.Run(ctx, q.client, []string{q.delayedSet, q.stream}, now, q.opts.Batch).Int()
	if err != nil {
		return fmt.Errorf("promote %s: %w", q.delayedSet, err)
	}
	if n > 0 {
		q.opts.Logger.Debug("promoted delayed messages", "stream", q.stream, "count", n)
	}
	return nil
}

func (q *RedisStream[T]) deadLetter(ctx context.Context, id string, attempt int, body []byte, cause error) {
	dl, encoded, err := EncodeDeadLetter(q.stream, id, attempt, body, cause)
	if err != nil {
		q.opts.Logger.Error("encode dead letter failed", "stream", q.stream, "message_id", id, "error", err)
		return
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadStream,
		Values: map[string]any{"envelope": string(encoded)},
	}).Err()
	if err != nil {
		q.opts.Logger.Error("write dead letter failed, leaving message pending", "stream", q.deadStream, "message_id", id, "error", err)
		return
	}
	q.opts.alert(ctx, dl)
	q.ack(ctx, id)
}

func (q *RedisStream[T]) ack(ctx context.Context, id string) {
	if err := q.client.XAck(ctx, q.stream, q.opts.Group, id).Err(); err != nil {
		q.opts.Logger.Error("xack failed", "stream", q.stream, "message_id", id, "error", err)
	}
}
