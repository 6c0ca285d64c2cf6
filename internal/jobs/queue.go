package jobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyStream   = "cycle:jobs"
	delayedSet    = "cycle:jobs:delayed"
	dlqStream     = "cycle:jobs:dlq"
	donePrefix    = "cycle:jobs:done:"
	failedPrefix  = "cycle:jobs:failed:"
)

// promoteScript atomically moves due jobs from the delayed set to the ready
// stream. Same Lua-guarded pattern as a safe lock release: the ZREM and XADD
// must not be split across clients.
var promoteScript = redis.NewScript(`
	local due = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
	for i, raw in ipairs(due) do
		redis.call("xadd", KEYS[2], "*", "job", raw)
		redis.call("zrem", KEYS[1], raw)
	end
	return #due
`)

// Config tunes the durable queue.
type Config struct {
	ConsumerGroup      string
	Consumer           string
	BatchSize          int64
	BlockDuration      time.Duration
	MaxAttempts        int
	StallTimeout       time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// Queue is a durable delayed job queue over Redis streams. Delivery is
// at-least-once; processors must be idempotent.
type Queue struct {
	client redis.Cmdable
	cfg    Config
}

// NewQueue creates a queue on the given client.
func NewQueue(client redis.Cmdable, cfg Config) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 5 * time.Minute
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = 24 * time.Hour
	}
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = 7 * 24 * time.Hour
	}
	return &Queue{client: client, cfg: cfg}
}

// CreateGroup ensures the consumer group exists.
func (q *Queue) CreateGroup(ctx context.Context) error {
	const busyGroupMsg = "BUSYGROUP"
	err := q.client.XGroupCreateMkStream(ctx, readyStream, q.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Enqueue schedules the job. A positive delay parks it in the delayed set
// until PromoteDue moves it to the ready stream.
func (q *Queue) Enqueue(ctx context.Context, j Job, delay time.Duration) error {
	raw, err := j.Encode()
	if err != nil {
		return err
	}

	if delay > 0 {
		readyAt := float64(time.Now().Add(delay).UnixMilli())
		if err := q.client.ZAdd(ctx, delayedSet, redis.Z{Score: readyAt, Member: raw}).Err(); err != nil {
			return fmt.Errorf("enqueue delayed job %s: %w", j.ID, err)
		}
		return nil
	}

	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: readyStream,
		Values: map[string]any{"job": raw},
	}).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}
	return nil
}

// PromoteDue moves up to batch delayed jobs whose time has come onto the
// ready stream. Returns how many were promoted.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	res, err := promoteScript.Run(ctx, q.client,
		[]string{delayedSet, readyStream},
		now, q.cfg.BatchSize,
	).Result()
	if err != nil {
		return 0, fmt.Errorf("promote due jobs: %w", err)
	}
	n, _ := res.(int64)
	return int(n), nil
}

// Message is one delivered job with its stream bookkeeping.
type Message struct {
	StreamID string
	Job      Job
}

// Read blocks for up to the configured duration and returns delivered jobs.
func (q *Queue) Read(ctx context.Context) ([]Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.ConsumerGroup,
		Consumer: q.cfg.Consumer,
		Streams:  []string{readyStream, ">"},
		Count:    q.cfg.BatchSize,
		Block:    q.cfg.BlockDuration,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	return q.collect(streams)
}

// ReclaimStalled takes over messages another consumer left pending longer
// than the stall timeout. At-least-once redelivery for crashed workers.
func (q *Queue) ReclaimStalled(ctx context.Context) ([]Message, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   readyStream,
		Group:    q.cfg.ConsumerGroup,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.StallTimeout,
		Start:    "0-0",
		Count:    q.cfg.BatchSize,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("claim stalled jobs: %w", err)
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values["job"].(string)
		j, err := Decode(raw)
		if err != nil {
			// Poison entry; drop it from the group.
			q.client.XAck(ctx, readyStream, q.cfg.ConsumerGroup, m.ID)
			continue
		}
		out = append(out, Message{StreamID: m.ID, Job: j})
	}
	return out, nil
}

// Complete acks the message and records a completion marker for audit,
// retained 24h.
func (q *Queue) Complete(ctx context.Context, m Message) error {
	if err := q.client.XAck(ctx, readyStream, q.cfg.ConsumerGroup, m.StreamID).Err(); err != nil {
		return fmt.Errorf("ack job %s: %w", m.Job.ID, err)
	}
	q.client.Set(ctx, donePrefix+m.Job.ID, time.Now().UTC().Format(time.RFC3339), q.cfg.CompletedRetention)
	return nil
}

// Fail handles a failed delivery: below the attempt cap the job is re-queued
// with backoff; at the cap it is dead-lettered. The retry or dead-letter
// entry is written before the delivery is acked, so a crash in between
// redelivers the stream entry instead of losing the job.
func (q *Queue) Fail(ctx context.Context, m Message, cause error) (deadLettered bool, err error) {
	j := m.Job
	j.Attempt++

	if j.Attempt >= q.cfg.MaxAttempts {
		raw, encErr := j.Encode()
		if encErr != nil {
			return false, encErr
		}
		if err := q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: dlqStream,
			Values: map[string]any{"job": raw, "error": cause.Error()},
		}).Err(); err != nil {
			return false, fmt.Errorf("dead-letter job %s: %w", j.ID, err)
		}
		q.client.Set(ctx, failedPrefix+j.ID, cause.Error(), q.cfg.FailedRetention)
		if err := q.client.XAck(ctx, readyStream, q.cfg.ConsumerGroup, m.StreamID).Err(); err != nil {
			return true, fmt.Errorf("ack dead-lettered job %s: %w", j.ID, err)
		}
		return true, nil
	}

	if err := q.Enqueue(ctx, j, Backoff(j.Attempt)); err != nil {
		// Leave the delivery pending; the reclaimer will redeliver it.
		return false, err
	}
	if err := q.client.XAck(ctx, readyStream, q.cfg.ConsumerGroup, m.StreamID).Err(); err != nil {
		return false, fmt.Errorf("ack failed job %s: %w", j.ID, err)
	}
	return false, nil
}

// Backoff returns the redelivery delay for the given attempt count:
// 30s, 1m, 2m, 4m... capped at 10m, no jitter (the queue is coarse).
func Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 30 * time.Second
	}
	// 30s << 5 already exceeds the cap; larger shifts would overflow.
	if attempt > 6 {
		return 10 * time.Minute
	}
	d := 30 * time.Second << uint(attempt-1)
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

func (q *Queue) collect(streams []redis.XStream) ([]Message, error) {
	var out []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			raw, _ := m.Values["job"].(string)
			j, err := Decode(raw)
			if err != nil {
				q.client.XAck(context.Background(), readyStream, q.cfg.ConsumerGroup, m.ID)
				continue
			}
			out = append(out, Message{StreamID: m.ID, Job: j})
		}
	}
	return out, nil
}
