package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/esusu/internal/jobs"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient records the order of queue commands and can fail selected
// ones. Unscripted commands panic through the embedded nil interface.
type scriptedClient struct {
	redis.Cmdable

	mu      sync.Mutex
	ops     []string
	pending []redis.XMessage

	zaddErr error
	xaddErr error
}

func (c *scriptedClient) record(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
}

func (c *scriptedClient) Ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.ops))
	copy(out, c.ops)
	return out
}

func (c *scriptedClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	c.record("xack")
	return redis.NewIntResult(1, nil)
}

func (c *scriptedClient) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	c.record("zadd")
	if c.zaddErr != nil {
		return redis.NewIntResult(0, c.zaddErr)
	}
	return redis.NewIntResult(1, nil)
}

func (c *scriptedClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	c.record("xadd:" + a.Stream)
	if c.xaddErr != nil {
		return redis.NewStringResult("", c.xaddErr)
	}
	return redis.NewStringResult("1-1", nil)
}

func (c *scriptedClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	c.record("set")
	return redis.NewStatusResult("OK", nil)
}

func (c *scriptedClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	c.mu.Lock()
	msgs := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(msgs) == 0 {
		if err := ctx.Err(); err != nil {
			return redis.NewXStreamSliceCmdResult(nil, err)
		}
		time.Sleep(time.Millisecond)
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
	return redis.NewXStreamSliceCmdResult(
		[]redis.XStream{{Stream: "cycle:jobs", Messages: msgs}}, nil)
}

func delivered(j jobs.Job, streamID string) jobs.Message {
	return jobs.Message{StreamID: streamID, Job: j}
}

func TestFail_RequeuesBeforeAck(t *testing.T) {
	c := &scriptedClient{}
	q := jobs.NewQueue(c, jobs.Config{MaxAttempts: 5})

	dead, err := q.Fail(context.Background(), delivered(jobs.NewCycleTick(uuid.New()), "3-0"), errors.New("boom"))
	require.NoError(t, err)
	assert.False(t, dead)

	// The retry lands in the delayed set before the delivery is acked.
	assert.Equal(t, []string{"zadd", "xack"}, c.Ops())
}

func TestFail_RequeueErrorLeavesDeliveryPending(t *testing.T) {
	c := &scriptedClient{zaddErr: errors.New("redis gone")}
	q := jobs.NewQueue(c, jobs.Config{MaxAttempts: 5})

	_, err := q.Fail(context.Background(), delivered(jobs.NewCycleTick(uuid.New()), "3-0"), errors.New("boom"))
	require.Error(t, err)

	// Nothing acked: the reclaimer will redeliver the stream entry.
	assert.NotContains(t, c.Ops(), "xack")
}

func TestFail_DeadLettersBeforeAck(t *testing.T) {
	c := &scriptedClient{}
	q := jobs.NewQueue(c, jobs.Config{MaxAttempts: 1})

	dead, err := q.Fail(context.Background(), delivered(jobs.NewCycleTick(uuid.New()), "3-0"), errors.New("boom"))
	require.NoError(t, err)
	assert.True(t, dead)

	assert.Equal(t, []string{"xadd:cycle:jobs:dlq", "set", "xack"}, c.Ops())
}

func TestFail_DeadLetterWriteErrorLeavesDeliveryPending(t *testing.T) {
	c := &scriptedClient{xaddErr: errors.New("redis gone")}
	q := jobs.NewQueue(c, jobs.Config{MaxAttempts: 1})

	_, err := q.Fail(context.Background(), delivered(jobs.NewCycleTick(uuid.New()), "3-0"), errors.New("boom"))
	require.Error(t, err)
	assert.NotContains(t, c.Ops(), "xack")
}
