package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRedis(t *testing.T) (*redis.Client, *RedisQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := NewRedisQueue(rdb, RedisOptions{
		Stream:            "test:jobs",
		Group:             "test",
		Consumer:          "c",
		Workers:           2,
		Block:             20 * time.Millisecond,
		VisibilityTimeout: time.Minute,
	})
	return rdb, q
}

func runQueue(t *testing.T, q Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, q.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = q.Close()
	})
}

func TestRedisQueueDeliversAndAcks(t *testing.T) {
	rdb, q := startRedis(t)
	require.NoError(t, q.Setup(context.Background()))

	var sum atomic.Int64
	q.Register("add", func(ctx context.Context, job *Job) error {
		var p payload
		if err := job.Decode(&p); err != nil {
			return err
		}
		sum.Add(int64(p.N))
		return nil
	}, fastRetry(1))

	for i := 1; i <= 5; i++ {
		_, err := q.Enqueue(context.Background(), "add", "k", payload{N: i})
		require.NoError(t, err)
	}
	runQueue(t, q)

	require.Eventually(t, func() bool { return sum.Load() == 15 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		p, err := rdb.XPending(context.Background(), "test:jobs", "test").Result()
		return err == nil && p.Count == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRedisQueueDeadLettersExhaustedJobs(t *testing.T) {
	rdb, q := startRedis(t)
	q.Register("fail", func(ctx context.Context, job *Job) error {
		return errors.New("boom")
	}, fastRetry(2))

	runQueue(t, q)
	require.Eventually(t, func() bool {
		// 等待消费组建立
		return rdb.Exists(context.Background(), "test:jobs").Val() == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err := q.Enqueue(context.Background(), "fail", "k", payload{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rdb.XLen(context.Background(), "test:jobs:dead").Val() == 1
	}, 5*time.Second, 10*time.Millisecond)

	msgs, err := rdb.XRange(context.Background(), "test:jobs:dead", "-", "+").Result()
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Values["error"], "boom")
}

func TestRedisQueueEnqueueAfterClose(t *testing.T) {
	_, q := startRedis(t)
	require.NoError(t, q.Close())
	_, err := q.Enqueue(context.Background(), "x", "k", payload{})
	assert.ErrorIs(t, err, ErrQueueClosed)
}
