package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

const jobField = "job"

type RedisOptions struct {
	Stream   string
	Group    string
	Consumer string // 默认 hostname-pid
	Workers  int
	// ReadBatch is the XREADGROUP / XAUTOCLAIM count.
	ReadBatch int
	// VisibilityTimeout is how long a delivered job may stay unacked before
	// another consumer reclaims it.
	VisibilityTimeout time.Duration
	Block             time.Duration
}

// RedisQueue 基于 Redis Streams 的消费组队列；处理完成（成功或耗尽）后 XACK，
// 耗尽的任务额外写入 {stream}:dead
type RedisQueue struct {
	*registry
	rdb  *redis.Client
	opts RedisOptions

	closeOnce sync.Once
	done      chan struct{}
}

func NewRedisQueue(rdb *redis.Client, opts RedisOptions) *RedisQueue {
	if opts.Stream == "" {
		opts.Stream = "newsfeed:jobs"
	}
	if opts.Group == "" {
		opts.Group = "newsfeed-workers"
	}
	if opts.Consumer == "" {
		host, _ := os.Hostname()
		opts.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ReadBatch <= 0 {
		opts.ReadBatch = 16
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 2 * time.Minute
	}
	if opts.Block <= 0 {
		opts.Block = time.Second
	}
	return &RedisQueue{registry: newRegistry(), rdb: rdb, opts: opts, done: make(chan struct{})}
}

func (q *RedisQueue) deadLetterStream() string { return q.opts.Stream + ":dead" }

func (q *RedisQueue) Enqueue(ctx context.Context, name, key string, payload any) (string, error) {
	select {
	case <-q.done:
		return "", ErrQueueClosed
	default:
	}
	job, err := newJob(name, key, payload)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		Values: map[string]interface{}{jobField: raw},
	}).Err(); err != nil {
		return "", fmt.Errorf("xadd %s: %w", name, err)
	}
	return job.ID, nil
}

// Setup creates the consumer group if it does not exist yet.
func (q *RedisQueue) Setup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", q.opts.Group, err)
	}
	return nil
}

func (q *RedisQueue) Run(ctx context.Context) error {
	if err := q.Setup(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-q.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < q.opts.Workers; i++ {
		wg.Add(1)
		go func(consumer string) {
			defer wg.Done()
			q.readLoop(ctx, consumer)
		}(fmt.Sprintf("%s-%d", q.opts.Consumer, i))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.reclaimLoop(ctx)
	}()
	wg.Wait()
	return nil
}

func (q *RedisQueue) readLoop(ctx context.Context, consumer string) {
	for ctx.Err() == nil {
		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.opts.Group,
			Consumer: consumer,
			Streams:  []string{q.opts.Stream, ">"},
			Count:    int64(q.opts.ReadBatch),
			Block:    q.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			logger.Warn("xreadgroup failed", zap.String("stream", q.opts.Stream), zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				q.handle(ctx, msg)
			}
		}
	}
}

// reclaimLoop 认领超过可见性超时仍未 ack 的消息（消费者崩溃或处理超时）
func (q *RedisQueue) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(q.opts.VisibilityTimeout / 2)
	defer ticker.Stop()
	consumer := q.opts.Consumer + "-reclaim"
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := q.ReclaimOnce(ctx, consumer); err != nil && ctx.Err() == nil {
			logger.Warn("xautoclaim failed", zap.String("stream", q.opts.Stream), zap.Error(err))
		}
	}
}

// ReclaimOnce claims and processes stale pending messages; it returns how
// many were processed.
func (q *RedisQueue) ReclaimOnce(ctx context.Context, consumer string) (int, error) {
	start := "0-0"
	n := 0
	for {
		msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.opts.Stream,
			Group:    q.opts.Group,
			Consumer: consumer,
			MinIdle:  q.opts.VisibilityTimeout,
			Start:    start,
			Count:    int64(q.opts.ReadBatch),
		}).Result()
		if err != nil {
			return n, err
		}
		for _, msg := range msgs {
			q.handle(ctx, msg)
			n++
		}
		if next == "0-0" || len(msgs) == 0 {
			return n, nil
		}
		start = next
	}
}

func (q *RedisQueue) handle(ctx context.Context, msg redis.XMessage) {
	job, err := decodeMessage(msg)
	if err != nil {
		logger.Error("drop malformed job", zap.String("msg_id", msg.ID), zap.Error(err))
		q.deadLetter(ctx, msg, err)
		q.ack(ctx, msg.ID)
		return
	}

	err = q.execute(ctx, job)
	if ctx.Err() != nil {
		// 关闭中断，保持 pending 等待重新认领
		return
	}
	if err != nil {
		q.deadLetter(ctx, msg, err)
	}
	q.ack(ctx, msg.ID)
}

func (q *RedisQueue) ack(ctx context.Context, id string) {
	if err := q.rdb.XAck(ctx, q.opts.Stream, q.opts.Group, id).Err(); err != nil {
		logger.Warn("xack failed", zap.String("msg_id", id), zap.Error(err))
	}
}

func (q *RedisQueue) deadLetter(ctx context.Context, msg redis.XMessage, cause error) {
	values := map[string]interface{}{"msg_id": msg.ID, "error": cause.Error()}
	if raw, ok := msg.Values[jobField]; ok {
		values[jobField] = raw
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.deadLetterStream(), Values: values}).Err(); err != nil {
		logger.Warn("dead letter failed", zap.String("msg_id", msg.ID), zap.Error(err))
	}
}

func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func decodeMessage(msg redis.XMessage) (*Job, error) {
	raw, ok := msg.Values[jobField].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no %q field", msg.ID, jobField)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", msg.ID, err)
	}
	return &job, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
