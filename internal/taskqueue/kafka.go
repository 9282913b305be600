package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
)

type KafkaOptions struct {
	Brokers []string
	Topic   string
	GroupID string
	Workers int
}

// KafkaQueue 以 Job.Key 作为消息键，同一 key 的任务落在同一分区。
// 每个 worker 一个消费组 reader，处理完成后提交位点。
type KafkaQueue struct {
	*registry
	writer *kafka.Writer
	opts   KafkaOptions

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
}

func NewKafkaQueue(opts KafkaOptions) *KafkaQueue {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &KafkaQueue{
		registry: newRegistry(),
		opts:     opts,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(opts.Brokers...),
			Topic:        opts.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, name, key string, payload any) (string, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return "", ErrQueueClosed
	}

	job, err := newJob(name, key, payload)
	if err != nil {
		return "", err
	}
	value, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    job.EnqueuedAt,
		Headers: []kafka.Header{{Key: jobField, Value: []byte(name)}},
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("kafka write %s: %w", name, err)
	}
	return job.ID, nil
}

func (q *KafkaQueue) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < q.opts.Workers; i++ {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  q.opts.Brokers,
			GroupID:  q.opts.GroupID,
			Topic:    q.opts.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		q.mu.Lock()
		q.readers = append(q.readers, r)
		q.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.Close()
			q.consume(ctx, r)
		}()
	}
	wg.Wait()
	return nil
}

func (q *KafkaQueue) consume(ctx context.Context, r *kafka.Reader) {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, kafka.ErrGroupClosed) || errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("kafka fetch failed", zap.String("topic", q.opts.Topic), zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}

		var job Job
		if err := json.Unmarshal(m.Value, &job); err != nil {
			logger.Error("drop malformed job", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
		} else {
			_ = q.execute(ctx, &job)
			if ctx.Err() != nil {
				// 未提交，重平衡后由其他消费者重放
				return
			}
		}

		if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			logger.Warn("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	readers := q.readers
	q.readers = nil
	q.mu.Unlock()
	for _, r := range readers {
		_ = r.Close()
	}
	return q.writer.Close()
}
