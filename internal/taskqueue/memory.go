package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/d60-Lab/newsfeed/internal/metrics"
)

// MemoryQueue 进程内队列：无界 FIFO + 固定数量 worker，用于单机部署与测试
type MemoryQueue struct {
	*registry

	workers int

	mu       sync.Mutex
	pending  []*Job
	inflight int // 已入队未完成（含执行中）
	closed   bool
	notify   chan struct{}
	done     chan struct{}
	once     sync.Once
}

func NewMemoryQueue(workers int) *MemoryQueue {
	if workers <= 0 {
		workers = 4
	}
	return &MemoryQueue{
		registry: newRegistry(),
		workers:  workers,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, name, key string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	job, err := newJob(name, key, payload)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.pending = append(q.pending, job)
	q.inflight++
	depth := len(q.pending)
	q.mu.Unlock()

	metrics.QueueDepth.WithLabelValues("memory").Set(float64(depth))
	q.wake()
	return job.ID, nil
}

// Run starts the workers and blocks until ctx is cancelled or the queue is
// closed. Jobs still pending at that point are discarded.
func (q *MemoryQueue) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (q *MemoryQueue) work(ctx context.Context) {
	for {
		job, ok := q.next(ctx)
		if !ok {
			return
		}
		_ = q.execute(ctx, job)
		q.mu.Lock()
		q.inflight--
		q.mu.Unlock()
	}
}

func (q *MemoryQueue) next(ctx context.Context) (*Job, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			remaining := len(q.pending)
			q.mu.Unlock()
			metrics.QueueDepth.WithLabelValues("memory").Set(float64(remaining))
			if remaining > 0 {
				q.wake()
			}
			return job, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.done:
			return nil, false
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain waits until every enqueued job, including jobs enqueued by running
// handlers, has finished.
func (q *MemoryQueue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if q.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Len 返回未完成任务数（采样值）
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
	return nil
}
