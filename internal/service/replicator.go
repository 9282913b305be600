package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

type replicateAction int

const (
	actionAdd replicateAction = iota + 1
	actionRemove
)

type replicateJob struct {
	action replicateAction
	userID uint64
	fanID  uint64
	enqAt  time.Time
}

// FanReplicator 本地异步冗余执行器：follows 写成功后异步写 fans，供扇出按作者读粉丝
type FanReplicator struct {
	fanRepo   repository.FanRepository
	ch        chan replicateJob
	metricsCh chan time.Duration
	pending   atomic.Int64 // 已接收未落地
}

func NewFanReplicator(fanRepo repository.FanRepository, queueSize int) *FanReplicator {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &FanReplicator{fanRepo: fanRepo, ch: make(chan replicateJob, queueSize), metricsCh: make(chan time.Duration, 65536)}
}

func (r *FanReplicator) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-r.ch:
					r.apply(job)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		// 先等队列排空再停 worker
		err := r.Wait(ctx)
		close(stopCh)
		return err
	}
}

func (r *FanReplicator) apply(job replicateJob) {
	defer r.pending.Add(-1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch job.action {
	case actionAdd:
		err = r.fanRepo.Create(ctx, job.userID, job.fanID)
	case actionRemove:
		err = r.fanRepo.Delete(ctx, job.userID, job.fanID)
	}
	if err != nil {
		logger.Error("replicate fan failed",
			zap.Int("action", int(job.action)),
			zap.Uint64("user", job.userID),
			zap.Uint64("fan", job.fanID),
			zap.Error(err),
		)
	}
	if !job.enqAt.IsZero() {
		select {
		case r.metricsCh <- time.Since(job.enqAt):
		default:
		}
	}
}

func (r *FanReplicator) enqueue(job replicateJob) bool {
	r.pending.Add(1)
	select {
	case r.ch <- job:
		return true
	default:
		r.pending.Add(-1)
		return false
	}
}

func (r *FanReplicator) EnqueueAdd(userID, fanID uint64) {
	if !r.enqueue(replicateJob{action: actionAdd, userID: userID, fanID: fanID, enqAt: time.Now()}) {
		logger.Warn("replicator queue full, drop add", zap.Uint64("user", userID), zap.Uint64("fan", fanID))
	}
}

func (r *FanReplicator) EnqueueRemove(userID, fanID uint64) {
	if !r.enqueue(replicateJob{action: actionRemove, userID: userID, fanID: fanID, enqAt: time.Now()}) {
		logger.Warn("replicator queue full, drop remove", zap.Uint64("user", userID), zap.Uint64("fan", fanID))
	}
}

// Wait blocks until every accepted job has been applied.
func (r *FanReplicator) Wait(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for r.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Metrics 返回复制落地耗时的只读通道（每处理一条发送一次 duration）。
func (r *FanReplicator) Metrics() <-chan time.Duration { return r.metricsCh }

// QueueLen 返回当前队列长度（采样值）。
func (r *FanReplicator) QueueLen() int { return len(r.ch) }
