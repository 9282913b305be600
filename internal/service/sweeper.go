package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/alert"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// FanoutSweeper 兜底：发布后入队失败或进程崩溃导致扇出记录停在 pending，
// 超过宽限期后重新投递协调任务
type FanoutSweeper struct {
	fanouts      repository.FanoutRepository
	svc          *FanoutService
	grace        time.Duration
	claimLimit   int
	pollInterval time.Duration
}

func NewFanoutSweeper(fanouts repository.FanoutRepository, svc *FanoutService, grace time.Duration, claimLimit int, pollInterval time.Duration) *FanoutSweeper {
	if grace <= 0 {
		grace = time.Minute
	}
	if claimLimit <= 0 {
		claimLimit = 128
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &FanoutSweeper{fanouts: fanouts, svc: svc, grace: grace, claimLimit: claimLimit, pollInterval: pollInterval}
}

// Start 启动轮询；返回停止函数
func (w *FanoutSweeper) Start() func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.loop(stop)
	}()
	return func(ctx context.Context) error {
		close(stop)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *FanoutSweeper) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(context.Background()); err != nil {
				logger.Error("fanout sweep failed", zap.Error(err))
				alert.Capture(err, map[string]string{"component": "fanout_sweeper"})
			}
		}
	}
}

// SweepOnce claims stale pending records and redispatches them.
func (w *FanoutSweeper) SweepOnce(ctx context.Context) (int, error) {
	batch, err := w.fanouts.ClaimStale(ctx, time.Now().Add(-w.grace), w.claimLimit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range batch {
		if err := w.svc.Redispatch(ctx, f); err != nil {
			logger.Warn("redispatch fanout failed", zap.Uint64("item_id", f.ItemID), zap.Error(err))
			continue
		}
		n++
		logger.Info("fanout redispatched", zap.Uint64("item_id", f.ItemID), zap.Time("created_at", f.CreatedAt))
	}
	return n, nil
}
