package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/config"
	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/service"
	"github.com/d60-Lab/newsfeed/internal/taskqueue"
	"github.com/d60-Lab/newsfeed/pkg/alert"
	pkgcache "github.com/d60-Lab/newsfeed/pkg/cache"
	"github.com/d60-Lab/newsfeed/pkg/database"
	"github.com/d60-Lab/newsfeed/pkg/logger"
	"github.com/d60-Lab/newsfeed/pkg/tracing"
)

// app 进程内共享的组件
type app struct {
	cfg   *config.Config
	db    *gorm.DB
	rdb   *redis.Client
	queue taskqueue.Queue

	fanouts    repository.FanoutRepository
	fanout     *service.FanoutService
	publisher  *service.Publisher
	feed       *service.FeedService
	engagement *service.EngagementService
	relations  service.RelationshipService
	replicator *service.FanReplicator

	closers []func(context.Context) error
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if err := alert.Init(cfg.Sentry); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	if a.db, err = database.InitDB(cfg); err != nil {
		return nil, err
	}
	a.rdb, err = pkgcache.InitRedis(ctx, cfg.Redis)
	if err != nil {
		// 缓存不可用时读写降级到数据库
		logger.Warn("redis unavailable at startup", zap.Error(err))
	}
	a.closers = append(a.closers, func(context.Context) error { return a.rdb.Close() })

	if a.queue, err = taskqueue.New(cfg.Queue, a.rdb); err != nil {
		return nil, err
	}
	if s, ok := a.queue.(interface{ Setup(context.Context) error }); ok {
		if err := s.Setup(ctx); err != nil {
			return nil, fmt.Errorf("queue setup: %w", err)
		}
	}

	feeds := repository.NewFeedRepository(a.db)
	items := repository.NewItemRepository(a.db)
	fans := repository.NewFanRepository(a.db)
	attrs := repository.NewAttributeRepository(a.db)
	comments := repository.NewCommentRepository(a.db)
	a.fanouts = repository.NewFanoutRepository(a.db)

	feedWindow := cache.NewWindowCache[model.FeedEntry](a.rdb, feeds, cache.WindowOptions{
		Name:      "newsfeed",
		KeyFormat: "newsfeeds:%d",
		MaxLen:    cfg.Feed.WindowLength,
		TTL:       cfg.Feed.WindowTTL,
	})
	timeline := cache.NewWindowCache[model.ItemRef](a.rdb, items, cache.WindowOptions{
		Name:      "timeline",
		KeyFormat: "timelines:%d",
		MaxLen:    cfg.Feed.WindowLength,
		TTL:       cfg.Feed.WindowTTL,
	})
	counters := cache.NewCounters(a.rdb, attrs, cfg.Feed.CounterTTL)
	itemCache := cache.NewItemCache(a.rdb, items, cfg.Feed.ItemTTL)

	clock := service.NewClock()
	a.fanout = service.NewFanoutService(feeds, fans, a.fanouts, feedWindow, a.queue, service.FanoutOptions{
		BatchSize:      cfg.Fanout.BatchSize,
		BatchTimeLimit: cfg.Fanout.BatchTimeLimit,
		MaxAttempts:    cfg.Fanout.MaxAttempts,
		RetryBudget:    cfg.Fanout.RetryBudget,
		Clock:          clock,
	})
	a.fanout.Register(a.queue)

	a.publisher = service.NewPublisher(a.db, a.fanout, timeline, clock)
	a.feed = service.NewFeedService(
		pagination.NewPaginator[model.FeedEntry](feedWindow, feeds, cfg.Feed.DefaultPageSize, cfg.Feed.MaxPageSize),
		pagination.NewPaginator[model.ItemRef](timeline, items, cfg.Feed.DefaultPageSize, cfg.Feed.MaxPageSize),
		itemCache, counters, comments,
	)
	a.engagement = service.NewEngagementService(a.db, counters, itemCache, clock)
	a.replicator = service.NewFanReplicator(fans, 0)
	a.relations = service.NewRelationshipService(repository.NewFollowRepository(a.db), fans, attrs, counters, a.replicator)
	return a, nil
}

// runQueue 后台消费任务，返回停止函数
func (a *app) runQueue(ctx context.Context) func(context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.queue.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("task queue stopped", zap.Error(err))
		}
	}()
	return func(stopCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

func (a *app) startSweeper() func(context.Context) error {
	sw := service.NewFanoutSweeper(a.fanouts, a.fanout, a.cfg.Fanout.SweepGrace, a.cfg.Fanout.SweepLimit, a.cfg.Fanout.SweepInterval)
	return sw.Start()
}

// close 按注册的逆序释放资源
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.queue != nil {
		_ = a.queue.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}
	alert.Flush()
	_ = logger.Sync()
}
