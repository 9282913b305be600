package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/taskqueue"
	"github.com/d60-Lab/newsfeed/pkg/database"
)

type testEnv struct {
	db  *gorm.DB
	mr  *miniredis.Miniredis
	rdb *redis.Client

	queue *taskqueue.MemoryQueue

	feeds    repository.FeedRepository
	fans     repository.FanRepository
	fanouts  repository.FanoutRepository
	attrs    repository.AttributeRepository
	feedRepo *flakyFeeds

	feedWindow     *cache.WindowCache[model.FeedEntry]
	timelineWindow *cache.WindowCache[model.ItemRef]
	counters       *cache.Counters

	fanout     *FanoutService
	publisher  *Publisher
	feed       *FeedService
	engagement *EngagementService
	relations  RelationshipService
	replicator *FanReplicator
}

type envOptions struct {
	windowLen   int
	batchSize   int
	maxAttempts int
}

// flakyFeeds 可注入 BulkInsert 失败的持久层包装
type flakyFeeds struct {
	repository.FeedRepository
	failBulk atomic.Bool
}

func (f *flakyFeeds) BulkInsert(ctx context.Context, entries []model.FeedEntry) (int64, error) {
	if f.failBulk.Load() {
		return 0, fmt.Errorf("bulk insert: injected failure")
	}
	return f.FeedRepository.BulkInsert(ctx, entries)
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.windowLen == 0 {
		opts.windowLen = 1000
	}
	if opts.batchSize == 0 {
		opts.batchSize = 100
	}
	if opts.maxAttempts == 0 {
		opts.maxAttempts = 3
	}

	e := &testEnv{db: database.NewTestDB(t)}
	e.mr = miniredis.RunT(t)
	e.rdb = redis.NewClient(&redis.Options{Addr: e.mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = e.rdb.Close() })

	e.feedRepo = &flakyFeeds{FeedRepository: repository.NewFeedRepository(e.db)}
	e.feeds = e.feedRepo
	e.fans = repository.NewFanRepository(e.db)
	e.fanouts = repository.NewFanoutRepository(e.db)
	e.attrs = repository.NewAttributeRepository(e.db)
	items := repository.NewItemRepository(e.db)
	comments := repository.NewCommentRepository(e.db)

	e.feedWindow = cache.NewWindowCache[model.FeedEntry](e.rdb, e.feeds, cache.WindowOptions{
		Name: "newsfeed", KeyFormat: "newsfeeds:%d", MaxLen: opts.windowLen, TTL: time.Hour,
	})
	e.timelineWindow = cache.NewWindowCache[model.ItemRef](e.rdb, items, cache.WindowOptions{
		Name: "timeline", KeyFormat: "timelines:%d", MaxLen: opts.windowLen, TTL: time.Hour,
	})
	e.counters = cache.NewCounters(e.rdb, e.attrs, time.Hour)
	itemCache := cache.NewItemCache(e.rdb, items, time.Hour)

	clock := NewClock()
	e.queue = taskqueue.NewMemoryQueue(4)
	e.fanout = NewFanoutService(e.feeds, e.fans, e.fanouts, e.feedWindow, e.queue, FanoutOptions{
		BatchSize:      opts.batchSize,
		BatchTimeLimit: 5 * time.Second,
		MaxAttempts:    opts.maxAttempts,
		RetryInterval:  time.Millisecond,
		Clock:          clock,
	})
	e.fanout.Register(e.queue)

	e.publisher = NewPublisher(e.db, e.fanout, e.timelineWindow, clock)
	e.feed = NewFeedService(
		pagination.NewPaginator[model.FeedEntry](e.feedWindow, e.feeds, 20, 100),
		pagination.NewPaginator[model.ItemRef](e.timelineWindow, items, 20, 100),
		itemCache, e.counters, comments,
	)
	e.engagement = NewEngagementService(e.db, e.counters, itemCache, clock)
	e.replicator = NewFanReplicator(e.fans, 1024)
	stopReplicator := e.replicator.Start(2)
	e.relations = NewRelationshipService(repository.NewFollowRepository(e.db), e.fans, e.attrs, e.counters, e.replicator)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.queue.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = stopReplicator(context.Background())
		cancel()
		_ = e.queue.Close()
		<-done
	})
	return e
}

func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.queue.Drain(ctx))
	require.NoError(t, e.replicator.Wait(ctx))
}

func (e *testEnv) seedUsers(t *testing.T, n int) []uint64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&model.User{}).Count(&count).Error)
	users := make([]model.User, n)
	for i := range users {
		users[i] = model.User{Username: fmt.Sprintf("user%d", int(count)+i)}
	}
	require.NoError(t, e.db.CreateInBatches(&users, 200).Error)
	ids := make([]uint64, n)
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

// seedFans 直接写 fans 冗余表（跳过异步复制）
func (e *testEnv) seedFans(t *testing.T, authorID uint64, fanIDs []uint64) {
	t.Helper()
	fans := make([]model.Fan, len(fanIDs))
	for i, id := range fanIDs {
		fans[i] = model.Fan{UserID: authorID, FanID: id}
	}
	require.NoError(t, e.db.CreateInBatches(&fans, 200).Error)
}

func (e *testEnv) allFeed(t *testing.T, owner uint64) []model.FeedEntry {
	t.Helper()
	rows, err := e.feeds.Range(context.Background(), owner, pagination.Bounds{}, 0)
	require.NoError(t, err)
	return rows
}

// recordingQueue 只记录投递，不执行
type recordingQueue struct {
	jobs []recordedJob
}

type recordedJob struct {
	name, key string
	payload   any
}

func (q *recordingQueue) Enqueue(_ context.Context, name, key string, payload any) (string, error) {
	q.jobs = append(q.jobs, recordedJob{name: name, key: key, payload: payload})
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}
