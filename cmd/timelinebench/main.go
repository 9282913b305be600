package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/d60-Lab/newsfeed/config"
	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/service"
	"github.com/d60-Lab/newsfeed/internal/taskqueue"
	pkgcache "github.com/d60-Lab/newsfeed/pkg/cache"
	"github.com/d60-Lab/newsfeed/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.Migrate(db); err != nil {
		panic(err)
	}
	rdb := must(pkgcache.InitRedis(ctx, cfg.Redis))
	defer rdb.Close()

	// params: N fans of one author, POSTS publishes
	N := envInt("N", 20000)
	POSTS := envInt("POSTS", 100)
	WORKERS := envInt("WORKERS", 8)
	BATCH := envInt("BATCH", cfg.Fanout.BatchSize)

	// clean tables for a reproducible run (ok for local bench)
	_ = db.Exec("TRUNCATE TABLE feed_entries, fanouts, items, fans, follows, likes, comments, users RESTART IDENTITY CASCADE").Error
	_ = rdb.FlushDB(ctx).Err()

	// seed one author and N fans
	author := model.User{Username: "author0"}
	if err := db.Create(&author).Error; err != nil {
		panic(err)
	}
	users := make([]model.User, N)
	for i := range users {
		users[i] = model.User{Username: fmt.Sprintf("u%d", i)}
	}
	if err := db.CreateInBatches(&users, 1000).Error; err != nil {
		panic(err)
	}
	fans := make([]model.Fan, N)
	follows := make([]model.Follow, N)
	for i, u := range users {
		fans[i] = model.Fan{UserID: author.ID, FanID: u.ID}
		follows[i] = model.Follow{FollowerID: u.ID, FolloweeID: author.ID}
	}
	_ = db.CreateInBatches(&fans, 1000).Error
	_ = db.CreateInBatches(&follows, 1000).Error

	feeds := repository.NewFeedRepository(db)
	items := repository.NewItemRepository(db)
	fanouts := repository.NewFanoutRepository(db)
	window := cache.NewWindowCache[model.FeedEntry](rdb, feeds, cache.WindowOptions{
		Name: "newsfeed", KeyFormat: "newsfeeds:%d", MaxLen: cfg.Feed.WindowLength, TTL: cfg.Feed.WindowTTL,
	})
	timeline := cache.NewWindowCache[model.ItemRef](rdb, items, cache.WindowOptions{
		Name: "timeline", KeyFormat: "timelines:%d", MaxLen: cfg.Feed.WindowLength, TTL: cfg.Feed.WindowTTL,
	})

	q := taskqueue.NewMemoryQueue(WORKERS)
	fanout := service.NewFanoutService(feeds, repository.NewFanRepository(db), fanouts, window, q, service.FanoutOptions{
		BatchSize:      BATCH,
		BatchTimeLimit: cfg.Fanout.BatchTimeLimit,
		MaxAttempts:    cfg.Fanout.MaxAttempts,
		RetryBudget:    cfg.Fanout.RetryBudget,
	})
	fanout.Register(q)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = q.Run(runCtx) }()
	publisher := service.NewPublisher(db, fanout, timeline, service.NewClock())

	// publish POSTS
	published := make(map[uint64]time.Time, POSTS)
	pubDurations := make([]time.Duration, 0, POSTS)
	for i := 0; i < POSTS; i++ {
		st := time.Now()
		item, err := publisher.Publish(ctx, author.ID, fmt.Sprintf("hello %d", i))
		if err != nil {
			panic(err)
		}
		pubDurations = append(pubDurations, time.Since(st))
		published[item.ID] = st
	}

	// collect landing metrics: publish -> fanout done
	land := make([]time.Duration, 0, POSTS)
	deadline := time.Now().Add(2 * time.Minute)
	for len(published) > 0 && time.Now().Before(deadline) {
		for id, st := range published {
			f, err := fanouts.Get(ctx, id)
			if err != nil {
				continue
			}
			if f.Status == model.FanoutDone || f.Status == model.FanoutPartial {
				land = append(land, f.UpdatedAt.Sub(st))
				delete(published, id)
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(published) > 0 {
		fmt.Printf("timeout while waiting for fanout: pending=%d\n", len(published))
	}

	var pubSum time.Duration
	for _, d := range pubDurations {
		pubSum += d
	}
	fmt.Printf("N=%d POSTS=%d WORKERS=%d BATCH=%d L=%d\n", N, POSTS, WORKERS, BATCH, cfg.Feed.WindowLength)
	fmt.Printf("Publish latency: avg=%v p95=%v p99=%v\n", pubSum/time.Duration(len(pubDurations)), pct(pubDurations, 0.95), pct(pubDurations, 0.99))
	if len(land) > 0 {
		var landSum time.Duration
		for _, d := range land {
			landSum += d
		}
		fmt.Printf("Fanout landing (publish->done): samples=%d avg=%v p95=%v p99=%v\n", len(land), landSum/time.Duration(len(land)), pct(land, 0.95), pct(land, 0.99))
	}

	// one fan's first page: window hit vs cold store
	paginator := pagination.NewPaginator[model.FeedEntry](window, feeds, cfg.Feed.DefaultPageSize, cfg.Feed.MaxPageSize)
	req := pagination.Request{OwnerID: users[0].ID, PageSize: 50}
	st := time.Now()
	page := must(paginator.Page(ctx, req))
	fmt.Printf("Feed read (fan0, limit=50, cached): %v, rows=%d\n", time.Since(st), len(page.Entries))
	_ = window.Invalidate(ctx, users[0].ID)
	st = time.Now()
	page = must(paginator.Page(ctx, req))
	fmt.Printf("Feed read (fan0, limit=50, after eviction): %v, rows=%d\n", time.Since(st), len(page.Entries))
}
