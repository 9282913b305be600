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
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/service"
	pkgcache "github.com/d60-Lab/newsfeed/pkg/cache"
	"github.com/d60-Lab/newsfeed/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
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

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.Migrate(db); err != nil {
		panic(err)
	}
	rdb := must(pkgcache.InitRedis(ctx, cfg.Redis))
	defer rdb.Close()

	// repositories & services
	followRepo := repository.NewFollowRepository(db)
	fanRepo := repository.NewFanRepository(db)
	attrs := repository.NewAttributeRepository(db)
	counters := cache.NewCounters(rdb, attrs, cfg.Feed.CounterTTL)
	replicator := service.NewFanReplicator(fanRepo, 100000)
	stop := replicator.Start(8)
	relSvc := service.NewRelationshipService(followRepo, fanRepo, attrs, counters, replicator)

	N := envInt("N", 10000)
	CONC := envInt("CONC", 1)
	PAGE := envInt("PAGE", 50)

	// seed users: celeb is followed by everyone else
	celeb := model.User{Username: fmt.Sprintf("celeb-%d", time.Now().UnixNano())}
	if err := db.Create(&celeb).Error; err != nil {
		panic(err)
	}
	users := make([]model.User, N)
	for i := range users {
		users[i] = model.User{Username: fmt.Sprintf("%s-u%d", celeb.Username, i)}
	}
	if err := db.CreateInBatches(&users, 1000).Error; err != nil {
		panic(err)
	}

	// replication landing
	repMetrics := replicator.Metrics()
	repRecs := make([]time.Duration, 0, N)
	doneRep := make(chan struct{})
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for {
			select {
			case d := <-repMetrics:
				repRecs = append(repRecs, d)
			case <-doneRep:
				return
			}
		}
	}()

	maxQ := 0
	quitSample := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if q := replicator.QueueLen(); q > maxQ {
					maxQ = q
				}
			case <-quitSample:
				return
			}
		}
	}()

	// async path: follow row + counters inline, fans row via replicator
	t0 := time.Now()
	workers := CONC
	if workers > N {
		workers = N
	}
	feed := make(chan int, N)
	for i := 0; i < N; i++ {
		feed <- i
	}
	close(feed)
	asyncCh := make(chan time.Duration, N)
	doneCh := make(chan struct{}, workers)
	for w := 0; w < workers; w++ {
		go func() {
			for i := range feed {
				st := time.Now()
				_ = relSvc.Follow(ctx, users[i].ID, celeb.ID)
				asyncCh <- time.Since(st)
			}
			doneCh <- struct{}{}
		}()
	}
	for w := 0; w < workers; w++ {
		<-doneCh
	}
	close(asyncCh)
	asyncRecs := make([]time.Duration, 0, N)
	for d := range asyncCh {
		asyncRecs = append(asyncRecs, d)
	}
	asyncDur := time.Since(t0)
	close(quitSample)

	drainStart := time.Now()
	_ = stop(context.Background())
	drainDur := time.Since(drainStart)
	close(doneRep)
	<-collected

	// sync path: both rows written inline (reverse direction to avoid conflicts)
	t1 := time.Now()
	for i := 0; i < N; i++ {
		_, _ = followRepo.Create(ctx, celeb.ID, users[i].ID)
		_ = fanRepo.Create(ctx, users[i].ID, celeb.ID)
	}
	syncDur := time.Since(t1)

	q0 := time.Now()
	_, _ = fanRepo.ListFans(ctx, celeb.ID, 0, PAGE)
	fansDur := time.Since(q0)

	q1 := time.Now()
	_, _ = followRepo.ListFollowings(ctx, celeb.ID, 0, PAGE)
	follDur := time.Since(q1)

	q2 := time.Now()
	followers, _ := counters.Get(ctx, cache.CounterKey{Kind: model.KindUser, ID: celeb.ID, Attribute: model.AttrFollowersCount})
	counterDur := time.Since(q2)

	fmt.Printf("N=%d, CONC=%d, PAGE=%d\n", N, CONC, PAGE)
	fmt.Printf("Async follow latency total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		asyncDur, asyncDur/time.Duration(N), pct(asyncRecs, 0.50), pct(asyncRecs, 0.95), pct(asyncRecs, 0.99))
	fmt.Printf("Sync (2 writes) total: %v, per op: %v\n", syncDur, syncDur/time.Duration(N))
	fmt.Printf("Query fans(%d) latency: %v\n", PAGE, fansDur)
	fmt.Printf("Query following(%d) latency: %v\n", PAGE, follDur)
	fmt.Printf("followers_count=%d via counter cache: %v\n", followers, counterDur)
	if len(repRecs) > 0 {
		fmt.Printf("Replication landing: samples=%d, p50=%v, p95=%v, p99=%v, maxQueue=%d, drain=%v\n",
			len(repRecs), pct(repRecs, 0.50), pct(repRecs, 0.95), pct(repRecs, 0.99), maxQ, drainDur)
	}
}
