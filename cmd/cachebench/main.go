package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/newsfeed/config"
	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/cacheperf"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/repository"
	pkgcache "github.com/d60-Lab/newsfeed/pkg/cache"
	"github.com/d60-Lab/newsfeed/pkg/database"
)

// request 一次翻页：depth 表示从首页往后翻几页
type request struct {
	owner uint64
	depth int
	size  int
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	mustDo(database.Migrate(db))
	client := must(pkgcache.InitRedis(ctx, cfg.Redis))
	defer client.Close()

	const (
		owners        = 3
		entriesPerOwn = 5000
		dbDelay       = 0 * time.Millisecond
	)

	fmt.Println("Setting up test data...")
	mustDo(db.Exec("DELETE FROM feed_entries WHERE owner_id <= ?", owners).Error)
	feeds := repository.NewFeedRepository(db)
	base := time.Now().UnixMicro()
	for o := uint64(1); o <= owners; o++ {
		rows := make([]model.FeedEntry, entriesPerOwn)
		for i := range rows {
			rows[i] = model.FeedEntry{OwnerID: o, ItemID: uint64(i + 1), CreatedAt: base - int64(i)*1000}
		}
		must(feeds.BulkInsert(ctx, rows))
	}
	fmt.Printf("Test data ready: %d owners x %d feed entries, window L=%d\n", owners, entriesPerOwn, cfg.Feed.WindowLength)

	svc := cacheperf.NewFeedPageService(feeds, client, 10*time.Minute, dbDelay, cfg.Feed.MaxPageSize,
		func(src pagination.Source[model.FeedEntry]) pagination.Loader[model.FeedEntry] {
			return cache.NewWindowCache[model.FeedEntry](client, src, cache.WindowOptions{
				Name:      "bench",
				KeyFormat: "bench:newsfeeds:%d",
				MaxLen:    cfg.Feed.WindowLength,
				TTL:       10 * time.Minute,
			})
		})

	reqs := makeRequests(9000, owners)
	results := map[string]scenarioResult{}
	for _, name := range []string{cacheperf.NoCache, cacheperf.NaiveCache, cacheperf.Window} {
		fmt.Printf("%s:\n", name)
		results[name] = runScenario(ctx, svc, client, name, reqs, name != cacheperf.NoCache)
	}

	fmt.Printf("\nFeed page latency (%d req across %d owners)\n", len(reqs), owners)
	for _, name := range []string{cacheperf.NoCache, cacheperf.NaiveCache, cacheperf.Window} {
		r := results[name]
		fmt.Printf("%-14s avg=%v p95=%v p99=%v db_range=%d cache_keys=%d mem=%s\n",
			name, avg(r.durations), pct(r.durations, 0.95), pct(r.durations, 0.99),
			r.storeQueries, r.cacheKeys, formatBytes(r.memoryBytes),
		)
	}
}

type scenarioResult struct {
	durations    []time.Duration
	storeQueries int64
	cacheKeys    int
	memoryBytes  int64
}

func runScenario(ctx context.Context, svc *cacheperf.FeedPageService, client *redis.Client, strategy string, reqs []request, warm bool) scenarioResult {
	client.FlushAll(ctx)
	svc.ResetCounters()

	call := func(r request) {
		var before *int64
		for d := 0; d <= r.depth; d++ {
			page, err := svc.Fetch(ctx, strategy, pagination.Request{OwnerID: r.owner, Bounds: pagination.Bounds{Before: before}, PageSize: r.size})
			if err != nil {
				panic(err)
			}
			if !page.HasNextPage || len(page.Entries) == 0 {
				return
			}
			last := page.Entries[len(page.Entries)-1].CreatedAt
			before = &last
		}
	}

	if warm {
		fmt.Print("  Warming cache...")
		for _, r := range reqs {
			call(r)
		}
		fmt.Println(" done")
		svc.ResetCounters()
	}

	fmt.Print("  Running benchmark...")
	out := make([]time.Duration, 0, len(reqs))
	for _, r := range reqs {
		start := time.Now()
		call(r)
		out = append(out, time.Since(start))
	}
	fmt.Println(" done")

	keys, _ := client.Keys(ctx, "*").Result()
	var memBytes int64
	if info, err := client.Info(ctx, "memory").Result(); err == nil {
		memBytes = parseRedisMemory(info)
	}
	return scenarioResult{
		durations:    out,
		storeQueries: svc.StoreQueries(),
		cacheKeys:    len(keys),
		memoryBytes:  memBytes,
	}
}

// parseRedisMemory extracts used_memory from Redis INFO
func parseRedisMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			var n int64
			_, _ = fmt.Sscan(v, &n)
			return n
		}
	}
	return 0
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func makeRequests(n, owners int) []request {
	sizes := []int{20, 40, 60}
	out := make([]request, n)
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < n; i++ {
		depth := 0
		if rnd.Float64() > 0.72 {
			// 深翻页
			depth = 1 + rnd.Intn(60)
		}
		out[i] = request{owner: uint64(1 + rnd.Intn(owners)), depth: depth, size: sizes[rnd.Intn(len(sizes))]}
	}
	return out
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
