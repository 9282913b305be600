package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/d60-Lab/newsfeed/config"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/database"
)

// 比较不同批次大小 B 下，一次扇出写入 RECIPIENTS 条 feed 的耗时
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	db, err := database.InitDB(cfg)
	if err != nil {
		panic(err)
	}
	if err := database.Migrate(db); err != nil {
		panic(err)
	}
	feeds := repository.NewFeedRepository(db)

	RECIPIENTS := 20000
	if s := os.Getenv("RECIPIENTS"); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			RECIPIENTS = v
		}
	}
	WORKERS := 8
	if s := os.Getenv("WORKERS"); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			WORKERS = v
		}
	}
	sizes := []int{50, 100, 500, 1000}
	if s := os.Getenv("SIZES"); s != "" {
		sizes = sizes[:0]
		for _, f := range strings.Split(s, ",") {
			if v, e := strconv.Atoi(f); e == nil && v > 0 {
				sizes = append(sizes, v)
			}
		}
	}

	recipients := make([]uint64, RECIPIENTS)
	for i := range recipients {
		recipients[i] = uint64(1_000_000 + i)
	}

	// 每个批次模拟一个 batch 任务，WORKERS 个并发消费
	fanout := func(ctx context.Context, itemID uint64, batch int) (time.Duration, []time.Duration) {
		parts := lo.Chunk(recipients, batch)
		ch := make(chan []uint64, len(parts))
		for _, p := range parts {
			ch <- p
		}
		close(ch)

		var mu sync.Mutex
		perBatch := make([]time.Duration, 0, len(parts))
		st := time.Now()
		var wg sync.WaitGroup
		wg.Add(WORKERS)
		for w := 0; w < WORKERS; w++ {
			go func() {
				defer wg.Done()
				for part := range ch {
					bst := time.Now()
					entries := lo.Map(part, func(owner uint64, _ int) model.FeedEntry {
						return model.FeedEntry{OwnerID: owner, ItemID: itemID, CreatedAt: time.Now().UnixMicro()}
					})
					if _, err := feeds.BulkInsert(ctx, entries); err != nil {
						panic(err)
					}
					mu.Lock()
					perBatch = append(perBatch, time.Since(bst))
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		return time.Since(st), perBatch
	}

	pct := func(vs []time.Duration, p float64) time.Duration {
		if len(vs) == 0 {
			return 0
		}
		xs := append([]time.Duration(nil), vs...)
		sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
		k := int(float64(len(xs)) * p)
		if k >= len(xs) {
			k = len(xs) - 1
		}
		return xs[k]
	}

	ctx := context.Background()
	base := uint64(time.Now().Unix()) * 1000
	fmt.Printf("RECIPIENTS=%d WORKERS=%d\n", RECIPIENTS, WORKERS)
	for i, b := range sizes {
		itemID := base + uint64(i)
		total, per := fanout(ctx, itemID, b)
		// 重放同一次扇出：全部命中唯一键冲突
		replay, _ := fanout(ctx, itemID, b)
		fmt.Printf("B=%-5d batches=%-4d total=%v batch p50=%v p95=%v replay=%v\n",
			b, len(per), total, pct(per, 0.50), pct(per, 0.95), replay)
		_ = db.Where("item_id = ?", itemID).Delete(&model.FeedEntry{}).Error
	}
}
