// Package cacheperf compares feed page read strategies: straight from the
// store, a per-page result cache, and the bounded window cache.
package cacheperf

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
)

// Strategy names.
const (
	NoCache    = "no-cache"
	NaiveCache = "page-cache"
	Window     = "window-cache"
)

// countingSource 统计落到数据库的 range 查询
type countingSource struct {
	pagination.Source[model.FeedEntry]
	queries atomic.Int64
	delay   time.Duration
}

func (s *countingSource) Range(ctx context.Context, ownerID uint64, b pagination.Bounds, limit int) ([]model.FeedEntry, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.queries.Add(1)
	return s.Source.Range(ctx, ownerID, b, limit)
}

// FeedPageService 三种读取方式共享同一个计数 source
type FeedPageService struct {
	src       *countingSource
	rdb       *redis.Client
	ttl       time.Duration
	maxPage   int
	paginator *pagination.Paginator[model.FeedEntry]
}

// NewFeedPageService wraps store; newWindow builds the window cache over the
// counting source it is handed.
func NewFeedPageService(
	store pagination.Source[model.FeedEntry],
	rdb *redis.Client,
	ttl, dbDelay time.Duration,
	maxPage int,
	newWindow func(pagination.Source[model.FeedEntry]) pagination.Loader[model.FeedEntry],
) *FeedPageService {
	src := &countingSource{Source: store, delay: dbDelay}
	return &FeedPageService{
		src:       src,
		rdb:       rdb,
		ttl:       ttl,
		maxPage:   maxPage,
		paginator: pagination.NewPaginator[model.FeedEntry](newWindow(src), src, maxPage, maxPage),
	}
}

// fetchStore 每页一次 range 查询，多取一行判断 has_next_page
func (s *FeedPageService) fetchStore(ctx context.Context, req pagination.Request) (pagination.Page[model.FeedEntry], error) {
	if err := req.Validate(); err != nil {
		return pagination.Page[model.FeedEntry]{}, err
	}
	size := req.PageSize
	if size == 0 || size > s.maxPage {
		size = s.maxPage
	}
	rows, err := s.src.Range(ctx, req.OwnerID, req.Bounds, size+1)
	if err != nil {
		return pagination.Page[model.FeedEntry]{}, err
	}
	if len(rows) > size {
		return pagination.Page[model.FeedEntry]{Entries: rows[:size], HasNextPage: true}, nil
	}
	if rows == nil {
		rows = []model.FeedEntry{}
	}
	return pagination.Page[model.FeedEntry]{Entries: rows}, nil
}

func (s *FeedPageService) Fetch(ctx context.Context, strategy string, req pagination.Request) (pagination.Page[model.FeedEntry], error) {
	switch strategy {
	case NoCache:
		return s.fetchStore(ctx, req)
	case NaiveCache:
		return s.fetchPageCached(ctx, req)
	case Window:
		return s.paginator.Page(ctx, req)
	}
	return pagination.Page[model.FeedEntry]{}, fmt.Errorf("unknown strategy %q", strategy)
}

// fetchPageCached 按 (owner, 游标, 页大小) 缓存整页结果；新条目到达后旧页不会失效
func (s *FeedPageService) fetchPageCached(ctx context.Context, req pagination.Request) (pagination.Page[model.FeedEntry], error) {
	key := fmt.Sprintf("feedpage:%d:%s:%s:%d", req.OwnerID, bound(req.After), bound(req.Before), req.PageSize)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var page pagination.Page[model.FeedEntry]
		if uErr := json.Unmarshal(data, &page); uErr == nil {
			return page, nil
		}
	}

	page, err := s.fetchStore(ctx, req)
	if err != nil {
		return page, err
	}
	if payload, err := json.Marshal(page); err == nil {
		_ = s.rdb.Set(ctx, key, payload, s.ttl).Err()
	}
	return page, nil
}

func bound(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

// ResetCounters clears the recorded store query count.
func (s *FeedPageService) ResetCounters() { s.src.queries.Store(0) }

// StoreQueries reports how many range queries reached the store.
func (s *FeedPageService) StoreQueries() int64 { return s.src.queries.Load() }
