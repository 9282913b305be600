package cacheperf

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/database"
)

func newService(t *testing.T, rows int) *FeedPageService {
	t.Helper()
	db := database.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	feeds := repository.NewFeedRepository(db)
	entries := make([]model.FeedEntry, rows)
	for i := range entries {
		entries[i] = model.FeedEntry{OwnerID: 1, ItemID: uint64(i + 1), CreatedAt: int64(1000 + i)}
	}
	_, err := feeds.BulkInsert(context.Background(), entries)
	require.NoError(t, err)

	return NewFeedPageService(feeds, rdb, time.Minute, 0, 50, func(src pagination.Source[model.FeedEntry]) pagination.Loader[model.FeedEntry] {
		return cache.NewWindowCache[model.FeedEntry](rdb, src, cache.WindowOptions{Name: "bench", MaxLen: 10, TTL: time.Minute})
	})
}

func walk(t *testing.T, s *FeedPageService, strategy string, size int) []uint64 {
	t.Helper()
	var out []uint64
	var before *int64
	for {
		page, err := s.Fetch(context.Background(), strategy, pagination.Request{OwnerID: 1, Bounds: pagination.Bounds{Before: before}, PageSize: size})
		require.NoError(t, err)
		for _, e := range page.Entries {
			out = append(out, e.ItemID)
		}
		if !page.HasNextPage {
			return out
		}
		last := page.Entries[len(page.Entries)-1].CreatedAt
		before = &last
	}
}

func TestStrategiesReturnSamePages(t *testing.T) {
	s := newService(t, 25)
	want := walk(t, s, NoCache, 7)
	require.Len(t, want, 25)
	assert.Equal(t, uint64(25), want[0])

	assert.Equal(t, want, walk(t, s, NaiveCache, 7))
	assert.Equal(t, want, walk(t, s, Window, 7))
}

func TestWindowServesFirstPagesWithoutStore(t *testing.T) {
	s := newService(t, 25)
	req := pagination.Request{OwnerID: 1, PageSize: 5}

	_, err := s.Fetch(context.Background(), Window, req)
	require.NoError(t, err)
	s.ResetCounters()
	for i := 0; i < 10; i++ {
		page, err := s.Fetch(context.Background(), Window, req)
		require.NoError(t, err)
		assert.True(t, page.HasNextPage)
	}
	assert.Equal(t, int64(0), s.StoreQueries())

	for i := 0; i < 10; i++ {
		_, err := s.Fetch(context.Background(), NoCache, req)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(10), s.StoreQueries())
}

func TestUnknownStrategy(t *testing.T) {
	s := newService(t, 1)
	_, err := s.Fetch(context.Background(), "lru", pagination.Request{OwnerID: 1})
	assert.Error(t, err)
}
