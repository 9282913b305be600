package cache

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/newsfeed/internal/pagination"
)

type entry struct {
	ItemID uint64 `json:"item_id"`
	At     int64  `json:"created_at"`
}

func (e entry) Cursor() int64 { return e.At }

// memSource 内存版持久层，按 owner 存放，Range 按时间倒序
type memSource struct {
	mu     sync.Mutex
	rows   map[uint64][]entry
	ranges atomic.Int64
	fail   error
}

func newMemSource() *memSource { return &memSource{rows: map[uint64][]entry{}} }

func (s *memSource) add(owner uint64, es ...entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[owner] = append(s.rows[owner], es...)
	sort.Slice(s.rows[owner], func(i, j int) bool { return s.rows[owner][i].At > s.rows[owner][j].At })
}

func (s *memSource) Range(_ context.Context, owner uint64, b pagination.Bounds, limit int) ([]entry, error) {
	s.ranges.Add(1)
	if s.fail != nil {
		return nil, s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []entry{}
	for _, e := range s.rows[owner] {
		if !b.Contains(e.At) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func seq(from, to int64) []entry {
	out := make([]entry, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, entry{ItemID: uint64(i), At: i * 10})
	}
	return out
}

func cursors(es []entry) []int64 {
	out := make([]int64, len(es))
	for i, e := range es {
		out[i] = e.At
	}
	return out
}

func assertDescending(t *testing.T, es []entry) {
	t.Helper()
	for i := 1; i < len(es); i++ {
		assert.Greater(t, es[i-1].At, es[i].At, "position %d", i)
	}
}

func TestWindowLoadMissReturnsFullStoreResult(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	src := newMemSource()
	src.add(1, seq(1, 15)...)

	wc := NewWindowCache[entry](rdb, src, WindowOptions{Name: "test", MaxLen: 10, TTL: time.Hour})

	w, err := wc.Load(ctx, 1)
	require.NoError(t, err)
	assert.False(t, w.Cached)
	assert.False(t, w.Truncated)
	assert.Len(t, w.Entries, 15)

	w, err = wc.Load(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.Cached)
	assert.True(t, w.Truncated)
	require.Len(t, w.Entries, 10)
	assert.Equal(t, int64(150), w.Entries[0].At)
	assert.Equal(t, int64(60), w.Entries[9].At)
	assert.Equal(t, int64(1), src.ranges.Load())
}

func TestWindowLoadAfterEvictionMatchesStore(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupRedis(t)
	src := newMemSource()
	src.add(1, seq(1, 5)...)

	wc := NewWindowCache[entry](rdb, src, WindowOptions{Name: "test", MaxLen: 10, TTL: time.Minute})
	_, err := wc.Load(ctx, 1)
	require.NoError(t, err)
	require.True(t, mr.Exists(wc.Key(1)))

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(wc.Key(1)))

	w, err := wc.Load(ctx, 1)
	require.NoError(t, err)
	want, _ := src.Range(ctx, 1, pagination.Bounds{}, 0)
	assert.Equal(t, cursors(want), cursors(w.Entries))
}

func TestWindowPushHydratesAbsentWindow(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	src := newMemSource()
	src.add(1, seq(1, 3)...)

	wc := NewWindowCache[entry](rdb, src, WindowOptions{Name: "test", MaxLen: 10})
	e := entry{ItemID: 4, At: 40}
	src.add(1, e)
	require.NoError(t, wc.Push(ctx, 1, e))

	w, err := wc.Load(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.Cached)
	assert.Equal(t, []int64{40, 30, 20, 10}, cursors(w.Entries))
}

func TestWindowPushPrependsAndTrims(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	src := newMemSource()
	src.add(1, seq(1, 3)...)

	wc := NewWindowCache[entry](rdb, src, WindowOptions{Name: "test", MaxLen: 3})
	_, err := wc.Load(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, wc.Push(ctx, 1, entry{ItemID: 4, At: 40}))
	require.NoError(t, wc.Push(ctx, 1, entry{ItemID: 5, At: 50}))

	w, err := wc.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{50, 40, 30}, cursors(w.Entries))
	assert.True(t, w.Truncated)
}

func TestWindowPushIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	src := newMemSource()
	src.add(1, seq(1, 2)...)

	wc := NewWindowCache[entry](rdb, src, WindowOptions{Name: "test", MaxLen: 10})
	_, err := wc.Load(ctx, 1)
	require.NoError(t, err)

	e := entry{ItemID: 3, At: 30}
	for i := 0; i < 3; i++ {
		require.NoError(t, wc.Push(ctx, 1, e))
	}
	w, err := wc.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 20, 10}, cursors(w.Entries))
}

func TestWindowConcurrentPushesStayOrdered(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	src := newMemSource()
	src.add(1, entry{ItemID: 0, At: 1})

	const maxLen = 50
	wc := NewWindowCache[entry](rdb, src, WindowOptions{Name: "test", MaxLen: maxLen})
	_, err := wc.Load(ctx, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	// 乱序到达
	for _, i := range rand.Perm(100) {
		at := int64(i+1) * 10
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			assert.NoError(t, wc.Push(ctx, 1, e))
		}(entry{ItemID: uint64(at), At: at})
	}
	wg.Wait()

	w, err := wc.Load(ctx, 1)
	require.NoError(t, err)
	require.Len(t, w.Entries, maxLen)
	assertDescending(t, w.Entries)
	assert.Equal(t, int64(1000), w.Entries[0].At)
	assert.Equal(t, int64(510), w.Entries[maxLen-1].At)
}

func TestWindowDegradesWhenCacheDown(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupRedis(t)
	src := newMemSource()
	src.add(1, seq(1, 4)...)

	wc := NewWindowCache[entry](rdb, src, WindowOptions{Name: "test", MaxLen: 2})
	mr.Close()

	w, err := wc.Load(ctx, 1)
	require.NoError(t, err)
	assert.False(t, w.Cached)
	assert.Equal(t, []int64{40, 30, 20, 10}, cursors(w.Entries))

	assert.NoError(t, wc.Push(ctx, 1, entry{ItemID: 5, At: 50}))
}

func TestWindowInvalidate(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupRedis(t)
	src := newMemSource()
	src.add(7, seq(1, 2)...)

	wc := NewWindowCache[entry](rdb, src, WindowOptions{Name: "test", KeyFormat: "t:%d", MaxLen: 5})
	_, err := wc.Load(ctx, 7)
	require.NoError(t, err)
	require.True(t, mr.Exists("t:7"))

	require.NoError(t, wc.Invalidate(ctx, 7))
	assert.False(t, mr.Exists("t:7"))
}
