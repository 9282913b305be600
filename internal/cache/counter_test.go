package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/newsfeed/internal/model"
)

type memAttributes struct {
	mu    sync.Mutex
	vals  map[CounterKey]int64
	reads int
	fail  error
}

func (m *memAttributes) Get(_ context.Context, kind model.EntityKind, id uint64, attr string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.fail != nil {
		return 0, m.fail
	}
	return m.vals[CounterKey{Kind: kind, ID: id, Attribute: attr}], nil
}

func TestCounterHydratesThenIncrements(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	key := CounterKey{Kind: model.KindItem, ID: 7, Attribute: model.AttrLikesCount}
	store := &memAttributes{vals: map[CounterKey]int64{key: 5}}
	c := NewCounters(rdb, store, time.Hour)

	v, err := c.Increment(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	v, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)
	assert.Equal(t, 1, store.reads)

	v, err = c.Decrement(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestCounterGetHydratesOnMiss(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupRedis(t)
	key := CounterKey{Kind: model.KindUser, ID: 3, Attribute: model.AttrFollowersCount}
	store := &memAttributes{vals: map[CounterKey]int64{key: 42}}
	c := NewCounters(rdb, store, time.Minute)

	v, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	got, err := mr.Get("counter:user:3:followers_count")
	require.NoError(t, err)
	assert.Equal(t, "42", got)
	assert.Equal(t, time.Minute, mr.TTL("counter:user:3:followers_count"))
}

func TestCounterConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	key := CounterKey{Kind: model.KindItem, ID: 1, Attribute: model.AttrLikesCount}
	store := &memAttributes{vals: map[CounterKey]int64{key: 10}}
	c := NewCounters(rdb, store, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Increment(ctx, key)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(30), v)
}

func TestCounterFallsBackToStoreWhenCacheDown(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupRedis(t)
	key := CounterKey{Kind: model.KindItem, ID: 9, Attribute: model.AttrLikesCount}
	store := &memAttributes{vals: map[CounterKey]int64{key: 5}}
	c := NewCounters(rdb, store, time.Hour)
	mr.Close()

	v, err := c.Increment(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	v, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestCounterRejectsUnknownAttribute(t *testing.T) {
	_, rdb := setupRedis(t)
	c := NewCounters(rdb, &memAttributes{}, time.Hour)

	_, err := c.Get(context.Background(), CounterKey{Kind: model.KindUser, ID: 1, Attribute: model.AttrLikesCount})
	assert.ErrorIs(t, err, model.ErrUnknownAttribute)

	_, err = c.Increment(context.Background(), CounterKey{Kind: "tweet", ID: 1, Attribute: model.AttrLikesCount})
	assert.ErrorIs(t, err, model.ErrUnknownEntityKind)
}

func TestCounterStoreErrorPropagates(t *testing.T) {
	_, rdb := setupRedis(t)
	boom := errors.New("db down")
	c := NewCounters(rdb, &memAttributes{fail: boom}, time.Hour)

	_, err := c.Increment(context.Background(), CounterKey{Kind: model.KindItem, ID: 1, Attribute: model.AttrLikesCount})
	assert.ErrorIs(t, err, boom)
}

func TestCounterInvalidate(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupRedis(t)
	key := CounterKey{Kind: model.KindComment, ID: 2, Attribute: model.AttrLikesCount}
	c := NewCounters(rdb, &memAttributes{vals: map[CounterKey]int64{key: 1}}, time.Hour)

	_, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, mr.Exists(key.String()))
	require.NoError(t, c.Invalidate(ctx, key))
	assert.False(t, mr.Exists(key.String()))
}

func TestCounterApplyAfterCommittedDelta(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupRedis(t)
	key := CounterKey{Kind: model.KindItem, ID: 8, Attribute: model.AttrLikesCount}
	// 库列已含本次 +1
	store := &memAttributes{vals: map[CounterKey]int64{key: 6}}
	c := NewCounters(rdb, store, time.Hour)

	v, err := c.Apply(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), v, "miss hydrates the committed column without adding again")

	v, err = c.Apply(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	assert.Equal(t, 1, store.reads)

	mr.Close()
	store.vals[key] = 8
	v, err = c.Apply(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)
}
