package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/newsfeed/internal/model"
)

type memItems struct {
	items map[uint64]*model.Item
	loads [][]uint64
}

func (m *memItems) GetMany(_ context.Context, ids []uint64) ([]*model.Item, error) {
	m.loads = append(m.loads, ids)
	out := make([]*model.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func TestItemCacheLoadsMissingOnce(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	store := &memItems{items: map[uint64]*model.Item{
		1: {ID: 1, AuthorID: 9, Content: "a", CreatedAt: 10},
		2: {ID: 2, AuthorID: 9, Content: "b", CreatedAt: 20},
	}}
	ic := NewItemCache(rdb, store, time.Hour)

	got, err := ic.GetMany(ctx, []uint64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "b", got[2].Content)

	got, err = ic.GetMany(ctx, []uint64{1, 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.Len(t, store.loads, 1)
	assert.Equal(t, []uint64{1, 2, 3}, store.loads[0])
}

func TestItemCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	_, rdb := setupRedis(t)
	store := &memItems{items: map[uint64]*model.Item{1: {ID: 1, Content: "old"}}}
	ic := NewItemCache(rdb, store, time.Hour)

	_, _, err := ic.Get(ctx, 1)
	require.NoError(t, err)
	store.items[1].Content = "new"
	require.NoError(t, ic.Invalidate(ctx, 1))

	it, ok, err := ic.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", it.Content)
}

func TestItemCacheFallsBackWhenCacheDown(t *testing.T) {
	mr, rdb := setupRedis(t)
	store := &memItems{items: map[uint64]*model.Item{1: {ID: 1, Content: "x"}}}
	ic := NewItemCache(rdb, store, time.Hour)
	mr.Close()

	got, err := ic.GetMany(context.Background(), []uint64{1})
	require.NoError(t, err)
	assert.Equal(t, "x", got[1].Content)
}
