package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
)

func TestFollowReplicatesFansAndCounts(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	ctx := context.Background()
	ids := e.seedUsers(t, 3)
	author, a, b := ids[0], ids[1], ids[2]

	require.NoError(t, e.relations.Follow(ctx, a, author))
	require.NoError(t, e.relations.Follow(ctx, b, author))
	require.NoError(t, e.relations.Follow(ctx, b, author))
	e.drain(t)

	fans, err := e.relations.ListFans(ctx, author, 1, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{a, b}, fans)

	following, err := e.relations.ListFollowing(ctx, b, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{author}, following)

	n, err := e.engagement.GetCounter(ctx, model.KindUser, author, model.AttrFollowersCount)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = e.engagement.GetCounter(ctx, model.KindUser, b, model.AttrFollowingsCount)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 关注后发布，经由 fans 扇出
	item, err := e.publisher.Publish(ctx, author, "hi followers")
	require.NoError(t, err)
	e.drain(t)
	page, err := e.feed.GetFeedPage(ctx, pagination.Request{OwnerID: a})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, item.ID, page.Results[0].ID)

	require.NoError(t, e.relations.Unfollow(ctx, a, author))
	require.NoError(t, e.relations.Unfollow(ctx, a, author))
	e.drain(t)
	fans, err = e.relations.ListFans(ctx, author, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{b}, fans)
	n, err = e.engagement.GetCounter(ctx, model.KindUser, author, model.AttrFollowersCount)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFollowValidation(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	ctx := context.Background()
	u := e.seedUsers(t, 1)[0]

	assert.ErrorIs(t, e.relations.Follow(ctx, u, u), ErrFollowSelf)
	assert.ErrorIs(t, e.relations.Follow(ctx, u, 404), ErrNotFound)
}
