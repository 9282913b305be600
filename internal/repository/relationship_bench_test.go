package repository

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/pkg/database"
)

func BenchmarkFollowWrite_And_FanRedundancy(b *testing.B) {
	db := database.NewTestDB(b)
	followRepo := NewFollowRepository(db)
	fanRepo := NewFanRepository(db)
	ctx := context.Background()

	// 预创建部分用户
	users := make([]model.User, 1000)
	for i := range users {
		users[i] = model.User{Username: fmt.Sprintf("u%04d", i)}
	}
	if err := db.Create(&users).Error; err != nil {
		b.Fatalf("seed users: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		from := users[rng.Intn(len(users))].ID
		to := users[rng.Intn(len(users))].ID
		if from == to {
			continue
		}
		_, _ = followRepo.Create(ctx, from, to)
		_ = fanRepo.Create(ctx, to, from)
	}
}

func BenchmarkListFanIDs(b *testing.B) {
	db := database.NewTestDB(b)
	fanRepo := NewFanRepository(db)
	ctx := context.Background()

	// 一个作者 N 个粉丝：扇出协调时的一次性读取
	const N = 5000
	fans := make([]model.Fan, N)
	for i := range fans {
		fans[i] = model.Fan{UserID: 1, FanID: uint64(i + 2)}
	}
	if err := db.CreateInBatches(&fans, 500).Error; err != nil {
		b.Fatalf("seed fans: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ids, err := fanRepo.ListFanIDs(ctx, 1)
		if err != nil || len(ids) != N {
			b.Fatalf("list fan ids: %v (%d)", err, len(ids))
		}
	}
}

func BenchmarkFeedRange(b *testing.B) {
	db := database.NewTestDB(b)
	feedRepo := NewFeedRepository(db)
	ctx := context.Background()

	entries := make([]model.FeedEntry, 5000)
	for i := range entries {
		entries[i] = model.FeedEntry{OwnerID: 1, ItemID: uint64(i + 1), CreatedAt: int64(i+1) * 1000}
	}
	if _, err := feedRepo.BulkInsert(ctx, entries); err != nil {
		b.Fatalf("seed feed: %v", err)
	}

	b.ResetTimer()
	b.Run("FirstPage", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = feedRepo.Range(ctx, 1, pagination.Bounds{}, 20)
		}
	})
	b.Run("DeepPage", func(b *testing.B) {
		before := int64(100_000)
		for i := 0; i < b.N; i++ {
			_, _ = feedRepo.Range(ctx, 1, pagination.Bounds{Before: &before}, 20)
		}
	})
}
