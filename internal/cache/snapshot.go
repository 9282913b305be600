package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/metrics"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

const itemCacheName = "item"

// ItemLoader bulk-loads items by id from the store.
type ItemLoader interface {
	GetMany(ctx context.Context, ids []uint64) ([]*model.Item, error)
}

// ItemCache 单条内容快照缓存：MGET 批量读，缺失的一次性回库并写回
type ItemCache struct {
	rdb   *redis.Client
	store ItemLoader
	ttl   time.Duration
}

func NewItemCache(rdb *redis.Client, store ItemLoader, ttl time.Duration) *ItemCache {
	return &ItemCache{rdb: rdb, store: store, ttl: ttl}
}

func itemKey(id uint64) string { return fmt.Sprintf("item:%d", id) }

// GetMany returns the items found, keyed by id. Unknown ids are absent.
func (c *ItemCache) GetMany(ctx context.Context, ids []uint64) (map[uint64]*model.Item, error) {
	out := make(map[uint64]*model.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = itemKey(id)
	}

	if vals, err := c.rdb.MGet(ctx, keys...).Result(); err == nil {
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var it model.Item
			if uErr := json.Unmarshal([]byte(str), &it); uErr == nil {
				out[ids[i]] = &it
			}
		}
	} else {
		metrics.CacheRequests.WithLabelValues(itemCacheName, metrics.ResultError).Inc()
		logger.Warn("item cache degraded", zap.String("op", "mget"), zap.Error(err))
	}

	missing := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			missing = append(missing, id)
		}
	}
	metrics.CacheRequests.WithLabelValues(itemCacheName, metrics.ResultHit).Add(float64(len(ids) - len(missing)))
	if len(missing) == 0 {
		return out, nil
	}
	metrics.CacheRequests.WithLabelValues(itemCacheName, metrics.ResultMiss).Add(float64(len(missing)))

	items, err := c.store.GetMany(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	pipe := c.rdb.Pipeline()
	for _, it := range items {
		out[it.ID] = it
		if payload, err := json.Marshal(it); err == nil {
			pipe.Set(ctx, itemKey(it.ID), payload, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("item cache degraded", zap.String("op", "set"), zap.Error(err))
	}
	return out, nil
}

func (c *ItemCache) Get(ctx context.Context, id uint64) (*model.Item, bool, error) {
	m, err := c.GetMany(ctx, []uint64{id})
	if err != nil {
		return nil, false, err
	}
	it, ok := m[id]
	return it, ok, nil
}

// Invalidate drops the snapshot after a mutation of the item row.
func (c *ItemCache) Invalidate(ctx context.Context, id uint64) error {
	return c.rdb.Del(ctx, itemKey(id)).Err()
}
