package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/metrics"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

const counterCacheName = "counter"

// AttributeReader reads the stored value of a counter attribute.
type AttributeReader interface {
	Get(ctx context.Context, kind model.EntityKind, id uint64, attribute string) (int64, error)
}

// CounterKey addresses one counter, e.g. item 7 likes_count.
type CounterKey struct {
	Kind      model.EntityKind
	ID        uint64
	Attribute string
}

func (k CounterKey) String() string {
	return fmt.Sprintf("counter:%s:%d:%s", k.Kind, k.ID, k.Attribute)
}

func (k CounterKey) Validate() error {
	_, err := k.Kind.Column(k.Attribute)
	return err
}

// Counters 计数缓存：首次读或改时从库里回填，之后只在缓存里原子加减
type Counters struct {
	rdb   *redis.Client
	store AttributeReader
	ttl   time.Duration
}

func NewCounters(rdb *redis.Client, store AttributeReader, ttl time.Duration) *Counters {
	return &Counters{rdb: rdb, store: store, ttl: ttl}
}

// Get returns the cached value, hydrating it from the store on a miss.
func (c *Counters) Get(ctx context.Context, key CounterKey) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	v, err := c.rdb.Get(ctx, key.String()).Int64()
	switch {
	case err == nil:
		metrics.CacheRequests.WithLabelValues(counterCacheName, metrics.ResultHit).Inc()
		return v, nil
	case errors.Is(err, redis.Nil):
		metrics.CacheRequests.WithLabelValues(counterCacheName, metrics.ResultMiss).Inc()
		return c.hydrate(ctx, key)
	default:
		metrics.CacheRequests.WithLabelValues(counterCacheName, metrics.ResultError).Inc()
		c.fault("get", key, err)
		return c.store.Get(ctx, key.Kind, key.ID, key.Attribute)
	}
}

func (c *Counters) Increment(ctx context.Context, key CounterKey) (int64, error) {
	return c.Bump(ctx, key, 1)
}

func (c *Counters) Decrement(ctx context.Context, key CounterKey) (int64, error) {
	return c.Bump(ctx, key, -1)
}

// Bump applies delta atomically. An absent counter is hydrated from the store
// first; the store column itself is updated by the caller. When the cache is
// unreachable the result is computed as stored + delta.
func (c *Counters) Bump(ctx context.Context, key CounterKey, delta int64) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	k := key.String()

	for attempt := 0; attempt < 2; attempt++ {
		v, err := incrScript.Run(ctx, c.rdb, []string{k}, delta).Int64()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, redis.Nil) {
			c.fault("incr", key, err)
			return c.fromStore(ctx, key, delta)
		}
		if _, err := c.hydrate(ctx, key); err != nil {
			return 0, err
		}
	}

	// 回填后立即过期（ttl 极短）时兜底
	logger.Warn("counter vanished after hydration", zap.String("key", k))
	return c.fromStore(ctx, key, delta)
}

// Apply records a delta the caller has already committed to the store
// column. A cached counter moves by delta; an absent one is hydrated from
// the column, which already includes it.
func (c *Counters) Apply(ctx context.Context, key CounterKey, delta int64) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	v, err := incrScript.Run(ctx, c.rdb, []string{key.String()}, delta).Int64()
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, redis.Nil):
		return c.hydrate(ctx, key)
	default:
		c.fault("incr", key, err)
		return c.store.Get(ctx, key.Kind, key.ID, key.Attribute)
	}
}

func (c *Counters) Invalidate(ctx context.Context, key CounterKey) error {
	return c.rdb.Del(ctx, key.String()).Err()
}

// hydrate sets the stored value unless another writer got there first and
// returns whatever the cache holds afterwards.
func (c *Counters) hydrate(ctx context.Context, key CounterKey) (int64, error) {
	stored, err := c.store.Get(ctx, key.Kind, key.ID, key.Attribute)
	if err != nil {
		return 0, fmt.Errorf("hydrate %s: %w", key, err)
	}
	k := key.String()
	ok, err := c.rdb.SetNX(ctx, k, stored, c.ttl).Result()
	if err != nil {
		c.fault("hydrate", key, err)
		return stored, nil
	}
	if ok {
		return stored, nil
	}
	v, err := c.rdb.Get(ctx, k).Int64()
	if err != nil {
		return stored, nil
	}
	return v, nil
}

func (c *Counters) fromStore(ctx context.Context, key CounterKey, delta int64) (int64, error) {
	stored, err := c.store.Get(ctx, key.Kind, key.ID, key.Attribute)
	if err != nil {
		return 0, err
	}
	return stored + delta, nil
}

func (c *Counters) fault(op string, key CounterKey, err error) {
	logger.Warn("counter cache degraded",
		zap.String("op", op),
		zap.String("key", key.String()),
		zap.Error(err),
	)
}
