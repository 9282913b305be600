package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/metrics"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// WindowOptions configures one family of per-owner windows.
type WindowOptions struct {
	// Name labels metrics and log lines, e.g. "newsfeed".
	Name string
	// KeyFormat renders the owner id into a key, e.g. "newsfeeds:%d".
	KeyFormat string
	// MaxLen is the window length limit L.
	MaxLen int
	TTL    time.Duration
}

// WindowCache keeps the newest MaxLen snapshots of an owner's list in Redis
// and falls back to the store whenever Redis misses or fails.
type WindowCache[T pagination.Record] struct {
	rdb  *redis.Client
	src  pagination.Source[T]
	opts WindowOptions
}

func NewWindowCache[T pagination.Record](rdb *redis.Client, src pagination.Source[T], opts WindowOptions) *WindowCache[T] {
	if opts.MaxLen <= 0 {
		opts.MaxLen = 1000
	}
	if opts.Name == "" {
		opts.Name = "window"
	}
	if opts.KeyFormat == "" {
		opts.KeyFormat = opts.Name + ":%d"
	}
	return &WindowCache[T]{rdb: rdb, src: src, opts: opts}
}

func (c *WindowCache[T]) Key(ownerID uint64) string {
	return fmt.Sprintf(c.opts.KeyFormat, ownerID)
}

func (c *WindowCache[T]) MaxLen() int { return c.opts.MaxLen }

// Load returns the cached window verbatim on a hit. On a miss it queries the
// store, caches at most MaxLen rows and returns the full result, so a miss
// never truncates what the caller sees. Only store errors are returned.
func (c *WindowCache[T]) Load(ctx context.Context, ownerID uint64) (pagination.Window[T], error) {
	key := c.Key(ownerID)

	raws, err := c.rdb.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		c.fault("load", key, err)
		metrics.CacheRequests.WithLabelValues(c.opts.Name, metrics.ResultError).Inc()
		return c.fromStore(ctx, ownerID, false)
	}

	if len(raws) > 0 {
		entries, err := decodeAll[T](raws)
		if err == nil {
			metrics.CacheRequests.WithLabelValues(c.opts.Name, metrics.ResultHit).Inc()
			return pagination.Window[T]{
				Entries:   entries,
				Cached:    true,
				Truncated: len(entries) >= c.opts.MaxLen,
			}, nil
		}
		// 快照无法解析（结构变更），丢弃后按未命中处理
		c.fault("decode", key, err)
		_ = c.rdb.Del(ctx, key).Err()
	}

	metrics.CacheRequests.WithLabelValues(c.opts.Name, metrics.ResultMiss).Inc()
	return c.fromStore(ctx, ownerID, true)
}

// Push adds entry to an existing window. An absent window is hydrated from
// the store instead, which already holds entry. Cache faults are logged and
// swallowed; store errors are returned.
func (c *WindowCache[T]) Push(ctx context.Context, ownerID uint64, entry T) error {
	key := c.Key(ownerID)

	member, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	score := strconv.FormatInt(entry.Cursor(), 10)

	pushed, err := c.prepend(ctx, key, score, member)
	if err != nil {
		c.fault("push", key, err)
		metrics.CachePushes.WithLabelValues(c.opts.Name, metrics.ResultError).Inc()
		return nil
	}
	if pushed {
		metrics.CachePushes.WithLabelValues(c.opts.Name, "prepend").Inc()
		return nil
	}

	rows, err := c.src.Range(ctx, ownerID, pagination.Bounds{}, c.opts.MaxLen)
	if err != nil {
		return fmt.Errorf("hydrate %s: %w", key, err)
	}
	created, err := c.hydrate(ctx, key, rows)
	if err != nil {
		c.fault("hydrate", key, err)
		metrics.CachePushes.WithLabelValues(c.opts.Name, metrics.ResultError).Inc()
		return nil
	}
	if created {
		metrics.CachePushes.WithLabelValues(c.opts.Name, "hydrate").Inc()
		return nil
	}

	// 读库与写缓存之间窗口已被并发建立，重新 prepend；相同快照 ZADD 幂等
	if _, err := c.prepend(ctx, key, score, member); err != nil {
		c.fault("push", key, err)
		metrics.CachePushes.WithLabelValues(c.opts.Name, metrics.ResultError).Inc()
		return nil
	}
	metrics.CachePushes.WithLabelValues(c.opts.Name, "prepend").Inc()
	return nil
}

// Invalidate drops the owner's window; the next read re-hydrates it.
func (c *WindowCache[T]) Invalidate(ctx context.Context, ownerID uint64) error {
	return c.rdb.Del(ctx, c.Key(ownerID)).Err()
}

func (c *WindowCache[T]) prepend(ctx context.Context, key, score string, member []byte) (bool, error) {
	n, err := pushScript.Run(ctx, c.rdb, []string{key}, score, string(member), c.opts.MaxLen).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *WindowCache[T]) fromStore(ctx context.Context, ownerID uint64, hydrate bool) (pagination.Window[T], error) {
	rows, err := c.src.Range(ctx, ownerID, pagination.Bounds{}, 0)
	if err != nil {
		return pagination.Window[T]{}, fmt.Errorf("load %s %d: %w", c.opts.Name, ownerID, err)
	}
	if hydrate {
		key := c.Key(ownerID)
		if _, err := c.hydrate(ctx, key, rows); err != nil {
			c.fault("hydrate", key, err)
		}
	}
	return pagination.Window[T]{Entries: rows}, nil
}

// hydrate writes at most MaxLen rows unless the window already exists.
func (c *WindowCache[T]) hydrate(ctx context.Context, key string, rows []T) (bool, error) {
	if len(rows) == 0 {
		return false, nil
	}
	if len(rows) > c.opts.MaxLen {
		rows = rows[:c.opts.MaxLen]
	}

	args := make([]interface{}, 0, 1+2*len(rows))
	args = append(args, c.opts.TTL.Milliseconds())
	for _, r := range rows {
		member, err := json.Marshal(r)
		if err != nil {
			return false, fmt.Errorf("encode snapshot: %w", err)
		}
		args = append(args, strconv.FormatInt(r.Cursor(), 10), string(member))
	}

	n, err := hydrateScript.Run(ctx, c.rdb, []string{key}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *WindowCache[T]) fault(op, key string, err error) {
	logger.Warn("window cache degraded",
		zap.String("cache", c.opts.Name),
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

func decodeAll[T any](raws []string) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, s := range raws {
		var v T
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
