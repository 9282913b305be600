package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

const maxCommentLen = 140

// EngagementService 点赞/评论写路径。
// 事务内：写行（重复则结束）+ 库里冗余列 ±1；提交后：计数缓存 ±1（缺失时以新列值回填）-> 失效内容快照
type EngagementService struct {
	db        *gorm.DB
	attrs     repository.AttributeRepository
	counters  *cache.Counters
	itemCache *cache.ItemCache
	clock     Clock
}

func NewEngagementService(db *gorm.DB, counters *cache.Counters, itemCache *cache.ItemCache, clock Clock) *EngagementService {
	if clock == nil {
		clock = NewClock()
	}
	return &EngagementService{
		db:        db,
		attrs:     repository.NewAttributeRepository(db),
		counters:  counters,
		itemCache: itemCache,
		clock:     clock,
	}
}

// Like returns the likes count after the call. Repeated likes are no-ops.
func (s *EngagementService) Like(ctx context.Context, userID uint64, kind model.EntityKind, objectID uint64) (int64, error) {
	key, err := s.likesKey(ctx, kind, objectID)
	if err != nil {
		return 0, err
	}
	changed, err := s.write(ctx, key, 1, func(tx *gorm.DB) (bool, error) {
		created, err := repository.NewLikeRepository(tx).Create(ctx, &model.Like{UserID: userID, Kind: kind, ObjectID: objectID})
		if err != nil {
			return false, fmt.Errorf("create like: %w", err)
		}
		return created, nil
	})
	if err != nil {
		return 0, err
	}
	if !changed {
		return s.counters.Get(ctx, key)
	}
	return s.applied(ctx, key, 1)
}

// Unlike returns the likes count after the call. Unliking twice is a no-op.
func (s *EngagementService) Unlike(ctx context.Context, userID uint64, kind model.EntityKind, objectID uint64) (int64, error) {
	key, err := s.likesKey(ctx, kind, objectID)
	if err != nil {
		return 0, err
	}
	changed, err := s.write(ctx, key, -1, func(tx *gorm.DB) (bool, error) {
		deleted, err := repository.NewLikeRepository(tx).Delete(ctx, userID, kind, objectID)
		if err != nil {
			return false, fmt.Errorf("delete like: %w", err)
		}
		return deleted, nil
	})
	if err != nil {
		return 0, err
	}
	if !changed {
		return s.counters.Get(ctx, key)
	}
	return s.applied(ctx, key, -1)
}

func (s *EngagementService) Comment(ctx context.Context, userID, itemID uint64, content string) (*model.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxCommentLen {
		return nil, fmt.Errorf("%w: length must be 1..%d", ErrInvalidContent, maxCommentLen)
	}
	key := cache.CounterKey{Kind: model.KindItem, ID: itemID, Attribute: model.AttrCommentsCount}
	if err := s.mustExist(ctx, key); err != nil {
		return nil, err
	}

	c := &model.Comment{ItemID: itemID, UserID: userID, Content: content, CreatedAt: s.clock.NowMicro()}
	if _, err := s.write(ctx, key, 1, func(tx *gorm.DB) (bool, error) {
		if err := repository.NewCommentRepository(tx).Create(ctx, c); err != nil {
			return false, fmt.Errorf("create comment: %w", err)
		}
		return true, nil
	}); err != nil {
		return nil, err
	}
	if _, err := s.applied(ctx, key, 1); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCounter reads any whitelisted counter through the cache.
func (s *EngagementService) GetCounter(ctx context.Context, kind model.EntityKind, id uint64, attribute string) (int64, error) {
	v, err := s.counters.Get(ctx, cache.CounterKey{Kind: kind, ID: id, Attribute: attribute})
	if err != nil {
		return 0, notFound(err)
	}
	return v, nil
}

func (s *EngagementService) likesKey(ctx context.Context, kind model.EntityKind, objectID uint64) (cache.CounterKey, error) {
	if !kind.Valid() {
		return cache.CounterKey{}, fmt.Errorf("%w: %q", model.ErrUnknownEntityKind, string(kind))
	}
	if !kind.Likeable() {
		return cache.CounterKey{}, fmt.Errorf("%w: %s", model.ErrNotLikeable, kind)
	}
	key := cache.CounterKey{Kind: kind, ID: objectID, Attribute: model.AttrLikesCount}
	return key, s.mustExist(ctx, key)
}

func (s *EngagementService) mustExist(ctx context.Context, key cache.CounterKey) error {
	if _, err := s.attrs.Get(ctx, key.Kind, key.ID, key.Attribute); err != nil {
		return notFound(err)
	}
	return nil
}

// write 行变更与冗余列同一事务提交；row 返回 false 表示无变化，列不动
func (s *EngagementService) write(ctx context.Context, key cache.CounterKey, delta int64, row func(tx *gorm.DB) (bool, error)) (bool, error) {
	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if changed, err = row(tx); err != nil || !changed {
			return err
		}
		if err := repository.NewAttributeRepository(tx).Adjust(ctx, key.Kind, key.ID, key.Attribute, delta); err != nil {
			return fmt.Errorf("adjust %s: %w", key, err)
		}
		return nil
	})
	return changed, err
}

// applied 提交后更新计数缓存与内容快照
func (s *EngagementService) applied(ctx context.Context, key cache.CounterKey, delta int64) (int64, error) {
	v, err := s.counters.Apply(ctx, key, delta)
	if err != nil {
		return 0, fmt.Errorf("apply %s: %w", key, err)
	}
	if key.Kind == model.KindItem {
		if err := s.itemCache.Invalidate(ctx, key.ID); err != nil {
			logger.Warn("invalidate item snapshot", zap.Uint64("item_id", key.ID), zap.Error(err))
		}
	}
	return v, nil
}
