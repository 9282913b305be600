package service

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// RelationshipService 关系链服务
type RelationshipService interface {
	Follow(ctx context.Context, fromUserID, toUserID uint64) error
	Unfollow(ctx context.Context, fromUserID, toUserID uint64) error
	ListFollowing(ctx context.Context, userID uint64, page, pageSize int) ([]uint64, error)
	ListFans(ctx context.Context, userID uint64, page, pageSize int) ([]uint64, error)
}

type relationshipService struct {
	followRepo repository.FollowRepository
	fanRepo    repository.FanRepository
	attrs      repository.AttributeRepository
	counters   *cache.Counters
	replicator *FanReplicator
}

func NewRelationshipService(
	followRepo repository.FollowRepository,
	fanRepo repository.FanRepository,
	attrs repository.AttributeRepository,
	counters *cache.Counters,
	replicator *FanReplicator,
) RelationshipService {
	return &relationshipService{followRepo: followRepo, fanRepo: fanRepo, attrs: attrs, counters: counters, replicator: replicator}
}

func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID uint64) error {
	if fromUserID == toUserID {
		return ErrFollowSelf
	}
	for _, id := range []uint64{fromUserID, toUserID} {
		if _, err := s.attrs.Get(ctx, model.KindUser, id, model.AttrFollowersCount); err != nil {
			return notFound(err)
		}
	}
	created, err := s.followRepo.Create(ctx, fromUserID, toUserID)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	s.adjust(ctx, toUserID, model.AttrFollowersCount, 1)
	s.adjust(ctx, fromUserID, model.AttrFollowingsCount, 1)
	if s.replicator != nil {
		s.replicator.EnqueueAdd(toUserID, fromUserID)
	}
	return nil
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID uint64) error {
	deleted, err := s.followRepo.Delete(ctx, fromUserID, toUserID)
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}
	s.adjust(ctx, toUserID, model.AttrFollowersCount, -1)
	s.adjust(ctx, fromUserID, model.AttrFollowingsCount, -1)
	if s.replicator != nil {
		s.replicator.EnqueueRemove(toUserID, fromUserID)
	}
	return nil
}

// adjust 关系已落库，计数失败只记日志
func (s *relationshipService) adjust(ctx context.Context, userID uint64, attr string, delta int64) {
	key := cache.CounterKey{Kind: model.KindUser, ID: userID, Attribute: attr}
	if _, err := s.counters.Bump(ctx, key, delta); err != nil {
		logger.Warn("bump user counter", zap.String("key", key.String()), zap.Error(err))
	}
	if err := s.attrs.Adjust(ctx, model.KindUser, userID, attr, delta); err != nil {
		logger.Warn("adjust user counter", zap.String("key", key.String()), zap.Error(err))
		_ = s.counters.Invalidate(ctx, key)
	}
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID uint64, page, pageSize int) ([]uint64, error) {
	page, pageSize = normalizePage(page, pageSize)
	items, err := s.followRepo.ListFollowings(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	return lo.Map(items, func(it *model.Follow, _ int) uint64 { return it.FolloweeID }), nil
}

func (s *relationshipService) ListFans(ctx context.Context, userID uint64, page, pageSize int) ([]uint64, error) {
	page, pageSize = normalizePage(page, pageSize)
	items, err := s.fanRepo.ListFans(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	return lo.Map(items, func(it *model.Fan, _ int) uint64 { return it.FanID }), nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
