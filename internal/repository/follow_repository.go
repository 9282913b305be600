package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/newsfeed/internal/model"
)

type FollowRepository interface {
	// Create returns false when the relation already existed.
	Create(ctx context.Context, followerID, followeeID uint64) (bool, error)
	// Delete returns false when there was nothing to delete.
	Delete(ctx context.Context, followerID, followeeID uint64) (bool, error)
	Exists(ctx context.Context, followerID, followeeID uint64) (bool, error)
	ListFollowings(ctx context.Context, followerID uint64, offset, limit int) ([]*model.Follow, error)
}

type followRepository struct {
	db *gorm.DB
}

func NewFollowRepository(db *gorm.DB) FollowRepository { return &followRepository{db: db} }

func (r *followRepository) Create(ctx context.Context, followerID, followeeID uint64) (bool, error) {
	f := &model.Follow{FollowerID: followerID, FolloweeID: followeeID}
	// 幂等：重复关注不报错
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f)
	return res.RowsAffected > 0, res.Error
}

func (r *followRepository) Delete(ctx context.Context, followerID, followeeID uint64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Delete(&model.Follow{})
	return res.RowsAffected > 0, res.Error
}

func (r *followRepository) Exists(ctx context.Context, followerID, followeeID uint64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Follow{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *followRepository) ListFollowings(ctx context.Context, followerID uint64, offset, limit int) ([]*model.Follow, error) {
	var res []*model.Follow
	err := r.db.WithContext(ctx).
		Where("follower_id = ?", followerID).
		Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}
