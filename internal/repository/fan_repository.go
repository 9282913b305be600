package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/newsfeed/internal/model"
)

type FanRepository interface {
	Create(ctx context.Context, userID, fanID uint64) error
	Delete(ctx context.Context, userID, fanID uint64) error
	ListFans(ctx context.Context, userID uint64, offset, limit int) ([]*model.Fan, error)
	// ListFanIDs 一次读出全部粉丝 id（扇出协调用）
	ListFanIDs(ctx context.Context, userID uint64) ([]uint64, error)
}

type fanRepository struct{ db *gorm.DB }

func NewFanRepository(db *gorm.DB) FanRepository { return &fanRepository{db: db} }

func (r *fanRepository) Create(ctx context.Context, userID, fanID uint64) error {
	f := &model.Fan{UserID: userID, FanID: fanID}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f).Error
}

func (r *fanRepository) Delete(ctx context.Context, userID, fanID uint64) error {
	return r.db.WithContext(ctx).Where("user_id = ? AND fan_id = ?", userID, fanID).Delete(&model.Fan{}).Error
}

func (r *fanRepository) ListFans(ctx context.Context, userID uint64, offset, limit int) ([]*model.Fan, error) {
	var res []*model.Fan
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *fanRepository) ListFanIDs(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&model.Fan{}).Where("user_id = ?", userID).Pluck("fan_id", &ids).Error
	return ids, err
}
