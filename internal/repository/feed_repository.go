package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
)

// FeedRepository 时间线项持久层；写入均以 (owner_id, item_id) 幂等。
// 与已有行 (owner_id, created_at) 冲突的行同样被忽略，由调用方换时间戳重写
type FeedRepository interface {
	InsertOne(ctx context.Context, e *model.FeedEntry) error
	// BulkInsert ignores rows that already exist and returns how many were new.
	BulkInsert(ctx context.Context, entries []model.FeedEntry) (int64, error)
	// FindByItem reads back the stored rows of itemID for the given owners.
	FindByItem(ctx context.Context, itemID uint64, owners []uint64) ([]model.FeedEntry, error)
	Range(ctx context.Context, ownerID uint64, b pagination.Bounds, limit int) ([]model.FeedEntry, error)
	CountByItem(ctx context.Context, itemID uint64) (int64, error)
}

type feedRepository struct{ db *gorm.DB }

func NewFeedRepository(db *gorm.DB) FeedRepository { return &feedRepository{db: db} }

func (r *feedRepository) InsertOne(ctx context.Context, e *model.FeedEntry) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e).Error
}

func (r *feedRepository) BulkInsert(ctx context.Context, entries []model.FeedEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&entries, 500)
	return res.RowsAffected, res.Error
}

func (r *feedRepository) FindByItem(ctx context.Context, itemID uint64, owners []uint64) ([]model.FeedEntry, error) {
	res := []model.FeedEntry{}
	if len(owners) == 0 {
		return res, nil
	}
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND owner_id IN ?", itemID, owners).
		Order("owner_id").
		Find(&res).Error
	return res, err
}

// Range 按 created_at 倒序；边界开区间，limit <= 0 不限制
func (r *feedRepository) Range(ctx context.Context, ownerID uint64, b pagination.Bounds, limit int) ([]model.FeedEntry, error) {
	q := boundedScope(r.db.WithContext(ctx).Where("owner_id = ?", ownerID), b, limit)
	res := []model.FeedEntry{}
	err := q.Find(&res).Error
	return res, err
}

func (r *feedRepository) CountByItem(ctx context.Context, itemID uint64) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.FeedEntry{}).Where("item_id = ?", itemID).Count(&cnt).Error
	return cnt, err
}

// boundedScope applies exclusive created_at bounds, newest first.
func boundedScope(q *gorm.DB, b pagination.Bounds, limit int) *gorm.DB {
	if b.After != nil {
		q = q.Where("created_at > ?", *b.After)
	}
	if b.Before != nil {
		q = q.Where("created_at < ?", *b.Before)
	}
	q = q.Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}
