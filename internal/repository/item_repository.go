package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
)

type ItemRepository interface {
	Create(ctx context.Context, item *model.Item) error
	Get(ctx context.Context, id uint64) (*model.Item, error)
	GetMany(ctx context.Context, ids []uint64) ([]*model.Item, error)
	// Range lists refs to an author's items, newest first.
	Range(ctx context.Context, authorID uint64, b pagination.Bounds, limit int) ([]model.ItemRef, error)
}

type itemRepository struct{ db *gorm.DB }

func NewItemRepository(db *gorm.DB) ItemRepository { return &itemRepository{db: db} }

func (r *itemRepository) Create(ctx context.Context, item *model.Item) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *itemRepository) Get(ctx context.Context, id uint64) (*model.Item, error) {
	var it model.Item
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&it).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *itemRepository) GetMany(ctx context.Context, ids []uint64) ([]*model.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var res []*model.Item
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&res).Error
	return res, err
}

func (r *itemRepository) Range(ctx context.Context, authorID uint64, b pagination.Bounds, limit int) ([]model.ItemRef, error) {
	res := []model.ItemRef{}
	q := r.db.WithContext(ctx).Model(&model.Item{}).Select("id AS item_id", "created_at").Where("author_id = ?", authorID)
	err := boundedScope(q, b, limit).Scan(&res).Error
	return res, err
}
