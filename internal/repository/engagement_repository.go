package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
)

type LikeRepository interface {
	// Create returns false for a repeated like.
	Create(ctx context.Context, like *model.Like) (bool, error)
	Delete(ctx context.Context, userID uint64, kind model.EntityKind, objectID uint64) (bool, error)
	Exists(ctx context.Context, userID uint64, kind model.EntityKind, objectID uint64) (bool, error)
}

type likeRepository struct{ db *gorm.DB }

func NewLikeRepository(db *gorm.DB) LikeRepository { return &likeRepository{db: db} }

func (r *likeRepository) Create(ctx context.Context, like *model.Like) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(like)
	return res.RowsAffected > 0, res.Error
}

func (r *likeRepository) Delete(ctx context.Context, userID uint64, kind model.EntityKind, objectID uint64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND kind = ? AND object_id = ?", userID, kind, objectID).
		Delete(&model.Like{})
	return res.RowsAffected > 0, res.Error
}

func (r *likeRepository) Exists(ctx context.Context, userID uint64, kind model.EntityKind, objectID uint64) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Like{}).
		Where("user_id = ? AND kind = ? AND object_id = ?", userID, kind, objectID).
		Count(&cnt).Error
	return cnt > 0, err
}

type CommentRepository interface {
	Create(ctx context.Context, c *model.Comment) error
	Get(ctx context.Context, id uint64) (*model.Comment, error)
	// Range lists an item's comments, newest first.
	Range(ctx context.Context, itemID uint64, b pagination.Bounds, limit int) ([]model.Comment, error)
}

type commentRepository struct{ db *gorm.DB }

func NewCommentRepository(db *gorm.DB) CommentRepository { return &commentRepository{db: db} }

func (r *commentRepository) Create(ctx context.Context, c *model.Comment) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *commentRepository) Get(ctx context.Context, id uint64) (*model.Comment, error) {
	var c model.Comment
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *commentRepository) Range(ctx context.Context, itemID uint64, b pagination.Bounds, limit int) ([]model.Comment, error) {
	res := []model.Comment{}
	err := boundedScope(r.db.WithContext(ctx).Where("item_id = ?", itemID), b, limit).Find(&res).Error
	return res, err
}
