package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/newsfeed/internal/model"
)

// AttributeRepository 按 (kind, id, attribute) 读写冗余计数列；
// 表名与列名只来自 model 中的白名单映射
type AttributeRepository interface {
	Get(ctx context.Context, kind model.EntityKind, id uint64, attribute string) (int64, error)
	// Adjust adds delta to the column atomically in the store.
	Adjust(ctx context.Context, kind model.EntityKind, id uint64, attribute string, delta int64) error
}

type attributeRepository struct{ db *gorm.DB }

func NewAttributeRepository(db *gorm.DB) AttributeRepository { return &attributeRepository{db: db} }

func resolve(kind model.EntityKind, attribute string) (string, string, error) {
	table, err := kind.Table()
	if err != nil {
		return "", "", err
	}
	col, err := kind.Column(attribute)
	if err != nil {
		return "", "", err
	}
	return table, col, nil
}

func (r *attributeRepository) Get(ctx context.Context, kind model.EntityKind, id uint64, attribute string) (int64, error) {
	table, col, err := resolve(kind, attribute)
	if err != nil {
		return 0, err
	}
	var vals []int64
	if err := r.db.WithContext(ctx).Table(table).Where("id = ?", id).Limit(1).Pluck(col, &vals).Error; err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("%s %d: %w", kind, id, gorm.ErrRecordNotFound)
	}
	return vals[0], nil
}

func (r *attributeRepository) Adjust(ctx context.Context, kind model.EntityKind, id uint64, attribute string, delta int64) error {
	table, col, err := resolve(kind, attribute)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Table(table).
		Where("id = ?", id).
		UpdateColumn(col, gorm.Expr("? + ?", clause.Column{Name: col}, delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, gorm.ErrRecordNotFound)
	}
	return nil
}
