package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/newsfeed/internal/model"
)

// FanoutRepository 扇出记录；由发布方创建，协调与批次任务推进状态
type FanoutRepository interface {
	// Create returns false when a record for the item already exists.
	Create(ctx context.Context, f *model.Fanout) (bool, error)
	Get(ctx context.Context, itemID uint64) (*model.Fanout, error)
	// MarkDispatched records the partition plan and resets batch progress.
	MarkDispatched(ctx context.Context, itemID uint64, recipients, batches int64) error
	BatchDone(ctx context.Context, itemID uint64) error
	BatchFailed(ctx context.Context, itemID uint64) error
	// ClaimStale returns pending records untouched since before olderThan and
	// touches them so concurrent sweepers skip them.
	ClaimStale(ctx context.Context, olderThan time.Time, limit int) ([]model.Fanout, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]model.Fanout, error)
}

type fanoutRepository struct{ db *gorm.DB }

func NewFanoutRepository(db *gorm.DB) FanoutRepository { return &fanoutRepository{db: db} }

func (r *fanoutRepository) Create(ctx context.Context, f *model.Fanout) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "item_id"}}, DoNothing: true}).
		Create(f)
	return res.RowsAffected > 0, res.Error
}

func (r *fanoutRepository) Get(ctx context.Context, itemID uint64) (*model.Fanout, error) {
	var f model.Fanout
	if err := r.db.WithContext(ctx).Where("item_id = ?", itemID).Take(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *fanoutRepository) MarkDispatched(ctx context.Context, itemID uint64, recipients, batches int64) error {
	now := time.Now()
	updates := map[string]any{
		"status":         model.FanoutDispatched,
		"recipients":     recipients,
		"batches_total":  batches,
		"batches_done":   0,
		"batches_failed": 0,
		"dispatched_at":  now,
		"processed_at":   nil,
	}
	if batches == 0 {
		updates["status"] = model.FanoutDone
		updates["processed_at"] = now
	}
	return r.db.WithContext(ctx).Model(&model.Fanout{}).Where("item_id = ?", itemID).Updates(updates).Error
}

func (r *fanoutRepository) BatchDone(ctx context.Context, itemID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 重复投递的批次不会让计数超过总数
		if err := tx.Model(&model.Fanout{}).
			Where("item_id = ?", itemID).
			Update("batches_done", gorm.Expr("CASE WHEN batches_done < batches_total THEN batches_done + 1 ELSE batches_done END")).
			Error; err != nil {
			return err
		}
		return tx.Model(&model.Fanout{}).
			Where("item_id = ? AND status = ? AND batches_failed = 0 AND batches_done >= batches_total", itemID, model.FanoutDispatched).
			Updates(map[string]any{"status": model.FanoutDone, "processed_at": time.Now()}).Error
	})
}

func (r *fanoutRepository) BatchFailed(ctx context.Context, itemID uint64) error {
	return r.db.WithContext(ctx).Model(&model.Fanout{}).
		Where("item_id = ?", itemID).
		Updates(map[string]any{
			"batches_failed": gorm.Expr("batches_failed + 1"),
			"status":         model.FanoutPartial,
		}).Error
}

func (r *fanoutRepository) ClaimStale(ctx context.Context, olderThan time.Time, limit int) ([]model.Fanout, error) {
	var batch []model.Fanout
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ? AND updated_at < ?", model.FanoutPending, olderThan).
			Order("updated_at").
			Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]uint64, len(batch))
		for i, f := range batch {
			ids[i] = f.ID
		}
		return tx.Model(&model.Fanout{}).Where("id IN ?", ids).Update("updated_at", time.Now()).Error
	})
	return batch, err
}

func (r *fanoutRepository) ListByStatus(ctx context.Context, status string, limit int) ([]model.Fanout, error) {
	var res []model.Fanout
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&res).Error
	return res, err
}
