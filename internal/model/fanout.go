package model

import "time"

// 扇出状态
const (
	FanoutPending    = "pending"    // 已发布，协调任务未执行
	FanoutDispatched = "dispatched" // 批次已全部投递
	FanoutDone       = "done"       // 全部批次完成
	FanoutPartial    = "partial"    // 有批次重试耗尽，可重新扇出恢复
)

// Fanout 每次发布一条扇出记录（由 outbox 演化而来），用于观测与补偿
type Fanout struct {
	ID            uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ItemID        uint64     `json:"item_id" gorm:"not null;uniqueIndex"`
	AuthorID      uint64     `json:"author_id" gorm:"not null;index:idx_fanout_author"`
	ItemCreatedAt int64      `json:"item_created_at" gorm:"not null"` // unix 微秒，重新投递时复用
	Status        string     `json:"status" gorm:"type:varchar(16);not null;index:idx_fanout_status_updated,priority:1"`
	Recipients    int64      `json:"recipients"`
	BatchesTotal  int64      `json:"batches_total"`
	BatchesDone   int64      `json:"batches_done"`
	BatchesFailed int64      `json:"batches_failed"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"index:idx_fanout_status_updated,priority:2"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

func (Fanout) TableName() string { return "fanouts" }
