package model

import "time"

// Fan 是 Follow 的反向冗余（user_id 的粉丝 fan_id），由 FanReplicator 异步写入。
// 扇出协调任务按 user_id 一次读出全部收件人。
type Fan struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    uint64    `json:"user_id" gorm:"not null;uniqueIndex:idx_fan_pair,priority:1"`
	FanID     uint64    `json:"fan_id" gorm:"not null;uniqueIndex:idx_fan_pair,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

func (Fan) TableName() string { return "fans" }
