package model

import "time"

// User 用户（仅 feed 所需字段，鉴权由外部负责）
type User struct {
	ID              uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Username        string    `json:"username" gorm:"type:varchar(64);uniqueIndex;not null"`
	Nickname        string    `json:"nickname" gorm:"type:varchar(64)"`
	FollowersCount  int64     `json:"followers_count" gorm:"not null;default:0"`
	FollowingsCount int64     `json:"followings_count" gorm:"not null;default:0"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
