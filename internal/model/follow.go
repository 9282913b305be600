package model

import "time"

// Follow 关注边 follower -> followee，(follower_id, followee_id) 唯一
type Follow struct {
	ID         uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	FollowerID uint64    `json:"follower_id" gorm:"not null;uniqueIndex:idx_follow_pair,priority:1;index:idx_follow_follower_created,priority:1"`
	FolloweeID uint64    `json:"followee_id" gorm:"not null;uniqueIndex:idx_follow_pair,priority:2"`
	CreatedAt  time.Time `json:"created_at" gorm:"index:idx_follow_follower_created,priority:2"`
}

func (Follow) TableName() string { return "follows" }
