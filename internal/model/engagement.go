package model

import "time"

// Like 点赞，目标由 (kind, object_id) 指定
type Like struct {
	ID        uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    uint64     `json:"user_id" gorm:"not null;uniqueIndex:ux_like_user_target"`
	Kind      EntityKind `json:"kind" gorm:"type:varchar(16);not null;uniqueIndex:ux_like_user_target;index:idx_like_target,priority:1"`
	ObjectID  uint64     `json:"object_id" gorm:"not null;uniqueIndex:ux_like_user_target;index:idx_like_target,priority:2"`
	CreatedAt time.Time  `json:"created_at"`
}

func (Like) TableName() string { return "likes" }

// Comment 评论
type Comment struct {
	ID         uint64 `json:"id" gorm:"primaryKey;autoIncrement"`
	ItemID     uint64 `json:"item_id" gorm:"not null;index:idx_comment_item_created,priority:1"`
	UserID     uint64 `json:"user_id" gorm:"not null"`
	Content    string `json:"content" gorm:"type:varchar(140);not null"`
	LikesCount int64  `json:"likes_count" gorm:"not null;default:0"`
	CreatedAt  int64  `json:"created_at" gorm:"not null;autoCreateTime:false;index:idx_comment_item_created,priority:2"`
}

func (Comment) TableName() string { return "comments" }

func (c Comment) Cursor() int64 { return c.CreatedAt }
