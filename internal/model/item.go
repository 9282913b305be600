package model

import "time"

// Item 发布内容（likes_count / comments_count 为冗余计数列）
type Item struct {
	ID            uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	AuthorID      uint64    `json:"author_id" gorm:"not null;index:idx_item_author_created,priority:1"`
	Content       string    `json:"content" gorm:"type:text"`
	LikesCount    int64     `json:"likes_count" gorm:"not null;default:0"`
	CommentsCount int64     `json:"comments_count" gorm:"not null;default:0"`
	CreatedAt     int64     `json:"created_at" gorm:"not null;autoCreateTime:false;index:idx_item_author_created,priority:2"` // unix 微秒
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Item) TableName() string { return "items" }

func (i Item) Cursor() int64 { return i.CreatedAt }

// ItemRef 作者时间线的缓存快照，只含不可变字段
type ItemRef struct {
	ItemID    uint64 `json:"item_id"`
	CreatedAt int64  `json:"created_at"`
}

func (r ItemRef) Cursor() int64 { return r.CreatedAt }

func (i Item) Ref() ItemRef { return ItemRef{ItemID: i.ID, CreatedAt: i.CreatedAt} }
