package model

// FeedEntry 时间线项（按 owner_id 切分）
// 由扇出写入，写入后不再修改；(owner_id, item_id) 唯一，重复写入被忽略。
// created_at 为条目写入时刻，且同一 owner 下唯一，单字段游标即可无损翻页
type FeedEntry struct {
	ID      uint64 `json:"-" gorm:"primaryKey;autoIncrement"` // 不进入缓存快照，保证同一条目快照恒等
	OwnerID uint64 `json:"owner_id" gorm:"not null;uniqueIndex:ux_feed_owner_item,priority:1;uniqueIndex:ux_feed_owner_created,priority:1"`
	ItemID  uint64 `json:"item_id" gorm:"not null;uniqueIndex:ux_feed_owner_item,priority:2;index:idx_feed_item"`
	// unix 微秒
	CreatedAt int64 `json:"created_at" gorm:"not null;autoCreateTime:false;uniqueIndex:ux_feed_owner_created,priority:2"`
}

func (FeedEntry) TableName() string { return "feed_entries" }

// Cursor 分页游标取 created_at
func (e FeedEntry) Cursor() int64 { return e.CreatedAt }
