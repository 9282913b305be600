package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

const maxContentLen = 280

// Publisher 事务内写 item、作者自己的 feed 条目与扇出记录（outbox），
// 提交后推作者时间线并投递扇出
type Publisher struct {
	db       *gorm.DB
	fanout   *FanoutService
	timeline *cache.WindowCache[model.ItemRef]
	clock    Clock
}

func NewPublisher(db *gorm.DB, fanout *FanoutService, timeline *cache.WindowCache[model.ItemRef], clock Clock) *Publisher {
	if clock == nil {
		clock = NewClock()
	}
	return &Publisher{db: db, fanout: fanout, timeline: timeline, clock: clock}
}

// Publish 返回时作者自己的 feed 已包含该条目，粉丝侧异步送达
func (p *Publisher) Publish(ctx context.Context, authorID uint64, content string) (*model.Item, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxContentLen {
		return nil, fmt.Errorf("%w: length must be 1..%d", ErrInvalidContent, maxContentLen)
	}

	item := &model.Item{AuthorID: authorID, Content: content, CreatedAt: p.clock.NowMicro()}
	var own model.FeedEntry
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewItemRepository(tx).Create(ctx, item); err != nil {
			return err
		}
		var err error
		own, err = p.fanout.Stage(ctx,
			repository.NewFeedRepository(tx),
			repository.NewFanoutRepository(tx),
			item.ID, authorID, item.CreatedAt,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}

	if err := p.timeline.Push(ctx, authorID, item.Ref()); err != nil {
		logger.Warn("timeline push failed", zap.Uint64("item_id", item.ID), zap.Error(err))
	}
	p.fanout.Dispatch(ctx, own)
	return item, nil
}
