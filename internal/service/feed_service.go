package service

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/pagination"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

// FeedItem 一条 feed 结果：内容快照 + 实时计数 + 分页游标
type FeedItem struct {
	*model.Item
	Cursor int64 `json:"cursor"`
}

type FeedPage struct {
	Results     []FeedItem `json:"results"`
	HasNextPage bool       `json:"has_next_page"`
	// NextBefore is the cursor for the following page when HasNextPage.
	NextBefore *int64 `json:"next_before,omitempty"`
}

// FeedService 读路径：窗口分页后批量取内容快照，再叠加计数缓存
type FeedService struct {
	feed     *pagination.Paginator[model.FeedEntry]
	timeline *pagination.Paginator[model.ItemRef]
	items    *cache.ItemCache
	counters *cache.Counters
	comments repository.CommentRepository
}

func NewFeedService(
	feed *pagination.Paginator[model.FeedEntry],
	timeline *pagination.Paginator[model.ItemRef],
	items *cache.ItemCache,
	counters *cache.Counters,
	comments repository.CommentRepository,
) *FeedService {
	return &FeedService{feed: feed, timeline: timeline, items: items, counters: counters, comments: comments}
}

// GetFeedPage returns the page of userID's own feed.
func (s *FeedService) GetFeedPage(ctx context.Context, req pagination.Request) (*FeedPage, error) {
	page, err := s.feed.Page(ctx, req)
	if err != nil {
		return nil, err
	}
	refs := lo.Map(page.Entries, func(e model.FeedEntry, _ int) model.ItemRef {
		return model.ItemRef{ItemID: e.ItemID, CreatedAt: e.CreatedAt}
	})
	return s.hydrate(ctx, refs, page.HasNextPage)
}

// GetTimelinePage returns the page of items authored by req.OwnerID.
func (s *FeedService) GetTimelinePage(ctx context.Context, req pagination.Request) (*FeedPage, error) {
	page, err := s.timeline.Page(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, page.Entries, page.HasNextPage)
}

func (s *FeedService) GetItem(ctx context.Context, id uint64) (*model.Item, error) {
	it, ok, err := s.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	s.overlayCounters(ctx, it)
	return it, nil
}

// ListComments pages an item's comments straight from the store.
func (s *FeedService) ListComments(ctx context.Context, itemID uint64, b pagination.Bounds, size int) (pagination.Page[model.Comment], error) {
	if err := (pagination.Request{Bounds: b, PageSize: size}).Validate(); err != nil {
		return pagination.Page[model.Comment]{}, err
	}
	size, err := s.feed.PageSize(size)
	if err != nil {
		return pagination.Page[model.Comment]{}, err
	}
	rows, err := s.comments.Range(ctx, itemID, b, size+1)
	if err != nil {
		return pagination.Page[model.Comment]{}, err
	}
	if len(rows) > size {
		return pagination.Page[model.Comment]{Entries: rows[:size], HasNextPage: true}, nil
	}
	return pagination.Page[model.Comment]{Entries: rows}, nil
}

func (s *FeedService) hydrate(ctx context.Context, refs []model.ItemRef, hasNext bool) (*FeedPage, error) {
	ids := lo.Map(refs, func(r model.ItemRef, _ int) uint64 { return r.ItemID })
	found, err := s.items.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := &FeedPage{Results: make([]FeedItem, 0, len(refs)), HasNextPage: hasNext}
	for _, r := range refs {
		it, ok := found[r.ItemID]
		if !ok {
			// 内容已删除，跳过
			continue
		}
		s.overlayCounters(ctx, it)
		out.Results = append(out.Results, FeedItem{Item: it, Cursor: r.CreatedAt})
	}
	if hasNext && len(refs) > 0 {
		last := refs[len(refs)-1].CreatedAt
		out.NextBefore = &last
	}
	return out, nil
}

func (s *FeedService) overlayCounters(ctx context.Context, it *model.Item) {
	if v, err := s.counters.Get(ctx, cache.CounterKey{Kind: model.KindItem, ID: it.ID, Attribute: model.AttrLikesCount}); err == nil {
		it.LikesCount = v
	} else {
		logger.Warn("overlay likes_count", zap.Uint64("item_id", it.ID), zap.Error(err))
	}
	if v, err := s.counters.Get(ctx, cache.CounterKey{Kind: model.KindItem, ID: it.ID, Attribute: model.AttrCommentsCount}); err == nil {
		it.CommentsCount = v
	} else {
		logger.Warn("overlay comments_count", zap.Uint64("item_id", it.ID), zap.Error(err))
	}
}
