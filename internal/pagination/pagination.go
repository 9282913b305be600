// Package pagination implements the two-sided created_at cursor used by the
// feed and timeline endpoints. A page is served from the cached window when
// the cursor falls inside it and from the durable store otherwise, so the
// cache boundary never shows up in the result.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrInvalidCursor   = errors.New("invalid cursor")
	ErrInvalidPageSize = errors.New("invalid page size")
)

// Record is anything ordered by a created_at cursor (unix microseconds).
type Record interface {
	Cursor() int64
}

// Bounds are exclusive created_at bounds. After selects newer entries,
// Before selects older ones. Either may be nil.
type Bounds struct {
	After  *int64
	Before *int64
}

func (b Bounds) Validate() error {
	if b.After != nil && *b.After < 0 {
		return fmt.Errorf("%w: after must not be negative", ErrInvalidCursor)
	}
	if b.Before != nil && *b.Before < 0 {
		return fmt.Errorf("%w: before must not be negative", ErrInvalidCursor)
	}
	if b.After != nil && b.Before != nil && *b.After >= *b.Before {
		return fmt.Errorf("%w: after (%d) must be older than before (%d)", ErrInvalidCursor, *b.After, *b.Before)
	}
	return nil
}

func (b Bounds) Contains(cursor int64) bool {
	if b.After != nil && cursor <= *b.After {
		return false
	}
	if b.Before != nil && cursor >= *b.Before {
		return false
	}
	return true
}

// ParseBound parses an optional numeric cursor; "" means unbounded.
func ParseBound(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a timestamp", ErrInvalidCursor, s)
	}
	return &v, nil
}

// Source is the durable store side of a paginated list.
type Source[T Record] interface {
	// Range returns rows of ownerID inside b, newest first. limit <= 0
	// means no limit.
	Range(ctx context.Context, ownerID uint64, b Bounds, limit int) ([]T, error)
}

// Window is what the object cache hands back for one owner.
type Window[T Record] struct {
	Entries []T // newest first
	// Cached is true when Entries came from the cache store.
	Cached bool
	// Truncated is true when the cached window is at its length limit, so
	// older rows may only exist in the store.
	Truncated bool
}

// Loader loads an owner's window (object cache).
type Loader[T Record] interface {
	Load(ctx context.Context, ownerID uint64) (Window[T], error)
}

type Request struct {
	OwnerID uint64
	Bounds
	PageSize int
}

// Validate rejects malformed cursors and negative page sizes. Oversized
// pages are clamped later, not rejected.
func (r Request) Validate() error {
	if err := r.Bounds.Validate(); err != nil {
		return err
	}
	if r.PageSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, r.PageSize)
	}
	return nil
}

type Page[T Record] struct {
	Entries     []T  `json:"results"`
	HasNextPage bool `json:"has_next_page"`
}

type Paginator[T Record] struct {
	loader      Loader[T]
	source      Source[T]
	defaultSize int
	maxSize     int
}

func NewPaginator[T Record](loader Loader[T], source Source[T], defaultSize, maxSize int) *Paginator[T] {
	if maxSize <= 0 {
		maxSize = 100
	}
	if defaultSize <= 0 || defaultSize > maxSize {
		defaultSize = maxSize
	}
	return &Paginator[T]{loader: loader, source: source, defaultSize: defaultSize, maxSize: maxSize}
}

// PageSize resolves the requested size: 0 means default, larger than the
// maximum is clamped.
func (p *Paginator[T]) PageSize(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, fmt.Errorf("%w: %d", ErrInvalidPageSize, requested)
	case requested == 0:
		return p.defaultSize, nil
	case requested > p.maxSize:
		return p.maxSize, nil
	}
	return requested, nil
}

// Page validates the request before touching cache or store.
func (p *Paginator[T]) Page(ctx context.Context, req Request) (Page[T], error) {
	if err := req.Validate(); err != nil {
		return Page[T]{}, err
	}
	size, err := p.PageSize(req.PageSize)
	if err != nil {
		return Page[T]{}, err
	}

	w, err := p.loader.Load(ctx, req.OwnerID)
	if err != nil {
		return Page[T]{}, err
	}
	return p.stitch(ctx, req.OwnerID, req.Bounds, size, w)
}

func (p *Paginator[T]) stitch(ctx context.Context, ownerID uint64, b Bounds, size int, w Window[T]) (Page[T], error) {
	qualifying := filter(w.Entries, b)

	// 窗口是完整结果（未命中缓存或未到上限），直接在内存里切页
	if !w.Truncated || len(w.Entries) == 0 {
		return cut(qualifying, size), nil
	}

	oldest := w.Entries[len(w.Entries)-1].Cursor()
	// 下界落在窗口内：区间内的行必然都在窗口里
	lowerInside := b.After != nil && *b.After >= oldest

	if len(qualifying) == 0 {
		if lowerInside {
			return Page[T]{Entries: []T{}}, nil
		}
		// 游标越过窗口尾部，回源
		rows, err := p.source.Range(ctx, ownerID, b, size+1)
		if err != nil {
			return Page[T]{}, fmt.Errorf("range query: %w", err)
		}
		return cut(rows, size), nil
	}

	if len(qualifying) > size {
		return Page[T]{Entries: qualifying[:size], HasNextPage: true}, nil
	}
	if lowerInside {
		return Page[T]{Entries: qualifying}, nil
	}

	// 窗口已耗尽且可能被截断，检查库里是否还有更旧的行
	last := qualifying[len(qualifying)-1].Cursor()
	more, err := p.source.Range(ctx, ownerID, Bounds{After: b.After, Before: &last}, 1)
	if err != nil {
		return Page[T]{}, fmt.Errorf("has next check: %w", err)
	}
	return Page[T]{Entries: qualifying, HasNextPage: len(more) > 0}, nil
}

func filter[T Record](entries []T, b Bounds) []T {
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		if b.Contains(e.Cursor()) {
			out = append(out, e)
		}
	}
	return out
}

func cut[T Record](entries []T, size int) Page[T] {
	if entries == nil {
		entries = []T{}
	}
	if len(entries) > size {
		return Page[T]{Entries: entries[:size], HasNextPage: true}
	}
	return Page[T]{Entries: entries}
}
