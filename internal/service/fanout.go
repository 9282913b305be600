package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/cache"
	"github.com/d60-Lab/newsfeed/internal/metrics"
	"github.com/d60-Lab/newsfeed/internal/model"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/taskqueue"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

const (
	JobFanoutCoordinate = "fanout.coordinate"
	JobFanoutBatch      = "fanout.batch"
)

type FanoutOptions struct {
	BatchSize      int // B
	BatchTimeLimit time.Duration
	RetryBudget    time.Duration
	MaxAttempts    int
	RetryInterval  time.Duration
	// Clock 为条目打 created_at，默认 NewClock()
	Clock Clock
}

// 同一 owner 下 created_at 撞车时最多换几次时间戳
const maxStampAttempts = 5

type coordinatePayload struct {
	ItemID   uint64 `json:"item_id"`
	AuthorID uint64 `json:"author_id"`
}

type batchPayload struct {
	ItemID     uint64   `json:"item_id"`
	Partition  int      `json:"partition"`
	Recipients []uint64 `json:"recipients"`
}

// FanoutService 推模式扇出：发布时写作者自己的条目，协调任务一次读出全部粉丝
// 后按 B 切分批次，批次任务落库并推入各自的 feed 窗口
type FanoutService struct {
	feeds   repository.FeedRepository
	fans    repository.FanRepository
	fanouts repository.FanoutRepository
	window  *cache.WindowCache[model.FeedEntry]
	queue   taskqueue.Enqueuer
	clock   Clock
	opts    FanoutOptions
}

func NewFanoutService(
	feeds repository.FeedRepository,
	fans repository.FanRepository,
	fanouts repository.FanoutRepository,
	window *cache.WindowCache[model.FeedEntry],
	queue taskqueue.Enqueuer,
	opts FanoutOptions,
) *FanoutService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	clock := opts.Clock
	if clock == nil {
		clock = NewClock()
	}
	return &FanoutService{feeds: feeds, fans: fans, fanouts: fanouts, window: window, queue: queue, clock: clock, opts: opts}
}

// Register binds the fan-out handlers to q.
func (s *FanoutService) Register(q taskqueue.Queue) {
	base := taskqueue.HandlerOptions{
		TimeLimit:       s.opts.BatchTimeLimit,
		MaxAttempts:     s.opts.MaxAttempts,
		RetryBudget:     s.opts.RetryBudget,
		InitialInterval: s.opts.RetryInterval,
	}
	// 协调任务耗尽时记录保持 pending，由 sweeper 在宽限期后重新投递
	q.Register(JobFanoutCoordinate, s.HandleCoordinate, base)

	batch := base
	batch.OnExhausted = s.batchExhausted
	q.Register(JobFanoutBatch, s.HandleBatch, batch)
}

// PublishFanout writes the author's own entry and the fanout record, then
// schedules delivery to the author's followers. Store errors are returned;
// an enqueue failure only leaves the record pending for the sweeper.
func (s *FanoutService) PublishFanout(ctx context.Context, itemID, authorID uint64, createdAt int64) error {
	entry, err := s.Stage(ctx, s.feeds, s.fanouts, itemID, authorID, createdAt)
	if err != nil {
		return err
	}
	s.Dispatch(ctx, entry)
	return nil
}

// Stage 写作者条目与 pending 扇出记录。传入事务内的 repository 时，
// 二者与 item 同一事务提交
func (s *FanoutService) Stage(
	ctx context.Context,
	feeds repository.FeedRepository,
	fanouts repository.FanoutRepository,
	itemID, authorID uint64,
	createdAt int64,
) (model.FeedEntry, error) {
	rows, err := s.deliver(ctx, feeds, itemID, []uint64{authorID}, createdAt)
	if err != nil {
		return model.FeedEntry{}, fmt.Errorf("insert author entry: %w", err)
	}
	if _, err := fanouts.Create(ctx, &model.Fanout{
		ItemID:        itemID,
		AuthorID:      authorID,
		ItemCreatedAt: createdAt,
		Status:        model.FanoutPending,
	}); err != nil {
		return model.FeedEntry{}, fmt.Errorf("create fanout record: %w", err)
	}
	return rows[0], nil
}

// Dispatch 在 Stage 提交后执行：推作者窗口并投递协调任务，均不向调用方报错
func (s *FanoutService) Dispatch(ctx context.Context, author model.FeedEntry) {
	if err := s.window.Push(ctx, author.OwnerID, author); err != nil {
		logger.Warn("push author entry failed",
			zap.Uint64("item_id", author.ItemID),
			zap.Error(err),
		)
	}
	if err := s.enqueueCoordinate(ctx, author.ItemID, author.OwnerID); err != nil {
		logger.Warn("enqueue fanout failed, left for sweeper",
			zap.Uint64("item_id", author.ItemID),
			zap.Error(err),
		)
	}
}

// Redispatch re-runs delivery for an existing record. Every step is
// idempotent, so this is safe for pending, partial or even done records.
func (s *FanoutService) Redispatch(ctx context.Context, f model.Fanout) error {
	if err := s.deliverToAuthor(ctx, f.ItemID, f.AuthorID, f.ItemCreatedAt); err != nil {
		return err
	}
	return s.enqueueCoordinate(ctx, f.ItemID, f.AuthorID)
}

// RedispatchItem re-runs delivery for one item, e.g. after a partial fan-out.
func (s *FanoutService) RedispatchItem(ctx context.Context, itemID uint64) error {
	f, err := s.fanouts.Get(ctx, itemID)
	if err != nil {
		return notFound(err)
	}
	return s.Redispatch(ctx, *f)
}

func (s *FanoutService) Status(ctx context.Context, itemID uint64) (*model.Fanout, error) {
	f, err := s.fanouts.Get(ctx, itemID)
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

func (s *FanoutService) deliverToAuthor(ctx context.Context, itemID, authorID uint64, createdAt int64) error {
	rows, err := s.deliver(ctx, s.feeds, itemID, []uint64{authorID}, createdAt)
	if err != nil {
		return fmt.Errorf("insert author entry: %w", err)
	}
	return s.window.Push(ctx, authorID, rows[0])
}

// deliver 为 owners 写入 itemID 的条目并读回库中的行。
// 已存在的 (owner, item) 保留首次写入的 created_at；与该 owner 其他条目
// 同一微秒冲突的行被库忽略，换一个新时间戳重写
func (s *FanoutService) deliver(ctx context.Context, feeds repository.FeedRepository, itemID uint64, owners []uint64, stamp int64) ([]model.FeedEntry, error) {
	stored := make([]model.FeedEntry, 0, len(owners))
	pending := owners
	for attempt := 0; attempt < maxStampAttempts; attempt++ {
		if attempt > 0 {
			stamp = s.clock.NowMicro()
		}
		entries := lo.Map(pending, func(owner uint64, _ int) model.FeedEntry {
			return model.FeedEntry{OwnerID: owner, ItemID: itemID, CreatedAt: stamp}
		})
		n, err := feeds.BulkInsert(ctx, entries)
		if err != nil {
			return nil, err
		}
		metrics.FanoutEntries.Add(float64(n))

		rows, err := feeds.FindByItem(ctx, itemID, pending)
		if err != nil {
			return nil, fmt.Errorf("read back entries: %w", err)
		}
		stored = append(stored, rows...)
		if len(rows) == len(pending) {
			return stored, nil
		}
		found := lo.SliceToMap(rows, func(e model.FeedEntry) (uint64, struct{}) { return e.OwnerID, struct{}{} })
		pending = lo.Reject(pending, func(owner uint64, _ int) bool {
			_, ok := found[owner]
			return ok
		})
	}
	return nil, fmt.Errorf("item %d: %d owners still collide on created_at", itemID, len(pending))
}

func (s *FanoutService) enqueueCoordinate(ctx context.Context, itemID, authorID uint64) error {
	_, err := s.queue.Enqueue(ctx, JobFanoutCoordinate, fmt.Sprintf("fanout:%d", itemID), coordinatePayload{
		ItemID:   itemID,
		AuthorID: authorID,
	})
	return err
}

// HandleCoordinate loads every follower in one read and enqueues one batch
// job per partition of at most B recipients.
func (s *FanoutService) HandleCoordinate(ctx context.Context, job *taskqueue.Job) error {
	var p coordinatePayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	ids, err := s.fans.ListFanIDs(ctx, p.AuthorID)
	if err != nil {
		return fmt.Errorf("list fans of %d: %w", p.AuthorID, err)
	}
	recipients := lo.Uniq(lo.Reject(ids, func(id uint64, _ int) bool { return id == p.AuthorID }))
	parts := lo.Chunk(recipients, s.opts.BatchSize)
	metrics.FanoutRecipients.Observe(float64(len(recipients)))

	// 先记总数再投递批次，避免批次完成早于总数写入
	if err := s.fanouts.MarkDispatched(ctx, p.ItemID, int64(len(recipients)), int64(len(parts))); err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	for i, part := range parts {
		if _, err := s.queue.Enqueue(ctx, JobFanoutBatch, fmt.Sprintf("fanout:%d:%d", p.ItemID, i), batchPayload{
			ItemID:     p.ItemID,
			Partition:  i,
			Recipients: part,
		}); err != nil {
			return fmt.Errorf("enqueue batch %d: %w", i, err)
		}
	}
	metrics.FanoutBatches.WithLabelValues("dispatched").Add(float64(len(parts)))

	logger.Debug("fanout dispatched",
		zap.Uint64("item_id", p.ItemID),
		zap.Int("recipients", len(recipients)),
		zap.Int("batches", len(parts)),
	)
	return nil
}

// HandleBatch writes one partition. created_at is stamped when the batch
// runs, so a delayed or retried batch still lands on top of each feed.
// Windows receive the rows read back from the store: a re-run pushes the
// snapshots first written and inserts nothing new.
func (s *FanoutService) HandleBatch(ctx context.Context, job *taskqueue.Job) error {
	var p batchPayload
	if err := job.Decode(&p); err != nil {
		return err
	}

	rows, err := s.deliver(ctx, s.feeds, p.ItemID, p.Recipients, s.clock.NowMicro())
	if err != nil {
		return fmt.Errorf("deliver partition %d: %w", p.Partition, err)
	}

	for _, e := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.window.Push(ctx, e.OwnerID, e); err != nil {
			return err
		}
	}

	if err := s.fanouts.BatchDone(ctx, p.ItemID); err != nil {
		return fmt.Errorf("record batch done: %w", err)
	}
	metrics.FanoutBatches.WithLabelValues("done").Inc()
	return nil
}

func (s *FanoutService) batchExhausted(ctx context.Context, job *taskqueue.Job, cause error) {
	metrics.FanoutBatches.WithLabelValues("failed").Inc()
	var p batchPayload
	if err := job.Decode(&p); err != nil {
		return
	}
	if err := s.fanouts.BatchFailed(ctx, p.ItemID); err != nil {
		logger.Error("record failed batch",
			zap.Uint64("item_id", p.ItemID),
			zap.Int("partition", p.Partition),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}
