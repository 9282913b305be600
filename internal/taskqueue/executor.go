package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/internal/metrics"
	"github.com/d60-Lab/newsfeed/pkg/alert"
	"github.com/d60-Lab/newsfeed/pkg/logger"
)

const tracerName = "github.com/d60-Lab/newsfeed/internal/taskqueue"

type registration struct {
	handler Handler
	opts    HandlerOptions
}

// registry 各后端共用的处理器表与执行逻辑
type registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]registration)}
}

func (r *registry) Register(name string, h Handler, opts HandlerOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = registration{handler: h, opts: opts}
}

func (r *registry) lookup(name string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[name]
	return reg, ok
}

// execute runs job with retries. It returns nil on success, an error
// wrapping ErrExhausted or ErrUnknownJob when the job is finished without
// success, and ctx.Err() when interrupted by shutdown; only the last case
// should be redelivered.
func (r *registry) execute(ctx context.Context, job *Job) error {
	reg, ok := r.lookup(job.Name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownJob, job.Name)
		logger.Error("drop job without handler", zap.String("job", job.Name), zap.String("id", job.ID))
		alert.Capture(err, map[string]string{"job": job.Name})
		return err
	}
	opts := reg.opts

	op := func() error {
		job.Attempt++
		// 每次尝试一个 span
		sctx, span := otel.Tracer(tracerName).Start(ctx, "job "+job.Name,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("job.id", job.ID),
				attribute.String("job.key", job.Key),
				attribute.Int("job.attempt", job.Attempt),
			),
		)
		defer span.End()

		actx, cancel := sctx, context.CancelFunc(func() {})
		if opts.TimeLimit > 0 {
			actx, cancel = context.WithTimeout(sctx, opts.TimeLimit)
		}
		start := time.Now()
		err := runHandler(actx, reg.handler, job)
		cancel()
		metrics.JobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.JobAttempts.WithLabelValues(job.Name, "retry").Inc()
			return err
		}
		metrics.JobAttempts.WithLabelValues(job.Name, "ok").Inc()
		return nil
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("job attempt failed",
			zap.String("job", job.Name),
			zap.String("key", job.Key),
			zap.Int("attempt", job.Attempt),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, r.policy(ctx, opts), notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	metrics.JobAttempts.WithLabelValues(job.Name, "failed").Inc()
	logger.Error("job exhausted",
		zap.String("job", job.Name),
		zap.String("id", job.ID),
		zap.String("key", job.Key),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
	alert.Capture(err, map[string]string{"job": job.Name, "key": job.Key})
	if opts.OnExhausted != nil {
		opts.OnExhausted(context.WithoutCancel(ctx), job, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrExhausted, job.Name, job.Key, err)
}

func (r *registry) policy(ctx context.Context, opts HandlerOptions) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		b.InitialInterval = opts.InitialInterval
	}
	if opts.MaxInterval > 0 {
		b.MaxInterval = opts.MaxInterval
	}
	b.MaxElapsedTime = opts.RetryBudget

	var p backoff.BackOff = b
	if opts.MaxAttempts > 0 {
		p = backoff.WithMaxRetries(p, uint64(opts.MaxAttempts-1))
	}
	return backoff.WithContext(p, ctx)
}

// runHandler converts a handler panic into an ordinary failed attempt.
func runHandler(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	err = h(ctx, job)
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// 超时后仍返回 nil 的处理器视为失败
		err = ctx.Err()
	}
	return err
}
