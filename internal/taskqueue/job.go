// Package taskqueue runs named background jobs with a per-attempt time limit,
// exponential retries within a budget and alerting on exhaustion. Backends
// differ only in transport: in-process, Redis streams or Kafka.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var (
	ErrUnknownJob  = errors.New("unknown job")
	ErrQueueClosed = errors.New("queue closed")
	ErrExhausted   = errors.New("job retries exhausted")
)

// Job 一次投递的任务；Key 用于去重与路由（kafka 分区键）
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the payload. A malformed payload is never retried.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Name, err))
	}
	return nil
}

func newJob(name, key string, payload any) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return &Job{
		ID:         uuid.NewString(),
		Name:       name,
		Key:        key,
		Payload:    raw,
		EnqueuedAt: time.Now(),
	}, nil
}

type Handler func(ctx context.Context, job *Job) error

type HandlerOptions struct {
	// TimeLimit bounds a single attempt; 0 means no limit.
	TimeLimit time.Duration
	// MaxAttempts counts the first try; 0 means bounded by RetryBudget only.
	MaxAttempts int
	// RetryBudget bounds the total time spent retrying; 0 means no bound.
	RetryBudget     time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// OnExhausted runs once when the last attempt has failed.
	OnExhausted func(ctx context.Context, job *Job, err error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, name, key string, payload any) (string, error)
}

type Queue interface {
	Enqueuer
	Register(name string, h Handler, opts HandlerOptions)
	// Run consumes jobs until ctx is cancelled.
	Run(ctx context.Context) error
	Close() error
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}
