package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestExecuteOpensSpanPerAttempt(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	q := startMemory(t, 1)
	var calls atomic.Int32
	q.Register("fanout.batch", func(ctx context.Context, job *Job) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}, fastRetry(3))

	_, err := q.Enqueue(context.Background(), "fanout.batch", "fanout:1:0", payload{})
	require.NoError(t, err)
	drain(t, q)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	for i, s := range spans {
		assert.Equal(t, "job fanout.batch", s.Name())
		attrs := map[attribute.Key]attribute.Value{}
		for _, kv := range s.Attributes() {
			attrs[kv.Key] = kv.Value
		}
		assert.Equal(t, "fanout:1:0", attrs["job.key"].AsString())
		assert.Equal(t, int64(i+1), attrs["job.attempt"].AsInt64())
	}
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEqual(t, codes.Error, spans[1].Status().Code)
}
