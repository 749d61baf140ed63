package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stackboard/agentd/internal/observability"
)

// FailSoftQueue wraps a Queue so backend failures degrade to logged no-ops.
// The enqueue path for billing events runs inside the worker's critical
// section; a down queue backend must not take the run down with it.
type FailSoftQueue struct {
	inner  Queue
	logger zerolog.Logger
}

// FailSoft wraps q with fail-soft semantics.
func FailSoft(q Queue, logger zerolog.Logger) *FailSoftQueue {
	return &FailSoftQueue{inner: q, logger: logger}
}

// Push attempts the push and swallows any backend error.
func (q *FailSoftQueue) Push(ctx context.Context, queue string, payload []byte) error {
	if err := q.inner.Push(ctx, queue, payload); err != nil {
		observability.RecordQueueError(queue, "push")
		q.logger.Warn().Err(err).Str("queue", queue).Msg("Queue push failed, dropping item")
	}
	return nil
}

// Pop attempts the pop and converts backend errors into an empty result.
func (q *FailSoftQueue) Pop(ctx context.Context, queue string, timeout time.Duration) (*Item, error) {
	item, err := q.inner.Pop(ctx, queue, timeout)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a backend failure.
			return nil, err
		}
		observability.RecordQueueError(queue, "pop")
		q.logger.Warn().Err(err).Str("queue", queue).Msg("Queue pop failed, treating as empty")
		return nil, nil
	}
	return item, nil
}

// Depth reports zero when the backend is unavailable.
func (q *FailSoftQueue) Depth(ctx context.Context, queue string) (int, error) {
	depth, err := q.inner.Depth(ctx, queue)
	if err != nil {
		observability.RecordQueueError(queue, "depth")
		return 0, nil
	}
	return depth, nil
}

// Close closes the wrapped queue.
func (q *FailSoftQueue) Close() error {
	return q.inner.Close()
}
