// Package queue provides the durable FIFO work queues used for execution
// intake and billing fan-out. Items are pushed to the tail and popped from
// the head; the pop is atomic, so multiple worker processes can share one
// queue without application-level locking.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned once a queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Item is one enqueued unit of work.
type Item struct {
	ID         string    `json:"id"`
	Queue      string    `json:"queue"`
	Payload    []byte    `json:"payload"`
	Priority   int       `json:"priority"` // carried but not honored, see Queue docs
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is the durable queue contract.
//
// Push appends to the tail of the named queue. Pop removes from the head,
// blocking up to timeout when the queue is empty; a zero timeout makes the
// call non-blocking. Pop returns (nil, nil) when nothing was available.
//
// The Priority field is carried on items for forward compatibility but no
// implementation schedules by it; delivery is strictly FIFO per queue name.
type Queue interface {
	Push(ctx context.Context, queue string, payload []byte) error
	Pop(ctx context.Context, queue string, timeout time.Duration) (*Item, error)
	Depth(ctx context.Context, queue string) (int, error)
	Close() error
}
