package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stackboard/agentd/internal/observability"
)

type memoryLane struct {
	items  []*Item
	signal chan struct{}
}

// MemoryQueue is an in-process Queue used for tests and single-node setups.
// The head pop is serialized by one mutex, which is what makes the
// at-most-one-claim guarantee hold across concurrent consumers.
type MemoryQueue struct {
	mu     sync.Mutex
	lanes  map[string]*memoryLane
	closed bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	observability.EnsureRegistered()
	return &MemoryQueue{
		lanes: make(map[string]*memoryLane),
	}
}

func (q *MemoryQueue) lane(name string) *memoryLane {
	l, ok := q.lanes[name]
	if !ok {
		l = &memoryLane{signal: make(chan struct{}, 1)}
		q.lanes[name] = l
	}
	return l
}

// Push appends a payload to the tail of the named queue.
func (q *MemoryQueue) Push(_ context.Context, queue string, payload []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	l := q.lane(queue)
	l.items = append(l.items, &Item{
		ID:         uuid.New().String(),
		Queue:      queue,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	})
	depth := len(l.items)
	signal := l.signal
	q.mu.Unlock()

	observability.RecordEnqueue(queue, depth)

	// Wake at most one blocked consumer.
	select {
	case signal <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the head item, blocking up to timeout when empty.
func (q *MemoryQueue) Pop(ctx context.Context, queue string, timeout time.Duration) (*Item, error) {
	deadline := time.Now().Add(timeout)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		l := q.lane(queue)
		if len(l.items) > 0 {
			item := l.items[0]
			l.items = l.items[1:]
			depth := len(l.items)
			signal := l.signal
			q.mu.Unlock()
			observability.RecordDequeue(queue, depth)
			if depth > 0 {
				// Pass the wake-up along so other blocked consumers
				// see the remaining items.
				select {
				case signal <- struct{}{}:
				default:
				}
			}
			return item, nil
		}
		signal := l.signal
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-signal:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Depth returns the number of queued items for a queue name.
func (q *MemoryQueue) Depth(_ context.Context, queue string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	if l, ok := q.lanes[queue]; ok {
		return len(l.items), nil
	}
	return 0, nil
}

// Close shuts the queue down; subsequent operations return ErrClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
