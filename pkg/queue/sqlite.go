package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stackboard/agentd/internal/observability"
)

// pollInterval bounds how often a blocking Pop re-checks the table.
const pollInterval = 100 * time.Millisecond

// SQLiteQueue is a durable Queue backed by a single SQLite file. The pop is
// a DELETE of the head row inside one transaction, so concurrent worker
// processes sharing the file claim each item at most once.
type SQLiteQueue struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

// NewSQLiteQueue opens (and migrates) the queue database at path.
func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	if path == "" {
		return nil, errors.New("queue database path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	// WAL mode for better concurrency between pushers and poppers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	q := &SQLiteQueue{db: db}
	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	observability.EnsureRegistered()
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS queue_items (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			queue TEXT NOT NULL,
			payload BLOB NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			enqueued_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_queue_items_queue ON queue_items(queue, seq);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Push appends a payload to the tail of the named queue.
func (q *SQLiteQueue) Push(ctx context.Context, queue string, payload []byte) error {
	if q.isClosed() {
		return ErrClosed
	}

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_items (id, queue, payload, enqueued_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), queue, payload, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to push to queue %s: %w", queue, err)
	}

	depth, _ := q.Depth(ctx, queue)
	observability.RecordEnqueue(queue, depth)
	return nil
}

// Pop removes the head item of the named queue, blocking up to timeout when
// the queue is empty. A zero timeout makes exactly one claim attempt.
func (q *SQLiteQueue) Pop(ctx context.Context, queue string, timeout time.Duration) (*Item, error) {
	deadline := time.Now().Add(timeout)

	for {
		if q.isClosed() {
			return nil, ErrClosed
		}

		item, err := q.claim(ctx, queue)
		if err != nil {
			return nil, err
		}
		if item != nil {
			depth, _ := q.Depth(ctx, queue)
			observability.RecordDequeue(queue, depth)
			return item, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// claim atomically removes and returns the head row, or nil when empty.
func (q *SQLiteQueue) claim(ctx context.Context, queue string) (*Item, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT seq, id, payload, priority, enqueued_at FROM queue_items
		 WHERE queue = ? ORDER BY seq LIMIT 1`, queue)

	var (
		seq        int64
		item       Item
		enqueuedMs int64
	)
	if err := row.Scan(&seq, &item.ID, &item.Payload, &item.Priority, &enqueuedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue head: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE seq = ?`, seq)
	if err != nil {
		return nil, fmt.Errorf("failed to delete claimed item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Another consumer claimed this row first.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	item.Queue = queue
	item.EnqueuedAt = time.UnixMilli(enqueuedMs).UTC()
	return &item, nil
}

// Depth returns the number of queued items for a queue name.
func (q *SQLiteQueue) Depth(ctx context.Context, queue string) (int, error) {
	if q.isClosed() {
		return 0, ErrClosed
	}

	var depth int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE queue = ?`, queue).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue %s: %w", queue, err)
	}
	return depth, nil
}

// Close closes the underlying database.
func (q *SQLiteQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.db.Close()
}

func (q *SQLiteQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
