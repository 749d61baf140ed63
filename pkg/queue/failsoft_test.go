package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenQueue struct{}

func (b *brokenQueue) Push(context.Context, string, []byte) error { return errors.New("backend down") }
func (b *brokenQueue) Pop(context.Context, string, time.Duration) (*Item, error) {
	return nil, errors.New("backend down")
}
func (b *brokenQueue) Depth(context.Context, string) (int, error) {
	return 0, errors.New("backend down")
}
func (b *brokenQueue) Close() error { return nil }

func TestFailSoftQueue(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	ctx := context.Background()

	t.Run("should swallow push failures", func(t *testing.T) {
		q := FailSoft(&brokenQueue{}, logger)
		assert.NoError(t, q.Push(ctx, "billing", []byte("event")))
	})

	t.Run("should treat pop failures as empty", func(t *testing.T) {
		q := FailSoft(&brokenQueue{}, logger)
		item, err := q.Pop(ctx, "intake", 0)
		assert.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("should report zero depth on failure", func(t *testing.T) {
		q := FailSoft(&brokenQueue{}, logger)
		depth, err := q.Depth(ctx, "intake")
		assert.NoError(t, err)
		assert.Zero(t, depth)
	})

	t.Run("should pass through a healthy queue", func(t *testing.T) {
		inner := NewMemoryQueue()
		defer inner.Close()

		q := FailSoft(inner, logger)
		require.NoError(t, q.Push(ctx, "intake", []byte("ok")))

		item, err := q.Pop(ctx, "intake", 0)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, "ok", string(item.Payload))
	})

	t.Run("should preserve context cancellation from pop", func(t *testing.T) {
		inner := NewMemoryQueue()
		defer inner.Close()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		q := FailSoft(inner, logger)
		_, err := q.Pop(cancelled, "intake", time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
