// Package events fans run lifecycle events out to best-effort sinks: the
// log stream websocket, the billing queue and the SSE relay. Sink failures
// are counted and logged but never reach the worker's critical path.
package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackboard/agentd/internal/observability"
)

// Event kinds emitted by the worker.
const (
	KindRunStarted    = "run_started"
	KindRunCompleted  = "run_completed"
	KindRunFailed     = "run_failed"
	KindToolExecuted  = "tool_executed"
	KindAgentComplete = "agent_complete"
	KindBillingUsage  = "billing_usage"
)

// Event is one run lifecycle notification.
type Event struct {
	Kind      string                 `json:"kind"`
	RunID     string                 `json:"run_id"`
	CardID    string                 `json:"card_id,omitempty"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Seq       int64                  `json:"seq"`
}

// Sink delivers events somewhere. Emit must be best-effort: implementations
// report failure through their return value and must never panic or block
// longer than their own timeout.
type Sink interface {
	Name() string
	Emit(ctx context.Context, event Event) error
	Close() error
}

// Outbox broadcasts each event to every registered sink.
type Outbox struct {
	sinks  []Sink
	logger zerolog.Logger
	seq    uint64
}

// NewOutbox creates an outbox over the given sinks.
func NewOutbox(logger zerolog.Logger, sinks ...Sink) *Outbox {
	return &Outbox{
		sinks:  sinks,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Emit stamps the event and delivers it to every sink. Always returns; a
// failing sink only costs a warning and a counter increment.
func (o *Outbox) Emit(ctx context.Context, event Event) {
	event.Timestamp = time.Now().UnixMilli()
	event.Seq = int64(atomic.AddUint64(&o.seq, 1))

	for _, sink := range o.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			observability.RecordSinkFailure(sink.Name())
			o.logger.Warn().
				Err(err).
				Str("sink", sink.Name()).
				Str("kind", event.Kind).
				Str("run_id", event.RunID).
				Msg("Event sink emit failed")
			continue
		}
		observability.RecordSinkEmit(sink.Name())
	}
}

// Close closes all sinks.
func (o *Outbox) Close() {
	for _, sink := range o.sinks {
		if err := sink.Close(); err != nil {
			o.logger.Warn().Err(err).Str("sink", sink.Name()).Msg("Event sink close failed")
		}
	}
}
