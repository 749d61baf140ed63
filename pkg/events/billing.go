package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stackboard/agentd/pkg/queue"
)

// BillingSink pushes usage events onto the billing queue for the billing
// pipeline to drain. Only billing_usage events are forwarded; everything
// else is ignored.
type BillingSink struct {
	queue     queue.Queue
	queueName string
}

// NewBillingSink creates a billing sink. The queue should already be
// wrapped fail-soft by the caller so a down backend cannot fail a run.
func NewBillingSink(q queue.Queue, queueName string) *BillingSink {
	return &BillingSink{queue: q, queueName: queueName}
}

func (s *BillingSink) Name() string {
	return "billing"
}

func (s *BillingSink) Emit(ctx context.Context, event Event) error {
	if event.Kind != KindBillingUsage {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal billing event: %w", err)
	}
	return s.queue.Push(ctx, s.queueName, payload)
}

func (s *BillingSink) Close() error {
	return nil
}
