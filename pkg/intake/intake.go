// Package intake accepts execution requests, validates them, and enqueues
// them for the worker. Acceptance is fire-and-forget: the caller gets a run
// ID immediately and follows progress through run status and the task log.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/stackboard/agentd/internal/observability"
	"github.com/stackboard/agentd/pkg/agents"
	"github.com/stackboard/agentd/pkg/queue"
)

const runIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Request is an execution request as submitted by a caller.
type Request struct {
	CardID      string          `json:"cardId"`
	AgentID     string          `json:"agentId"`
	UserID      string          `json:"userId"`
	WorkspaceID string          `json:"workspaceId"`
	Mode        string          `json:"mode,omitempty"`     // standard (default) or conversation
	Provider    string          `json:"provider,omitempty"` // override
	Model       string          `json:"model,omitempty"`    // override
	Context     json.RawMessage `json:"context,omitempty"`
	Priority    int             `json:"priority,omitempty"` // carried but not used for scheduling
}

// Task is the queued unit of work: the request plus its allocated run ID.
type Task struct {
	RunID string `json:"runId"`
	Request
}

// Acceptance is the synchronous response to a submission.
type Acceptance struct {
	RunID   string `json:"runId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Intake validates and enqueues execution requests.
type Intake struct {
	queue     queue.Queue
	queueName string
	agents    *agents.Registry
	logger    zerolog.Logger
}

// New creates an intake over the given queue and agent registry.
func New(q queue.Queue, queueName string, registry *agents.Registry, logger zerolog.Logger) (*Intake, error) {
	if q == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if queueName == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("agent registry is required")
	}

	return &Intake{
		queue:     q,
		queueName: queueName,
		agents:    registry,
		logger:    logger.With().Str("component", "intake").Logger(),
	}, nil
}

// Submit validates the request and enqueues it. Validation failures are
// rejected synchronously and never enqueued.
func (i *Intake) Submit(ctx context.Context, req Request) Acceptance {
	if req.CardID == "" {
		observability.RecordIntake(false)
		return Acceptance{Status: "failed", Message: "cardId is required"}
	}
	if req.AgentID == "" {
		observability.RecordIntake(false)
		return Acceptance{Status: "failed", Message: "agentId is required"}
	}
	if req.Mode != "" && req.Mode != "standard" && req.Mode != "conversation" {
		observability.RecordIntake(false)
		return Acceptance{Status: "failed", Message: fmt.Sprintf("invalid mode: %s", req.Mode)}
	}
	if _, err := i.agents.Get(req.AgentID); err != nil {
		observability.RecordIntake(false)
		return Acceptance{Status: "failed", Message: fmt.Sprintf("unknown agent: %s", req.AgentID)}
	}

	task := Task{RunID: newRunID(), Request: req}
	payload, err := json.Marshal(task)
	if err != nil {
		observability.RecordIntake(false)
		return Acceptance{Status: "failed", Message: "failed to encode request"}
	}

	if err := i.queue.Push(ctx, i.queueName, payload); err != nil {
		observability.RecordIntake(false)
		i.logger.Error().Err(err).Str("run_id", task.RunID).Msg("Failed to enqueue execution")
		return Acceptance{Status: "failed", Message: "failed to enqueue execution"}
	}

	observability.RecordIntake(true)
	i.logger.Info().
		Str("run_id", task.RunID).
		Str("card_id", req.CardID).
		Str("agent_id", req.AgentID).
		Msg("Execution accepted")

	return Acceptance{RunID: task.RunID, Status: "started"}
}

func newRunID() string {
	suffix, err := gonanoid.Generate(runIDAlphabet, 8)
	if err != nil {
		// nanoid only fails when the platform RNG is broken.
		suffix = fmt.Sprintf("%08d", time.Now().Nanosecond())
	}
	return fmt.Sprintf("run-%d-%s", time.Now().UnixMilli(), suffix)
}
