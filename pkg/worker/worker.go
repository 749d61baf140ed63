// Package worker drains the intake queue and processes one run at a time.
// Horizontal scale comes from running multiple worker processes against the
// same durable queue; the queue's atomic pop is the only mutual exclusion.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/stackboard/agentd/internal/config"
	"github.com/stackboard/agentd/internal/observability"
	"github.com/stackboard/agentd/internal/tracing"
	"github.com/stackboard/agentd/pkg/agents"
	"github.com/stackboard/agentd/pkg/contextstore"
	"github.com/stackboard/agentd/pkg/core"
	"github.com/stackboard/agentd/pkg/events"
	"github.com/stackboard/agentd/pkg/executor"
	"github.com/stackboard/agentd/pkg/intake"
	"github.com/stackboard/agentd/pkg/queue"
	"github.com/stackboard/agentd/pkg/runstate"
)

// CoreService is the slice of the core client the worker needs.
type CoreService interface {
	GetCard(ctx context.Context, cardID string) (*core.Card, error)
	GetProject(ctx context.Context, projectID string) (*core.Project, error)
	CreateRun(ctx context.Context, run core.Run) error
	UpdateRun(ctx context.Context, runID string, update core.RunUpdate) error
	TransitionCard(ctx context.Context, cardID, state string) error
}

// RunExecutor runs the tool-calling loop for one task.
type RunExecutor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Outcome, error)
}

// Config tunes the worker loop.
type Config struct {
	QueueName   string
	PollTimeout time.Duration
	IdleSleep   time.Duration
}

// Worker is the sequential execution loop.
type Worker struct {
	queue    queue.Queue
	agents   *agents.Registry
	core     CoreService
	executor RunExecutor
	store    *runstate.Store
	registry *runstate.Registry
	tasklog  *contextstore.TaskLog
	cards    *contextstore.CardStore
	outbox   *events.Outbox
	cfg      Config
	state    *State
	logger   zerolog.Logger
}

// Options collects the worker's collaborators.
type Options struct {
	Queue    queue.Queue
	Agents   *agents.Registry
	Core     CoreService
	Executor RunExecutor
	Store    *runstate.Store
	Registry *runstate.Registry
	TaskLog  *contextstore.TaskLog
	Cards    *contextstore.CardStore
	Outbox   *events.Outbox
	Config   Config
	Logger   zerolog.Logger
}

// New creates a worker.
func New(opts Options) (*Worker, error) {
	switch {
	case opts.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case opts.Agents == nil:
		return nil, fmt.Errorf("agent registry is required")
	case opts.Core == nil:
		return nil, fmt.Errorf("core service is required")
	case opts.Executor == nil:
		return nil, fmt.Errorf("executor is required")
	case opts.Store == nil:
		return nil, fmt.Errorf("run state store is required")
	case opts.Registry == nil:
		return nil, fmt.Errorf("active run registry is required")
	case opts.Config.QueueName == "":
		return nil, fmt.Errorf("queue name is required")
	}

	cfg := opts.Config
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 250 * time.Millisecond
	}

	return &Worker{
		queue:    opts.Queue,
		agents:   opts.Agents,
		core:     opts.Core,
		executor: opts.Executor,
		store:    opts.Store,
		registry: opts.Registry,
		tasklog:  opts.TaskLog,
		cards:    opts.Cards,
		outbox:   opts.Outbox,
		cfg:      cfg,
		state:    NewState(),
		logger:   opts.Logger.With().Str("component", "worker").Logger(),
	}, nil
}

// State exposes the worker's observable state.
func (w *Worker) State() *State {
	return w.state
}

// Start runs the loop until ctx is cancelled. Cancellation is cooperative:
// it is observed between polls and never preempts an in-flight run.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Str("queue", w.cfg.QueueName).Msg("Worker started")

	for {
		if ctx.Err() != nil {
			w.state.setPhase(PhaseIdle, "")
			w.logger.Info().Msg("Worker stopped")
			return
		}

		w.state.setPhase(PhaseDequeuing, "")
		item, err := w.queue.Pop(ctx, w.cfg.QueueName, w.cfg.PollTimeout)
		if err != nil {
			// Pop errors other than shutdown are already absorbed by the
			// fail-soft queue wrapper.
			continue
		}
		if item == nil {
			w.state.setPhase(PhaseIdle, "")
			select {
			case <-time.After(w.cfg.IdleSleep):
			case <-ctx.Done():
			}
			continue
		}

		w.processItem(context.WithoutCancel(ctx), item)
	}
}

// processItem decodes and runs one queued task. A run already accepted is
// finished even if shutdown begins meanwhile, hence the detached context.
func (w *Worker) processItem(ctx context.Context, item *queue.Item) {
	var task intake.Task
	if err := json.Unmarshal(item.Payload, &task); err != nil {
		w.logger.Error().Err(err).Str("item_id", item.ID).Msg("Dropping malformed queue item")
		return
	}

	w.state.setPhase(PhaseProcessing, task.RunID)
	defer w.state.setPhase(PhaseIdle, "")

	ctx = tracing.NewRunContext(ctx, task.RunID, task.AgentID, task.CardID)
	succeeded := w.processTask(ctx, task)
	w.state.recordOutcome(succeeded)
}

func (w *Worker) processTask(ctx context.Context, task intake.Task) (succeeded bool) {
	start := time.Now()
	logger := w.logger.With().
		Str("run_id", task.RunID).
		Str("card_id", task.CardID).
		Str("agent_id", task.AgentID).
		Logger()

	ctx, span := tracing.StartSpan(ctx, "agentd/worker", "run.execute",
		attribute.String("run.id", task.RunID),
		attribute.String("agent.id", task.AgentID),
		attribute.String("card.id", task.CardID),
	)
	defer span.End()

	provider := "unknown"
	status := runstate.StatusFailed
	iterations := 0

	// Cleanup runs on every terminal path. Failures here are logged as
	// post-mortem cleanup failures and never re-thrown.
	defer func() {
		w.registry.Remove(task.RunID)
		w.store.DeleteAgentState(task.RunID)
		observability.RecordRun(provider, status, time.Since(start), iterations)
		logger.Info().Str("status", status).Dur("duration", time.Since(start)).Msg("Run finished")
	}()

	fail := func(message string, err error) bool {
		if err != nil {
			logger.Error().Err(err).Msg(message)
			message = fmt.Sprintf("%s: %v", message, err)
		} else {
			logger.Error().Msg(message)
		}
		span.SetStatus(codes.Error, message)

		w.logError(task.CardID, message)
		w.emit(ctx, events.Event{
			Kind: events.KindRunFailed, RunID: task.RunID, CardID: task.CardID, AgentID: task.AgentID,
			Data: map[string]interface{}{"error": message},
		})
		if err := w.core.UpdateRun(ctx, task.RunID, core.RunUpdate{Status: "failed", Error: message, Completed: true}); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run failure")
		}
		w.store.SetRunStatus(task.RunID, runstate.StatusFailed, message)
		return false
	}

	// Step 1: register and announce.
	w.registry.Add(runstate.ActiveRun{
		RunID: task.RunID, AgentID: task.AgentID, CardID: task.CardID, StartTime: start,
	})
	w.store.SetRunStatus(task.RunID, runstate.StatusRunning, "")
	w.emit(ctx, events.Event{Kind: events.KindRunStarted, RunID: task.RunID, CardID: task.CardID, AgentID: task.AgentID})

	agent, err := w.agents.Get(task.AgentID)
	if err != nil {
		return fail("agent no longer available", err)
	}

	// Step 2: durable run record, best-effort card transition.
	if err := w.core.CreateRun(ctx, core.Run{
		ID: task.RunID, CardID: task.CardID, AgentID: task.AgentID, UserID: task.UserID,
		Status: "running", StartedAt: start,
	}); err != nil {
		return fail("failed to create run record", err)
	}
	if err := w.core.TransitionCard(ctx, task.CardID, "running"); err != nil {
		logger.Warn().Err(err).Msg("Card transition to running failed")
	}

	// Step 3: resolve context; missing card or project is fatal.
	card, err := w.core.GetCard(ctx, task.CardID)
	if err != nil {
		return fail("card not found", err)
	}
	project, err := w.core.GetProject(ctx, card.ProjectID)
	if err != nil {
		return fail("project not found", err)
	}

	// Step 4: context persistence, swallowed on failure.
	if w.tasklog != nil {
		if err := w.tasklog.InitializeContext(task.CardID, card.Title, agent.Name); err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize task log")
		}
	}
	if w.cards != nil {
		if err := w.cards.InitCardContext(ctx, task.CardID, card.ProjectID, agent.Name); err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize card context")
		}
	}

	execContext := w.buildContext(ctx, task, card, project)

	// Step 5: state snapshot guarded by TTL.
	w.store.PutAgentState(runstate.AgentState{
		RunID: task.RunID, AgentID: task.AgentID, CardID: task.CardID,
		Mode: execContext.Mode(), Status: runstate.StatusRunning, StartTime: start,
	})

	// Step 6: the tool-calling loop.
	provider = agent.Provider
	if task.Provider != "" {
		provider = task.Provider
	}
	outcome, err := w.executor.Execute(ctx, executor.Request{
		RunID: task.RunID, CardID: task.CardID, Agent: agent,
		Context: execContext, Provider: task.Provider, Model: task.Model,
	})
	if err != nil {
		return fail("execution failed", err)
	}
	provider = outcome.Provider
	iterations = outcome.Iterations

	// Step 7: persist the success and fan out.
	if err := w.completeRun(ctx, task, agent, outcome); err != nil {
		return fail("failed to persist run completion", err)
	}

	w.store.SetRunStatus(task.RunID, runstate.StatusCompleted, "")
	status = runstate.StatusCompleted
	return true
}

func (w *Worker) completeRun(ctx context.Context, task intake.Task, agent config.AgentConfig, outcome *executor.Outcome) error {
	if err := w.core.UpdateRun(ctx, task.RunID, core.RunUpdate{
		Status:       "completed",
		InputTokens:  &outcome.Usage.InputTokens,
		OutputTokens: &outcome.Usage.OutputTokens,
		ProviderCost: &outcome.Usage.ProviderCost,
		BilledAmount: &outcome.Usage.BilledAmount,
		ToolsUsed:    outcome.ToolsUsed,
		Completed:    true,
	}); err != nil {
		return err
	}

	w.emit(ctx, events.Event{
		Kind: events.KindBillingUsage, RunID: task.RunID, CardID: task.CardID, AgentID: task.AgentID,
		Data: map[string]interface{}{
			"provider":      outcome.Provider,
			"model":         outcome.Model,
			"input_tokens":  outcome.Usage.InputTokens,
			"output_tokens": outcome.Usage.OutputTokens,
			"provider_cost": outcome.Usage.ProviderCost,
			"billed_amount": outcome.Usage.BilledAmount,
		},
	})
	w.emit(ctx, events.Event{
		Kind: events.KindRunCompleted, RunID: task.RunID, CardID: task.CardID, AgentID: task.AgentID,
		Data: map[string]interface{}{"iterations": outcome.Iterations, "tools_used": outcome.ToolsUsed},
	})

	if w.tasklog != nil {
		if err := w.tasklog.LogCompletion(task.CardID, agent.Name, outcome.Content); err != nil {
			w.logger.Warn().Err(err).Str("run_id", task.RunID).Msg("Failed to log completion")
		}
	}
	if w.cards != nil {
		if err := w.cards.AppendCardMessage(ctx, task.CardID, "assistant", outcome.Content); err != nil {
			w.logger.Warn().Err(err).Str("run_id", task.RunID).Msg("Failed to append card message")
		}
	}

	w.emit(ctx, events.Event{
		Kind: events.KindAgentComplete, RunID: task.RunID, CardID: task.CardID, AgentID: task.AgentID,
		Data: map[string]interface{}{"content": outcome.Content},
	})

	if err := w.core.TransitionCard(ctx, task.CardID, "review"); err != nil {
		w.logger.Warn().Err(err).Str("run_id", task.RunID).Msg("Card transition to review failed")
	}
	return nil
}

// buildContext assembles the executor context for the task's mode.
func (w *Worker) buildContext(ctx context.Context, task intake.Task, card *core.Card, project *core.Project) executor.Context {
	if task.Mode == "conversation" && w.tasklog != nil {
		raw, err := w.tasklog.ReadContext(task.CardID)
		if err != nil {
			w.logger.Warn().Err(err).Str("card_id", task.CardID).Msg("Failed to read conversation history")
		}
		if history := contextstore.ParseConversation(raw); len(history) > 0 {
			return executor.ConversationContext{History: history}
		}
		// No usable history; fall back to a standard brief.
	}

	std := executor.StandardContext{Card: *card, Project: *project}

	if w.tasklog != nil {
		instructions, err := w.tasklog.GetInstructions(task.CardID)
		if err != nil {
			w.logger.Warn().Err(err).Str("card_id", task.CardID).Msg("Failed to read instructions")
		}
		std.Instructions = instructions
	}

	if card.ParentID != "" {
		if parent, err := w.core.GetCard(ctx, card.ParentID); err == nil {
			std.ParentSummary = summarizeCard(parent)
		}
	}
	for _, childID := range card.ChildIDs {
		if child, err := w.core.GetCard(ctx, childID); err == nil {
			std.ChildSummaries = append(std.ChildSummaries, summarizeCard(child))
		}
	}
	return std
}

func summarizeCard(card *core.Card) string {
	summary := fmt.Sprintf("%s [%s]", card.Title, card.Status)
	if desc := strings.TrimSpace(card.Description); desc != "" {
		if len(desc) > 120 {
			desc = desc[:120] + "..."
		}
		summary += ": " + desc
	}
	return summary
}

func (w *Worker) emit(ctx context.Context, event events.Event) {
	if w.outbox != nil {
		w.outbox.Emit(ctx, event)
	}
}

func (w *Worker) logError(cardID, message string) {
	if w.tasklog == nil {
		return
	}
	if err := w.tasklog.LogError(cardID, message); err != nil {
		w.logger.Warn().Err(err).Str("card_id", cardID).Msg("Failed to log run error")
	}
}
