// Package executor runs the tool-calling loop for one run: call the model,
// execute any requested tools sequentially, feed results back, and stop on
// the first tool-free reply or at the iteration cap.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackboard/agentd/internal/config"
	"github.com/stackboard/agentd/internal/observability"
	"github.com/stackboard/agentd/pkg/contextstore"
	"github.com/stackboard/agentd/pkg/events"
	"github.com/stackboard/agentd/pkg/gateway"
	"github.com/stackboard/agentd/pkg/tools"
)

// iterationCapFallback is returned when the loop hits the cap without any
// assistant text to show.
const iterationCapFallback = "Reached the tool iteration limit before producing a final answer."

// Config bounds the executor's loop and its gateway calls.
type Config struct {
	MaxToolIterations int
	CallTimeout       time.Duration
	MaxRetries        int
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	DefaultMaxTokens  int
}

// ConfigFromApp converts the application executor settings.
func ConfigFromApp(cfg config.ExecutorConfig) Config {
	return Config{
		MaxToolIterations: cfg.MaxToolIterations,
		CallTimeout:       time.Duration(cfg.CallTimeout) * time.Second,
		MaxRetries:        cfg.MaxRetries,
		BackoffMin:        time.Duration(cfg.BackoffMinMs) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
		DefaultMaxTokens:  cfg.MaxTokens,
	}
}

// Request describes one run handed to the executor.
type Request struct {
	RunID   string
	CardID  string
	Agent   config.AgentConfig
	Context Context

	// Optional overrides; the agent's defaults apply when empty.
	Provider string
	Model    string
}

// Outcome is the executor's result for one run.
type Outcome struct {
	Content         string
	Provider        string
	Model           string
	Usage           gateway.Usage
	ToolsUsed       []string
	Iterations      int
	IterationCapped bool
}

// Executor drives the tool-calling loop.
type Executor struct {
	gateways map[string]gateway.Gateway
	tools    *tools.Registry
	tasklog  *contextstore.TaskLog
	outbox   *events.Outbox
	cfg      Config
	logger   zerolog.Logger
}

// New creates an executor. The gateways map is keyed by provider name.
func New(gateways map[string]gateway.Gateway, registry *tools.Registry, tasklog *contextstore.TaskLog, outbox *events.Outbox, cfg Config, logger zerolog.Logger) (*Executor, error) {
	if len(gateways) == 0 {
		return nil, fmt.Errorf("at least one gateway is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 10
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 2 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = 30 * time.Second
	}

	return &Executor{
		gateways: gateways,
		tools:    registry,
		tasklog:  tasklog,
		outbox:   outbox,
		cfg:      cfg,
		logger:   logger.With().Str("component", "executor").Logger(),
	}, nil
}

// Execute runs the tool-calling loop to completion. Gateway errors that
// survive the retry policy are the only error return; tool failures are fed
// back to the model instead.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	provider := req.Agent.Provider
	if req.Provider != "" {
		provider = req.Provider
	}
	model := req.Agent.Model
	if req.Model != "" {
		model = req.Model
	}

	gw, ok := e.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("no gateway configured for provider %s", provider)
	}

	maxTokens := req.Agent.MaxTokens
	if maxTokens <= 0 {
		maxTokens = e.cfg.DefaultMaxTokens
	}

	policy := tools.PolicyFromConfig(req.Agent.Tools)
	definitions := e.tools.Definitions(policy)

	messages := append(
		[]gateway.Message{{Role: gateway.RoleSystem, Content: req.Agent.SystemPrompt}},
		req.Context.messages()...,
	)

	logger := e.logger.With().
		Str("run_id", req.RunID).
		Str("card_id", req.CardID).
		Str("provider", provider).
		Str("model", model).
		Logger()

	outcome := &Outcome{Provider: provider, Model: model}
	toolsSeen := map[string]bool{}
	lastContent := ""

	for iteration := 1; iteration <= e.cfg.MaxToolIterations; iteration++ {
		outcome.Iterations = iteration

		reply, err := e.chatWithRetry(ctx, gw, gateway.Request{
			Model:        model,
			SystemPrompt: req.Agent.SystemPrompt,
			Messages:     messages,
			Tools:        definitions,
			Temperature:  req.Agent.Temperature,
			MaxTokens:    maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("gateway call failed on iteration %d: %w", iteration, err)
		}

		outcome.Usage.Add(reply.Usage)
		observability.RecordTokens(provider, reply.Usage.InputTokens, reply.Usage.OutputTokens)

		if len(reply.ToolCalls) == 0 {
			outcome.Content = reply.Content
			logger.Debug().Int("iterations", iteration).Msg("Executor finished")
			return outcome, nil
		}

		if reply.Content != "" {
			lastContent = reply.Content
		}

		messages = append(messages, gateway.Message{
			Role:      gateway.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})

		names := make([]string, len(reply.ToolCalls))
		for i, tc := range reply.ToolCalls {
			names[i] = tc.Name
		}
		e.emit(ctx, events.Event{
			Kind:    events.KindToolExecuted,
			RunID:   req.RunID,
			CardID:  req.CardID,
			AgentID: req.Agent.ID,
			Data:    map[string]interface{}{"phase": "start", "tools": names},
		})
		logger.Debug().Strs("tools", names).Int("iteration", iteration).Msg("Executing tool calls")

		// Strictly sequential; a failure is reported back to the model,
		// never thrown.
		for _, tc := range reply.ToolCalls {
			if !toolsSeen[tc.Name] {
				toolsSeen[tc.Name] = true
				outcome.ToolsUsed = append(outcome.ToolsUsed, tc.Name)
			}

			argsJSON, _ := json.Marshal(tc.Arguments)
			e.logToolCall(req.CardID, tc.Name, string(argsJSON))

			result := e.tools.Execute(ctx, tc.Name, tc.Arguments, policy)

			e.logToolResult(req.CardID, tc.Name, result)
			e.emit(ctx, events.Event{
				Kind:    events.KindToolExecuted,
				RunID:   req.RunID,
				CardID:  req.CardID,
				AgentID: req.Agent.ID,
				Data:    map[string]interface{}{"phase": "done", "tool": tc.Name, "success": result.Success},
			})

			messages = append(messages, gateway.Message{
				Role:       gateway.RoleTool,
				ToolCallID: tc.ID,
				Content:    toolMessageContent(result),
			})
		}
	}

	outcome.IterationCapped = true
	if lastContent != "" {
		outcome.Content = lastContent + "\n\n[stopped: tool iteration limit reached]"
	} else {
		outcome.Content = iterationCapFallback
	}
	logger.Warn().Int("iterations", outcome.Iterations).Msg("Tool iteration limit reached")
	return outcome, nil
}

// chatWithRetry wraps one gateway call in a hard timeout and a bounded
// exponential backoff retry policy.
func (e *Executor) chatWithRetry(ctx context.Context, gw gateway.Gateway, req gateway.Request) (*gateway.Reply, error) {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		reply, err := gw.Chat(callCtx, req)
		cancel()

		if err == nil {
			return reply, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == e.cfg.MaxRetries {
			break
		}

		observability.RecordGatewayRetry(gw.Provider())
		delay := e.cfg.BackoffMin << (attempt - 1)
		if delay > e.cfg.BackoffMax {
			delay = e.cfg.BackoffMax
		}
		e.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Gateway call failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("gateway call failed after %d attempts: %w", e.cfg.MaxRetries, lastErr)
}

// toolMessageContent serializes a tool result for the model: {"data": ...}
// on success, {"error": ...} on failure.
func toolMessageContent(result tools.Result) string {
	var payload map[string]interface{}
	if result.Success {
		payload = map[string]interface{}{"data": result.Data}
	} else {
		payload = map[string]interface{}{"error": result.Error}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		escaped := strings.ReplaceAll(fmt.Sprintf("%v", payload), `"`, `'`)
		return fmt.Sprintf(`{"error":"unserializable tool result: %s"}`, escaped)
	}
	return string(data)
}

func (e *Executor) emit(ctx context.Context, event events.Event) {
	if e.outbox != nil {
		e.outbox.Emit(ctx, event)
	}
}

func (e *Executor) logToolCall(cardID, tool, args string) {
	if e.tasklog == nil {
		return
	}
	if err := e.tasklog.LogToolCall(cardID, tool, args); err != nil {
		e.logger.Warn().Err(err).Str("tool", tool).Msg("Failed to log tool call")
	}
}

func (e *Executor) logToolResult(cardID, tool string, result tools.Result) {
	if e.tasklog == nil {
		return
	}
	summary := ""
	if !result.Success {
		summary = result.Error
	}
	if err := e.tasklog.LogToolResult(cardID, tool, result.Success, summary); err != nil {
		e.logger.Warn().Err(err).Str("tool", tool).Msg("Failed to log tool result")
	}
}
