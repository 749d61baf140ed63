package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for run ID
	RunIDKey ContextKey = "run_id"
	// AgentIDKey is the context key for agent ID
	AgentIDKey ContextKey = "agent_id"
	// CardIDKey is the context key for card ID
	CardIDKey ContextKey = "card_id"
	// WorkspaceIDKey is the context key for workspace ID
	WorkspaceIDKey ContextKey = "workspace_id"
)

// TraceContext holds the identifiers attached to one execution.
type TraceContext struct {
	TraceID     string
	RunID       string
	AgentID     string
	CardID      string
	WorkspaceID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// WithCardID adds a card ID to the context
func WithCardID(ctx context.Context, cardID string) context.Context {
	return context.WithValue(ctx, CardIDKey, cardID)
}

// WithWorkspaceID adds a workspace ID to the context
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, WorkspaceIDKey, workspaceID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string {
	if agentID, ok := ctx.Value(AgentIDKey).(string); ok {
		return agentID
	}
	return ""
}

// GetCardID retrieves the card ID from the context
func GetCardID(ctx context.Context) string {
	if cardID, ok := ctx.Value(CardIDKey).(string); ok {
		return cardID
	}
	return ""
}

// GetWorkspaceID retrieves the workspace ID from the context
func GetWorkspaceID(ctx context.Context) string {
	if workspaceID, ok := ctx.Value(WorkspaceIDKey).(string); ok {
		return workspaceID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:     GetTraceID(ctx),
		RunID:       GetRunID(ctx),
		AgentID:     GetAgentID(ctx),
		CardID:      GetCardID(ctx),
		WorkspaceID: GetWorkspaceID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	if tc.AgentID != "" {
		ctx = WithAgentID(ctx, tc.AgentID)
	}
	if tc.CardID != "" {
		ctx = WithCardID(ctx, tc.CardID)
	}
	if tc.WorkspaceID != "" {
		ctx = WithWorkspaceID(ctx, tc.WorkspaceID)
	}
	return ctx
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext creates a context carrying the identifiers of one run.
func NewRunContext(ctx context.Context, runID, agentID, cardID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = NewRequestContext(ctx)
	}
	ctx = WithRunID(ctx, runID)
	ctx = WithAgentID(ctx, agentID)
	ctx = WithCardID(ctx, cardID)
	return ctx
}
