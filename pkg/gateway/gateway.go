// Package gateway abstracts the AI providers behind a single chat contract.
// Adapters translate to each provider SDK; pricing turns raw token counts
// into the provider cost and the billed amount.
package gateway

import (
	"context"
	"fmt"

	"github.com/stackboard/agentd/internal/config"
)

// Message roles exchanged with the gateway.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request is a single chat call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Temperature  float64
	MaxTokens    int
}

// Usage accounts for one chat call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	ProviderCost float64 `json:"provider_cost"`
	BilledAmount float64 `json:"billed_amount"`
}

// Add accumulates another call's usage into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.ProviderCost += other.ProviderCost
	u.BilledAmount += other.BilledAmount
}

// Reply is the model's answer to one chat call.
type Reply struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Gateway is the provider-neutral chat contract.
type Gateway interface {
	// Chat performs one model call. Implementations must honor ctx
	// cancellation and deadlines.
	Chat(ctx context.Context, req Request) (*Reply, error)

	// Provider returns the provider name for logs and metrics.
	Provider() string
}

// New creates a gateway for the given AI profile. The billed multiplier is
// applied on top of the provider cost computed from the profile's pricing.
func New(profile config.AIProfile, billedMultiplier float64) (Gateway, error) {
	pricing := newPricing(profile, billedMultiplier)

	switch profile.Provider {
	case "anthropic":
		return newAnthropicGateway(profile.APIKey, pricing), nil
	case "openai":
		return newOpenAIGateway(profile.APIKey, pricing), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
