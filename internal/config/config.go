package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main agentd configuration
type Config struct {
	// Core service collaborator
	Core CoreConfig `json:"core" mapstructure:"core"`

	// Queue backend
	Queue QueueConfig `json:"queue" mapstructure:"queue"`

	// Worker loop
	Worker WorkerConfig `json:"worker" mapstructure:"worker"`

	// Tool-calling executor
	Executor ExecutorConfig `json:"executor" mapstructure:"executor"`

	// AI provider profiles and pricing
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Agents
	Agents []AgentConfig `json:"agents" mapstructure:"agents"`

	// Directory with additional agent definition files (hot reloaded)
	AgentsDir string `json:"agents_dir" mapstructure:"agents_dir"`

	// Event fan-out
	Events EventsConfig `json:"events" mapstructure:"events"`

	// Admin/intake HTTP server
	Admin AdminConfig `json:"admin" mapstructure:"admin"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace root for tool execution
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// CoreConfig holds the core-service client configuration
type CoreConfig struct {
	BaseURL string `json:"base_url" mapstructure:"base_url"`
	Token   string `json:"token" mapstructure:"token"`
	Timeout int    `json:"timeout" mapstructure:"timeout"` // seconds
}

// QueueConfig holds queue backend configuration
type QueueConfig struct {
	Driver       string `json:"driver" mapstructure:"driver"` // sqlite, memory
	Path         string `json:"path" mapstructure:"path"`     // sqlite file path
	IntakeQueue  string `json:"intake_queue" mapstructure:"intake_queue"`
	BillingQueue string `json:"billing_queue" mapstructure:"billing_queue"`
}

// WorkerConfig holds worker loop configuration
type WorkerConfig struct {
	PollTimeout   int    `json:"poll_timeout" mapstructure:"poll_timeout"`     // seconds
	IdleSleepMs   int    `json:"idle_sleep_ms" mapstructure:"idle_sleep_ms"`   // milliseconds
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron spec
}

// ExecutorConfig holds tool-calling executor configuration
type ExecutorConfig struct {
	MaxToolIterations int `json:"max_tool_iterations" mapstructure:"max_tool_iterations"`
	CallTimeout       int `json:"call_timeout" mapstructure:"call_timeout"`           // seconds, per gateway call
	MaxRetries        int `json:"max_retries" mapstructure:"max_retries"`             // gateway call attempts
	BackoffMinMs      int `json:"backoff_min_ms" mapstructure:"backoff_min_ms"`       // milliseconds
	BackoffMaxMs      int `json:"backoff_max_ms" mapstructure:"backoff_max_ms"`       // milliseconds
	MaxTokens         int `json:"max_tokens" mapstructure:"max_tokens"`               // default completion budget
	ToolTimeout       int `json:"tool_timeout" mapstructure:"tool_timeout"`           // seconds, per tool call
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
	// BilledMultiplier converts provider cost into the billed amount.
	BilledMultiplier float64 `json:"billed_multiplier" mapstructure:"billed_multiplier"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string  `json:"id" mapstructure:"id"`
	Provider string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string  `json:"api_key" mapstructure:"api_key"`
	// Pricing per million tokens, used for provider cost accounting.
	InputPricePerMTok  float64 `json:"input_price_per_mtok" mapstructure:"input_price_per_mtok"`
	OutputPricePerMTok float64 `json:"output_price_per_mtok" mapstructure:"output_price_per_mtok"`
}

// AgentConfig represents an agent definition
type AgentConfig struct {
	ID           string           `json:"id" mapstructure:"id"`
	Name         string           `json:"name" mapstructure:"name"`
	SystemPrompt string           `json:"system_prompt" mapstructure:"system_prompt"`
	Provider     string           `json:"provider" mapstructure:"provider"`
	Model        string           `json:"model" mapstructure:"model"`
	Temperature  float64          `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int              `json:"max_tokens" mapstructure:"max_tokens"`
	Tools        ToolPolicyConfig `json:"tools" mapstructure:"tools"`
}

// ToolPolicyConfig defines tool access policies
type ToolPolicyConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// EventsConfig holds event fan-out configuration
type EventsConfig struct {
	LogStreamURL string `json:"log_stream_url" mapstructure:"log_stream_url"` // websocket endpoint, empty disables
	SSEAPIBase   string `json:"sse_api_base" mapstructure:"sse_api_base"`     // sibling service base URL, empty disables
}

// AdminConfig holds the admin/intake HTTP server configuration
type AdminConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			BaseURL: "http://localhost:4000",
			Timeout: 15,
		},
		Queue: QueueConfig{
			Driver:       "sqlite",
			IntakeQueue:  "agent-executions",
			BillingQueue: "billing-usage",
		},
		Worker: WorkerConfig{
			PollTimeout:   2,
			IdleSleepMs:   250,
			SweepSchedule: "@every 10m",
		},
		Executor: ExecutorConfig{
			MaxToolIterations: 10,
			CallTimeout:       300,
			MaxRetries:        3,
			BackoffMinMs:      2000,
			BackoffMaxMs:      30000,
			MaxTokens:         4096,
			ToolTimeout:       60,
		},
		AI: AIConfig{
			Profiles:         []AIProfile{},
			BilledMultiplier: 1.2,
		},
		Events: EventsConfig{},
		Admin: AdminConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Agents: []AgentConfig{},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
	}

	if c.Queue.Driver != "sqlite" && c.Queue.Driver != "memory" {
		return fmt.Errorf("invalid queue driver %s (must be: sqlite, memory)", c.Queue.Driver)
	}
	if c.Queue.IntakeQueue == "" {
		return fmt.Errorf("intake queue name is required")
	}
	if c.Queue.BillingQueue == "" {
		return fmt.Errorf("billing queue name is required")
	}

	if c.Executor.MaxToolIterations <= 0 {
		return fmt.Errorf("executor max_tool_iterations must be positive")
	}
	if c.Executor.BackoffMinMs > c.Executor.BackoffMaxMs {
		return fmt.Errorf("executor backoff_min_ms cannot exceed backoff_max_ms")
	}

	for i, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent %d: ID is required", i)
		}
		if agent.Model == "" {
			return fmt.Errorf("agent %s: model is required", agent.ID)
		}
		if agent.Temperature < 0 || agent.Temperature > 1 {
			return fmt.Errorf("agent %s: temperature must be between 0 and 1", agent.ID)
		}
	}

	return nil
}
