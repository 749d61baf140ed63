// Package tools manages the tool registry the executor exposes to agents.
// Definitions carry a parameter list compiled into a JSON Schema; arguments
// are validated against it before the handler runs.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/stackboard/agentd/internal/config"
	"github.com/stackboard/agentd/internal/observability"
	"github.com/stackboard/agentd/pkg/gateway"
)

// Policy defines which tools an agent can use.
type Policy struct {
	Allow []string
	Deny  []string
}

// PolicyFromConfig converts an agent's configured tool policy.
func PolicyFromConfig(cfg config.ToolPolicyConfig) Policy {
	return Policy{Allow: cfg.Allow, Deny: cfg.Deny}
}

// IsAllowed checks a tool against the policy. Deny entries override allow
// entries; an empty allow list denies everything.
func (p Policy) IsAllowed(toolName string) bool {
	for _, denied := range p.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}
	for _, allowed := range p.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}
	return false
}

// Parameter defines a parameter for a tool.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     interface{}
}

// Handler is the function signature for tool execution.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Definition defines a tool's metadata and handler.
type Definition struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
}

// Result is the outcome of one tool execution, serialized back to the model.
type Result struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Truncated bool        `json:"truncated,omitempty"`
}

// Registry manages and executes tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
}

// NewRegistry creates an empty registry. The timeout bounds each handler.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: timeout,
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Definitions returns the gateway tool definitions permitted by the policy,
// sorted by name so the prompt is stable across runs.
func (r *Registry) Definitions(policy Policy) []gateway.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]gateway.ToolDefinition, 0, len(r.tools))
	for name, def := range r.tools {
		if !policy.IsAllowed(name) {
			continue
		}
		defs = append(defs, gateway.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schemaMap(*def),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a tool. Failures are reported in the Result, never as a
// panic or error return; the caller always has something to hand back to
// the model.
func (r *Registry) Execute(ctx context.Context, toolName string, args map[string]interface{}, policy Policy) Result {
	start := time.Now()

	if !policy.IsAllowed(toolName) {
		log.Warn().Str("tool", toolName).Msg("Tool execution blocked by policy")
		return Result{Success: false, Error: fmt.Sprintf("tool '%s' is not allowed by agent policy", toolName)}
	}

	r.mu.RLock()
	def := r.tools[toolName]
	schema := r.schemas[toolName]
	r.mu.RUnlock()

	if def == nil {
		log.Error().Str("tool", toolName).Msg("Tool not found")
		return Result{Success: false, Error: fmt.Sprintf("tool not found: %s", toolName)}
	}

	if err := validateArgs(schema, args); err != nil {
		log.Error().Str("tool", toolName).Err(err).Msg("Argument validation failed")
		return Result{Success: false, Error: fmt.Sprintf("argument validation failed: %v", err)}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		data, err := def.Handler(timeoutCtx, args)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- data
		}
	}()

	select {
	case data := <-resultChan:
		duration := time.Since(start)
		output, truncated := truncateOutput(data)
		observability.RecordToolExecution(toolName, duration, true)
		log.Debug().Str("tool", toolName).Dur("duration", duration).Msg("Tool execution completed")
		return Result{Success: true, Data: output, Truncated: truncated}

	case err := <-errChan:
		duration := time.Since(start)
		observability.RecordToolExecution(toolName, duration, false)
		log.Error().Str("tool", toolName).Dur("duration", duration).Err(err).Msg("Tool execution failed")
		return Result{Success: false, Error: err.Error()}

	case <-timeoutCtx.Done():
		duration := time.Since(start)
		observability.RecordToolExecution(toolName, duration, false)
		log.Error().Str("tool", toolName).Dur("duration", duration).Msg("Tool execution timeout")
		return Result{Success: false, Error: fmt.Sprintf("tool execution timeout after %v", r.timeout)}
	}
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}
	return nil
}

// schemaMap builds the JSON Schema document for a definition.
func schemaMap(def Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap(def)))
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		errors := []string{}
		for _, e := range result.Errors() {
			errors = append(errors, e.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}
	return nil
}

// truncateOutput bounds what a single tool call can feed back to the model.
func truncateOutput(output interface{}) (interface{}, bool) {
	const maxSize = 10 * 1024

	str, ok := output.(string)
	if !ok {
		return output, false
	}
	if len(str) <= maxSize {
		return output, false
	}
	return str[:maxSize] + "\n... [output truncated]", true
}
