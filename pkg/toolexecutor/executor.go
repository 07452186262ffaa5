package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrUnknownTool is reported when the model names a tool that was never declared
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is reported when arguments fail the declared schema
	ErrInvalidArguments = errors.New("invalid arguments")
)

// ToolParameter defines a top-level argument of a tool
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Items       string   `json:"items,omitempty"` // element type for arrays
	Enum        []string `json:"enum,omitempty"`  // allowed values (array elements for arrays)
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution. params has
// already passed schema validation.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success  bool                   `json:"success"`
	Output   interface{}            `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Err      error                  `json:"-"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Payload returns what the model sees for this result: the handler output
// on success, {"error": ...} otherwise.
func (r ToolResult) Payload() interface{} {
	if r.Success {
		return r.Output
	}
	return map[string]interface{}{"error": r.Error}
}

// Observer records dispatch outcomes
type Observer interface {
	ObserveToolExecution(tool string, success bool, duration time.Duration)
}

// Registry manages and dispatches tools. Dispatch holds no state beyond the
// declarations made at startup.
type Registry struct {
	tools    map[string]*ToolDefinition
	schemas  map[string]*gojsonschema.Schema
	order    []string
	timeout  time.Duration
	observer Observer
	mu       sync.RWMutex
}

// Option configures a Registry
type Option func(*Registry)

// WithTimeout bounds each handler invocation
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithObserver records every dispatch
func WithObserver(observer Observer) Option {
	return func(r *Registry) { r.observer = observer }
}

// New creates an empty Registry
func New(opts ...Option) *Registry {
	r := &Registry{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}

	log.Debug().Msg("Tool registry initialized")

	return r
}

// RegisterTool declares a tool
func (r *Registry) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(InputSchema(def)))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema
	r.order = append(r.order, def.Name)

	log.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// GetTool returns a tool definition by name
func (r *Registry) GetTool(name string) *ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.tools[name]
}

// Definitions returns every declared tool in declaration order
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, *r.tools[name])
	}
	return defs
}

// Dispatch validates rawArgs against the tool's schema and runs its handler.
// Unknown tools, malformed or invalid arguments, handler errors, panics and
// timeouts are all reported through the returned ToolResult.
func (r *Registry) Dispatch(ctx context.Context, toolName string, rawArgs json.RawMessage) ToolResult {
	startTime := time.Now()
	result := r.dispatch(ctx, toolName, rawArgs)

	duration := time.Since(startTime)
	if result.Metadata == nil {
		result.Metadata = map[string]interface{}{}
	}
	result.Metadata["duration"] = duration.Milliseconds()

	if r.observer != nil {
		r.observer.ObserveToolExecution(toolName, result.Success, duration)
	}

	return result
}

func (r *Registry) dispatch(ctx context.Context, toolName string, rawArgs json.RawMessage) ToolResult {
	r.mu.RLock()
	tool := r.tools[toolName]
	schema := r.schemas[toolName]
	r.mu.RUnlock()

	if tool == nil {
		log.Warn().Str("tool", toolName).Msg("Tool not found")
		return failure(fmt.Errorf("%w %s", ErrUnknownTool, toolName))
	}

	params, err := decodeArguments(rawArgs)
	if err != nil {
		log.Warn().Str("tool", toolName).Err(err).Msg("Malformed tool arguments")
		return failure(fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}

	if err := validateParameters(schema, params); err != nil {
		log.Warn().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return failure(fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}

	log.Debug().Str("tool", toolName).Msg("Executing tool")

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", toolName, p)}
			}
		}()
		value, err := tool.Handler(timeoutCtx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			log.Error().Str("tool", toolName).Err(out.err).Msg("Tool execution failed")
			return failure(out.err)
		}
		return ToolResult{Success: true, Output: out.value}

	case <-timeoutCtx.Done():
		log.Error().Str("tool", toolName).Dur("timeout", r.timeout).Msg("Tool execution timeout")
		return failure(fmt.Errorf("tool execution timeout after %v: %w", r.timeout, timeoutCtx.Err()))
	}
}

func failure(err error) ToolResult {
	return ToolResult{Success: false, Error: err.Error(), Err: err}
}

func decodeArguments(rawArgs json.RawMessage) (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if len(rawArgs) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(rawArgs, &params); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %v", err)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return params, nil
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
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
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
		if param.Items != "" && !validTypes[param.Items] {
			return fmt.Errorf("invalid item type %q for %s", param.Items, param.Name)
		}
	}

	return nil
}

// InputSchema builds the JSON Schema advertised to the model and used for
// validation. Unknown top-level keys are rejected.
func InputSchema(def ToolDefinition) map[string]interface{} {
	properties := map[string]interface{}{}
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}

		enum := make([]interface{}, 0, len(param.Enum))
		for _, v := range param.Enum {
			enum = append(enum, v)
		}

		if param.Type == "array" {
			items := map[string]interface{}{"type": "string"}
			if param.Items != "" {
				items["type"] = param.Items
			}
			if len(enum) > 0 {
				items["enum"] = enum
			}
			paramSchema["items"] = items
		} else if len(enum) > 0 {
			paramSchema["enum"] = enum
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

// StrictCompatible reports whether every parameter is required, which
// providers with strict schema adherence demand.
func StrictCompatible(def ToolDefinition) bool {
	for _, param := range def.Parameters {
		if !param.Required {
			return false
		}
	}
	return true
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}
