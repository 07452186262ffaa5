package agent

import (
	"encoding/json"
	"strings"
)

// Conversation roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Defaults applied by NewOrchestrator
const (
	DefaultModel         = "gpt-4o-mini"
	DefaultTemperature   = 0.2
	DefaultMaxIterations = 5
	DefaultMaxTokens     = 4096

	// BudgetExceededAnswer is returned when the model keeps requesting tools
	// after the iteration budget is spent.
	BudgetExceededAnswer = "Stopped after max tool iterations."
)

// DefaultSystemPrompt is the fixed instruction that opens every conversation
const DefaultSystemPrompt = "You are a Salesforce engineering agent that answers questions using tools only when needed. " +
	"Prefer the smallest set of tool calls to answer accurately. " +
	"If code or schema is requested, call the appropriate tool by exact name."

// Message is one entry of a run's conversation
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments are kept
// as the raw JSON the provider sent so malformed input reaches the registry.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolSpec is a tool as advertised to the model
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	Strict      bool                   `json:"strict,omitempty"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ToolCallLog records one dispatched invocation
type ToolCallLog struct {
	Name  string      `json:"name"`
	Args  interface{} `json:"args"`
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
}

// RunResult is the outcome of one run
type RunResult struct {
	Answer         string        `json:"answer"`
	ToolCalls      []ToolCallLog `json:"tool_calls"`
	TotalTokens    *int          `json:"total_tokens"`
	Iterations     int           `json:"iterations"`
	BudgetExceeded bool          `json:"budget_exceeded,omitempty"`
}

// IsRetryableError checks if a model call error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := strings.ToLower(err.Error())

	// Network errors
	for _, marker := range []string{"econnreset", "etimedout", "connection reset", "connection refused", "eof"} {
		if strings.Contains(errMsg, marker) {
			return true
		}
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504", "529"} {
		if strings.Contains(errMsg, code) {
			return true
		}
	}

	return false
}
