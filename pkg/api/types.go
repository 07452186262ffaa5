package api

import (
	"context"
	"net/http"
	"time"

	"github.com/harun/sfagent/pkg/agent"
)

// StreamPlaceholder is sent by the streaming endpoint before it closes
const StreamPlaceholder = "Streaming not yet implemented"

// QueryRequest is the body of POST /query
type QueryRequest struct {
	Question      string `json:"question"`
	SessionID     string `json:"session_id,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// QueryResponse is returned by POST /query
type QueryResponse struct {
	Answer      string              `json:"answer"`
	ToolCalls   []agent.ToolCallLog `json:"tool_calls"`
	TotalTokens *int                `json:"total_tokens"`
	DurationMs  int64               `json:"duration_ms"`
	SessionID   string              `json:"session_id,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON reply
type ErrorResponse struct {
	Error     string              `json:"error"`
	RequestID string              `json:"request_id,omitempty"`
	ToolCalls []agent.ToolCallLog `json:"tool_calls,omitempty"`
}

// Runner answers questions
type Runner interface {
	Run(ctx context.Context, question string, maxIterations int) (agent.RunResult, error)
}

// Metrics exposes the scrape handler and records requests
type Metrics interface {
	Handler() http.Handler
	ObserveHTTPRequest(route, method string, code int, duration time.Duration)
}

// ServerOptions configures the HTTP server
type ServerOptions struct {
	Host                 string
	Port                 int
	RateLimitPerMinute   int
	DefaultMaxIterations int
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	ShutdownTimeout      time.Duration
	MaxBodyBytes         int64
}
