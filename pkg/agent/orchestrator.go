package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/sfagent/internal/tracing"
	"github.com/harun/sfagent/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ToolDispatcher advertises and runs tools
type ToolDispatcher interface {
	Definitions() []toolexecutor.ToolDefinition
	Dispatch(ctx context.Context, name string, rawArgs json.RawMessage) toolexecutor.ToolResult
}

// RunObserver records finished runs
type RunObserver interface {
	ObserveAgentRun(provider, outcome string, iterations, tokens int, duration time.Duration)
}

// Run outcomes reported to the RunObserver
const (
	OutcomeAnswered       = "answered"
	OutcomeBudgetExceeded = "budget_exceeded"
	OutcomeError          = "error"
)

// Config holds orchestrator configuration
type Config struct {
	Provider             LLMProvider
	Tools                ToolDispatcher
	Logger               zerolog.Logger
	Observer             RunObserver
	Model                string
	Temperature          float64
	MaxTokens            int
	SystemPrompt         string
	DefaultMaxIterations int
	// CallTimeout bounds a single model call
	CallTimeout time.Duration
	// MaxRetries is the number of extra attempts for retryable model errors
	MaxRetries   int
	RetryBackoff time.Duration
}

// Orchestrator drives the model/tool loop. It holds no per-run state and is
// safe for concurrent use.
type Orchestrator struct {
	cfg   Config
	tools []ToolSpec
}

// NewOrchestrator creates a new orchestrator. Temperature is used as given;
// callers wanting the default should start from DefaultConfig.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool dispatcher is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.DefaultMaxIterations <= 0 {
		cfg.DefaultMaxIterations = DefaultMaxIterations
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	return &Orchestrator{
		cfg:   cfg,
		tools: buildToolSpecs(cfg.Tools.Definitions()),
	}, nil
}

// DefaultConfig returns the run parameters used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		Model:                DefaultModel,
		Temperature:          DefaultTemperature,
		DefaultMaxIterations: DefaultMaxIterations,
		CallTimeout:          60 * time.Second,
		MaxRetries:           2,
		RetryBackoff:         time.Second,
	}
}

// Provider returns the name of the configured model provider
func (o *Orchestrator) Provider() string {
	return o.cfg.Provider.Provider()
}

// Run answers question, allowing at most maxIterations model round trips.
// maxIterations <= 0 selects the configured default. Tool failures never fail
// the run; only model call failures and cancellation do.
func (o *Orchestrator) Run(ctx context.Context, question string, maxIterations int) (RunResult, error) {
	if maxIterations <= 0 {
		maxIterations = o.cfg.DefaultMaxIterations
	}

	start := time.Now()
	ctx = tracing.NewAgentRunContext(ctx)
	ctx, span := tracing.StartSpan(ctx, "agent.run",
		attribute.String("provider", o.cfg.Provider.Provider()),
		attribute.String("model", o.cfg.Model),
		attribute.Int("max_iterations", maxIterations),
	)
	logger := tracing.LoggerFromContext(ctx, o.cfg.Logger)

	logger.Info().Int("max_iterations", maxIterations).Msg("Agent run started")

	result, err := o.loop(ctx, logger, question, maxIterations)
	tracing.EndSpan(span, err)

	outcome := OutcomeAnswered
	switch {
	case err != nil:
		outcome = OutcomeError
		logger.Error().Err(err).Int("iterations", result.Iterations).Msg("Agent run failed")
	case result.BudgetExceeded:
		outcome = OutcomeBudgetExceeded
		logger.Warn().Int("iterations", result.Iterations).Int("tool_calls", len(result.ToolCalls)).Msg("Agent run stopped at iteration budget")
	default:
		logger.Info().Int("iterations", result.Iterations).Int("tool_calls", len(result.ToolCalls)).Msg("Agent run completed")
	}

	if o.cfg.Observer != nil {
		tokens := 0
		if result.TotalTokens != nil {
			tokens = *result.TotalTokens
		}
		o.cfg.Observer.ObserveAgentRun(o.cfg.Provider.Provider(), outcome, result.Iterations, tokens, time.Since(start))
	}

	return result, err
}

func (o *Orchestrator) loop(ctx context.Context, logger zerolog.Logger, question string, maxIterations int) (RunResult, error) {
	messages := []Message{{Role: RoleUser, Content: question}}
	result := RunResult{ToolCalls: []ToolCallLog{}}
	var usage *int

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Iterations = iteration + 1

		response, err := o.callLLMWithRetry(ctx, logger, messages)
		if err != nil {
			return result, err
		}
		usage = addUsage(usage, response.Usage)
		result.TotalTokens = usage

		if len(response.ToolCalls) == 0 {
			result.Answer = response.Content
			return result, nil
		}

		calls := make([]ToolCall, len(response.ToolCalls))
		copy(calls, response.ToolCalls)
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = correlationID()
			}
		}

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   response.Content,
			ToolCalls: calls,
		})

		for _, call := range calls {
			toolMsg, entry := o.dispatch(ctx, logger, call)
			messages = append(messages, toolMsg)
			result.ToolCalls = append(result.ToolCalls, entry)
		}
	}

	result.Answer = BudgetExceededAnswer
	result.BudgetExceeded = true
	return result, nil
}

// dispatch runs one tool call and builds both the conversation entry and the
// log entry for it.
func (o *Orchestrator) dispatch(ctx context.Context, logger zerolog.Logger, call ToolCall) (Message, ToolCallLog) {
	ctx, span := tracing.StartSpan(ctx, "agent.tool",
		attribute.String("tool", call.Name),
		attribute.String("tool_call_id", call.ID),
	)

	res := o.cfg.Tools.Dispatch(ctx, call.Name, call.Arguments)

	var spanErr error
	if !res.Success {
		spanErr = errors.New(res.Error)
	}
	tracing.EndSpan(span, spanErr)

	event := logger.Info()
	if !res.Success {
		event = logger.Warn().Str("error", res.Error)
	}
	event.Str("tool", call.Name).Str("tool_call_id", call.ID).Bool("ok", res.Success).Msg("Tool call dispatched")

	content, err := json.Marshal(res.Payload())
	if err != nil {
		res = toolexecutor.ToolResult{Error: fmt.Sprintf("tool output is not serializable: %v", err)}
		content, _ = json.Marshal(res.Payload())
	}

	msg := Message{
		Role:       RoleTool,
		Content:    string(content),
		ToolCallID: call.ID,
		Name:       call.Name,
		IsError:    !res.Success,
	}
	entry := ToolCallLog{
		Name:  call.Name,
		Args:  logArgs(call.Arguments),
		OK:    res.Success,
		Error: res.Error,
	}
	return msg, entry
}

// callLLMWithRetry calls the model with exponential backoff on retryable errors
func (o *Orchestrator) callLLMWithRetry(ctx context.Context, logger zerolog.Logger, messages []Message) (*LLMResponse, error) {
	attempts := o.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		response, err := o.callLLM(ctx, messages)
		if err == nil {
			return response, nil
		}

		lastErr = err

		// Don't retry on permanent errors
		if !IsRetryableError(err) || ctx.Err() != nil {
			return nil, err
		}

		if attempt == attempts-1 {
			break
		}

		delay := o.cfg.RetryBackoff * time.Duration(1<<attempt)
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying model call after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", o.cfg.MaxRetries, lastErr)
}

// callLLM makes a single bounded model call
func (o *Orchestrator) callLLM(ctx context.Context, messages []Message) (*LLMResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	callCtx, span := tracing.StartSpan(callCtx, "agent.model_call",
		attribute.String("provider", o.cfg.Provider.Provider()),
		attribute.Int("messages", len(messages)),
	)

	history := make([]Message, len(messages))
	copy(history, messages)

	response, err := o.cfg.Provider.Call(callCtx, LLMRequest{
		Model:        o.cfg.Model,
		Messages:     history,
		Tools:        o.tools,
		Temperature:  o.cfg.Temperature,
		MaxTokens:    o.cfg.MaxTokens,
		SystemPrompt: o.cfg.SystemPrompt,
	})
	if err == nil && response == nil {
		err = fmt.Errorf("provider %s returned no response", o.cfg.Provider.Provider())
	}
	tracing.EndSpan(span, err)

	return response, err
}

// buildToolSpecs converts registry declarations to provider tool specs
func buildToolSpecs(defs []toolexecutor.ToolDefinition) []ToolSpec {
	specs := make([]ToolSpec, 0, len(defs))
	for _, def := range defs {
		specs = append(specs, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  toolexecutor.InputSchema(def),
			Strict:      toolexecutor.StrictCompatible(def),
		})
	}
	return specs
}

func addUsage(total *int, usage *TokenUsage) *int {
	if usage == nil {
		return total
	}
	sum := usage.TotalTokens
	if sum == 0 {
		sum = usage.InputTokens + usage.OutputTokens
	}
	if total != nil {
		sum += *total
	}
	return &sum
}

// logArgs decodes the raw arguments for the tool-call log, keeping the raw
// text when it is not valid JSON.
func logArgs(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var args interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return string(raw)
	}
	return args
}

func correlationID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("call_%d", time.Now().UnixNano())
	}
	return "call_" + id
}
