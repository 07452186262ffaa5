package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
)

// ErrNoProvider is returned when no usable model provider is configured
var ErrNoProvider = errors.New("no model provider configured")

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes one model round trip
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderConfig selects and configures a provider
type ProviderConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// NewProvider creates a new LLM provider from configuration. SDK-level
// retries are disabled; the orchestrator owns retry policy.
func NewProvider(cfg ProviderConfig) (LLMProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing API key for %q", ErrNoProvider, cfg.Provider)
	}

	switch cfg.Provider {
	case "openai":
		opts := []openaioption.RequestOption{openaioption.WithMaxRetries(0)}
		if cfg.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, openaioption.WithRequestTimeout(cfg.Timeout))
		}
		return NewOpenAIProvider(cfg.APIKey, opts...), nil
	case "anthropic":
		opts := []anthropicoption.RequestOption{anthropicoption.WithMaxRetries(0)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, anthropicoption.WithRequestTimeout(cfg.Timeout))
		}
		return NewAnthropicProvider(cfg.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrNoProvider, cfg.Provider)
	}
}
