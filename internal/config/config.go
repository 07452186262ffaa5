package config

import (
	"encoding/json"
	"time"
)

// Config represents the sfagent configuration
type Config struct {
	// Salesforce org access
	Salesforce SalesforceConfig `json:"salesforce" mapstructure:"salesforce"`

	// Model provider
	LLM LLMConfig `json:"llm" mapstructure:"llm"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tool result cache
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// SalesforceConfig holds both login strategies. When the client credentials
// are complete they take precedence over the password login.
type SalesforceConfig struct {
	Username      string `json:"username" mapstructure:"username"`
	Password      string `json:"password" mapstructure:"password"`
	SecurityToken string `json:"security_token" mapstructure:"security_token"`
	Domain        string `json:"domain" mapstructure:"domain"` // login, test or a My Domain prefix
	LoginURL      string `json:"login_url" mapstructure:"login_url"`

	ClientID     string `json:"client_id" mapstructure:"client_id"`
	ClientSecret string `json:"client_secret" mapstructure:"client_secret"`
	TokenURL     string `json:"token_url" mapstructure:"token_url"`

	APIVersion          string `json:"api_version" mapstructure:"api_version"`
	SafetyMarginSeconds int    `json:"safety_margin_seconds" mapstructure:"safety_margin_seconds"`
	AuthTimeoutSeconds  int    `json:"auth_timeout_seconds" mapstructure:"auth_timeout_seconds"`
	QueryTimeoutSeconds int    `json:"query_timeout_seconds" mapstructure:"query_timeout_seconds"`
}

// HasClientCredentials reports whether the delegated login is configured
func (c SalesforceConfig) HasClientCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// HasPassword reports whether the password login is configured
func (c SalesforceConfig) HasPassword() bool {
	return c.Username != "" && c.Password != ""
}

// LLMConfig selects and tunes the model provider
type LLMConfig struct {
	Provider        string  `json:"provider" mapstructure:"provider"` // openai, anthropic
	Model           string  `json:"model" mapstructure:"model"`
	OpenAIAPIKey    string  `json:"openai_api_key" mapstructure:"openai_api_key"`
	AnthropicAPIKey string  `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	BaseURL         string  `json:"base_url" mapstructure:"base_url"`
	Temperature     float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens       int     `json:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSeconds  int     `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRetries      int     `json:"max_retries" mapstructure:"max_retries"`
}

// APIKey returns the key for the selected provider
func (c LLMConfig) APIKey() string {
	switch c.Provider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	}
	return ""
}

// Timeout returns the per-call model timeout
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentConfig holds run defaults
type AgentConfig struct {
	MaxIterations int    `json:"max_iterations" mapstructure:"max_iterations"`
	SystemPrompt  string `json:"system_prompt" mapstructure:"system_prompt"`
	ToolTimeout   int    `json:"tool_timeout" mapstructure:"tool_timeout"` // seconds
}

// ToolDeadline returns the per-dispatch tool timeout. It never drops below a
// session refresh followed by one backend query.
func (c *Config) ToolDeadline() time.Duration {
	configured := time.Duration(c.Agent.ToolTimeout) * time.Second
	floor := time.Duration(c.Salesforce.AuthTimeoutSeconds+c.Salesforce.QueryTimeoutSeconds) * time.Second
	if configured < floor {
		return floor
	}
	return configured
}

// CacheConfig holds tool result cache settings
type CacheConfig struct {
	TTLSeconds int `json:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// TTL returns the default entry lifetime
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	ReadTimeout        int    `json:"read_timeout" mapstructure:"read_timeout"`         // seconds
	WriteTimeout       int    `json:"write_timeout" mapstructure:"write_timeout"`       // seconds
	ShutdownTimeout    int    `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig toggles OpenTelemetry spans
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Salesforce: SalesforceConfig{
			Domain:              "login",
			APIVersion:          "v59.0",
			SafetyMarginSeconds: 60,
			AuthTimeoutSeconds:  20,
			QueryTimeoutSeconds: 30,
		},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			Temperature:    0.2,
			MaxTokens:      4096,
			TimeoutSeconds: 60,
			MaxRetries:     2,
		},
		Agent: AgentConfig{
			MaxIterations: 5,
			ToolTimeout:   60,
		},
		Cache: CacheConfig{
			TTLSeconds: 300,
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			RateLimitPerMinute: 60,
			ReadTimeout:        15,
			WriteTimeout:       120,
			ShutdownTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			ServiceName: "sfagent",
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Salesforce.Password = mask(c.Salesforce.Password)
	masked.Salesforce.SecurityToken = mask(c.Salesforce.SecurityToken)
	masked.Salesforce.ClientSecret = mask(c.Salesforce.ClientSecret)
	masked.LLM.OpenAIAPIKey = mask(c.LLM.OpenAIAPIKey)
	masked.LLM.AnthropicAPIKey = mask(c.LLM.AnthropicAPIKey)

	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
