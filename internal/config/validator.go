package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates the model provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "openai", "anthropic":
		return nil
	}
	return fmt.Errorf("invalid llm provider: %q (must be one of: openai, anthropic)", provider)
}

// ValidateSalesforce checks that at least one login strategy is complete
func (v *Validator) ValidateSalesforce(sf SalesforceConfig) error {
	if !sf.HasClientCredentials() && !sf.HasPassword() {
		return fmt.Errorf("no Salesforce credentials: set SF_CLIENT_ID/SF_CLIENT_SECRET/SF_TOKEN_URL or SALESFORCE_USERNAME/SALESFORCE_PASSWORD")
	}

	if sf.HasClientCredentials() {
		if sf.TokenURL == "" {
			return fmt.Errorf("salesforce token_url is required for client credentials login")
		}
		if err := validateURL(sf.TokenURL); err != nil {
			return fmt.Errorf("salesforce token_url: %w", err)
		}
	}

	if sf.LoginURL != "" {
		if err := validateURL(sf.LoginURL); err != nil {
			return fmt.Errorf("salesforce login_url: %w", err)
		}
	}

	if !strings.HasPrefix(sf.APIVersion, "v") {
		return fmt.Errorf("invalid salesforce api_version %q (expected e.g. v59.0)", sf.APIVersion)
	}
	if sf.SafetyMarginSeconds < 0 {
		return fmt.Errorf("salesforce safety_margin_seconds must be >= 0")
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation and returns every problem found
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateSalesforce(cfg.Salesforce); err != nil {
		errs = append(errs, err)
	}

	if err := v.ValidateProvider(cfg.LLM.Provider); err != nil {
		errs = append(errs, err)
	} else if err := v.ValidateAPIKey(cfg.LLM.APIKey(), cfg.LLM.Provider); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		errs = append(errs, fmt.Errorf("llm model cannot be empty"))
	}
	if err := v.ValidateTemperature(cfg.LLM.Temperature); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateMaxTokens(cfg.LLM.MaxTokens); err != nil {
		errs = append(errs, err)
	}
	if cfg.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm max_retries must be >= 0"))
	}

	if cfg.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent max_iterations must be >= 1, got %d", cfg.Agent.MaxIterations))
	}
	if cfg.Cache.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("cache ttl_seconds must be > 0, got %d", cfg.Cache.TTLSeconds))
	}

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errs = append(errs, err)
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("server rate_limit_per_minute must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// Validate returns the first configuration problem, if any
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
