package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("valid anthropic key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-ant-test123", "anthropic"))
	})

	t.Run("invalid anthropic key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("invalid-key", "anthropic"))
	})

	t.Run("valid openai key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-test123", "openai"))
	})

	t.Run("invalid openai key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("invalid-key", "openai"))
	})

	t.Run("empty key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("", "anthropic"))
	})
}

func TestValidateSalesforce(t *testing.T) {
	v := NewValidator()
	base := DefaultConfig().Salesforce

	t.Run("password login", func(t *testing.T) {
		sf := base
		sf.Username = "u"
		sf.Password = "p"
		assert.NoError(t, v.ValidateSalesforce(sf))
	})

	t.Run("client credentials need a token url", func(t *testing.T) {
		sf := base
		sf.ClientID = "id"
		sf.ClientSecret = "secret"
		assert.Error(t, v.ValidateSalesforce(sf))

		sf.TokenURL = "https://example.my.salesforce.com/services/oauth2/token"
		assert.NoError(t, v.ValidateSalesforce(sf))
	})

	t.Run("both strategies are accepted", func(t *testing.T) {
		sf := base
		sf.Username = "u"
		sf.Password = "p"
		sf.ClientID = "id"
		sf.ClientSecret = "secret"
		sf.TokenURL = "https://example.my.salesforce.com/services/oauth2/token"
		assert.NoError(t, v.ValidateSalesforce(sf))
	})

	t.Run("nothing configured", func(t *testing.T) {
		assert.Error(t, v.ValidateSalesforce(base))
	})

	t.Run("bad token url", func(t *testing.T) {
		sf := base
		sf.ClientID = "id"
		sf.ClientSecret = "secret"
		sf.TokenURL = "ftp://nope"
		assert.Error(t, v.ValidateSalesforce(sf))
	})

	t.Run("bad api version", func(t *testing.T) {
		sf := base
		sf.Username = "u"
		sf.Password = "p"
		sf.APIVersion = "59.0"
		assert.Error(t, v.ValidateSalesforce(sf))
	})
}

func TestValidateTemperature(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTemperature(0))
	assert.NoError(t, v.ValidateTemperature(0.2))
	assert.NoError(t, v.ValidateTemperature(1))
	assert.Error(t, v.ValidateTemperature(-0.1))
	assert.Error(t, v.ValidateTemperature(1.1))
}

func TestValidateMaxTokens(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateMaxTokens(4096))
	assert.Error(t, v.ValidateMaxTokens(0))
	assert.Error(t, v.ValidateMaxTokens(300000))
}

func TestValidatePort(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePort(8000))
	assert.Error(t, v.ValidatePort(0))
	assert.Error(t, v.ValidatePort(70000))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("valid config", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(validConfig()))
	})

	t.Run("collects every error", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LLM.Provider = "gemini"
		cfg.Server.Port = 0
		cfg.Logging.Level = "loud"

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 4) // salesforce, provider, port, log level
	})
}
