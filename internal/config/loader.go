package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SFAGENT_SERVER_PORT
const EnvPrefix = "SFAGENT"

// envAliases maps config keys to the unprefixed variable names deployments
// already use. The prefixed name is consulted first.
var envAliases = map[string][]string{
	"salesforce.username":       {"SALESFORCE_USERNAME"},
	"salesforce.password":       {"SALESFORCE_PASSWORD"},
	"salesforce.security_token": {"SALESFORCE_SECURITY_TOKEN"},
	"salesforce.domain":         {"SALESFORCE_DOMAIN"},
	"salesforce.client_id":      {"SF_CLIENT_ID"},
	"salesforce.client_secret":  {"SF_CLIENT_SECRET"},
	"salesforce.token_url":      {"SF_TOKEN_URL"},
	"cache.ttl_seconds":         {"CACHE_TTL_SECONDS"},
	"llm.openai_api_key":        {"OPENAI_API_KEY"},
	"llm.anthropic_api_key":     {"ANTHROPIC_API_KEY"},
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithEnvFile loads variables from path before reading the environment.
// Existing variables are never overridden.
func WithEnvFile(path string) LoaderOption {
	return func(l *Loader) { l.envFile = path }
}

// NewLoader creates a new config loader
func NewLoader(configPath string, opts ...LoaderOption) *Loader {
	l := &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load merges defaults, the optional JSON config file and the environment,
// in increasing order of precedence.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigType("json")

	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, aliases := range envAliases {
		names := append([]string{envName(key)}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	configPath := l.GetConfigPath()
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sfagent", "sfagent.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// setDefaults registers every field of cfg as a viper default so that
// AutomaticEnv can resolve keys absent from the config file.
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}

	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}

	var walk func(prefix string, node map[string]interface{})
	walk = func(prefix string, node map[string]interface{}) {
		for k, val := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := val.(map[string]interface{}); ok {
				walk(key, child)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)

	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
