package salesforce

import (
	"errors"
	"fmt"
	"time"
)

const (
	// StrategyClientCredentials is the delegated machine-credential exchange
	StrategyClientCredentials = "client_credentials"
	// StrategyPassword is the interactive username/password login
	StrategyPassword = "password"

	// DefaultSafetyMargin is subtracted from a session's expiry to decide when to renew
	DefaultSafetyMargin = 60 * time.Second
	// DefaultSessionLifetime is assumed when the login response carries no expiry
	DefaultSessionLifetime = 3000 * time.Second
	// DefaultAPIVersion is the REST API version used for queries
	DefaultAPIVersion = "v59.0"
	// DefaultClientID identifies this application on password logins
	DefaultClientID = "sf-ai-agent-mcp"
)

var (
	// ErrNoCredentials is returned when neither strategy is configured
	ErrNoCredentials = errors.New("no salesforce credentials configured")
	// ErrAuthFailed wraps every session acquisition failure
	ErrAuthFailed = errors.New("salesforce authentication failed")
)

// Config holds credentials and connection settings
type Config struct {
	// Interactive login
	Username      string
	Password      string
	SecurityToken string
	Domain        string // "login", "test" or a My Domain prefix
	LoginURL      string // overrides the URL derived from Domain

	// Delegated login
	ClientID     string
	ClientSecret string
	TokenURL     string

	APIVersion    string
	SafetyMargin  time.Duration
	AuthTimeout   time.Duration
	QueryTimeout  time.Duration
	LoginClientID string
}

// HasClientCredentials reports whether the delegated strategy is configured
func (c Config) HasClientCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// HasPassword reports whether the interactive strategy is configured
func (c Config) HasPassword() bool {
	return c.Username != "" && c.Password != ""
}

// Strategy returns the strategy the configuration selects. Delegated wins
// when both are present.
func (c Config) Strategy() (string, error) {
	switch {
	case c.HasClientCredentials():
		return StrategyClientCredentials, nil
	case c.HasPassword():
		return StrategyPassword, nil
	default:
		return "", ErrNoCredentials
	}
}

func (c *Config) applyDefaults() {
	if c.Domain == "" {
		c.Domain = "login"
	}
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 20 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
	if c.LoginClientID == "" {
		c.LoginClientID = DefaultClientID
	}
}

// Session is an authenticated credential handle
type Session struct {
	AccessToken string
	InstanceURL string
	ExpiresAt   time.Time
	Strategy    string
}

// Remaining returns the lifetime left at now
func (s *Session) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// APIError is a non-2xx response from the REST API
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("salesforce API error %d %s: %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("salesforce API error %d: %s", e.StatusCode, e.Message)
}

// QueryResult is the envelope returned by query endpoints
type QueryResult struct {
	TotalSize int                      `json:"totalSize"`
	Done      bool                     `json:"done"`
	Records   []map[string]interface{} `json:"records"`
}
