package salesforce

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// RefreshObserver records session refresh outcomes
type RefreshObserver interface {
	ObserveSessionRefresh(strategy string, success bool, duration time.Duration)
}

// Manager hands out live sessions, renewing them before they expire.
//
// States: Unauthenticated (no session, or one inside the safety margin) and
// Authenticated(expiry). Client moves to Authenticated on demand.
type Manager struct {
	cfg        Config
	auth       Authenticator
	httpClient *http.Client
	logger     zerolog.Logger
	observer   RefreshObserver
	now        func() time.Time

	mu      sync.RWMutex
	current *Client
	group   singleflight.Group
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithAuthenticator replaces the strategy selected from Config
func WithAuthenticator(auth Authenticator) ManagerOption {
	return func(m *Manager) { m.auth = auth }
}

// WithClock overrides the time source used for expiry checks
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithHTTPClient sets the HTTP client used for login and REST calls
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = client }
}

// WithRefreshObserver records refresh outcomes
func WithRefreshObserver(observer RefreshObserver) ManagerOption {
	return func(m *Manager) { m.observer = observer }
}

// NewManager creates a session manager in the Unauthenticated state
func NewManager(cfg Config, opts ...ManagerOption) (*Manager, error) {
	cfg.applyDefaults()

	m := &Manager{
		cfg:    cfg,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: cfg.QueryTimeout}
	}

	if m.auth == nil {
		auth, err := NewAuthenticator(cfg, &http.Client{
			Timeout:   cfg.AuthTimeout,
			Transport: m.httpClient.Transport,
		})
		if err != nil {
			return nil, err
		}
		m.auth = auth
	}

	return m, nil
}

// Strategy returns the configured authentication strategy
func (m *Manager) Strategy() string {
	return m.auth.Strategy()
}

// Client returns a session-bound REST client with at least the safety margin
// of lifetime left. Acquisition failures are returned unchanged; there is no
// retry here.
func (m *Manager) Client(ctx context.Context) (*Client, error) {
	if client := m.live(); client != nil {
		return client, nil
	}

	ch := m.group.DoChan("refresh", func() (interface{}, error) {
		// A refresh that finished while we waited for the lock is good enough.
		if client := m.live(); client != nil {
			return client, nil
		}
		// Shared by every waiter, so one caller's cancellation must not fail the rest.
		return m.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		client := res.Val.(*Client)
		if !m.usable(client) {
			return nil, fmt.Errorf("%w: session lifetime below safety margin of %v", ErrAuthFailed, m.cfg.SafetyMargin)
		}
		return client, nil
	}
}

// Invalidate drops the current session; the next Client call logs in again
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.logger.Info().Str("strategy", m.auth.Strategy()).Msg("Salesforce session invalidated")
	}
	m.current = nil
}

// invalidateIf drops client only if it is still the current one, so a stale
// 401 cannot discard a session that was already renewed.
func (m *Manager) invalidateIf(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == client {
		m.logger.Warn().Str("strategy", m.auth.Strategy()).Msg("Salesforce rejected session, invalidating")
		m.current = nil
	}
}

func (m *Manager) live() *Client {
	m.mu.RLock()
	client := m.current
	m.mu.RUnlock()

	if client != nil && m.usable(client) {
		return client
	}
	return nil
}

func (m *Manager) usable(client *Client) bool {
	return client.session.Remaining(m.now()) > m.cfg.SafetyMargin
}

func (m *Manager) refresh(ctx context.Context) (*Client, error) {
	start := time.Now()
	strategy := m.auth.Strategy()

	m.logger.Debug().Str("strategy", strategy).Msg("Acquiring Salesforce session")

	session, err := m.auth.Authenticate(ctx)
	if m.observer != nil {
		m.observer.ObserveSessionRefresh(strategy, err == nil, time.Since(start))
	}
	if err != nil {
		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()

		m.logger.Error().Err(err).Str("strategy", strategy).Msg("Salesforce session acquisition failed")
		return nil, err
	}

	client := newClient(session, m.cfg.APIVersion, m.httpClient, m.cfg.QueryTimeout, m.invalidateIf)

	m.mu.Lock()
	m.current = client
	m.mu.Unlock()

	m.logger.Info().
		Str("strategy", strategy).
		Str("instance_url", client.InstanceURL()).
		Time("expires_at", session.ExpiresAt).
		Dur("lifetime", session.Remaining(m.now())).
		Msg("Salesforce session acquired")

	return client, nil
}
