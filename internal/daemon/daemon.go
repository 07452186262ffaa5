package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/sfagent/internal/config"
	"github.com/harun/sfagent/internal/logger"
	"github.com/harun/sfagent/internal/metrics"
	"github.com/harun/sfagent/internal/tracing"
	"github.com/harun/sfagent/pkg/agent"
	"github.com/harun/sfagent/pkg/api"
	"github.com/harun/sfagent/pkg/cache"
	"github.com/harun/sfagent/pkg/salesforce"
	"github.com/harun/sfagent/pkg/sftools"
	"github.com/harun/sfagent/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Version is reported by the CLI and attached to trace resources
const Version = "0.1.0"

// Daemon owns every long-lived service of the agent
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	log    zerolog.Logger

	metrics      *metrics.Metrics
	sessions     *salesforce.Manager
	cache        *cache.TTLCache
	tools        *toolexecutor.Registry
	orchestrator *agent.Orchestrator
	server       *api.Server

	errCh chan error

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a point-in-time view of the daemon
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
	Provider  string
	Strategy  string
}

// Option customizes a Daemon before its services are built
type Option func(*options)

type options struct {
	provider agent.LLMProvider
}

// WithProvider replaces the provider built from configuration
func WithProvider(p agent.LLMProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// New builds every service in dependency order
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Daemon{
		config: cfg,
		logger: log,
		log:    log.Component("app"),
		errCh:  make(chan error, 1),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, Version); err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without spans")
		} else {
			d.tracingEnabled = true
		}
	}

	if err := d.initializeCoreModules(o); err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServer(); err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return d, nil
}

func (d *Daemon) initializeCoreModules(o options) error {
	d.metrics = metrics.NewMetrics()

	if d.config.Salesforce.HasClientCredentials() && d.config.Salesforce.HasPassword() {
		d.log.Warn().Msg("Both Salesforce login strategies configured, using client credentials")
	}

	sessions, err := salesforce.NewManager(
		salesforceConfig(d.config.Salesforce),
		salesforce.WithLogger(d.logger.Component("salesforce")),
		salesforce.WithRefreshObserver(d.metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	d.sessions = sessions
	d.log.Info().Str("strategy", sessions.Strategy()).Msg("Session manager initialized")

	d.cache = cache.New(d.config.Cache.TTL())

	d.tools = toolexecutor.New(
		toolexecutor.WithTimeout(d.config.ToolDeadline()),
		toolexecutor.WithObserver(d.metrics),
	)
	if err := sftools.Register(d.tools, sftools.Deps{
		Sessions: d.sessions,
		Cache:    d.cache,
		Observer: d.metrics,
		Logger:   d.logger.Component("tools"),
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	d.log.Info().Int("tools", len(d.tools.Definitions())).Msg("Tool registry initialized")

	provider := o.provider
	if provider == nil {
		provider, err = agent.NewProvider(agent.ProviderConfig{
			Provider: d.config.LLM.Provider,
			APIKey:   d.config.LLM.APIKey(),
			BaseURL:  d.config.LLM.BaseURL,
			Timeout:  d.config.LLM.Timeout(),
		})
		if err != nil {
			return fmt.Errorf("failed to create model provider: %w", err)
		}
	}

	agentCfg := agent.DefaultConfig()
	agentCfg.Provider = provider
	agentCfg.Tools = d.tools
	agentCfg.Logger = d.logger.Component("agent")
	agentCfg.Observer = d.metrics
	agentCfg.Model = d.config.LLM.Model
	agentCfg.Temperature = d.config.LLM.Temperature
	agentCfg.MaxTokens = d.config.LLM.MaxTokens
	agentCfg.SystemPrompt = d.config.Agent.SystemPrompt
	agentCfg.DefaultMaxIterations = d.config.Agent.MaxIterations
	agentCfg.CallTimeout = d.config.LLM.Timeout()
	agentCfg.MaxRetries = d.config.LLM.MaxRetries

	orchestrator, err := agent.NewOrchestrator(agentCfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orchestrator = orchestrator
	d.log.Info().
		Str("provider", orchestrator.Provider()).
		Str("model", agentCfg.Model).
		Msg("Agent orchestrator initialized")

	return nil
}

func (d *Daemon) initializeServer() error {
	srvCfg := d.config.Server

	server, err := api.NewServer(api.ServerOptions{
		Host:                 srvCfg.Host,
		Port:                 srvCfg.Port,
		RateLimitPerMinute:   srvCfg.RateLimitPerMinute,
		DefaultMaxIterations: d.config.Agent.MaxIterations,
		ReadTimeout:          time.Duration(srvCfg.ReadTimeout) * time.Second,
		WriteTimeout:         time.Duration(srvCfg.WriteTimeout) * time.Second,
		ShutdownTimeout:      time.Duration(srvCfg.ShutdownTimeout) * time.Second,
	}, api.Deps{
		Runner:  d.orchestrator,
		Metrics: d.metrics,
		Logger:  d.logger.GetZerolog(),
	})
	if err != nil {
		return err
	}
	d.server = server

	return nil
}

// Start launches the HTTP server in the background
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.log.Info().
		Str("addr", d.server.Addr()).
		Str("version", Version).
		Msg("Starting Salesforce agent")

	go func() {
		if err := d.server.Start(); err != nil {
			d.log.Error().Err(err).Msg("HTTP server failed")
			d.errCh <- err
		}
	}()

	return nil
}

// Stop drains in-flight queries and releases resources
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.log.Info().Msg("Stopping Salesforce agent")

	var stopErr error
	if err := d.server.Stop(ctx); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop HTTP server")
		stopErr = err
	}

	d.shutdownTracing()

	d.log.Info().Msg("Salesforce agent stopped")
	return stopErr
}

// Wait blocks until a termination signal or a server failure, then stops
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		d.log.Info().Str("signal", sig.String()).Msg("Received signal")
	case runErr = <-d.errCh:
	}

	timeout := time.Duration(d.config.Server.ShutdownTimeout+5) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := d.Stop(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Query answers one question outside the HTTP server
func (d *Daemon) Query(ctx context.Context, question, sessionID string, maxIterations int) (api.QueryResponse, error) {
	start := time.Now()

	ctx = tracing.NewRequestContext(ctx)
	if sessionID != "" {
		ctx = tracing.WithSessionID(ctx, sessionID)
	}
	if maxIterations <= 0 {
		maxIterations = d.config.Agent.MaxIterations
	}

	result, err := d.orchestrator.Run(ctx, question, maxIterations)
	if err != nil {
		return api.QueryResponse{}, err
	}

	toolCalls := result.ToolCalls
	if toolCalls == nil {
		toolCalls = []agent.ToolCallLog{}
	}

	return api.QueryResponse{
		Answer:      result.Answer,
		ToolCalls:   toolCalls,
		TotalTokens: result.TotalTokens,
		DurationMs:  time.Since(start).Milliseconds(),
		SessionID:   sessionID,
	}, nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Provider: d.orchestrator.Provider(),
		Strategy: d.sessions.Strategy(),
	}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
	}

	return status
}

// Handler exposes the routed HTTP handler
func (d *Daemon) Handler() http.Handler {
	return d.server.Handler()
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.log.Warn().Err(err).Msg("Failed to flush traces")
	}
	d.tracingEnabled = false
}

func salesforceConfig(c config.SalesforceConfig) salesforce.Config {
	return salesforce.Config{
		Username:      c.Username,
		Password:      c.Password,
		SecurityToken: c.SecurityToken,
		Domain:        c.Domain,
		LoginURL:      c.LoginURL,
		ClientID:      c.ClientID,
		ClientSecret:  c.ClientSecret,
		TokenURL:      c.TokenURL,
		APIVersion:    c.APIVersion,
		SafetyMargin:  time.Duration(c.SafetyMarginSeconds) * time.Second,
		AuthTimeout:   time.Duration(c.AuthTimeoutSeconds) * time.Second,
		QueryTimeout:  time.Duration(c.QueryTimeoutSeconds) * time.Second,
	}
}
