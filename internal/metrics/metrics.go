package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Agent metrics
	AgentRunsTotal     *prometheus.CounterVec
	AgentRunDuration   *prometheus.HistogramVec
	AgentRunIterations prometheus.Histogram
	AgentTokensTotal   *prometheus.CounterVec

	// Tool metrics
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Cache metrics
	CacheLookupsTotal *prometheus.CounterVec

	// Session metrics
	SessionRefreshesTotal  *prometheus.CounterVec
	SessionRefreshDuration *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		AgentRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_runs_total",
				Help: "Total number of agent runs by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		AgentRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		AgentRunIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agent_run_iterations",
				Help:    "Model round trips per agent run",
				Buckets: prometheus.LinearBuckets(1, 1, 10),
			},
		),
		AgentTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tokens_total",
				Help: "Total tokens reported by the model provider",
			},
			[]string{"provider"},
		),

		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_executions_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),

		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_cache_lookups_total",
				Help: "Result cache lookups by tool and result (hit or miss)",
			},
			[]string{"tool_name", "result"},
		),

		SessionRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salesforce_session_refreshes_total",
				Help: "Salesforce session acquisitions by strategy and status",
			},
			[]string{"strategy", "status"},
		),
		SessionRefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "salesforce_session_refresh_duration_seconds",
				Help:    "Duration of Salesforce session acquisitions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Inbound HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Inbound HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		m.AgentRunsTotal,
		m.AgentRunDuration,
		m.AgentRunIterations,
		m.AgentTokensTotal,

		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,

		m.CacheLookupsTotal,

		m.SessionRefreshesTotal,
		m.SessionRefreshDuration,

		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
}

// ObserveAgentRun records one finished run
func (m *Metrics) ObserveAgentRun(provider, outcome string, iterations, tokens int, duration time.Duration) {
	m.AgentRunsTotal.WithLabelValues(provider, outcome).Inc()
	m.AgentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.AgentRunIterations.Observe(float64(iterations))
	if tokens > 0 {
		m.AgentTokensTotal.WithLabelValues(provider).Add(float64(tokens))
	}
}

// ObserveToolExecution records one tool dispatch
func (m *Metrics) ObserveToolExecution(tool string, success bool, duration time.Duration) {
	m.ToolExecutionsTotal.WithLabelValues(tool, status(success)).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveCacheLookup records a result cache hit or miss
func (m *Metrics) ObserveCacheLookup(tool string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(tool, result).Inc()
}

// ObserveSessionRefresh records one session acquisition attempt
func (m *Metrics) ObserveSessionRefresh(strategy string, success bool, duration time.Duration) {
	m.SessionRefreshesTotal.WithLabelValues(strategy, status(success)).Inc()
	m.SessionRefreshDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one inbound request
func (m *Metrics) ObserveHTTPRequest(route, method string, code int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
