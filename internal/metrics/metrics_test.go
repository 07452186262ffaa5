package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	require.NotNil(t, m)
	assert.NotNil(t, m.Registry())
	assert.NotNil(t, m.AgentRunsTotal)
	assert.NotNil(t, m.ToolExecutionsTotal)
	assert.NotNil(t, m.CacheLookupsTotal)
	assert.NotNil(t, m.SessionRefreshesTotal)
	assert.NotNil(t, m.HTTPRequestsTotal)
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.ObserveCacheLookup("get_apex_class", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.CacheLookupsTotal.WithLabelValues("get_apex_class", "hit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheLookupsTotal.WithLabelValues("get_apex_class", "hit")))
}

func TestObserveAgentRun(t *testing.T) {
	m := NewMetrics()

	m.ObserveAgentRun("openai", "answered", 2, 150, 300*time.Millisecond)
	m.ObserveAgentRun("openai", "budget_exceeded", 5, 0, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentRunsTotal.WithLabelValues("openai", "answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentRunsTotal.WithLabelValues("openai", "budget_exceeded")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.AgentTokensTotal.WithLabelValues("openai")))
}

func TestObserveToolExecution(t *testing.T) {
	m := NewMetrics()

	m.ObserveToolExecution("search_metadata", true, 10*time.Millisecond)
	m.ObserveToolExecution("search_metadata", false, 10*time.Millisecond)
	m.ObserveToolExecution("search_metadata", false, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolExecutionsTotal.WithLabelValues("search_metadata", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ToolExecutionsTotal.WithLabelValues("search_metadata", "error")))
}

func TestObserveCacheLookup(t *testing.T) {
	m := NewMetrics()

	m.ObserveCacheLookup("get_object_schema", false)
	m.ObserveCacheLookup("get_object_schema", true)
	m.ObserveCacheLookup("get_object_schema", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("get_object_schema", "miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("get_object_schema", "hit")))
}

func TestObserveSessionRefresh(t *testing.T) {
	m := NewMetrics()

	m.ObserveSessionRefresh("client_credentials", true, 50*time.Millisecond)
	m.ObserveSessionRefresh("password", false, 50*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionRefreshesTotal.WithLabelValues("client_credentials", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionRefreshesTotal.WithLabelValues("password", "error")))
}

func TestObserveHTTPRequest(t *testing.T) {
	m := NewMetrics()

	m.ObserveHTTPRequest("/query", http.MethodPost, http.StatusOK, 20*time.Millisecond)
	m.ObserveHTTPRequest("/query", http.MethodPost, http.StatusTooManyRequests, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/query", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/query", "POST", "429")))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ObserveToolExecution("get_apex_class", true, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "tool_executions_total"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
