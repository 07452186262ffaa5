package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/sfagent/internal/tracing"
	"github.com/harun/sfagent/pkg/agent"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// queryRequestSchema validates POST /query bodies before they reach the agent
const queryRequestSchema = `{
	"type": "object",
	"required": ["question"],
	"properties": {
		"question": {"type": "string", "minLength": 1},
		"session_id": {"type": ["string", "null"]},
		"max_iterations": {"type": "integer", "minimum": 1, "maximum": 50}
	}
}`

// Deps are the collaborators the server routes to
type Deps struct {
	Runner  Runner
	Metrics Metrics
	Logger  zerolog.Logger
}

// Server is the inbound HTTP surface
type Server struct {
	options        ServerOptions
	deps           Deps
	server         *http.Server
	handler        http.Handler
	rateLimiter    *RateLimiter
	schema         *gojsonschema.Schema
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new server
func NewServer(options ServerOptions, deps Deps) (*Server, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("agent runner is required")
	}

	if options.Port == 0 {
		options.Port = 8000
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.DefaultMaxIterations <= 0 {
		options.DefaultMaxIterations = 5
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 10 * time.Second
	}
	if options.MaxBodyBytes <= 0 {
		options.MaxBodyBytes = 1 << 20
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(queryRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schema: %w", err)
	}

	s := &Server{
		options:     options,
		deps:        deps,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		schema:      schema,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: deps.Logger.With().Str("component", "api").Logger(),
	}
	s.handler = s.routes()

	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /query", s.instrument("/query", s.trackInFlight(http.HandlerFunc(s.handleQuery))))
	mux.Handle("GET /health", s.instrument("/health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /query/stream/{session_id}", s.instrument("/query/stream", http.HandlerFunc(s.handleStream)))

	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	return mux
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port))
}

// Start listens and serves until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.handler,
		ReadTimeout:  s.options.ReadTimeout,
		WriteTimeout: s.options.WriteTimeout,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Stop rejects new queries, waits for in-flight ones and shuts down
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down HTTP server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown cancelled, forcing close")
	}

	s.rateLimiter.Stop()

	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := requestIDFrom(r)
	w.Header().Set("X-Request-ID", requestID)

	ip := clientIP(r)
	if allowed, retryAfter := s.rateLimiter.Allow(ip); !allowed {
		secs := retryAfterSeconds(retryAfter)
		s.logger.Warn().
			Str("ip", ip).
			Str("request_id", requestID).
			Int("retry_after", secs).
			Msg("Rate limit exceeded")

		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "too many requests", RequestID: requestID})
		return
	}

	req, err := s.decodeQuery(w, r)
	if err != nil {
		s.logger.Warn().Err(err).Str("request_id", requestID).Msg("Rejected query body")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), RequestID: requestID})
		return
	}

	maxIterations := req.MaxIterations
	if maxIterations == 0 {
		maxIterations = s.options.DefaultMaxIterations
	}

	// runs are bounded by their iteration budget, not by the server write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn().Err(err).Str("request_id", requestID).Msg("Failed to clear write deadline")
	}

	ctx := tracing.WithRequestID(r.Context(), requestID)
	ctx = tracing.NewRequestContext(ctx)
	if req.SessionID != "" {
		ctx = tracing.WithSessionID(ctx, req.SessionID)
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)

	result, err := s.deps.Runner.Run(ctx, req.Question, maxIterations)
	if err != nil {
		status := http.StatusBadGateway
		message := "model provider error"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
			message = "model provider timeout"
		case errors.Is(err, context.Canceled):
			// client went away
			status = 499
			message = "request cancelled"
		}
		logger.Error().Err(err).Int("status", status).Int("tool_calls", len(result.ToolCalls)).Msg("Query failed")
		writeJSON(w, status, ErrorResponse{Error: message, RequestID: requestID, ToolCalls: result.ToolCalls})
		return
	}

	toolCalls := result.ToolCalls
	if toolCalls == nil {
		toolCalls = []agent.ToolCallLog{}
	}

	duration := time.Since(start)
	logger.Info().
		Int("tool_calls", len(toolCalls)).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("Query answered")

	writeJSON(w, http.StatusOK, QueryResponse{
		Answer:      result.Answer,
		ToolCalls:   toolCalls,
		TotalTokens: result.TotalTokens,
		DurationMs:  duration.Milliseconds(),
		SessionID:   req.SessionID,
	})
}

// decodeQuery reads, schema-checks and decodes a query body
func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (QueryRequest, error) {
	var req QueryRequest

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes))
	if err != nil {
		return req, fmt.Errorf("failed to read body: %w", err)
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return req, fmt.Errorf("invalid JSON body: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return req, fmt.Errorf("invalid request: %s", strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("invalid JSON body: %w", err)
	}

	return req, nil
}

// handleStream accepts the websocket, sends the placeholder and closes
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	s.logger.Debug().Str("session_id", sessionID).Msg("Stream connection opened")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(StreamPlaceholder)); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to write stream placeholder")
		return
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
}

// trackInFlight rejects work during shutdown and lets Stop wait for the rest
func (s *Server) trackInFlight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "server is shutting down"})
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlightReqs.Done()

		next.ServeHTTP(w, r)
	})
}

// instrument records status and latency per route
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	id, err := gonanoid.New()
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return id
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
