// Package api serves the agent over HTTP.
//
// Routes:
// - POST /query answers one question and reports the tool calls made.
// - GET /health reports liveness.
// - GET /metrics exposes Prometheus metrics when configured.
// - GET /query/stream/{session_id} is a websocket placeholder.
//
// Tool failures are part of a 200 response; only bad request bodies (400),
// rate limiting (429) and model provider failures (502/504) are errors.
package api
