package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithSessionID(ctx, "sess-1")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"trace-1"`)
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"session_id":"sess-1"`)
	assert.NotContains(t, out, "request_id")
}
