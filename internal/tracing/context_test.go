package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDs(t *testing.T) {
	assert.NotEmpty(t, NewTraceID())
	assert.NotEqual(t, NewTraceID(), NewTraceID())
	assert.NotEqual(t, NewRunID(), NewRunID())
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	ctx = WithTraceID(ctx, "trace")
	ctx = WithRunID(ctx, "run")
	ctx = WithSessionID(ctx, "session")
	ctx = WithRequestID(ctx, "request")

	assert.Equal(t, &TraceContext{
		TraceID:   "trace",
		RunID:     "run",
		SessionID: "session",
		RequestID: "request",
	}, FromContext(ctx))
}

func TestNewAgentRunContext(t *testing.T) {
	t.Run("keeps an existing trace id", func(t *testing.T) {
		ctx := NewAgentRunContext(WithTraceID(context.Background(), "trace"))
		assert.Equal(t, "trace", GetTraceID(ctx))
		assert.NotEmpty(t, GetRunID(ctx))
	})

	t.Run("creates a trace id when missing", func(t *testing.T) {
		ctx := NewAgentRunContext(context.Background())
		assert.NotEmpty(t, GetTraceID(ctx))
		assert.NotEmpty(t, GetRunID(ctx))
	})

	t.Run("each run gets its own id", func(t *testing.T) {
		parent := WithTraceID(context.Background(), "trace")
		assert.NotEqual(t, GetRunID(NewAgentRunContext(parent)), GetRunID(NewAgentRunContext(parent)))
	})
}
