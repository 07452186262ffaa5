package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoInput struct {
	Message string   `json:"message"`
	Tags    []string `json:"tags"`
}

func echoDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo tool",
		Parameters: []ToolParameter{
			{Name: "message", Type: "string", Description: "Message to echo", Required: true},
			{Name: "tags", Type: "array", Items: "string", Description: "Optional tags", Enum: []string{"a", "b"}},
		},
	}
}

func newEchoRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	err := Declare(r, echoDefinition(), func(ctx context.Context, in echoInput) (interface{}, error) {
		return map[string]interface{}{"message": in.Message, "tags": in.Tags}, nil
	})
	require.NoError(t, err)
	return r
}

type recordingObserver struct {
	mu    sync.Mutex
	calls map[string][]bool
}

func (o *recordingObserver) ObserveToolExecution(tool string, success bool, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = map[string][]bool{}
	}
	o.calls[tool] = append(o.calls[tool], success)
}

func TestRegistry_RegisterTool(t *testing.T) {
	r := newEchoRegistry(t)

	tool := r.GetTool("echo")
	require.NotNil(t, tool)
	assert.Equal(t, "echo", tool.Name)

	t.Run("duplicate name", func(t *testing.T) {
		err := Declare(r, echoDefinition(), func(ctx context.Context, in echoInput) (interface{}, error) { return nil, nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})
}

func TestRegistry_RegisterTool_InvalidDefinition(t *testing.T) {
	r := New()
	noop := func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil }

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{name: "empty name", def: ToolDefinition{Description: "Test", Handler: noop}},
		{name: "empty description", def: ToolDefinition{Name: "test", Handler: noop}},
		{name: "nil handler", def: ToolDefinition{Name: "test", Description: "Test"}},
		{
			name: "bad parameter type",
			def: ToolDefinition{Name: "test", Description: "Test", Handler: noop, Parameters: []ToolParameter{
				{Name: "x", Type: "date", Description: "x"},
			}},
		},
		{
			name: "missing parameter description",
			def: ToolDefinition{Name: "test", Description: "Test", Handler: noop, Parameters: []ToolParameter{
				{Name: "x", Type: "string"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.RegisterTool(tt.def))
		})
	}
}

func TestRegistry_Dispatch(t *testing.T) {
	r := newEchoRegistry(t)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		result := r.Dispatch(ctx, "echo", json.RawMessage(`{"message":"Hello","tags":["a"]}`))
		require.True(t, result.Success, result.Error)
		assert.Equal(t, map[string]interface{}{"message": "Hello", "tags": []string{"a"}}, result.Output)
		assert.Contains(t, result.Metadata, "duration")
	})

	t.Run("unknown tool", func(t *testing.T) {
		result := r.Dispatch(ctx, "nonexistent", json.RawMessage(`{}`))
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, ErrUnknownTool)
		assert.Equal(t, map[string]interface{}{"error": result.Error}, result.Payload())
	})

	t.Run("missing required key", func(t *testing.T) {
		result := r.Dispatch(ctx, "echo", json.RawMessage(`{}`))
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, ErrInvalidArguments)
		assert.Contains(t, result.Error, "message")
	})

	t.Run("unknown top-level key", func(t *testing.T) {
		result := r.Dispatch(ctx, "echo", json.RawMessage(`{"message":"hi","extra":1}`))
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, ErrInvalidArguments)
	})

	t.Run("wrong type", func(t *testing.T) {
		result := r.Dispatch(ctx, "echo", json.RawMessage(`{"message":42}`))
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, ErrInvalidArguments)
	})

	t.Run("enum violation", func(t *testing.T) {
		result := r.Dispatch(ctx, "echo", json.RawMessage(`{"message":"hi","tags":["z"]}`))
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, ErrInvalidArguments)
	})

	t.Run("malformed json", func(t *testing.T) {
		result := r.Dispatch(ctx, "echo", json.RawMessage(`{"message":`))
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, ErrInvalidArguments)
	})

	t.Run("empty arguments are an empty object", func(t *testing.T) {
		result := r.Dispatch(ctx, "echo", nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "message")
	})
}

func TestRegistry_Dispatch_HandlerFailures(t *testing.T) {
	observer := &recordingObserver{}
	r := New(WithTimeout(50*time.Millisecond), WithObserver(observer))

	require.NoError(t, r.RegisterTool(ToolDefinition{
		Name:        "fails",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("backend unreachable")
		},
	}))
	require.NoError(t, r.RegisterTool(ToolDefinition{
		Name:        "panics",
		Description: "Always panics",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("boom")
		},
	}))
	require.NoError(t, r.RegisterTool(ToolDefinition{
		Name:        "slow",
		Description: "Never returns in time",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return "late", nil
		},
	}))

	ctx := context.Background()

	result := r.Dispatch(ctx, "fails", nil)
	assert.False(t, result.Success)
	assert.Equal(t, "backend unreachable", result.Error)
	assert.Equal(t, map[string]interface{}{"error": "backend unreachable"}, result.Payload())

	result = r.Dispatch(ctx, "panics", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "panicked")

	result = r.Dispatch(ctx, "slow", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timeout")

	assert.Equal(t, map[string][]bool{
		"fails":  {false},
		"panics": {false},
		"slow":   {false},
	}, observer.calls)
}

func TestRegistry_Definitions(t *testing.T) {
	r := New()
	noop := func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil }
	for _, name := range []string{"b_tool", "a_tool", "c_tool"} {
		require.NoError(t, r.RegisterTool(ToolDefinition{Name: name, Description: name, Handler: noop}))
	}

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "b_tool", defs[0].Name)
	assert.Equal(t, "a_tool", defs[1].Name)
	assert.Equal(t, "c_tool", defs[2].Name)
}

func TestInputSchema(t *testing.T) {
	schema := InputSchema(echoDefinition())

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Equal(t, []string{"message"}, schema["required"])

	props := schema["properties"].(map[string]interface{})
	tags := props["tags"].(map[string]interface{})
	assert.Equal(t, "array", tags["type"])
	assert.Equal(t, map[string]interface{}{"type": "string", "enum": []interface{}{"a", "b"}}, tags["items"])

	assert.False(t, StrictCompatible(echoDefinition()))
	assert.True(t, StrictCompatible(ToolDefinition{Parameters: []ToolParameter{{Name: "x", Required: true}}}))
}

func TestDecodeInput(t *testing.T) {
	in, err := DecodeInput[echoInput](map[string]interface{}{"message": "hi", "tags": []interface{}{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, echoInput{Message: "hi", Tags: []string{"a", "b"}}, in)

	_, err = DecodeInput[echoInput](map[string]interface{}{"message": "hi", "unexpected": true})
	assert.ErrorIs(t, err, ErrInvalidArguments)
}
