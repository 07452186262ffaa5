package toolexecutor

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// TypedHandler receives arguments decoded into a per-tool input struct
type TypedHandler[T any] func(ctx context.Context, input T) (interface{}, error)

// Declare registers def with a handler that receives T. The schema check runs
// first; the decode then rejects keys that T does not declare.
func Declare[T any](r *Registry, def ToolDefinition, handler TypedHandler[T]) error {
	if handler == nil {
		return fmt.Errorf("invalid tool definition: tool handler cannot be nil")
	}

	def.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		input, err := DecodeInput[T](params)
		if err != nil {
			return nil, err
		}
		return handler(ctx, input)
	}

	return r.RegisterTool(def)
}

// DecodeInput converts validated parameters into T using its json tags
func DecodeInput[T any](params map[string]interface{}) (T, error) {
	var input T

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      &input,
	})
	if err != nil {
		return input, fmt.Errorf("build decoder: %w", err)
	}

	if err := decoder.Decode(params); err != nil {
		return input, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	return input, nil
}
