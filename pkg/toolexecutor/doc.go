// Package toolexecutor declares the tools advertised to the model and
// validates and dispatches the invocations it proposes.
//
// Invariants:
// - Tool names are unique.
// - Arguments are schema-validated before the handler runs; unknown
//   top-level keys and missing required keys are rejected.
// - Dispatch never returns an error or panics: every failure becomes a
//   ToolResult with Success=false.
//
// Usage:
//
//	reg := toolexecutor.New()
//	_ = toolexecutor.Declare(reg, toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//	}, func(ctx context.Context, in EchoInput) (interface{}, error) { return in.Text, nil })
//	result := reg.Dispatch(ctx, "echo", json.RawMessage(`{"text":"hi"}`))
package toolexecutor
