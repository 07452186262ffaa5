// Package agent answers one question per run by looping between a model
// provider and the tool registry.
//
// Invariants:
// - A run performs at most maxIterations model calls.
// - Tool calls of one model turn are dispatched in order; every call yields
//   exactly one tool result message and one log entry.
// - Unknown tools, invalid arguments and tool failures are reported to the
//   model, never returned as run errors.
// - Conversations live only for the duration of Run.
//
// Usage:
//
//	provider, _ := agent.NewProvider(agent.ProviderConfig{Provider: "openai", APIKey: key})
//	cfg := agent.DefaultConfig()
//	cfg.Provider = provider
//	cfg.Tools = registry
//	orch, _ := agent.NewOrchestrator(cfg)
//	result, _ := orch.Run(ctx, "What does class Foo do?", 5)
//	_ = result
package agent
