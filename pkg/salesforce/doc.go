// Package salesforce acquires, tracks and renews the backend session used by
// the lookup tools, and exposes a small read-only REST client on top of it.
//
// Invariants:
// - Manager.Client never returns a session whose remaining lifetime is below
//   the safety margin.
// - Exactly one authentication strategy is attempted per refresh; failures are
//   returned to the caller without retry.
// - Concurrent callers that find the session stale share one refresh.
//
// Usage:
//
//	mgr, _ := salesforce.NewManager(salesforce.Config{...})
//	client, err := mgr.Client(ctx)
//	if err != nil {
//		return err
//	}
//	res, err := client.ToolingQuery(ctx, "SELECT Id FROM ApexClass LIMIT 1")
package salesforce
