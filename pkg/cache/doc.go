// Package cache provides the time-bounded result cache shared by tool handlers.
//
// Invariants:
// - A lookup after an entry's expiry behaves as a miss and evicts the entry.
// - There is no background sweep and no size bound; expiry is checked on read.
// - Concurrent writers on the same key are last-write-wins.
//
// Usage:
//
//	c := cache.New(5 * time.Minute)
//	c.Set(cache.Key("get_apex_class", args), record, 0) // 0 uses the default TTL
//	v, ok := c.Get(cache.Key("get_apex_class", args))
package cache
