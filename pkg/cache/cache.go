package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// TTLCache is a concurrency-safe key/value store with lazy expiry
type TTLCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        Clock
}

// Option configures a TTLCache
type Option func(*TTLCache)

// WithClock overrides the time source
func WithClock(clock Clock) Option {
	return func(c *TTLCache) {
		if clock != nil {
			c.now = clock
		}
	}
}

// New creates a cache whose Set falls back to defaultTTL when no TTL is given
func New(defaultTTL time.Duration, opts ...Option) *TTLCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}

	c := &TTLCache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value stored under key. Expired entries are removed.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if c.now().Before(e.expiresAt) {
		return e.value, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another writer may have replaced the entry since the read lock was dropped.
	current, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Before(current.expiresAt) {
		return current.value, true
	}
	delete(c.entries, key)
	return nil, false
}

// Set stores value under key for ttl. A non-positive ttl uses the default.
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Delete removes key if present
func (c *TTLCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	return ok
}

// Len returns the number of stored entries, including ones that expired but
// have not been read since.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// DefaultTTL returns the TTL applied when Set receives none
func (c *TTLCache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Key derives a deterministic cache key from a tool name and its arguments.
// Arguments are JSON-encoded, so map keys are sorted and struct fields keep
// declaration order.
func Key(tool string, args interface{}) string {
	if args == nil {
		return tool
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%s:%v", tool, args)
	}
	return tool + ":" + string(encoded)
}
