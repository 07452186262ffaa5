package api

import (
	"sync"
	"time"
)

// RateLimiter implements per-client rate limiting with a sliding one-minute
// window. A limit of zero disables it.
type RateLimiter struct {
	limits          map[string][]time.Time
	maxPerMinute    int
	window          time.Duration
	now             func() time.Time
	mu              sync.Mutex
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new rate limiter and starts its cleanup loop
func NewRateLimiter(maxPerMinute int) *RateLimiter {
	rl := newRateLimiter(maxPerMinute, time.Now)
	go rl.startCleanup()
	return rl
}

func newRateLimiter(maxPerMinute int, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		limits:          make(map[string][]time.Time),
		maxPerMinute:    maxPerMinute,
		window:          time.Minute,
		now:             now,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}
}

// Allow records a request from key and reports whether it is within the
// limit. When it is not, retryAfter is the time until the oldest request in
// the window expires.
func (rl *RateLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	if rl.maxPerMinute <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.prune(rl.limits[key], now)

	if len(recent) >= rl.maxPerMinute {
		rl.limits[key] = recent
		return false, recent[0].Add(rl.window).Sub(now)
	}

	rl.limits[key] = append(recent, now)
	return true, 0
}

// prune drops timestamps that fell out of the window
func (rl *RateLimiter) prune(requests []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(requests) && !requests[i].After(cutoff) {
		i++
	}
	return requests[i:]
}

func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup forgets clients with no requests in the window
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, requests := range rl.limits {
		recent := rl.prune(requests, now)
		if len(recent) == 0 {
			delete(rl.limits, key)
			continue
		}
		rl.limits[key] = recent
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// retryAfterSeconds rounds d up to whole seconds, minimum one
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
