package api

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements per-caller fixed-window rate limiting.
// ARCHITECTURAL DISCOVERY: Per-client state tracking with periodic cleanup
// keeps memory bounded by the set of recently active callers.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*ClientLimit
}

// ClientLimit tracks one caller's current window.
type ClientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit operations per window per caller. A limit of
// zero or less disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*ClientLimit),
	}
}

// Enabled reports whether Allow can ever refuse.
func (rl *RateLimiter) Enabled() bool {
	return rl.limit > 0
}

// Allow records one operation for key and reports whether it is within limit.
func (rl *RateLimiter) Allow(key string) bool {
	if !rl.Enabled() {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	client, exists := rl.clients[key]
	if !exists || now.Sub(client.windowStart) >= rl.window {
		rl.clients[key] = &ClientLimit{count: 1, windowStart: now}
		return true
	}

	if client.count >= rl.limit {
		return false
	}
	client.count++
	return true
}

// Cleanup removes callers idle for more than five windows.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, client := range rl.clients {
		if now.Sub(client.windowStart) > 5*rl.window {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is cancelled.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) error {
	if !rl.Enabled() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-ctx.Done():
			return nil
		}
	}
}
