package server

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// rateLimitCleanupInterval is how often Server.Run evicts idle clients.
const rateLimitCleanupInterval = 10 * time.Minute

// RateLimitError reports which window a client exhausted.
type RateLimitError struct {
	Window     string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s, retry after %s",
		e.Limit, e.Window, e.RetryAfter.Round(time.Second))
}

type window struct {
	start time.Time
	count int
}

type clientUsage struct {
	minute window
	hour   window
}

// RateLimiter counts requests per client in fixed minute and hour windows.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	clients   map[string]*clientUsage
	now       func() time.Time
}

// NewRateLimiter creates a limiter. A zero limit disables that window.
func NewRateLimiter(perMinute, perHour int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		clients:   make(map[string]*clientUsage),
		now:       time.Now,
	}
}

// Allow records a request from client or returns a *RateLimitError.
func (rl *RateLimiter) Allow(client string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{}
		rl.clients[client] = u
	}
	if err := check(&u.minute, now, time.Minute, rl.perMinute, "minute"); err != nil {
		return err
	}
	if err := check(&u.hour, now, time.Hour, rl.perHour, "hour"); err != nil {
		return err
	}
	u.minute.count++
	u.hour.count++
	return nil
}

func check(w *window, now time.Time, span time.Duration, limit int, name string) error {
	if now.Sub(w.start) >= span {
		w.start = now
		w.count = 0
	}
	if limit > 0 && w.count >= limit {
		return &RateLimitError{Window: name, Limit: limit, RetryAfter: span - now.Sub(w.start)}
	}
	return nil
}

// Cleanup drops clients idle for longer than an hour.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for id, u := range rl.clients {
		if now.Sub(u.hour.start) >= time.Hour && now.Sub(u.minute.start) >= time.Hour {
			delete(rl.clients, id)
		}
	}
}

// RunCleanup calls Cleanup every interval until ctx is cancelled.
func (rl *RateLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Clients reports how many clients are currently tracked.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
