// Package ratelimit implements the two-layer rate limiter from spec.md
// §4.4: a distributed fixed-window counter backed by the shared Redis
// store, with a process-local in-memory fallback when Redis is
// unreachable. Rate limiting is a quality-of-service feature, not a
// security boundary, so every unexpected error fails open.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one Allow call for one identifier.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter enforces a fixed-window counter per key, backed by Redis INCR +
// EXPIRE (spec.md §4.4). EXPIRE is only set on the request that opens a
// new window, so the window has a fixed end regardless of how much
// traffic arrives inside it. Falls back to an in-memory map when Redis
// errors.
type Limiter struct {
	redis    *redis.Client
	fallback *Fallback
	cap      int
	window   time.Duration
	service  string
	name     string
}

// New constructs a Limiter scoped to (service, name) — e.g.
// ("relay", "messages-per-minute") — so keys never collide across
// independently-configured limiters sharing one Redis instance.
func New(rdb *redis.Client, fallback *Fallback, service, name string, cap int, window time.Duration) *Limiter {
	return &Limiter{
		redis:    rdb,
		fallback: fallback,
		cap:      cap,
		window:   window,
		service:  service,
		name:     name,
	}
}

func (l *Limiter) key(identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", l.service, l.name, identifier)
}

// Allow increments identifier's counter for the current window and reports
// whether the request is within the configured cap. On any Redis error it
// falls through to the in-memory fallback; the fallback itself never
// errors the caller out (spec.md §4.4: "on any unexpected error, fail
// open").
func (l *Limiter) Allow(ctx context.Context, identifier string) Result {
	if l.redis == nil {
		return l.fallback.Allow(l.service, l.name, identifier, l.cap, l.window)
	}

	key := l.key(identifier)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return l.fallback.Allow(l.service, l.name, identifier, l.cap, l.window)
	}

	// Only the request that opens a window sets its TTL. Renewing the TTL
	// on every request would keep a continuously-sending client's window
	// open forever, so it would never roll over (spec.md §4.4 fixed-window
	// semantics).
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return l.fallback.Allow(l.service, l.name, identifier, l.cap, l.window)
		}
	}

	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}

	if count > int64(l.cap) {
		return Result{
			Allowed:    false,
			Limit:      l.cap,
			Remaining:  0,
			ResetAt:    time.Now().Add(ttl),
			RetryAfter: ttl,
		}
	}

	return Result{
		Allowed:   true,
		Limit:     l.cap,
		Remaining: l.cap - int(count),
		ResetAt:   time.Now().Add(ttl),
	}
}
