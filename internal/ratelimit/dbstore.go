package ratelimit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBLimiter is the second, DB-backed layer from spec.md §4.4: "a DB-backed
// per-container counter with a longer window for abuse control." It is
// layered on top of (not instead of) the distributed Limiter.
type DBLimiter struct {
	pool   *pgxpool.Pool
	cap    int
	window time.Duration
}

// NewDBLimiter constructs a DBLimiter backed by the relay_rate_limits
// table (one row per container, reset when its window has elapsed).
func NewDBLimiter(pool *pgxpool.Pool, cap int, window time.Duration) *DBLimiter {
	return &DBLimiter{pool: pool, cap: cap, window: window}
}

// Allow increments containerID's fixed-window counter, resetting the
// window when it has expired. On any database error it fails open
// (spec.md §4.4: "on any unexpected error, fail open").
func (d *DBLimiter) Allow(ctx context.Context, containerID string) Result {
	now := time.Now()

	var windowStart time.Time
	var count int
	err := d.pool.QueryRow(ctx, `
		INSERT INTO relay_rate_limits (container_id, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (container_id) DO UPDATE SET
			window_start = CASE WHEN relay_rate_limits.window_start < $3 THEN $2 ELSE relay_rate_limits.window_start END,
			count = CASE WHEN relay_rate_limits.window_start < $3 THEN 1 ELSE relay_rate_limits.count + 1 END
		RETURNING window_start, count
	`, containerID, now, now.Add(-d.window)).Scan(&windowStart, &count)
	if err != nil {
		return Result{Allowed: true, Limit: d.cap, Remaining: d.cap}
	}

	resetAt := windowStart.Add(d.window)

	if count > d.cap {
		return Result{
			Allowed:    false,
			Limit:      d.cap,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	return Result{
		Allowed:   true,
		Limit:     d.cap,
		Remaining: d.cap - count,
		ResetAt:   resetAt,
	}
}
