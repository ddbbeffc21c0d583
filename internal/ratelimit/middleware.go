package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ocmt/relay/internal/httpserver"
	"github.com/ocmt/relay/internal/relayauth"
	"github.com/ocmt/relay/internal/telemetry"
)

// IdentifierFunc extracts the key a Limiter should rate-limit on, e.g. the
// authenticated container id or the client IP.
type IdentifierFunc func(r *http.Request) string

// checker is implemented by both Limiter and DBLimiter, letting Middleware
// layer either (or both, chained) onto a route (spec.md §4.4: "two
// independent limiters are layered on the hot path").
type checker interface {
	Allow(ctx context.Context, identifier string) Result
}

// ByContainer keys the limiter on the authenticated container id set by
// relayauth.Middleware, falling back to the remote address if absent.
func ByContainer(r *http.Request) string {
	if cid := relayauth.ContainerIDFromContext(r.Context()); cid != "" {
		return cid
	}
	return r.RemoteAddr
}

// ByIP keys the limiter on the client's remote address.
func ByIP(r *http.Request) string {
	return r.RemoteAddr
}

// Middleware wraps an http.Handler with a rate-limit check, writing the
// RateLimit-* headers on every response and a 429 with Retry-After when the
// identifier is over cap (spec.md §4.4, §6). scope labels the
// RateLimitedTotal metric so multiple layered limiters on one route remain
// distinguishable.
func Middleware(limiter checker, identify IdentifierFunc, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identify(r)
			res := limiter.Allow(r.Context(), id)

			w.Header().Set("RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				telemetry.RateLimitedTotal.WithLabelValues(scope).Inc()
				retryAfter := int(res.RetryAfter / time.Second)
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httpserver.RespondError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
