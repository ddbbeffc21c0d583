package relayauth

import "context"

type contextKey string

const containerIDKey contextKey = "relay_container_id"

// NewContext returns a context carrying the authenticated container id.
func NewContext(ctx context.Context, containerID string) context.Context {
	return context.WithValue(ctx, containerIDKey, containerID)
}

// ContainerIDFromContext extracts the authenticated container id set by
// Middleware, or "" if the request was never authenticated.
func ContainerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(containerIDKey).(string); ok {
		return v
	}
	return ""
}
