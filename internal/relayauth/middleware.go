package relayauth

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ocmt/relay/internal/httpserver"
)

// Middleware authenticates HTTP requests via bearer gateway token plus
// X-Container-Id header (spec.md §6: "Auth: container"). There is
// deliberately no development bypass: every request not carrying a valid
// token and a matching, non-suspended container is rejected (spec.md §7
// fail-closed policy on authentication).
func Middleware(verifier GatewayVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			containerID := r.Header.Get("X-Container-Id")
			authHeader := r.Header.Get("Authorization")

			if containerID == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing gateway token or container id")
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if token == "" {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing gateway token")
				return
			}

			status, err := verifier.Verify(r.Context(), containerID, token)
			if err != nil {
				if errors.Is(err, ErrUnknownContainer) || errors.Is(err, ErrBadGatewayToken) {
					httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid gateway token")
					return
				}
				logger.Error("verifying gateway token", "error", err, "container_id", containerID)
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid gateway token")
				return
			}

			if status == StatusSuspended {
				httpserver.RespondError(w, http.StatusForbidden, "suspended", "container is suspended")
				return
			}

			ctx := NewContext(r.Context(), containerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseWSSubprotocolToken extracts containerId and gatewayToken from the
// `token.<base64("<containerId>:<gatewayToken>")>` WebSocket subprotocol
// (spec.md §6 WebSocket auth). Returns ok=false if the subprotocol is
// malformed.
func ParseWSSubprotocolToken(subprotocol string) (containerID, gatewayToken string, ok bool) {
	const prefix = "token."
	if !strings.HasPrefix(subprotocol, prefix) {
		return "", "", false
	}
	encoded := strings.TrimPrefix(subprotocol, prefix)

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", false
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
