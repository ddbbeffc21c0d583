package relayauth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeVerifier struct {
	status Status
	err    error
}

func (f *fakeVerifier) Verify(ctx context.Context, containerID, gatewayToken string) (Status, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.status, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareRejectsMissingHeaders(t *testing.T) {
	mw := Middleware(&fakeVerifier{status: StatusActive}, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/relay/health", nil)
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	mw := Middleware(&fakeVerifier{err: ErrBadGatewayToken}, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/relay/health", nil)
	req.Header.Set("X-Container-Id", "container-1")
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsSuspendedContainer(t *testing.T) {
	mw := Middleware(&fakeVerifier{status: StatusSuspended}, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/relay/health", nil)
	req.Header.Set("X-Container-Id", "container-1")
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestMiddlewareAllowsActiveContainer(t *testing.T) {
	var gotContainerID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContainerID = ContainerIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	mw := Middleware(&fakeVerifier{status: StatusActive}, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/relay/health", nil)
	req.Header.Set("X-Container-Id", "container-1")
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()

	mw(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotContainerID != "container-1" {
		t.Fatalf("expected container id propagated to context, got %q", gotContainerID)
	}
}

func TestParseWSSubprotocolToken(t *testing.T) {
	// base64("container-1:gw-token-abc")
	const subprotocol = "token.Y29udGFpbmVyLTE6Z3ctdG9rZW4tYWJj"

	containerID, token, ok := ParseWSSubprotocolToken(subprotocol)
	if !ok {
		t.Fatal("expected valid subprotocol to parse")
	}
	if containerID != "container-1" || token != "gw-token-abc" {
		t.Fatalf("unexpected parse result: containerID=%q token=%q", containerID, token)
	}
}

func TestParseWSSubprotocolTokenRejectsMalformed(t *testing.T) {
	if _, _, ok := ParseWSSubprotocolToken("ocmt-relay"); ok {
		t.Fatal("expected non-token subprotocol to fail parse")
	}
	if _, _, ok := ParseWSSubprotocolToken("token.not-base64!!!"); ok {
		t.Fatal("expected invalid base64 to fail parse")
	}
}
