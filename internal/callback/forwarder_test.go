package callback

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestDeliverSucceedsFirstAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("X-OCMT-Message-Id") != "msg-1" {
			t.Errorf("expected X-OCMT-Message-Id header, got %q", r.Header.Get("X-OCMT-Message-Id"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewForwarder(2*time.Second, 2, testLogger())
	res := f.Deliver(context.Background(), srv.URL, Payload{Type: "message", MessageID: "msg-1", From: "c1"})

	if !res.Delivered {
		t.Fatalf("expected delivery to succeed, got %+v", res)
	}
	if res.Attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", res.Attempts)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call to server, got %d", calls)
	}
}

func TestDeliverTerminatesOn4xxWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := NewForwarder(2*time.Second, 2, testLogger())
	res := f.Deliver(context.Background(), srv.URL, Payload{Type: "message", MessageID: "msg-2", From: "c1"})

	if res.Delivered {
		t.Fatal("expected delivery to fail on 4xx")
	}
	if res.Attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a terminal 4xx, got %d", res.Attempts)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call to server for 4xx, got %d", calls)
	}
}

func TestDeliverRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewForwarder(2*time.Second, 2, testLogger())
	res := f.Deliver(context.Background(), srv.URL, Payload{Type: "message", MessageID: "msg-3", From: "c1"})

	if !res.Delivered {
		t.Fatalf("expected eventual success after retries, got %+v", res)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", res.Attempts)
	}
}

func TestDeliverExhaustsRetriesOnPersistent5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewForwarder(2*time.Second, 2, testLogger())
	res := f.Deliver(context.Background(), srv.URL, Payload{Type: "message", MessageID: "msg-4", From: "c1"})

	if res.Delivered {
		t.Fatal("expected delivery to fail after exhausting retries")
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 1 initial attempt + 2 retries = 3, got %d", res.Attempts)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls to server, got %d", calls)
	}
}

func TestDeliverRetriesOnNetworkError(t *testing.T) {
	f := NewForwarder(500*time.Millisecond, 1, testLogger())
	res := f.Deliver(context.Background(), "http://127.0.0.1:1", Payload{Type: "message", MessageID: "msg-5", From: "c1"})

	if res.Delivered {
		t.Fatal("expected delivery to an unreachable host to fail")
	}
	if res.Attempts != 2 {
		t.Fatalf("expected 1 initial attempt + 1 retry = 2, got %d", res.Attempts)
	}
}

func TestDeliverRespectsRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewForwarder(50*time.Millisecond, 0, testLogger())
	res := f.Deliver(context.Background(), srv.URL, Payload{Type: "message", MessageID: "msg-6", From: "c1"})

	if res.Delivered {
		t.Fatal("expected delivery to time out")
	}
}

func TestDeliverAbortsOnContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := NewForwarder(2*time.Second, 3, testLogger())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res := f.Deliver(ctx, srv.URL, Payload{Type: "message", MessageID: "msg-7", From: "c1"})
	if res.Delivered {
		t.Fatal("expected delivery aborted by context cancellation to fail")
	}
}
