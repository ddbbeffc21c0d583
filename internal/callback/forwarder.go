// Package callback implements the outbound HTTP delivery leg of the
// delivery engine (spec.md §4.5 "Callback (C10)") with retry/backoff and
// an SSRF-safe URL policy (§4.5.1).
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout is the default outbound callback request timeout
// (spec.md §4.5: "timeout 10 s default").
const DefaultTimeout = 10 * time.Second

// DefaultMaxRetries is the default number of additional attempts beyond the
// first (spec.md §4.5: "default 2").
const DefaultMaxRetries = 2

// Payload is the JSON body POSTed to a recipient's callback URL.
type Payload struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Forwarder posts messages to recipient callback URLs with retry and
// exponential backoff.
type Forwarder struct {
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger
}

// NewForwarder constructs a Forwarder.
func NewForwarder(timeout time.Duration, maxRetries int, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client:     &http.Client{},
		timeout:    timeout,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Result describes the outcome of a Deliver call.
type Result struct {
	Delivered  bool
	StatusCode int
	Attempts   int
}

// Deliver POSTs payload to callbackURL, retrying on network error or 5xx up
// to maxRetries additional times with backoff 100·2ⁿ ms (spec.md §4.5).
// A 4xx response is terminal: no retry.
func (f *Forwarder) Deliver(ctx context.Context, callbackURL string, payload Payload) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		f.logger.Error("marshaling callback payload", "error", err, "message_id", payload.MessageID)
		return Result{Delivered: false}
	}

	var lastStatus int
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Result{Delivered: false, StatusCode: lastStatus, Attempts: attempt}
			}
		}

		status, err := f.attempt(ctx, callbackURL, body, payload)
		if err == nil && status >= 200 && status < 300 {
			return Result{Delivered: true, StatusCode: status, Attempts: attempt + 1}
		}

		lastStatus = status
		if err == nil && status >= 400 && status < 500 {
			// Terminal: 4xx never retries.
			return Result{Delivered: false, StatusCode: status, Attempts: attempt + 1}
		}

		f.logger.Warn("callback delivery attempt failed", "message_id", payload.MessageID, "attempt", attempt+1, "status", status, "error", err)
	}

	return Result{Delivered: false, StatusCode: lastStatus, Attempts: f.maxRetries + 1}
}

func (f *Forwarder) attempt(ctx context.Context, callbackURL string, body []byte, payload Payload) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OCMT-Message-Id", payload.MessageID)
	req.Header.Set("X-OCMT-From", payload.From)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending callback request: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}
