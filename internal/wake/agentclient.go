// Package wake implements the final leg of the delivery state machine
// (spec.md §4.5.1 "Wake (C11)"): querying a container's status from the
// agent server and, if it is hibernated or stopped, triggering a wake so
// the container can reconnect and drain its pending queue.
package wake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ocmt/relay/internal/relayauth"
)

// AgentClient talks to the external agent server's container status and
// wake RPCs (spec.md §6 "agent server" collaborator interface).
type AgentClient struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
}

// NewAgentClient constructs an AgentClient. Its http.Client has no timeout
// of its own; Status and Wake each take the timeout that bounds the call.
func NewAgentClient(baseURL, authToken string) *AgentClient {
	return &AgentClient{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		authToken:  authToken,
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

// Status queries GET /api/containers/:id/status on the agent server.
func (c *AgentClient) Status(ctx context.Context, containerID string, timeout time.Duration) (relayauth.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/containers/%s/status", c.baseURL, containerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return relayauth.StatusUnknown, fmt.Errorf("building status request: %w", err)
	}
	req.Header.Set("X-Auth-Token", c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return relayauth.StatusUnknown, fmt.Errorf("requesting container status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return relayauth.StatusUnknown, fmt.Errorf("agent server returned status %d for container status", resp.StatusCode)
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return relayauth.StatusUnknown, fmt.Errorf("decoding container status response: %w", err)
	}

	return relayauth.Status(sr.Status), nil
}

// Wake calls POST /api/containers/:id/wake on the agent server.
func (c *AgentClient) Wake(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/containers/%s/wake", c.baseURL, containerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("building wake request: %w", err)
	}
	req.Header.Set("X-Auth-Token", c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting container wake: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agent server returned status %d for wake", resp.StatusCode)
	}

	return nil
}
