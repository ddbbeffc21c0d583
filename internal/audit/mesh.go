package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// MeshEventType enumerates the cross-service capability events the relay
// shares with the management server's mesh audit stream (spec.md §7, §9).
type MeshEventType string

const (
	EventCapabilityDenied         MeshEventType = "CAPABILITY_DENIED"
	EventCapabilityUsed           MeshEventType = "CAPABILITY_USED"
	EventCapabilityRevoked        MeshEventType = "CAPABILITY_REVOKED"
	EventRelayMessageForwarded    MeshEventType = "RELAY_MESSAGE_FORWARDED"
)

// MeshEvent is the JSON body POSTed to the mesh audit sink.
type MeshEvent struct {
	Source       string        `json:"source"`
	Type         MeshEventType `json:"type"`
	CapabilityID string        `json:"capabilityId,omitempty"`
	ContainerID  string        `json:"containerId,omitempty"`
	Timestamp    int64         `json:"timestamp"`
}

// MeshSink posts capability-relevant events to the shared mesh audit
// service. If baseURL is empty, every call is a no-op — the relay can run
// without a configured mesh sink (e.g. in local development).
type MeshSink struct {
	client  *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewMeshSink constructs a MeshSink. baseURL/token come from
// config.MeshAuditURL/MeshAuditToken.
func NewMeshSink(baseURL, token string, logger *slog.Logger) *MeshSink {
	return &MeshSink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: baseURL,
		token:   token,
		logger:  logger,
	}
}

// Enabled reports whether a mesh sink endpoint is configured.
func (m *MeshSink) Enabled() bool {
	return m.baseURL != ""
}

// Emit posts event to the mesh audit sink, tagging its source as
// "relay-server" (spec.md §4.7). Failures are logged and swallowed: the
// mesh audit stream is best-effort and must never fail the caller's
// request.
func (m *MeshSink) Emit(ctx context.Context, eventType MeshEventType, capabilityID, containerID string) {
	if !m.Enabled() {
		return
	}

	event := MeshEvent{
		Source:       "relay-server",
		Type:         eventType,
		CapabilityID: capabilityID,
		ContainerID:  containerID,
		Timestamp:    time.Now().Unix(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		m.logger.Error("marshaling mesh audit event", "error", err, "type", eventType)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL, bytes.NewReader(body))
	if err != nil {
		m.logger.Error("building mesh audit request", "error", err, "type", eventType)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", m.token))

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("posting mesh audit event", "error", err, "type", eventType)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Warn("mesh audit sink returned non-2xx", "status", resp.StatusCode, "type", eventType)
	}
}
