package live

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocmt/relay/internal/message"
	"github.com/ocmt/relay/internal/relayauth"
)

// MessageSource is the subset of message.Store the live handler needs to
// flush a recipient's pending queue on connect and mark delivery on ack.
type MessageSource interface {
	ListPendingForRecipient(ctx context.Context, recipient string, limit int) ([]message.Message, error)
	MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) (bool, error)
}

const flushBatchLimit = 500

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades and authenticates WebSocket connections for
// /relay/subscribe (spec.md §6 "WebSocket. Path /relay/subscribe").
type Handler struct {
	hub      *Hub
	verifier relayauth.GatewayVerifier
	messages MessageSource
	logger   *slog.Logger
}

// NewHandler constructs a live-push Handler.
func NewHandler(hub *Hub, verifier relayauth.GatewayVerifier, messages MessageSource, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, verifier: verifier, messages: messages, logger: logger}
}

// ServeHTTP upgrades the connection after authenticating via the
// Sec-WebSocket-Protocol subprotocol (or, deprecation-logged, query
// parameters), registers it with the hub, flushes the pending queue, and
// runs the read/write pumps until the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	containerID, gatewayToken, ok := h.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := h.verifier.Verify(r.Context(), containerID, gatewayToken)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if status == relayauth.StatusSuspended {
		http.Error(w, "suspended", http.StatusForbidden)
		return
	}

	upgrader.Subprotocols = []string{"ocmt-relay"}
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "container_id", containerID)
		return
	}

	conn := NewConnection(wsConn, containerID, h.logger, h.handleAck)
	h.hub.Register(containerID, conn)

	conn.Send(Frame{Type: "connected", ContainerID: containerID, Timestamp: time.Now().Unix()})
	h.flushPending(r.Context(), containerID, conn)

	go func() {
		defer h.hub.Unregister(containerID, conn)
		conn.ReadPump()
	}()
	conn.WritePump()
}

// authenticate implements spec.md §6's two auth paths: the
// Sec-WebSocket-Protocol subprotocol (preferred) and a deprecated
// query-parameter fallback, deprecation-logged.
func (h *Handler) authenticate(r *http.Request) (containerID, gatewayToken string, ok bool) {
	for _, proto := range websocket.Subprotocols(r) {
		if cid, tok, parsed := relayauth.ParseWSSubprotocolToken(proto); parsed {
			return cid, tok, true
		}
	}

	q := r.URL.Query()
	cid := q.Get("containerId")
	tok := q.Get("token")
	if cid != "" && tok != "" {
		h.logger.Warn("websocket query-parameter auth is deprecated", "container_id", cid)
		return cid, tok, true
	}

	return "", "", false
}

func (h *Handler) flushPending(ctx context.Context, containerID string, conn *Connection) {
	pending, err := h.messages.ListPendingForRecipient(ctx, containerID, flushBatchLimit)
	if err != nil {
		h.logger.Error("listing pending messages for flush", "error", err, "container_id", containerID)
		return
	}

	for _, m := range pending {
		conn.Send(Frame{
			Type:      "message",
			ID:        m.ID,
			From:      m.From,
			Payload:   m.Payload,
			Timestamp: m.CreatedAt.Unix(),
		})
	}
}

func (h *Handler) handleAck(recipient string, messageIDs []string) {
	ctx := context.Background()
	for _, id := range messageIDs {
		if _, err := h.messages.MarkDelivered(ctx, id, time.Now()); err != nil {
			h.logger.Error("marking message delivered via ack", "error", err, "message_id", id, "recipient", recipient)
		}
	}
}
