package live

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
	pongTimeout   = 60 * time.Second
	sendQueueSize = 64
)

// AckHandler is called when a client acks one or more message ids.
type AckHandler func(recipient string, messageIDs []string)

// Connection wraps one gorilla/websocket connection for a single recipient
// container. A container may hold several concurrent Connections.
type Connection struct {
	conn      *websocket.Conn
	recipient string
	logger    *slog.Logger
	onAck     AckHandler

	send   chan Frame
	closed chan struct{}
	once   sync.Once
}

// NewConnection wraps conn for recipient, with onAck invoked for every
// client ack/ack_batch frame received.
func NewConnection(conn *websocket.Conn, recipient string, logger *slog.Logger, onAck AckHandler) *Connection {
	return &Connection{
		conn:      conn,
		recipient: recipient,
		logger:    logger,
		onAck:     onAck,
		send:      make(chan Frame, sendQueueSize),
		closed:    make(chan struct{}),
	}
}

// Send enqueues frame for delivery on this connection. Returns false if the
// connection is closed or its send queue is full (a slow/dead client never
// blocks the hub).
func (c *Connection) Send(frame Frame) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("dropping frame to slow connection", "recipient", c.recipient, "type", frame.Type)
		return false
	}
}

// Close shuts down the connection's write pump exactly once.
func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// WritePump drains c.send to the socket and pings every 30s until Close is
// called or a write fails (spec.md §6: "Server pings every 30 s").
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-c.closed:
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.Debug("write failed, closing connection", "recipient", c.recipient, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientFrame is a client → server WS frame (spec.md §6).
type clientFrame struct {
	Type       string   `json:"type"`
	MessageID  string   `json:"messageId,omitempty"`
	MessageIDs []string `json:"messageIds,omitempty"`
}

const maxAckBatch = 100

// ReadPump reads client frames until the connection closes or errors.
// Runs on the goroutine that owns the read side; a failed read always
// terminates the connection.
func (c *Connection) ReadPump() {
	defer c.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var frame clientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case "ack":
			if frame.MessageID != "" && c.onAck != nil {
				c.onAck(c.recipient, []string{frame.MessageID})
			}
		case "ack_batch":
			ids := frame.MessageIDs
			if len(ids) > maxAckBatch {
				ids = ids[:maxAckBatch]
			}
			if len(ids) > 0 && c.onAck != nil {
				c.onAck(c.recipient, ids)
			}
		case "ping":
			c.Send(Frame{Type: "pong", Timestamp: time.Now().Unix()})
		}
	}
}
