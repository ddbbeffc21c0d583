// Package live implements the WebSocket fan-out push path (spec.md §4.5
// "Live push (C9)"): per-recipient connection sets, flush-on-connect,
// client ack handling, and keep-alive pings.
package live

import (
	"sync"

	"github.com/ocmt/relay/internal/telemetry"
)

// Frame is a server → client WS frame (spec.md §6 WebSocket frames).
type Frame struct {
	Type      string `json:"type"`
	ContainerID string `json:"containerId,omitempty"`
	ID        string `json:"id,omitempty"`
	From      string `json:"from,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`
}

// Hub tracks the set of open connections per recipient container. Mutated
// concurrently by the accept path, delivery path, and close path; all
// mutations go through the hub's mutex (spec.md §5: "mutual exclusion on
// the set, not on individual sends").
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

// Register adds conn to recipient's connection set.
func (h *Hub) Register(recipient string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.connections[recipient]
	if !ok {
		set = make(map[*Connection]struct{})
		h.connections[recipient] = set
	}
	set[conn] = struct{}{}
	telemetry.WSConnections.Inc()
}

// Unregister removes conn from recipient's connection set.
func (h *Hub) Unregister(recipient string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.connections[recipient]
	if !ok {
		return
	}
	if _, ok := set[conn]; !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, recipient)
	}
	telemetry.WSConnections.Dec()
}

// connectionsFor returns a snapshot slice of recipient's open connections.
// The slice is taken under the lock, but sends happen after releasing it
// (spec.md §5: individual sends don't need the set-wide lock).
func (h *Hub) connectionsFor(recipient string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set, ok := h.connections[recipient]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// HasConnection reports whether recipient currently has at least one open
// connection in this process.
func (h *Hub) HasConnection(recipient string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[recipient]) > 0
}

// Push sends frame to every open connection for recipient. Returns true if
// at least one connection received it (spec.md §4.5: "delivery is
// considered attempted if ≥ 1 connection was open").
func (h *Hub) Push(recipient string, frame Frame) bool {
	conns := h.connectionsFor(recipient)
	attempted := false
	for _, c := range conns {
		if c.Send(frame) {
			attempted = true
		}
	}
	return attempted
}
