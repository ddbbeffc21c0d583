// Package message implements the pending/delivered/expired message queue
// described in spec.md §3 "Pending message" and §4.5.
package message

import "time"

// Status is the lifecycle state of a message. Monotone: pending →
// delivered | expired, enforced by a conditional UPDATE in the store
// (spec.md §5: "concurrent writers must use a conditional update").
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusExpired   Status = "expired"
)

// MaxPayloadBytes caps an individual message payload (spec.md §6: "payload
// field capped at 1 MiB").
const MaxPayloadBytes = 1 << 20

// Message is a single queued message row.
type Message struct {
	ID          string
	From        string
	To          string
	Payload     string
	Size        int
	Status      Status
	CreatedAt   time.Time
	DeliveredAt *time.Time
	ExpiredAt   *time.Time
}
