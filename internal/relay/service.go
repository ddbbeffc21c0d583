// Package relay implements the message ingress/forward pipeline and
// delivery state machine described in spec.md §2 and §4.5: C7 → C6 → C2 →
// C3 → C8 → C9 → C10 → C11 → audit → response.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ocmt/relay/internal/audit"
	"github.com/ocmt/relay/internal/capability"
	"github.com/ocmt/relay/internal/callback"
	"github.com/ocmt/relay/internal/live"
	"github.com/ocmt/relay/internal/message"
	"github.com/ocmt/relay/internal/registry"
	"github.com/ocmt/relay/internal/revocation"
)

// DeliveryMethod identifies how (or whether) a message was delivered
// synchronously with the request (spec.md §6 "deliveryMethod").
type DeliveryMethod string

const (
	MethodWebsocket DeliveryMethod = "websocket"
	MethodCallback  DeliveryMethod = "callback"
	MethodNone      DeliveryMethod = ""
)

// OutcomeStatus is the wire-visible outcome of a send/forward call.
type OutcomeStatus string

const (
	OutcomeDelivered OutcomeStatus = "delivered"
	OutcomeQueued    OutcomeStatus = "queued"
)

// ErrInvalidCapability is returned by Forward when the capability token is
// malformed, unsigned, expired, or revoked — spec.md §4.1/§4.2 deliberately
// give no further distinction, to avoid side channels.
var ErrInvalidCapability = fmt.Errorf("relay: invalid capability")

// ErrUnknownRecipient is returned when toContainerId has no registration.
var ErrUnknownRecipient = fmt.Errorf("relay: unknown recipient")

// ErrPayloadTooLarge is returned when payload exceeds message.MaxPayloadBytes.
var ErrPayloadTooLarge = fmt.Errorf("relay: payload exceeds maximum size")

// Outcome is the result of Send or Forward.
type Outcome struct {
	MessageID      string
	Status         OutcomeStatus
	DeliveryMethod DeliveryMethod
	WakeTriggered  bool
}

// registryLookup is the subset of *registry.Service the pipeline depends
// on, narrowed to an interface so tests can substitute a fake.
type registryLookup interface {
	Get(ctx context.Context, containerID string) (registry.Registration, error)
}

// revocationChecker is the subset of *revocation.Service the pipeline
// depends on.
type revocationChecker interface {
	IsRevoked(ctx context.Context, id string) revocation.CheckResult
}

// messageQueue is the subset of *message.Store the pipeline depends on.
type messageQueue interface {
	Create(ctx context.Context, m message.Message) error
	MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) (bool, error)
	ListPendingForRecipient(ctx context.Context, recipient string, limit int) ([]message.Message, error)
}

// liveHub is the subset of *live.Hub the pipeline depends on.
type liveHub interface {
	Push(recipient string, frame live.Frame) bool
}

// forwarder is the subset of *callback.Forwarder the pipeline depends on.
type forwarder interface {
	Deliver(ctx context.Context, callbackURL string, payload callback.Payload) callback.Result
}

// wakeCoordinator is the subset of *wake.Coordinator the pipeline depends
// on.
type wakeCoordinator interface {
	MaybeWake(ctx context.Context, containerID string) bool
}

// auditSink is the subset of *audit.Writer the pipeline depends on.
type auditSink interface {
	Log(e audit.Entry)
}

// meshSink is the subset of *audit.MeshSink the pipeline depends on.
type meshSink interface {
	Emit(ctx context.Context, eventType audit.MeshEventType, capabilityID, containerID string)
}

// Service orchestrates the forward/send delivery pipeline (spec.md §2, §4.5).
type Service struct {
	registry   registryLookup
	revocation revocationChecker
	messages   messageQueue
	hub        liveHub
	forwarder  forwarder
	wake       wakeCoordinator
	audit      auditSink
	mesh       meshSink
	logger     *slog.Logger
}

// New constructs a delivery-pipeline Service.
func New(reg registryLookup, rev revocationChecker, messages messageQueue, hub liveHub, fwd forwarder, wake wakeCoordinator, auditW auditSink, mesh meshSink, logger *slog.Logger) *Service {
	return &Service{
		registry:   reg,
		revocation: rev,
		messages:   messages,
		hub:        hub,
		forwarder:  fwd,
		wake:       wake,
		audit:      auditW,
		mesh:       mesh,
		logger:     logger,
	}
}

// Send implements the bare channel path (spec.md §4.5.2: "sender and
// recipient already trust each other out of band").
func (s *Service) Send(ctx context.Context, from, to, payload string) (Outcome, error) {
	return s.deliver(ctx, from, to, payload)
}

// Forward implements the capability-gated path (spec.md §4.5.2): the
// envelope must carry a valid, unrevoked capability token. A bad token
// produces ErrInvalidCapability, a 403 audit record, and a mesh
// CAPABILITY_DENIED event.
func (s *Service) Forward(ctx context.Context, from, to, capabilityToken, encryptedPayload string) (Outcome, error) {
	capTok, ok := capability.Decode(capabilityToken)
	if !ok {
		s.auditOutcome(audit.Entry{From: from, To: to, Size: len(encryptedPayload), Status: audit.StatusInvalidCapability})
		s.emitMesh(ctx, audit.EventCapabilityDenied, "", from)
		return Outcome{}, ErrInvalidCapability
	}

	if res := s.revocation.IsRevoked(ctx, capTok.ID); res.Revoked {
		s.auditOutcome(audit.Entry{From: from, To: to, Size: len(encryptedPayload), Status: audit.StatusInvalidCapability})
		s.emitMesh(ctx, audit.EventCapabilityDenied, capTok.ID, from)
		return Outcome{}, ErrInvalidCapability
	}

	s.emitMesh(ctx, audit.EventCapabilityUsed, capTok.ID, from)

	outcome, err := s.deliver(ctx, from, to, encryptedPayload)
	if err == nil {
		s.emitMesh(ctx, audit.EventRelayMessageForwarded, capTok.ID, to)
	}
	return outcome, err
}

// deliver persists the message and runs it through the delivery state
// machine (spec.md §4.5): try live push, then callback, then wake.
func (s *Service) deliver(ctx context.Context, from, to, payload string) (Outcome, error) {
	if len(payload) > message.MaxPayloadBytes {
		return Outcome{}, ErrPayloadTooLarge
	}

	reg, err := s.registry.Get(ctx, to)
	if err != nil {
		s.auditOutcome(audit.Entry{From: from, To: to, Size: len(payload), Status: audit.StatusInvalidDestination})
		return Outcome{}, ErrUnknownRecipient
	}

	id := uuid.NewString()
	now := time.Now()
	msg := message.Message{
		ID:        id,
		From:      from,
		To:        to,
		Payload:   payload,
		Size:      len(payload),
		Status:    message.StatusPending,
		CreatedAt: now,
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		s.auditOutcome(audit.Entry{From: from, To: to, Size: len(payload), Status: audit.StatusError, ErrorMessage: err.Error()})
		return Outcome{}, fmt.Errorf("persisting message: %w", err)
	}

	if s.hub.Push(to, live.Frame{Type: "message", ID: id, From: from, Payload: payload, Timestamp: now.Unix()}) {
		s.auditOutcome(audit.Entry{From: from, To: to, Size: len(payload), Status: audit.StatusDeliveredWS})
		return Outcome{MessageID: id, Status: OutcomeDelivered, DeliveryMethod: MethodWebsocket}, nil
	}

	if reg.CallbackURL != "" {
		result := s.forwarder.Deliver(ctx, reg.CallbackURL, callback.Payload{
			Type:      "message",
			MessageID: id,
			From:      from,
			Payload:   payload,
			Timestamp: now.Unix(),
		})
		if result.Delivered {
			if _, err := s.messages.MarkDelivered(ctx, id, time.Now()); err != nil {
				s.logger.Error("marking message delivered after callback", "error", err, "message_id", id)
			}
			s.auditOutcome(audit.Entry{From: from, To: to, Size: len(payload), Status: audit.StatusDeliveredCallback})
			return Outcome{MessageID: id, Status: OutcomeDelivered, DeliveryMethod: MethodCallback}, nil
		}
	}

	wakeTriggered := s.wake.MaybeWake(ctx, to)
	s.auditOutcome(audit.Entry{From: from, To: to, Size: len(payload), Status: audit.StatusQueued})

	return Outcome{MessageID: id, Status: OutcomeQueued, DeliveryMethod: MethodNone, WakeTriggered: wakeTriggered}, nil
}

func (s *Service) auditOutcome(e audit.Entry) {
	if s.audit != nil {
		s.audit.Log(e)
	}
}

func (s *Service) emitMesh(ctx context.Context, eventType audit.MeshEventType, capabilityID, containerID string) {
	if s.mesh != nil {
		s.mesh.Emit(ctx, eventType, capabilityID, containerID)
	}
}

// Ack marks messageIDs as delivered (spec.md §6 "POST /messages/ack",
// §8 "acknowledging the same messageId twice is a no-op"). Returns the
// number of ids that were actually transitioned (the rest were already
// delivered/expired or unknown).
func (s *Service) Ack(ctx context.Context, messageIDs []string) int {
	acknowledged := 0
	for _, id := range messageIDs {
		ok, err := s.messages.MarkDelivered(ctx, id, time.Now())
		if err != nil {
			s.logger.Error("acking message", "error", err, "message_id", id)
			continue
		}
		if ok {
			acknowledged++
		}
	}
	return acknowledged
}

// Pending returns up to limit pending messages for recipient, oldest first
// (spec.md §6 "GET /messages/pending").
func (s *Service) Pending(ctx context.Context, recipient string, limit int) ([]message.Message, error) {
	return s.messages.ListPendingForRecipient(ctx, recipient, limit)
}
