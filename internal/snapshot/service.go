package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/ocmt/relay/internal/capability"
	"github.com/ocmt/relay/internal/relaycrypto"
)

// RevocationChecker is the subset of revocation.Service the snapshot
// service depends on. Defined locally (rather than imported) to avoid a
// package cycle, since revocation.SnapshotCascade is implemented by this
// package's Store.
type RevocationChecker interface {
	MaybeRevoked(id string) bool
	AuthoritativeIsRevoked(ctx context.Context, id string) (bool, error)
}

// ErrRevoked is returned when upsert is rejected because the capability is
// revoked.
var ErrRevoked = fmt.Errorf("snapshot: capability is revoked")

// ErrInvalidSignature is returned when a snapshot's or a list request's
// signature fails to verify.
var ErrInvalidSignature = fmt.Errorf("snapshot: invalid signature")

// ErrExpired is returned when a snapshot's expiresAt is not in the future.
var ErrExpired = fmt.Errorf("snapshot: expiresAt must be in the future")

// defaultListReplaySlop is used when NewService is given a zero replay
// window, so existing callers (and tests) that don't care about the knob
// keep the spec's 5-minute default.
const defaultListReplaySlop = 5 * time.Minute

// store is the subset of *Store's behavior Service depends on, narrowed to
// an interface so tests can substitute an in-memory fake.
type store interface {
	Upsert(ctx context.Context, s Snapshot) error
	FindByCapabilityID(ctx context.Context, id string) (Snapshot, error)
	ListByRecipient(ctx context.Context, recipientPubKey string) ([]Snapshot, error)
	DeleteByCapabilityID(ctx context.Context, id string) error
}

// Service implements the snapshot store write/read paths from spec.md §4.6.
type Service struct {
	store      store
	revocation RevocationChecker
	listReplay time.Duration
}

// NewService constructs a snapshot Service backed by a persistent Store.
// listReplayWindow bounds how far a list-snapshots request's timestamp may
// drift from the server clock (spec.md §4.6); a zero value falls back to
// the 5-minute default.
func NewService(st *Store, revocation RevocationChecker, listReplayWindow time.Duration) *Service {
	return newService(st, revocation, listReplayWindow)
}

func newService(st store, revocation RevocationChecker, listReplayWindow time.Duration) *Service {
	if listReplayWindow <= 0 {
		listReplayWindow = defaultListReplaySlop
	}
	return &Service{store: st, revocation: revocation, listReplay: listReplayWindow}
}

// Upsert implements spec.md §4.6 upsert: fail-closed revocation check,
// signature verification, expiry check, then persist.
func (s *Service) Upsert(ctx context.Context, snap Snapshot, sig []byte, issuerPubKey []byte) error {
	if s.revocation.MaybeRevoked(snap.CapabilityID) {
		revoked, err := s.revocation.AuthoritativeIsRevoked(ctx, snap.CapabilityID)
		if err != nil {
			return fmt.Errorf("checking revocation status: %w", err)
		}
		if revoked {
			return ErrRevoked
		}
	}

	message := []byte(snap.CapabilityID + ":" + snap.EncryptedData + ":" + snap.EphemeralPubKey)
	if !relaycrypto.Verify(issuerPubKey, message, sig) {
		return ErrInvalidSignature
	}

	if !snap.ExpiresAt.After(time.Now()) {
		return ErrExpired
	}

	return s.store.Upsert(ctx, snap)
}

// Get returns the snapshot for capabilityId, or ErrNotFound. Neither Get
// nor the HTTP handler that calls it checks which container is asking.
func (s *Service) Get(ctx context.Context, capabilityID string) (Snapshot, error) {
	return s.store.FindByCapabilityID(ctx, capabilityID)
}

// Delete removes the snapshot for capabilityId.
func (s *Service) Delete(ctx context.Context, capabilityID string) error {
	return s.store.DeleteByCapabilityID(ctx, capabilityID)
}

// ListRequest is the signed envelope required to list snapshots by recipient
// (spec.md §4.6: "requires the recipient to prove ownership of its pubkey").
type ListRequest struct {
	RecipientPublicKey string `json:"recipientPublicKey"`
	Timestamp          int64  `json:"timestamp"`
	Signature          string `json:"signature"`
}

// ListByRecipient verifies proof of pubkey ownership, then returns every
// non-revoked snapshot for that recipient, deleting any revoked ones found
// along the way (spec.md §4.6: "rows whose capability is revoked are
// deleted on sight and omitted. This avoids enumeration attacks.").
func (s *Service) ListByRecipient(ctx context.Context, req ListRequest, sig []byte, recipientRawPubKey []byte) ([]Snapshot, error) {
	now := time.Now()
	ts := time.Unix(req.Timestamp, 0)
	if d := now.Sub(ts); d < -s.listReplay || d > s.listReplay {
		return nil, fmt.Errorf("list-snapshots request timestamp outside replay window")
	}

	envelope := map[string]any{
		"action":             "list-snapshots",
		"recipientPublicKey": req.RecipientPublicKey,
		"timestamp":          req.Timestamp,
	}
	canonical, err := capability.CanonicalEnvelope(envelope)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing list-snapshots envelope: %w", err)
	}
	if !relaycrypto.Verify(recipientRawPubKey, canonical, sig) {
		return nil, ErrInvalidSignature
	}

	rows, err := s.store.ListByRecipient(ctx, req.RecipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	result := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		revoked, err := s.revocation.AuthoritativeIsRevoked(ctx, row.CapabilityID)
		if err != nil {
			// Fail closed: omit rather than risk handing out a snapshot for a
			// capability whose revocation status can't be confirmed.
			continue
		}
		if revoked {
			_ = s.store.DeleteByCapabilityID(ctx, row.CapabilityID)
			continue
		}
		result = append(result, row)
	}

	return result, nil
}
