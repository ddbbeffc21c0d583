package snapshot

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/ocmt/relay/internal/capability"
)

type fakeStore struct {
	rows map[string]Snapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]Snapshot)}
}

func (f *fakeStore) Upsert(ctx context.Context, s Snapshot) error {
	f.rows[s.CapabilityID] = s
	return nil
}

func (f *fakeStore) FindByCapabilityID(ctx context.Context, id string) (Snapshot, error) {
	s, ok := f.rows[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ListByRecipient(ctx context.Context, recipientPubKey string) ([]Snapshot, error) {
	var out []Snapshot
	for _, s := range f.rows {
		if s.RecipientPubKey == recipientPubKey {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteByCapabilityID(ctx context.Context, id string) error {
	delete(f.rows, id)
	return nil
}

type fakeRevocationChecker struct {
	maybe    map[string]bool
	revoked  map[string]bool
	storeErr error
}

func newFakeRevocationChecker() *fakeRevocationChecker {
	return &fakeRevocationChecker{maybe: make(map[string]bool), revoked: make(map[string]bool)}
}

func (f *fakeRevocationChecker) MaybeRevoked(id string) bool {
	return f.maybe[id]
}

func (f *fakeRevocationChecker) AuthoritativeIsRevoked(ctx context.Context, id string) (bool, error) {
	if f.storeErr != nil {
		return false, f.storeErr
	}
	return f.revoked[id], nil
}

func validSnapshot(capabilityID, recipientPubKey string) (Snapshot, ed25519.PrivateKey, ed25519.PublicKey) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	return Snapshot{
		CapabilityID:    capabilityID,
		RecipientPubKey: recipientPubKey,
		IssuerPubKey:    "issuer-key",
		EncryptedData:   "ciphertext",
		EphemeralPubKey: "ephemeral-key",
		Nonce:           "nonce",
		Tag:             "tag",
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(time.Hour),
	}, priv, pub
}

func signSnapshot(priv ed25519.PrivateKey, s Snapshot) []byte {
	message := []byte(s.CapabilityID + ":" + s.EncryptedData + ":" + s.EphemeralPubKey)
	return ed25519.Sign(priv, message)
}

func TestUpsertSucceeds(t *testing.T) {
	snap, priv, pub := validSnapshot("cap-1", "recipient-1")
	sig := signSnapshot(priv, snap)

	s := newService(newFakeStore(), newFakeRevocationChecker(), 0)
	if err := s.Upsert(context.Background(), snap, sig, pub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Get(context.Background(), "cap-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if got.CapabilityID != "cap-1" {
		t.Fatalf("expected stored snapshot, got %+v", got)
	}
}

func TestUpsertRejectsInvalidSignature(t *testing.T) {
	snap, _, pub := validSnapshot("cap-1", "recipient-1")
	badSig := make([]byte, ed25519.SignatureSize)

	s := newService(newFakeStore(), newFakeRevocationChecker(), 0)
	err := s.Upsert(context.Background(), snap, badSig, pub)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestUpsertRejectsExpiredSnapshot(t *testing.T) {
	snap, priv, pub := validSnapshot("cap-1", "recipient-1")
	snap.ExpiresAt = time.Now().Add(-time.Minute)
	sig := signSnapshot(priv, snap)

	s := newService(newFakeStore(), newFakeRevocationChecker(), 0)
	err := s.Upsert(context.Background(), snap, sig, pub)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestUpsertFailsClosedWhenRevoked(t *testing.T) {
	snap, priv, pub := validSnapshot("cap-1", "recipient-1")
	sig := signSnapshot(priv, snap)

	revocation := newFakeRevocationChecker()
	revocation.maybe["cap-1"] = true
	revocation.revoked["cap-1"] = true

	s := newService(newFakeStore(), revocation, 0)
	err := s.Upsert(context.Background(), snap, sig, pub)
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestUpsertFailsClosedOnRevocationStoreError(t *testing.T) {
	snap, priv, pub := validSnapshot("cap-1", "recipient-1")
	sig := signSnapshot(priv, snap)

	revocation := newFakeRevocationChecker()
	revocation.maybe["cap-1"] = true
	revocation.storeErr = errors.New("store unreachable")

	s := newService(newFakeStore(), revocation, 0)
	err := s.Upsert(context.Background(), snap, sig, pub)
	if err == nil {
		t.Fatal("expected upsert to fail closed on revocation store error")
	}
}

func TestListByRecipientOmitsAndDeletesRevoked(t *testing.T) {
	recipientPub, recipientPriv, _ := ed25519.GenerateKey(nil)
	recipientB64 := "recipient-key"

	fs := newFakeStore()
	fs.rows["cap-live"] = Snapshot{CapabilityID: "cap-live", RecipientPubKey: recipientB64}
	fs.rows["cap-revoked"] = Snapshot{CapabilityID: "cap-revoked", RecipientPubKey: recipientB64}

	revocation := newFakeRevocationChecker()
	revocation.revoked["cap-revoked"] = true

	s := newService(fs, revocation, 0)

	now := time.Now()
	req := ListRequest{RecipientPublicKey: recipientB64, Timestamp: now.Unix()}
	envelope := map[string]any{
		"action":             "list-snapshots",
		"recipientPublicKey": req.RecipientPublicKey,
		"timestamp":          req.Timestamp,
	}
	canonical, err := capability.CanonicalEnvelope(envelope)
	if err != nil {
		t.Fatalf("canonicalizing: %v", err)
	}
	sig := ed25519.Sign(recipientPriv, canonical)

	rows, err := s.ListByRecipient(context.Background(), req, sig, recipientPub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].CapabilityID != "cap-live" {
		t.Fatalf("expected only cap-live to be returned, got %+v", rows)
	}
	if _, ok := fs.rows["cap-revoked"]; ok {
		t.Fatal("expected revoked snapshot to be deleted on sight")
	}
}

func TestListByRecipientRejectsBadSignature(t *testing.T) {
	_, _, wrongPub := validSnapshot("", "")
	_, otherPriv, _ := ed25519.GenerateKey(nil)

	s := newService(newFakeStore(), newFakeRevocationChecker(), 0)
	req := ListRequest{RecipientPublicKey: "recipient-key", Timestamp: time.Now().Unix()}
	sig := ed25519.Sign(otherPriv, []byte("wrong message"))

	_, err := s.ListByRecipient(context.Background(), req, sig, wrongPub)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
