package revocation

import (
	"context"
	"crypto/ed25519"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ocmt/relay/internal/capability"
)

// fakeStore is an in-memory stand-in for *Store so the service can be
// tested without a live Postgres connection.
type fakeStore struct {
	records map[string]Record
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Record)}
}

func (f *fakeStore) Create(ctx context.Context, r Record) error {
	if f.err != nil {
		return f.err
	}
	if _, exists := f.records[r.CapabilityID]; exists {
		return nil
	}
	f.records[r.CapabilityID] = r
	return nil
}

func (f *fakeStore) FindByCapabilityID(ctx context.Context, id string) (Record, error) {
	if f.err != nil {
		return Record{}, f.err
	}
	r, ok := f.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.records[id]
	return ok, nil
}

func (f *fakeStore) BatchCheckRevoked(ctx context.Context, ids []string) (map[string]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, ok := f.records[id]
		result[id] = ok
	}
	return result, nil
}

func (f *fakeStore) GetAllCapabilityIDs(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeSnapshotCascade struct {
	deleted []string
}

func (f *fakeSnapshotCascade) DeleteByCapabilityID(ctx context.Context, capabilityID string) error {
	f.deleted = append(f.deleted, capabilityID)
	return nil
}

type fakeAuditSink struct {
	logged []string
}

func (f *fakeAuditSink) LogRevocation(ctx context.Context, capabilityID, revokedBy, reason string) {
	f.logged = append(f.logged, capabilityID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(st store) *Service {
	return newService(NewBloomFilter(1000, 0.001), NewCache(100), st, 5*time.Minute, testLogger(), nil, nil)
}

func TestIsRevokedBloomMiss(t *testing.T) {
	s := newTestService(newFakeStore())

	result := s.IsRevoked(context.Background(), "cap-unknown")
	if result.Revoked {
		t.Fatal("expected bloom-filter fast path to report not revoked")
	}
	if result.Source != SourceBloom {
		t.Fatalf("expected SourceBloom, got %s", result.Source)
	}
}

func TestIsRevokedCacheHit(t *testing.T) {
	st := newFakeStore()
	s := newTestService(st)
	s.bloom.Add("cap-1")
	s.cache.Set("cap-1", true)

	result := s.IsRevoked(context.Background(), "cap-1")
	if !result.Revoked || result.Source != SourceCache {
		t.Fatalf("expected cached revoked result, got %+v", result)
	}
}

func TestIsRevokedDatabaseHit(t *testing.T) {
	st := newFakeStore()
	st.records["cap-1"] = Record{CapabilityID: "cap-1", IssuerPubKey: "issuer", Reason: "compromised", RevokedAt: time.Now()}
	s := newTestService(st)
	s.bloom.Add("cap-1")

	result := s.IsRevoked(context.Background(), "cap-1")
	if !result.Revoked || result.Source != SourceDatabase {
		t.Fatalf("expected database-sourced revoked result, got %+v", result)
	}
	if revoked, ok := s.cache.Get("cap-1"); !ok || !revoked {
		t.Fatal("expected database hit to populate cache")
	}
}

func TestIsRevokedFailsOpenOnStoreError(t *testing.T) {
	st := newFakeStore()
	st.err = context.DeadlineExceeded
	s := newTestService(st)
	s.bloom.Add("cap-1")

	result := s.IsRevoked(context.Background(), "cap-1")
	if result.Revoked {
		t.Fatal("expected interactive check to fail open (not revoked) on store error")
	}
	if result.Source != SourceError || result.Warning == "" {
		t.Fatalf("expected error source with warning, got %+v", result)
	}
}

func TestBatchCheckMixedSources(t *testing.T) {
	st := newFakeStore()
	st.records["cap-db"] = Record{CapabilityID: "cap-db", RevokedAt: time.Now()}
	s := newTestService(st)
	s.bloom.Add("cap-db")
	s.bloom.Add("cap-cached")
	s.cache.Set("cap-cached", true)

	results, err := s.BatchCheck(context.Background(), []string{"cap-unknown", "cap-cached", "cap-db"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results["cap-unknown"].Revoked || results["cap-unknown"].Source != SourceBloom {
		t.Fatalf("expected cap-unknown bloom miss, got %+v", results["cap-unknown"])
	}
	if !results["cap-cached"].Revoked || results["cap-cached"].Source != SourceCache {
		t.Fatalf("expected cap-cached cache hit, got %+v", results["cap-cached"])
	}
	if !results["cap-db"].Revoked || results["cap-db"].Source != SourceDatabase {
		t.Fatalf("expected cap-db database hit, got %+v", results["cap-db"])
	}
}

func signRevokeEnvelope(t *testing.T, priv ed25519.PrivateKey, req RevokeRequest) []byte {
	t.Helper()
	envelope := map[string]any{
		"action":         "revoke",
		"capabilityId":   req.CapabilityID,
		"revokedBy":      req.RevokedBy,
		"reason":         req.Reason,
		"originalExpiry": req.OriginalExpiry,
		"timestamp":      req.Timestamp,
	}
	canonical, err := capability.CanonicalEnvelope(envelope)
	if err != nil {
		t.Fatalf("canonicalizing envelope: %v", err)
	}
	return ed25519.Sign(priv, canonical)
}

func TestRevokeSucceeds(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	st := newFakeStore()
	cascade := &fakeSnapshotCascade{}
	audit := &fakeAuditSink{}
	s := newService(NewBloomFilter(1000, 0.001), NewCache(100), st, 5*time.Minute, testLogger(), cascade, audit)

	now := time.Now()
	req := RevokeRequest{
		CapabilityID:   "cap-1",
		RevokedBy:      "issuer-1",
		Reason:         "compromised",
		OriginalExpiry: now.Add(time.Hour).Unix(),
		Timestamp:      now.Unix(),
	}
	sig := signRevokeEnvelope(t, priv, req)

	if err := s.Revoke(context.Background(), req, sig, pub); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}

	if !s.bloom.MaybeContains("cap-1") {
		t.Fatal("expected bloom filter to contain revoked capability")
	}
	if revoked, ok := s.cache.Get("cap-1"); !ok || !revoked {
		t.Fatal("expected cache to mark capability revoked")
	}
	if len(cascade.deleted) != 1 || cascade.deleted[0] != "cap-1" {
		t.Fatalf("expected snapshot cascade delete, got %+v", cascade.deleted)
	}
	if len(audit.logged) != 1 {
		t.Fatalf("expected audit log entry, got %+v", audit.logged)
	}

	// Re-revoking is idempotent: still exactly one record.
	sig2 := signRevokeEnvelope(t, priv, req)
	if err := s.Revoke(context.Background(), req, sig2, pub); err != nil {
		t.Fatalf("unexpected error on idempotent re-revoke: %v", err)
	}
	if len(st.records) != 1 {
		t.Fatalf("expected exactly one revocation record, got %d", len(st.records))
	}
}

func TestRevokeRejectsInvalidSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	_, otherPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	s := newTestService(newFakeStore())
	now := time.Now()
	req := RevokeRequest{
		CapabilityID:   "cap-1",
		RevokedBy:      "issuer-1",
		Reason:         "compromised",
		OriginalExpiry: now.Add(time.Hour).Unix(),
		Timestamp:      now.Unix(),
	}
	// Signed with the wrong key.
	sig := signRevokeEnvelope(t, otherPriv, req)

	if err := s.Revoke(context.Background(), req, sig, pub); err == nil {
		t.Fatal("expected revoke with mismatched key to fail")
	}
}

func TestRevokeAcceptsBoundaryReplayWindow(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	s := newTestService(newFakeStore())
	req := RevokeRequest{
		CapabilityID:   "cap-1",
		RevokedBy:      "issuer-1",
		Reason:         "compromised",
		OriginalExpiry: time.Now().Add(time.Hour).Unix(),
		Timestamp:      time.Now().Add(-5 * time.Minute).Unix(),
	}
	sig := signRevokeEnvelope(t, priv, req)

	if err := s.Revoke(context.Background(), req, sig, pub); err != nil {
		t.Fatalf("expected exactly-5-minute-old timestamp to be accepted at boundary: %v", err)
	}
}

func TestRevokeRejectsBeyondReplayWindow(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	s := newTestService(newFakeStore())
	req := RevokeRequest{
		CapabilityID:   "cap-1",
		RevokedBy:      "issuer-1",
		Reason:         "compromised",
		OriginalExpiry: time.Now().Add(time.Hour).Unix(),
		Timestamp:      time.Now().Add(-6 * time.Minute).Unix(),
	}
	sig := signRevokeEnvelope(t, priv, req)

	if err := s.Revoke(context.Background(), req, sig, pub); err == nil {
		t.Fatal("expected timestamp beyond replay window to be rejected")
	}
}

func TestAuthoritativeIsRevokedUsesStoreDirectly(t *testing.T) {
	st := newFakeStore()
	st.records["cap-1"] = Record{CapabilityID: "cap-1", RevokedAt: time.Now()}
	s := newTestService(st)
	// Deliberately do not populate bloom/cache: authoritative check bypasses both.

	revoked, err := s.AuthoritativeIsRevoked(context.Background(), "cap-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !revoked {
		t.Fatal("expected authoritative check to report revoked")
	}
}
