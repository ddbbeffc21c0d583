package registry

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/ocmt/relay/internal/relaycrypto"
)

type fakeStore struct {
	rows map[string]Registration
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]Registration)}
}

func (f *fakeStore) Upsert(ctx context.Context, r Registration) error {
	f.rows[r.ContainerID] = r
	return nil
}

func (f *fakeStore) FindByContainerID(ctx context.Context, containerID string) (Registration, error) {
	r, ok := f.rows[containerID]
	if !ok {
		return Registration{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) FindByPubKeyHash(ctx context.Context, hash string) (Registration, error) {
	for _, r := range f.rows {
		if r.PubKeyHash == hash {
			return r, nil
		}
	}
	return Registration{}, ErrNotFound
}

func (f *fakeStore) Delete(ctx context.Context, containerID string) error {
	delete(f.rows, containerID)
	return nil
}

type fakeURLValidator struct {
	err error
}

func (f *fakeURLValidator) ValidateCallbackURL(url string) error {
	return f.err
}

func TestRegisterSucceeds(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	challenge := []byte("prove-you-hold-the-key")
	sig := ed25519.Sign(priv, challenge)

	s := newService(newFakeStore(), &fakeURLValidator{})
	reg, err := s.Register(context.Background(), RegisterRequest{
		ContainerID:   "container-1",
		SigningPubKey: pub,
		Challenge:     challenge,
		Signature:     sig,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.PubKeyHash != relaycrypto.PubKeyHash(pub) {
		t.Fatalf("expected recomputed pubKeyHash, got %q", reg.PubKeyHash)
	}
}

func TestRegisterRejectsBadKeyLength(t *testing.T) {
	s := newService(newFakeStore(), &fakeURLValidator{})
	_, err := s.Register(context.Background(), RegisterRequest{
		ContainerID:   "container-1",
		SigningPubKey: []byte("too-short"),
		Challenge:     []byte("challenge"),
		Signature:     make([]byte, ed25519.SignatureSize),
	})
	if !errors.Is(err, ErrInvalidPubKey) {
		t.Fatalf("expected ErrInvalidPubKey, got %v", err)
	}
}

func TestRegisterRejectsFailedChallenge(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	_, otherPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	challenge := []byte("prove-you-hold-the-key")
	sig := ed25519.Sign(otherPriv, challenge) // wrong key

	s := newService(newFakeStore(), &fakeURLValidator{})
	_, err = s.Register(context.Background(), RegisterRequest{
		ContainerID:   "container-1",
		SigningPubKey: pub,
		Challenge:     challenge,
		Signature:     sig,
	})
	if !errors.Is(err, ErrChallengeFailed) {
		t.Fatalf("expected ErrChallengeFailed, got %v", err)
	}
}

func TestRegisterRejectsBadCallbackURL(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	challenge := []byte("prove-you-hold-the-key")
	sig := ed25519.Sign(priv, challenge)

	s := newService(newFakeStore(), &fakeURLValidator{err: errors.New("loopback address not allowed")})
	_, err = s.Register(context.Background(), RegisterRequest{
		ContainerID:   "container-1",
		SigningPubKey: pub,
		CallbackURL:   "http://127.0.0.1/hook",
		Challenge:     challenge,
		Signature:     sig,
	})
	if !errors.Is(err, ErrInvalidCallbackURL) {
		t.Fatalf("expected ErrInvalidCallbackURL, got %v", err)
	}
}

func TestLookupOmitsCallbackURL(t *testing.T) {
	st := newFakeStore()
	st.rows["container-1"] = Registration{
		ContainerID:   "container-1",
		SigningPubKey: "pubkey-bytes",
		CallbackURL:   "https://example.com/hook",
	}

	s := newService(st, &fakeURLValidator{})
	info, err := s.Lookup(context.Background(), "container-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// DiscoveryInfo has no CallbackURL field at all — compile-time
	// enforcement that discovery responses can never leak it.
	_ = info
}

func TestUpdateRecomputesPubKeyHashFromStoredKey(t *testing.T) {
	st := newFakeStore()
	st.rows["container-1"] = Registration{
		ContainerID:   "container-1",
		SigningPubKey: "original-signing-key-bytes",
		PubKeyHash:    "stale-hash",
	}

	s := newService(st, &fakeURLValidator{})
	newCallback := "https://example.com/new-hook"
	reg, err := s.Update(context.Background(), "container-1", nil, &newCallback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.PubKeyHash == "stale-hash" {
		t.Fatal("expected pubKeyHash to be recomputed, not trusted from caller")
	}
	if reg.PubKeyHash != relaycrypto.PubKeyHash([]byte("original-signing-key-bytes")) {
		t.Fatalf("expected pubKeyHash derived from stored signing key, got %q", reg.PubKeyHash)
	}
}
