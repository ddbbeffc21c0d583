package capability

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"
)

// signToken builds and signs a capability token the way an issuer would,
// for use as test fixtures.
func signToken(t *testing.T, priv ed25519.PrivateKey, pub ed25519.PublicKey, id, resource, scope string, exp int64) string {
	t.Helper()

	claims := map[string]any{
		"id":       id,
		"iss":      base64.StdEncoding.EncodeToString(pub),
		"sub":      base64.StdEncoding.EncodeToString(pub),
		"resource": resource,
		"scope":    scope,
		"exp":      exp,
	}
	canonical, err := canonicalJSON(claims)
	if err != nil {
		t.Fatalf("canonicalizing: %v", err)
	}

	sig := ed25519.Sign(priv, canonical)

	full := map[string]any{
		"id":       id,
		"iss":      claims["iss"],
		"sub":      claims["sub"],
		"resource": resource,
		"scope":    scope,
		"exp":      exp,
		"sig":      base64.StdEncoding.EncodeToString(sig),
	}
	fullJSON, err := canonicalJSON(full)
	if err != nil {
		t.Fatalf("encoding full token: %v", err)
	}

	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(fullJSON)
}

func TestDecodeValidToken(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	tok := signToken(t, priv, pub, "cap-1", "mailbox", "read", time.Now().Add(time.Hour).Unix())

	cap, ok := Decode(tok)
	if !ok {
		t.Fatal("expected token to decode successfully")
	}
	if cap.ID != "cap-1" || cap.Resource != "mailbox" || cap.Scope != "read" {
		t.Fatalf("unexpected capability fields: %+v", cap)
	}
}

func TestDecodeExpiredToken(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	tok := signToken(t, priv, pub, "cap-2", "mailbox", "read", time.Now().Add(-time.Hour).Unix())

	if _, ok := Decode(tok); ok {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestDecodeExpiryAtBoundaryIsExpired(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	now := time.Now()
	tok := signToken(t, priv, pub, "cap-boundary", "mailbox", "read", now.Unix())

	if cap, ok := decodeAt(tok, now); ok {
		t.Fatalf("expected exp == now to be expired, got %+v", cap)
	}
}

func TestDecodeTamperedSignatureFails(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	tok := signToken(t, priv, pub, "cap-3", "mailbox", "read", time.Now().Add(time.Hour).Unix())

	// Flip the last character to corrupt the payload/signature.
	tampered := tok[:len(tok)-1] + "A"
	if tampered == tok {
		tampered = tok[:len(tok)-1] + "B"
	}

	if _, ok := Decode(tampered); ok {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestDecodeMissingFieldFails(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	claims := map[string]any{
		"id":       "",
		"iss":      base64.StdEncoding.EncodeToString(pub),
		"sub":      base64.StdEncoding.EncodeToString(pub),
		"resource": "mailbox",
		"scope":    "read",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	canonical, _ := canonicalJSON(claims)
	sig := ed25519.Sign(priv, canonical)
	claims["sig"] = base64.StdEncoding.EncodeToString(sig)
	full, _ := canonicalJSON(claims)
	tok := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(full)

	if _, ok := Decode(tok); ok {
		t.Fatal("expected token with empty id field to be rejected")
	}
}

func TestDecodeGarbageFails(t *testing.T) {
	if _, ok := Decode("not-valid-base64!!!"); ok {
		t.Fatal("expected garbage input to be rejected")
	}
}
