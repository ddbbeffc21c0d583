package relaycrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	msg := []byte("hello capability")
	sig := ed25519.Sign(priv, msg)

	if !Verify(pub, msg, sig) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	sig := ed25519.Sign(priv, []byte("original"))

	if Verify(pub, []byte("tampered"), sig) {
		t.Fatal("expected verification to fail for tampered message")
	}
}

func TestVerifyRejectsWrongSignatureLength(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	if Verify(pub, []byte("msg"), []byte("short")) {
		t.Fatal("expected verification to fail for short signature")
	}
}

func TestVerifyRejectsInvalidKeyLength(t *testing.T) {
	sig := make([]byte, ed25519.SignatureSize)
	if Verify([]byte("not-a-key"), []byte("msg"), sig) {
		t.Fatal("expected verification to fail for invalid key length")
	}
}

func TestWrapPublicKeyRejectsShortKey(t *testing.T) {
	if _, err := WrapPublicKey([]byte{1, 2, 3}); err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
