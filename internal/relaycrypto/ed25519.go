// Package relaycrypto provides the Ed25519 signature verification and
// hashing primitives shared by the capability codec, the registry, the
// revocation service, and the snapshot store. The relay never holds a
// private key: every operation here is verify-only.
package relaycrypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"errors"
)

// ErrInvalidKey is returned when a raw public key is not a valid 32-byte
// Ed25519 key.
var ErrInvalidKey = errors.New("relaycrypto: invalid ed25519 public key")

// ErrInvalidSignature names a signature that fails verification or is not
// exactly 64 bytes. Verify does not return it; it reports that case as false.
var ErrInvalidSignature = errors.New("relaycrypto: invalid signature")

// spkiPrefix is the fixed ASN.1 DER prefix for an Ed25519 SubjectPublicKeyInfo,
// used to wrap a raw 32-byte public key before feeding it to crypto/x509.
var spkiPrefix = []byte{0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00}

// WrapPublicKey wraps a raw 32-byte Ed25519 public key in its SPKI DER
// encoding and parses it, returning the ed25519.PublicKey.
func WrapPublicKey(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidKey
	}

	der := make([]byte, 0, len(spkiPrefix)+len(raw))
	der = append(der, spkiPrefix...)
	der = append(der, raw...)

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, ErrInvalidKey
	}

	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}

	return edPub, nil
}

// Verify checks that sig is a valid Ed25519 signature over message under the
// raw 32-byte public key rawPubKey. Any malformed input fails closed
// (returns false, never panics).
func Verify(rawPubKey, message, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}

	pub, err := WrapPublicKey(rawPubKey)
	if err != nil {
		return false
	}

	return ed25519.Verify(pub, message, sig)
}
