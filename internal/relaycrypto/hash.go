package relaycrypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// PubKeyHashLen is the number of raw bytes kept from the SHA-256 digest when
// computing a registry pubKeyHash (spec.md §9 open question (a): the
// 32-hex-character / 16-byte form is canonical).
const PubKeyHashLen = 16

// PubKeyHash returns the truncated, hex-encoded SHA-256 hash of a raw public
// key: trunc16(sha256(pubKey)).
func PubKeyHash(rawPubKey []byte) string {
	sum := sha256.Sum256(rawPubKey)
	return hex.EncodeToString(sum[:PubKeyHashLen])
}

// SHA256Hex returns the full hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
