// Package capability decodes and verifies capability tokens (spec.md §4.1,
// §3 "Capability token"). The relay verifies signature and expiry; it never
// interprets resource/scope — that is the destination container's job
// (spec.md §9 open question (c)).
package capability

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/ocmt/relay/internal/relaycrypto"
)

// Capability is a decoded, signature-verified capability token.
type Capability struct {
	ID       string `json:"id"`
	Issuer   string `json:"iss"`
	Subject  string `json:"sub"`
	Resource string `json:"resource"`
	Scope    string `json:"scope"`
	Expiry   int64  `json:"exp"`
}

// rawToken mirrors the wire shape of a capability token, including the
// signature field that is excluded from the canonical signing payload.
type rawToken struct {
	ID       string `json:"id"`
	Issuer   string `json:"iss"`
	Subject  string `json:"sub"`
	Resource string `json:"resource"`
	Scope    string `json:"scope"`
	Expiry   int64  `json:"exp"`
	Sig      string `json:"sig"`
}

// Decode performs the full decode-and-verify pipeline from spec.md §4.1:
// base64url decode, strict JSON parse, required-field check, canonicalize
// without sig, verify signature under iss, check exp > now. Any single
// failure returns (nil, false) with no further distinction, to avoid side
// channels (spec.md: "no distinguishing error codes").
func Decode(token string) (*Capability, bool) {
	return decodeAt(token, time.Now())
}

func decodeAt(token string, now time.Time) (*Capability, bool) {
	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(token)
	if err != nil {
		// Tokens are sometimes carried padded; retry with standard padding
		// before failing closed.
		raw, err = base64.URLEncoding.DecodeString(token)
		if err != nil {
			return nil, false
		}
	}

	var rt rawToken
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rt); err != nil {
		return nil, false
	}

	if rt.ID == "" || rt.Issuer == "" || rt.Subject == "" || rt.Resource == "" || rt.Scope == "" || rt.Expiry == 0 || rt.Sig == "" {
		return nil, false
	}

	claims := map[string]any{
		"id":       rt.ID,
		"iss":      rt.Issuer,
		"sub":      rt.Subject,
		"resource": rt.Resource,
		"scope":    rt.Scope,
		"exp":      rt.Expiry,
	}

	canonical, err := canonicalJSON(claims)
	if err != nil {
		return nil, false
	}

	issPub, err := base64.StdEncoding.DecodeString(rt.Issuer)
	if err != nil {
		return nil, false
	}

	sig, err := base64.StdEncoding.DecodeString(rt.Sig)
	if err != nil {
		return nil, false
	}

	if !relaycrypto.Verify(issPub, canonical, sig) {
		return nil, false
	}

	if rt.Expiry <= now.Unix() {
		return nil, false
	}

	return &Capability{
		ID:       rt.ID,
		Issuer:   rt.Issuer,
		Subject:  rt.Subject,
		Resource: rt.Resource,
		Scope:    rt.Scope,
		Expiry:   rt.Expiry,
	}, true
}
