package callback

import (
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidCallbackURL is returned by ValidateCallbackURL when a URL fails
// the SSRF policy.
type ErrInvalidCallbackURL struct {
	Reason string
}

func (e *ErrInvalidCallbackURL) Error() string {
	return "invalid callback url: " + e.Reason
}

var privateHostPrefixes = []string{"192.168.", "10.", "172.16."}
var blockedHostSuffixes = []string{".internal", ".local"}
var blockedHosts = map[string]bool{
	"127.0.0.1": true,
	"0.0.0.0":   true,
}

// ValidateCallbackURL implements the SSRF policy from spec.md §4.5.1:
// scheme must be https, except plain http is allowed when the host is
// exactly "localhost"; loopback/private/internal hosts are rejected
// outright. The Validator type adapts it to registry's locally-declared
// urlValidator interface.
func ValidateCallbackURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &ErrInvalidCallbackURL{Reason: "not a valid URL"}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return &ErrInvalidCallbackURL{Reason: "missing host"}
	}

	if u.Scheme != "https" {
		if !(u.Scheme == "http" && host == "localhost") {
			return &ErrInvalidCallbackURL{Reason: "scheme must be https (plain http only allowed for host localhost)"}
		}
	}

	if blockedHosts[host] {
		return &ErrInvalidCallbackURL{Reason: fmt.Sprintf("host %q is not allowed", host)}
	}
	for _, prefix := range privateHostPrefixes {
		if strings.HasPrefix(host, prefix) {
			return &ErrInvalidCallbackURL{Reason: fmt.Sprintf("host %q is a private address range", host)}
		}
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return &ErrInvalidCallbackURL{Reason: fmt.Sprintf("host %q uses a blocked suffix", host)}
		}
	}

	return nil
}

// Validator adapts the package-level ValidateCallbackURL function to the
// urlValidator interface shape internal/registry expects.
type Validator struct{}

// ValidateCallbackURL implements registry's urlValidator interface.
func (Validator) ValidateCallbackURL(rawURL string) error {
	return ValidateCallbackURL(rawURL)
}
