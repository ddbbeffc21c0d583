package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ocmt/relay/internal/relaycrypto"
)

// ErrInvalidPubKey is returned when signingPubKey is not a 32-byte Ed25519 key.
var ErrInvalidPubKey = errors.New("registry: signingPubKey must be 32 bytes")

// ErrChallengeFailed is returned when the proof-of-possession signature
// fails to verify.
var ErrChallengeFailed = errors.New("registry: challenge signature verification failed")

// ErrInvalidCallbackURL is returned when callbackUrl fails the SSRF policy.
var ErrInvalidCallbackURL = errors.New("registry: callbackUrl rejected by URL policy")

// urlValidator is implemented by internal/callback's Validator so the
// registry can enforce the same SSRF policy on register/update without
// importing the callback package.
type urlValidator interface {
	ValidateCallbackURL(url string) error
}

// store is the subset of *Store's behavior Service depends on, narrowed to
// an interface so tests can substitute an in-memory fake.
type store interface {
	Upsert(ctx context.Context, r Registration) error
	FindByContainerID(ctx context.Context, containerID string) (Registration, error)
	FindByPubKeyHash(ctx context.Context, hash string) (Registration, error)
	Delete(ctx context.Context, containerID string) error
}

// Service implements the container registry operations from spec.md §4.3.
type Service struct {
	store store
	urls  urlValidator
}

// NewService constructs a registry Service backed by a persistent Store.
func NewService(st *Store, urls urlValidator) *Service {
	return newService(st, urls)
}

func newService(st store, urls urlValidator) *Service {
	return &Service{store: st, urls: urls}
}

// RegisterRequest is the wire shape of POST /registry/register.
type RegisterRequest struct {
	ContainerID      string
	SigningPubKey    []byte
	EncryptionPubKey string
	CallbackURL      string
	Challenge        []byte
	Signature        []byte
}

// Register implements spec.md §4.3: validate the signing key, verify proof
// of possession over the challenge, validate the callback URL, then upsert
// with a freshly computed pubKeyHash.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Registration, error) {
	if len(req.SigningPubKey) != 32 {
		return Registration{}, ErrInvalidPubKey
	}

	if !relaycrypto.Verify(req.SigningPubKey, req.Challenge, req.Signature) {
		return Registration{}, ErrChallengeFailed
	}

	if req.CallbackURL != "" && s.urls != nil {
		if err := s.urls.ValidateCallbackURL(req.CallbackURL); err != nil {
			return Registration{}, fmt.Errorf("%w: %s", ErrInvalidCallbackURL, err)
		}
	}

	now := time.Now()
	existing, err := s.store.FindByContainerID(ctx, req.ContainerID)
	createdAt := now
	if err == nil {
		createdAt = existing.CreatedAt
	}

	reg := Registration{
		ContainerID:      req.ContainerID,
		SigningPubKey:    string(req.SigningPubKey),
		EncryptionPubKey: req.EncryptionPubKey,
		PubKeyHash:       relaycrypto.PubKeyHash(req.SigningPubKey),
		CallbackURL:      req.CallbackURL,
		CreatedAt:        createdAt,
		UpdatedAt:        now,
	}

	if err := s.store.Upsert(ctx, reg); err != nil {
		return Registration{}, fmt.Errorf("storing registration: %w", err)
	}

	return reg, nil
}

// Update patches the encryptionPubKey and/or callbackUrl of an existing
// registration, recomputing pubKeyHash from the stored signingPubKey (never
// trusted from the client, per spec.md §3 invariant).
func (s *Service) Update(ctx context.Context, containerID string, encryptionPubKey, callbackURL *string) (Registration, error) {
	reg, err := s.store.FindByContainerID(ctx, containerID)
	if err != nil {
		return Registration{}, err
	}

	if encryptionPubKey != nil {
		reg.EncryptionPubKey = *encryptionPubKey
	}
	if callbackURL != nil {
		if *callbackURL != "" && s.urls != nil {
			if err := s.urls.ValidateCallbackURL(*callbackURL); err != nil {
				return Registration{}, fmt.Errorf("%w: %s", ErrInvalidCallbackURL, err)
			}
		}
		reg.CallbackURL = *callbackURL
	}
	reg.PubKeyHash = relaycrypto.PubKeyHash([]byte(reg.SigningPubKey))
	reg.UpdatedAt = time.Now()

	if err := s.store.Upsert(ctx, reg); err != nil {
		return Registration{}, fmt.Errorf("updating registration: %w", err)
	}
	return reg, nil
}

// Delete removes a container's registration.
func (s *Service) Delete(ctx context.Context, containerID string) error {
	return s.store.Delete(ctx, containerID)
}

// Get returns the full registration for containerID, including callbackUrl.
// Only for internal callers (e.g. the delivery pipeline); never exposed
// directly over HTTP discovery endpoints.
func (s *Service) Get(ctx context.Context, containerID string) (Registration, error) {
	return s.store.FindByContainerID(ctx, containerID)
}

// DiscoveryInfo is the public-facing projection of a Registration that
// omits callbackUrl (spec.md §4.3: "Lookup endpoints never expose
// callbackUrl (prevents probing for live endpoints)").
type DiscoveryInfo struct {
	ContainerID      string    `json:"containerId"`
	SigningPubKey    string    `json:"signingPubKey"`
	EncryptionPubKey string    `json:"encryptionPubKey,omitempty"`
	RegisteredAt     time.Time `json:"registeredAt"`
}

func toDiscoveryInfo(r Registration) DiscoveryInfo {
	return DiscoveryInfo{
		ContainerID:      r.ContainerID,
		SigningPubKey:    r.SigningPubKey,
		EncryptionPubKey: r.EncryptionPubKey,
		RegisteredAt:     r.CreatedAt,
	}
}

// Lookup returns discovery info (no callbackUrl) for containerID.
func (s *Service) Lookup(ctx context.Context, containerID string) (DiscoveryInfo, error) {
	r, err := s.store.FindByContainerID(ctx, containerID)
	if err != nil {
		return DiscoveryInfo{}, err
	}
	return toDiscoveryInfo(r), nil
}

// LookupByPubKeyHash returns discovery info for the registration matching
// hash.
func (s *Service) LookupByPubKeyHash(ctx context.Context, hash string) (DiscoveryInfo, error) {
	r, err := s.store.FindByPubKeyHash(ctx, hash)
	if err != nil {
		return DiscoveryInfo{}, err
	}
	return toDiscoveryInfo(r), nil
}
