package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no registration exists for the given key.
var ErrNotFound = errors.New("registry: not found")

// Registration is a container's registry row (spec.md §3 "Registration").
type Registration struct {
	ContainerID     string
	SigningPubKey   string
	EncryptionPubKey string
	PubKeyHash      string
	CallbackURL     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store provides pgx-backed persistence for the container registry.
// Grounded on the teacher's hand-written pgx store idiom (store.apikey.go).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a registry Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const registryColumns = `container_id, signing_pub_key, encryption_pub_key, pub_key_hash, callback_url, created_at, updated_at`

func (s *Store) scanRow(row pgx.Row) (Registration, error) {
	var r Registration
	var signingKey, encKey []byte
	var callback *string
	err := row.Scan(&r.ContainerID, &signingKey, &encKey, &r.PubKeyHash, &callback, &r.CreatedAt, &r.UpdatedAt)
	r.SigningPubKey = string(signingKey)
	if encKey != nil {
		r.EncryptionPubKey = string(encKey)
	}
	if callback != nil {
		r.CallbackURL = *callback
	}
	return r, err
}

// Upsert inserts or replaces the registration for r.ContainerID (spec.md
// §3: "Exactly one registration per container").
func (s *Store) Upsert(ctx context.Context, r Registration) error {
	query := `INSERT INTO relay_container_registry (` + registryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (container_id) DO UPDATE SET
			signing_pub_key = EXCLUDED.signing_pub_key,
			encryption_pub_key = EXCLUDED.encryption_pub_key,
			pub_key_hash = EXCLUDED.pub_key_hash,
			callback_url = EXCLUDED.callback_url,
			updated_at = EXCLUDED.updated_at`

	var encKey []byte
	var callback *string
	if r.EncryptionPubKey != "" {
		encKey = []byte(r.EncryptionPubKey)
	}
	if r.CallbackURL != "" {
		callback = &r.CallbackURL
	}

	_, err := s.pool.Exec(ctx, query, r.ContainerID, []byte(r.SigningPubKey), encKey, r.PubKeyHash, callback, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting registration: %w", err)
	}
	return nil
}

// FindByContainerID returns the registration for containerID, or ErrNotFound.
func (s *Store) FindByContainerID(ctx context.Context, containerID string) (Registration, error) {
	query := `SELECT ` + registryColumns + ` FROM relay_container_registry WHERE container_id = $1`

	r, err := s.scanRow(s.pool.QueryRow(ctx, query, containerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Registration{}, ErrNotFound
	}
	if err != nil {
		return Registration{}, fmt.Errorf("finding registration: %w", err)
	}
	return r, nil
}

// FindByPubKeyHash returns the registration whose pubKeyHash matches hash.
func (s *Store) FindByPubKeyHash(ctx context.Context, hash string) (Registration, error) {
	query := `SELECT ` + registryColumns + ` FROM relay_container_registry WHERE pub_key_hash = $1`

	r, err := s.scanRow(s.pool.QueryRow(ctx, query, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Registration{}, ErrNotFound
	}
	if err != nil {
		return Registration{}, fmt.Errorf("finding registration by pubkey hash: %w", err)
	}
	return r, nil
}

// Delete removes the registration for containerID.
func (s *Store) Delete(ctx context.Context, containerID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM relay_container_registry WHERE container_id = $1`, containerID)
	if err != nil {
		return fmt.Errorf("deleting registration: %w", err)
	}
	return nil
}
