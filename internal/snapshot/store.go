package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no snapshot exists for a capability id.
var ErrNotFound = errors.New("snapshot: not found")

// Snapshot is an encrypted capability snapshot row (spec.md §3 "Cached snapshot").
type Snapshot struct {
	CapabilityID    string
	RecipientPubKey string
	IssuerPubKey    string
	EncryptedData   string
	EphemeralPubKey string
	Nonce           string
	Tag             string
	Signature       string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Store provides pgx-backed persistence for cached snapshots. Grounded on
// the teacher's hand-written pgx store idiom (store.apikey.go): explicit
// column list, Scan, no ORM.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a snapshot Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const snapshotColumns = `capability_id, recipient_pub_key, issuer_pub_key, encrypted_data, ephemeral_pub_key, nonce, tag, signature, created_at, expires_at`

// Upsert inserts or replaces the snapshot for s.CapabilityID (unique key).
func (st *Store) Upsert(ctx context.Context, s Snapshot) error {
	query := `INSERT INTO relay_cached_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (capability_id) DO UPDATE SET
			recipient_pub_key = EXCLUDED.recipient_pub_key,
			issuer_pub_key = EXCLUDED.issuer_pub_key,
			encrypted_data = EXCLUDED.encrypted_data,
			ephemeral_pub_key = EXCLUDED.ephemeral_pub_key,
			nonce = EXCLUDED.nonce,
			tag = EXCLUDED.tag,
			signature = EXCLUDED.signature,
			expires_at = EXCLUDED.expires_at`

	_, err := st.pool.Exec(ctx, query,
		s.CapabilityID, s.RecipientPubKey, s.IssuerPubKey, s.EncryptedData,
		s.EphemeralPubKey, s.Nonce, s.Tag, s.Signature, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}
	return nil
}

func (st *Store) scanRow(row pgx.Row) (Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.CapabilityID, &s.RecipientPubKey, &s.IssuerPubKey, &s.EncryptedData,
		&s.EphemeralPubKey, &s.Nonce, &s.Tag, &s.Signature, &s.CreatedAt, &s.ExpiresAt)
	return s, err
}

// FindByCapabilityID returns the snapshot for id, or ErrNotFound.
func (st *Store) FindByCapabilityID(ctx context.Context, id string) (Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM relay_cached_snapshots WHERE capability_id = $1`

	s, err := st.scanRow(st.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("finding snapshot: %w", err)
	}
	return s, nil
}

// ListByRecipient returns every snapshot addressed to recipientPubKey.
func (st *Store) ListByRecipient(ctx context.Context, recipientPubKey string) ([]Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM relay_cached_snapshots WHERE recipient_pub_key = $1 ORDER BY created_at ASC`

	rows, err := st.pool.Query(ctx, query, recipientPubKey)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots by recipient: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		s, err := st.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteByCapabilityID removes the snapshot for id, if any. Satisfies
// revocation.SnapshotCascade.
func (st *Store) DeleteByCapabilityID(ctx context.Context, id string) error {
	_, err := st.pool.Exec(ctx, `DELETE FROM relay_cached_snapshots WHERE capability_id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

// DeleteExpired removes snapshots whose expiresAt has passed, returning the
// count removed (spec.md §4.7: "expired snapshots are deleted opportunistically").
func (st *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := st.pool.Exec(ctx, `DELETE FROM relay_cached_snapshots WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
