package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a capability id has no revocation record.
var ErrNotFound = errors.New("revocation: not found")

// Record is an authoritative revocation row.
type Record struct {
	CapabilityID   string
	IssuerPubKey   string
	Reason         string
	OriginalExpiry int64
	RevokedAt      time.Time
}

// Store provides pgx-backed persistence for the authoritative revocation
// table. Grounded on the teacher's hand-written pgx store idiom
// (store.apikey.go): explicit column list, Scan, no ORM.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a revocation Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const revocationColumns = `capability_id, issuer_pub_key, reason, original_expiry, revoked_at`

// Create inserts a revocation record. Idempotent: re-revoking the same
// capability id is a no-op that leaves exactly one row (spec.md §8).
func (s *Store) Create(ctx context.Context, r Record) error {
	query := `INSERT INTO relay_revocations (` + revocationColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (capability_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, r.CapabilityID, r.IssuerPubKey, r.Reason, r.OriginalExpiry, r.RevokedAt)
	if err != nil {
		return fmt.Errorf("creating revocation record: %w", err)
	}
	return nil
}

// FindByCapabilityID returns the revocation record for id, or ErrNotFound.
func (s *Store) FindByCapabilityID(ctx context.Context, id string) (Record, error) {
	query := `SELECT ` + revocationColumns + ` FROM relay_revocations WHERE capability_id = $1`

	var r Record
	err := s.pool.QueryRow(ctx, query, id).Scan(&r.CapabilityID, &r.IssuerPubKey, &r.Reason, &r.OriginalExpiry, &r.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("finding revocation record: %w", err)
	}
	return r, nil
}

// IsRevoked reports whether id has an authoritative revocation row.
func (s *Store) IsRevoked(ctx context.Context, id string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM relay_revocations WHERE capability_id = $1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return exists, nil
}

// BatchCheckRevoked returns the subset of ids that are revoked.
func (s *Store) BatchCheckRevoked(ctx context.Context, ids []string) (map[string]bool, error) {
	query := `SELECT capability_id FROM relay_revocations WHERE capability_id = ANY($1)`

	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("batch checking revocations: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		result[id] = false
	}

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning revocation row: %w", err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating revocation rows: %w", err)
	}

	return result, nil
}

// GetAllCapabilityIDs returns every revoked capability id, used to rebuild
// the Bloom filter at startup and after expiry sweeps.
func (s *Store) GetAllCapabilityIDs(ctx context.Context) ([]string, error) {
	query := `SELECT capability_id FROM relay_revocations`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing revocation ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning revocation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CleanupExpired removes revocation records whose original capability expiry
// has passed, returning the count removed.
func (s *Store) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM relay_revocations WHERE original_expiry > 0 AND original_expiry < $1`

	tag, err := s.pool.Exec(ctx, query, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired revocations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of revocation records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM relay_revocations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting revocations: %w", err)
	}
	return n, nil
}
