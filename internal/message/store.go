package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no message exists for an id.
var ErrNotFound = errors.New("message: not found")

// Store provides pgx-backed persistence for the message queue. Grounded on
// the teacher's hand-written pgx store idiom (store.apikey.go): explicit
// column list, Scan, no ORM.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a message Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const messageColumns = `id, from_id, to_id, payload, size, status, created_at, delivered_at, expired_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	var status string
	err := row.Scan(&m.ID, &m.From, &m.To, &m.Payload, &m.Size, &status, &m.CreatedAt, &m.DeliveredAt, &m.ExpiredAt)
	m.Status = Status(status)
	return m, err
}

// Create inserts a new pending message.
func (s *Store) Create(ctx context.Context, m Message) error {
	query := `INSERT INTO relay_messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query, m.ID, m.From, m.To, m.Payload, m.Size, string(m.Status), m.CreatedAt, m.DeliveredAt, m.ExpiredAt)
	if err != nil {
		return fmt.Errorf("creating message: %w", err)
	}
	return nil
}

// FindByID returns the message for id, or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (Message, error) {
	query := `SELECT ` + messageColumns + ` FROM relay_messages WHERE id = $1`

	m, err := scanMessage(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("finding message: %w", err)
	}
	return m, nil
}

// ListPendingForRecipient returns up to limit pending messages addressed to
// recipient, oldest first (spec.md §4.5.1 "flush-on-connect in createdAt
// ascending order").
func (s *Store) ListPendingForRecipient(ctx context.Context, recipient string, limit int) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM relay_messages
		WHERE to_id = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, recipient, string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkDelivered flips a pending message to delivered, conditional on its
// current status to preserve the pending → delivered|expired monotonicity
// invariant under concurrent writers (spec.md §5). Returns false if the
// message was not in pending state (already delivered/expired, or
// nonexistent) — not an error, since a racing ack/expiry is expected.
func (s *Store) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) (bool, error) {
	query := `UPDATE relay_messages SET status = $1, delivered_at = $2 WHERE id = $3 AND status = $4`

	tag, err := s.pool.Exec(ctx, query, string(StatusDelivered), deliveredAt, id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("marking message delivered: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkExpired flips a pending message to expired, same conditional-update
// guard as MarkDelivered.
func (s *Store) MarkExpired(ctx context.Context, id string, expiredAt time.Time) (bool, error) {
	query := `UPDATE relay_messages SET status = $1, expired_at = $2 WHERE id = $3 AND status = $4`

	tag, err := s.pool.Exec(ctx, query, string(StatusExpired), expiredAt, id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("marking message expired: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireOlderThan flips every still-pending message older than cutoff to
// expired, returning the count affected (spec.md §4.7 sweeper).
func (s *Store) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE relay_messages SET status = $1, expired_at = now() WHERE status = $2 AND created_at < $3`

	tag, err := s.pool.Exec(ctx, query, string(StatusExpired), string(StatusPending), cutoff)
	if err != nil {
		return 0, fmt.Errorf("expiring stale messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
