package relayauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultGatewayTokenTable is used when NewDBGatewayVerifier is given an
// empty table name.
const defaultGatewayTokenTable = "public.users"

// ErrUnknownContainer is returned when no row exists for a container id in
// the shared users table.
var ErrUnknownContainer = errors.New("relayauth: unknown container")

// ErrBadGatewayToken is returned when the supplied gateway token doesn't
// match the one on file.
var ErrBadGatewayToken = errors.New("relayauth: gateway token mismatch")

// Status mirrors the container lifecycle states the relay cares about
// (spec.md §3 "Container identity"). The relay never transitions these; it
// only reads them from the shared table owned by the management/agent
// servers.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuspended  Status = "suspended"
	StatusHibernated Status = "hibernated"
	StatusStopped    Status = "stopped"
	StatusUnknown    Status = "unknown"
)

// GatewayVerifier verifies a container's gateway token and reports its
// current status. Implemented by DBGatewayVerifier in production; faked in
// tests.
type GatewayVerifier interface {
	Verify(ctx context.Context, containerID, gatewayToken string) (Status, error)
}

// DBGatewayVerifier verifies gateway tokens against the shared `users`
// table (spec.md §6: "read-only joins to the shared users table for
// gateway-token verification"). This table is owned and migrated by the
// external management server; the relay only ever SELECTs from it.
type DBGatewayVerifier struct {
	pool  *pgxpool.Pool
	table string
}

// NewDBGatewayVerifier constructs a DBGatewayVerifier backed by pool,
// reading from table (spec.md §6's "shared users table"; its name is
// operator-configurable since it's owned by the external management
// server, not this repo's migrations). An empty table falls back to
// "public.users".
func NewDBGatewayVerifier(pool *pgxpool.Pool, table string) *DBGatewayVerifier {
	if table == "" {
		table = defaultGatewayTokenTable
	}
	return &DBGatewayVerifier{pool: pool, table: table}
}

// Verify looks up containerID's gateway token hash and status, and
// constant-time-compares the hash of the supplied token against it.
func (v *DBGatewayVerifier) Verify(ctx context.Context, containerID, gatewayToken string) (Status, error) {
	query := fmt.Sprintf(`SELECT gateway_token_hash, status FROM %s WHERE id = $1`, v.table)

	var storedHash, status string
	err := v.pool.QueryRow(ctx, query, containerID).Scan(&storedHash, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUnknownContainer
	}
	if err != nil {
		return "", fmt.Errorf("looking up container gateway token: %w", err)
	}

	sum := sha256.Sum256([]byte(gatewayToken))
	suppliedHash := fmt.Sprintf("%x", sum)
	if subtle.ConstantTimeCompare([]byte(suppliedHash), []byte(storedHash)) != 1 {
		return "", ErrBadGatewayToken
	}

	switch Status(status) {
	case StatusActive, StatusSuspended, StatusHibernated, StatusStopped:
		return Status(status), nil
	default:
		return StatusUnknown, nil
	}
}
