package revocation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ocmt/relay/internal/capability"
	"github.com/ocmt/relay/internal/relaycrypto"
	"github.com/ocmt/relay/internal/telemetry"
)

// CheckSource identifies which layer answered an isRevoked check.
type CheckSource string

const (
	SourceBloom    CheckSource = "bloom-filter"
	SourceCache    CheckSource = "cache"
	SourceDatabase CheckSource = "database"
	SourceError    CheckSource = "error"
)

// CheckResult is the outcome of an interactive revocation check.
type CheckResult struct {
	Revoked   bool
	RevokedAt time.Time
	RevokedBy string
	Reason    string
	Source    CheckSource
	Warning   string
}

// SnapshotCascade is implemented by the snapshot store so the revocation
// service can cascade-delete cached snapshots for a revoked capability
// without importing the snapshot package (which itself depends on this one
// for authoritative checks).
type SnapshotCascade interface {
	DeleteByCapabilityID(ctx context.Context, capabilityID string) error
}

// AuditSink records revocation outcomes. Implemented by internal/audit.
type AuditSink interface {
	LogRevocation(ctx context.Context, capabilityID, revokedBy, reason string)
}

// store is the subset of *Store's behavior the Service depends on, narrowed
// to an interface so tests can substitute an in-memory fake instead of a
// live Postgres connection.
type store interface {
	Create(ctx context.Context, r Record) error
	FindByCapabilityID(ctx context.Context, id string) (Record, error)
	IsRevoked(ctx context.Context, id string) (bool, error)
	BatchCheckRevoked(ctx context.Context, ids []string) (map[string]bool, error)
	GetAllCapabilityIDs(ctx context.Context) ([]string, error)
}

// Service orchestrates the two-layer revocation index described in
// spec.md §4.2: Bloom filter fast path, advisory LRU cache, authoritative
// persistent store, with an explicit fail-open (interactive checks) vs
// fail-closed (stored artifacts) asymmetry.
type Service struct {
	bloom    *BloomFilter
	cache    *Cache
	store    store
	replay   time.Duration
	logger   *slog.Logger
	snapshot SnapshotCascade
	audit    AuditSink
}

// NewService constructs a revocation Service. Call LoadFromStore once at
// startup to populate the Bloom filter from the authoritative table.
func NewService(bloom *BloomFilter, cache *Cache, st *Store, replayWindow time.Duration, logger *slog.Logger, snapshot SnapshotCascade, audit AuditSink) *Service {
	return newService(bloom, cache, st, replayWindow, logger, snapshot, audit)
}

func newService(bloom *BloomFilter, cache *Cache, st store, replayWindow time.Duration, logger *slog.Logger, snapshot SnapshotCascade, audit AuditSink) *Service {
	return &Service{
		bloom:    bloom,
		cache:    cache,
		store:    st,
		replay:   replayWindow,
		logger:   logger,
		snapshot: snapshot,
		audit:    audit,
	}
}

// LoadFromStore rebuilds the Bloom filter from every row in the
// authoritative table. Recovers from a crash between persist and bloom-add
// (spec.md §5 Transactions).
func (s *Service) LoadFromStore(ctx context.Context) error {
	ids, err := s.store.GetAllCapabilityIDs(ctx)
	if err != nil {
		return fmt.Errorf("loading revocation ids for bloom rebuild: %w", err)
	}
	s.bloom.Rebuild(ids)
	return nil
}

// IsRevoked implements the fail-open interactive check path (spec.md §4.2,
// §6 GET /revocation/:capabilityId, §7 "interactive revocation checks fail open").
func (s *Service) IsRevoked(ctx context.Context, id string) CheckResult {
	if !s.bloom.MaybeContains(id) {
		telemetry.RevocationCheckTotal.WithLabelValues(string(SourceBloom)).Inc()
		return CheckResult{Revoked: false, Source: SourceBloom}
	}

	if revoked, ok := s.cache.Get(id); ok {
		telemetry.RevocationCheckTotal.WithLabelValues(string(SourceCache)).Inc()
		return CheckResult{Revoked: revoked, Source: SourceCache}
	}

	rec, err := s.store.FindByCapabilityID(ctx, id)
	if err != nil {
		if err == ErrNotFound {
			s.cache.Set(id, false)
			telemetry.RevocationCheckTotal.WithLabelValues(string(SourceDatabase)).Inc()
			return CheckResult{Revoked: false, Source: SourceDatabase}
		}

		s.logger.Error("revocation store unavailable during interactive check", "error", err, "capability_id", id)
		telemetry.RevocationCheckTotal.WithLabelValues(string(SourceError)).Inc()
		return CheckResult{Revoked: false, Source: SourceError, Warning: "database unavailable"}
	}

	s.cache.Set(id, true)
	telemetry.RevocationCheckTotal.WithLabelValues(string(SourceDatabase)).Inc()
	return CheckResult{
		Revoked:   true,
		RevokedAt: rec.RevokedAt,
		RevokedBy: rec.IssuerPubKey,
		Reason:    rec.Reason,
		Source:    SourceDatabase,
	}
}

// AuthoritativeIsRevoked bypasses Bloom/cache and checks the persistent
// store directly. Used by the fail-closed paths in snapshot upsert/list
// (spec.md §4.6): "if Bloom says may be revoked, verify authoritatively; on
// store error, reject."
func (s *Service) AuthoritativeIsRevoked(ctx context.Context, id string) (bool, error) {
	return s.store.IsRevoked(ctx, id)
}

// MaybeRevoked is the fail-closed-capable fast check used before snapshot
// writes: it returns true only when an authoritative lookup is required.
func (s *Service) MaybeRevoked(id string) bool {
	return s.bloom.MaybeContains(id)
}

// BatchCheck checks many ids at once (POST /check-revocations).
func (s *Service) BatchCheck(ctx context.Context, ids []string) (map[string]CheckResult, error) {
	results := make(map[string]CheckResult, len(ids))

	var needsStore []string
	for _, id := range ids {
		if !s.bloom.MaybeContains(id) {
			results[id] = CheckResult{Revoked: false, Source: SourceBloom}
			continue
		}
		if revoked, ok := s.cache.Get(id); ok {
			results[id] = CheckResult{Revoked: revoked, Source: SourceCache}
			continue
		}
		needsStore = append(needsStore, id)
	}

	if len(needsStore) == 0 {
		return results, nil
	}

	revokedSet, err := s.store.BatchCheckRevoked(ctx, needsStore)
	if err != nil {
		for _, id := range needsStore {
			results[id] = CheckResult{Revoked: false, Source: SourceError, Warning: "database unavailable"}
		}
		return results, nil
	}

	for id, revoked := range revokedSet {
		s.cache.Set(id, revoked)
		results[id] = CheckResult{Revoked: revoked, Source: SourceDatabase}
	}

	return results, nil
}

// RevokeRequest is the signed envelope accepted by POST /revoke (spec.md §4.2).
type RevokeRequest struct {
	CapabilityID   string `json:"capabilityId"`
	RevokedBy      string `json:"revokedBy"`
	Reason         string `json:"reason"`
	OriginalExpiry int64  `json:"originalExpiry"`
	Timestamp      int64  `json:"timestamp"`
	Signature      string `json:"signature"`
}

// Revoke implements the write path from spec.md §4.2: replay-window check,
// signature verification over the canonical revoke envelope, persist,
// update Bloom/cache, cascade-delete snapshots. Storage writes fail closed:
// any error here is returned to the caller as a rejection.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest, sig, revokedByPubKey []byte) error {
	now := time.Now()
	ts := time.Unix(req.Timestamp, 0)
	if d := now.Sub(ts); d < -s.replay || d > s.replay {
		return fmt.Errorf("revocation request timestamp outside replay window")
	}

	envelope := map[string]any{
		"action":         "revoke",
		"capabilityId":   req.CapabilityID,
		"revokedBy":      req.RevokedBy,
		"reason":         req.Reason,
		"originalExpiry": req.OriginalExpiry,
		"timestamp":      req.Timestamp,
	}
	canonical, err := canonicalEnvelope(envelope)
	if err != nil {
		return fmt.Errorf("canonicalizing revoke envelope: %w", err)
	}

	if !relaycrypto.Verify(revokedByPubKey, canonical, sig) {
		return fmt.Errorf("invalid revocation signature")
	}

	if err := s.store.Create(ctx, Record{
		CapabilityID:   req.CapabilityID,
		IssuerPubKey:   req.RevokedBy,
		Reason:         req.Reason,
		OriginalExpiry: req.OriginalExpiry,
		RevokedAt:      now,
	}); err != nil {
		return fmt.Errorf("persisting revocation: %w", err)
	}

	s.bloom.Add(req.CapabilityID)
	s.cache.Set(req.CapabilityID, true)

	if s.snapshot != nil {
		if err := s.snapshot.DeleteByCapabilityID(ctx, req.CapabilityID); err != nil {
			s.logger.Error("cascade-deleting snapshots for revoked capability", "error", err, "capability_id", req.CapabilityID)
		}
	}

	if s.audit != nil {
		s.audit.LogRevocation(ctx, req.CapabilityID, req.RevokedBy, req.Reason)
	}

	return nil
}

// RebuildAfterCleanup re-reads the authoritative table and rebuilds the
// Bloom filter. Called by the sweeper after CleanupExpired (spec.md §4.7:
// "expired revocations are pruned daily, after which the Bloom filter is
// rebuilt").
func (s *Service) RebuildAfterCleanup(ctx context.Context) error {
	return s.LoadFromStore(ctx)
}

// canonicalEnvelope reuses capability's deterministic-JSON rules for the
// non-capability revoke/list-snapshots envelopes signed by callers.
func canonicalEnvelope(fields map[string]any) ([]byte, error) {
	return capability.CanonicalEnvelope(fields)
}
