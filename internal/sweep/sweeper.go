// Package sweep runs the relay's periodic background maintenance (spec.md
// §4.7 "Background sweepers"): expiring stale pending messages, pruning
// expired revocations and rebuilding the Bloom filter, and deleting
// expired cached snapshots.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/ocmt/relay/internal/telemetry"
)

// messageExpirer is the subset of *message.Store the sweeper needs.
type messageExpirer interface {
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// revocationPruner is the subset of *revocation.Store the sweeper needs.
type revocationPruner interface {
	CleanupExpired(ctx context.Context, before time.Time) (int64, error)
}

// bloomRebuilder rebuilds the revocation Bloom filter from the
// authoritative table after a prune (implemented by *revocation.Service).
type bloomRebuilder interface {
	RebuildAfterCleanup(ctx context.Context) error
}

// snapshotExpirer is the subset of *snapshot.Store the sweeper needs.
type snapshotExpirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper runs the three periodic maintenance sweeps described in
// spec.md §4.7 on two tickers: the message ticker drives the message and
// snapshot sweeps, the revocation ticker drives the revocation prune. All
// sweeps run one at a time on Run's goroutine, so a slow sweep delays the
// next one.
type Sweeper struct {
	messages         messageExpirer
	revocationStore  revocationPruner
	revocationRebuild bloomRebuilder
	snapshots        snapshotExpirer

	messageAge        time.Duration
	interval          time.Duration
	revocationAge     time.Duration
	revocationCadence time.Duration

	logger *slog.Logger
}

// Config holds the tunable knobs for Sweeper (spec.md §4.7 defaults: "24 h"
// messages, "daily" revocation pruning). SnapshotInterval is not read: the
// snapshot sweep runs on MessageInterval.
type Config struct {
	MessageMaxAge      time.Duration
	MessageInterval    time.Duration
	RevocationMaxAge   time.Duration
	RevocationInterval time.Duration
	SnapshotInterval   time.Duration
}

// New constructs a Sweeper from its storage dependencies and schedule.
func New(messages messageExpirer, revocationStore revocationPruner, revocationRebuild bloomRebuilder, snapshots snapshotExpirer, cfg Config, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		messages:          messages,
		revocationStore:   revocationStore,
		revocationRebuild: revocationRebuild,
		snapshots:         snapshots,
		messageAge:        cfg.MessageMaxAge,
		interval:          cfg.MessageInterval,
		revocationAge:     cfg.RevocationMaxAge,
		revocationCadence: cfg.RevocationInterval,
		logger:            logger,
	}
}

// Run blocks, running the sweeps on the message and revocation tickers
// until ctx is canceled. Intended to be started as a goroutine at startup.
func (s *Sweeper) Run(ctx context.Context) {
	messageTicker := time.NewTicker(s.interval)
	defer messageTicker.Stop()

	revocationTicker := time.NewTicker(s.revocationCadence)
	defer revocationTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-messageTicker.C:
			s.sweepMessages(ctx)
			s.sweepSnapshots(ctx)
		case <-revocationTicker.C:
			s.sweepRevocations(ctx)
		}
	}
}

func (s *Sweeper) sweepMessages(ctx context.Context) {
	cutoff := time.Now().Add(-s.messageAge)
	n, err := s.messages.ExpireOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("sweeping expired messages", "error", err)
		return
	}
	if n > 0 {
		telemetry.MessagesExpiredTotal.Add(float64(n))
		s.logger.Info("expired stale pending messages", "count", n)
	}
}

func (s *Sweeper) sweepRevocations(ctx context.Context) {
	cutoff := time.Now().Add(-s.revocationAge)
	n, err := s.revocationStore.CleanupExpired(ctx, cutoff)
	if err != nil {
		s.logger.Error("pruning expired revocations", "error", err)
		return
	}
	if n == 0 {
		return
	}

	s.logger.Info("pruned expired revocations", "count", n)
	if err := s.revocationRebuild.RebuildAfterCleanup(ctx); err != nil {
		s.logger.Error("rebuilding bloom filter after revocation prune", "error", err)
	}
}

func (s *Sweeper) sweepSnapshots(ctx context.Context) {
	n, err := s.snapshots.DeleteExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("pruning expired snapshots", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned expired snapshots", "count", n)
	}
}
