// Package app wires every relay component together and runs the HTTP
// server, following the teacher's Run(ctx, cfg) entry-point shape.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ocmt/relay/internal/audit"
	"github.com/ocmt/relay/internal/callback"
	"github.com/ocmt/relay/internal/config"
	"github.com/ocmt/relay/internal/httpserver"
	"github.com/ocmt/relay/internal/live"
	"github.com/ocmt/relay/internal/message"
	"github.com/ocmt/relay/internal/platform"
	"github.com/ocmt/relay/internal/ratelimit"
	"github.com/ocmt/relay/internal/registry"
	"github.com/ocmt/relay/internal/relay"
	"github.com/ocmt/relay/internal/relayauth"
	"github.com/ocmt/relay/internal/revocation"
	"github.com/ocmt/relay/internal/snapshot"
	"github.com/ocmt/relay/internal/sweep"
	"github.com/ocmt/relay/internal/telemetry"
	"github.com/ocmt/relay/internal/wake"
)

// Run reads config, connects to infrastructure, wires every relay
// component, and serves the HTTP+WebSocket API until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting relay", "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewRegistry(telemetry.All()...)

	// --- Audit (async buffered writer + mesh sink) ---
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	meshSink := audit.NewMeshSink(cfg.MeshAuditURL, cfg.MeshAuditToken, logger)

	// --- Auth ---
	gatewayVerifier := relayauth.NewDBGatewayVerifier(db, cfg.GatewayTokenTable)

	// --- Revocation index (Bloom + LRU + authoritative store) ---
	snapshotStore := snapshot.NewStore(db)
	revocationStore := revocation.NewStore(db)
	bloom := revocation.NewBloomFilter(cfg.RevocationBloomN, cfg.RevocationBloomFalsePos)
	cache := revocation.NewCache(cfg.RevocationCacheSize)
	revocationService := revocation.NewService(bloom, cache, revocationStore, cfg.RevocationReplayWindow, logger, snapshotStore, auditWriter)
	if err := revocationService.LoadFromStore(ctx); err != nil {
		return fmt.Errorf("loading revocation bloom filter: %w", err)
	}

	// --- Snapshot store ---
	snapshotService := snapshot.NewService(snapshotStore, revocationService, cfg.SnapshotListReplayWindow)

	// --- Container registry ---
	registryStore := registry.NewStore(db)
	registryService := registry.NewService(registryStore, callback.Validator{})

	// --- Message queue ---
	messageStore := message.NewStore(db)

	// --- Live push (WebSocket fan-out) ---
	hub := live.NewHub()
	wsHandler := live.NewHandler(hub, gatewayVerifier, messageStore, logger)

	// --- Callback forwarder ---
	forwarder := callback.NewForwarder(cfg.ForwardTimeout, cfg.ForwardMaxRetries, logger)

	// --- Wake coordinator ---
	agentClient := wake.NewAgentClient(cfg.AgentServerURL, cfg.AgentServerToken)
	wakeCoordinator := wake.NewCoordinator(agentClient, cfg.StatusTimeout, cfg.WakeTimeout, logger)

	// --- Rate limiting (distributed + in-memory fallback + DB longer-window layer) ---
	fallback := ratelimit.NewFallback()
	messageLimiter := ratelimit.New(rdb, fallback, "relay", "messages", cfg.RateLimitMessagesPerMinute, cfg.RateLimitWindow)
	apiLimiter := ratelimit.New(rdb, fallback, "relay", "api", cfg.RateLimitAPIPerHour, time.Hour)
	dbLimiter := ratelimit.NewDBLimiter(db, cfg.RateLimitMessagesPerHour, time.Hour)

	// --- Relay delivery pipeline (C12) ---
	relayService := relay.New(registryService, revocationService, messageStore, hub, forwarder, wakeCoordinator, auditWriter, meshSink, logger)

	// --- Background sweepers ---
	sweeper := sweep.New(messageStore, revocationStore, revocationService, snapshotStore, sweep.Config{
		MessageMaxAge:      cfg.MessageExpiry,
		MessageInterval:    cfg.SweepInterval,
		RevocationMaxAge:   0,
		RevocationInterval: 24 * time.Hour,
		SnapshotInterval:   cfg.SweepInterval,
	}, logger)
	go sweeper.Run(ctx)

	// --- HTTP server ---
	authMW := relayauth.Middleware(gatewayVerifier, logger)
	rateLimitMW := ratelimit.Middleware(messageLimiter, ratelimit.ByContainer, "messages")
	apiRateLimitMW := ratelimit.Middleware(apiLimiter, ratelimit.ByContainer, "api")
	dbRateLimitMW := ratelimit.Middleware(dbLimiter, ratelimit.ByContainer, "db")

	srv := httpserver.NewServer(
		httpserver.Config{AllowedOrigins: cfg.ALLOWEDOrigins},
		logger, db, rdb, metricsReg,
		authMW,
		chainMiddleware(rateLimitMW, apiRateLimitMW, dbRateLimitMW),
		wsHandler,
	)

	relayHandler := relay.NewHandler(logger, relayService)
	relayHandler.Mount(srv.RelayRouter)

	revocationHandler := revocation.NewHandler(logger, revocationService)
	revocationHandler.Mount(srv.RelayRouter)

	snapshotHandler := snapshot.NewHandler(logger, snapshotService)
	srv.RelayRouter.Mount("/snapshots", snapshotHandler.Routes())

	registryHandler := registry.NewHandler(logger, registryService)
	srv.RelayRouter.Mount("/registry", registryHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down relay server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// chainMiddleware composes several middleware into one, applied in the
// order given (first wraps outermost).
func chainMiddleware(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
