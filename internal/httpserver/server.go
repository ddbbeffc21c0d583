package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server holds the HTTP server dependencies and the top-level router
// (spec.md §6, §4.7 "C12 HTTP surface").
type Server struct {
	Router      *chi.Mux
	RelayRouter chi.Router
	Logger      *slog.Logger
	DB          *pgxpool.Pool
	Redis       *redis.Client
	Metrics     *prometheus.Registry
	startedAt   time.Time
}

// Config is the subset of config.Config the server needs to build CORS,
// narrowed to avoid an import cycle with internal/config.
type Config struct {
	AllowedOrigins []string
}

// Middleware matches the signature returned by relayauth.Middleware and
// ratelimit.Middleware; named here only so NewServer's parameter list reads
// clearly, not to impose an import dependency on either package.
type Middleware func(http.Handler) http.Handler

// NewServer creates the top-level HTTP router with global middleware, health
// and metrics endpoints, and an authenticated "/relay" route group. Domain
// handlers are mounted onto RelayRouter by the caller (internal/app): the
// relay and revocation handlers via their Mount(r chi.Router) methods, the
// snapshot and registry handlers under sub-prefixes via their Routes()
// routers. The WebSocket handler is mounted separately since it
// authenticates itself via subprotocol.
func NewServer(cfg Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, authMW, rateLimitMW Middleware, wsHandler http.Handler) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Container-Id", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/health", s.handleHealth)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/relay", func(r chi.Router) {
		r.Get("/subscribe", wsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(authMW, rateLimitMW)
			s.RelayRouter = r
		})
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// handleHealth reports liveness and basic dependency counters (spec.md §6
// "GET /health — liveness + counters").
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "ok"
	database := "ok"
	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("health check: database ping failed", "error", err)
		database = "error"
		status = "degraded"
	}

	redisStatus := "ok"
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("health check: redis ping failed", "error", err)
		redisStatus = "error"
		status = "degraded"
	}

	Respond(w, http.StatusOK, map[string]any{
		"status":        status,
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"database":      database,
		"redis":         redisStatus,
	})
}
