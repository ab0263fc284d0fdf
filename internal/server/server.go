// Package server exposes the wagering registry over HTTP and a websocket
// event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polkawar/internal/cache/memory"
	"github.com/alanyoungcy/polkawar/internal/domain"
	"github.com/alanyoungcy/polkawar/internal/server/handler"
	"github.com/alanyoungcy/polkawar/internal/server/middleware"
	"github.com/alanyoungcy/polkawar/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// SignatureMaxSkew bounds the age of signed request timestamps.
	SignatureMaxSkew time.Duration
	// RateLimit requests per RateWindow per client; zero disables it.
	RateLimit  int
	RateWindow time.Duration
	// Replay remembers digests of accepted signed requests; a process-local guard is
	// used when nil.
	Replay domain.ReplayGuard
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Pools       *handler.PoolHandler
	Settlements *handler.SettlementHandler
	Ledger      *handler.LedgerHandler
	Archive     *handler.ArchiveHandler
	// Metrics serves the Prometheus scrape endpoint when set.
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Mutating routes
// require a request signature; limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	if cfg.Replay == nil {
		cfg.Replay = memory.NewReplayGuard()
	}
	signed := middleware.Signature(middleware.SignatureConfig{
		MaxSkew: cfg.SignatureMaxSkew,
		Replay:  cfg.Replay,
	})
	sign := func(f http.HandlerFunc) http.Handler { return signed(f) }

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Registry and pools.
	mux.HandleFunc("GET /api/registry", handlers.Pools.Registry)
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("GET /api/pools/{id}/participants", handlers.Pools.GetParticipants)
	mux.Handle("POST /api/pools", sign(handlers.Pools.CreatePool))
	mux.Handle("PUT /api/pools/{id}/stake", sign(handlers.Pools.SetStake))
	mux.Handle("POST /api/pools/{id}/join", sign(handlers.Pools.Join))
	mux.Handle("POST /api/pools/{id}/outcome", sign(handlers.Pools.RecordOutcome))
	mux.Handle("POST /api/pools/{id}/claim", sign(handlers.Pools.Claim))
	mux.Handle("POST /api/pools/{id}/draw", sign(handlers.Pools.SettleDraw))

	// Settlement history and the event stream.
	mux.HandleFunc("GET /api/settlements", handlers.Settlements.ListSettlements)
	mux.HandleFunc("GET /api/settlements/{id}", handlers.Settlements.GetSettlement)
	mux.HandleFunc("GET /api/events", handlers.Settlements.ListEvents)

	// Token ledger.
	mux.HandleFunc("GET /api/ledger/supply", handlers.Ledger.Supply)
	mux.HandleFunc("GET /api/ledger/balances/{address}", handlers.Ledger.Balance)
	mux.HandleFunc("GET /api/ledger/allowances/{owner}/{spender}", handlers.Ledger.Allowance)
	mux.Handle("POST /api/ledger/transfer", sign(handlers.Ledger.Transfer))
	mux.Handle("POST /api/ledger/approve", sign(handlers.Ledger.Approve))

	// Archive.
	mux.HandleFunc("GET /api/archive", handlers.Archive.ListArchives)
	mux.Handle("POST /api/archive/trigger", sign(handlers.Archive.TriggerArchive))

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler: h,
		logger:  logger,
	}
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
