// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/appstatus/internal/auth"
	"github.com/pendergraft/appstatus/internal/config"
	"github.com/pendergraft/appstatus/internal/ledger"
	"github.com/pendergraft/appstatus/internal/middleware/logging"
	"github.com/pendergraft/appstatus/internal/middleware/ratelimit"
	"github.com/pendergraft/appstatus/internal/middleware/realip"
	"github.com/pendergraft/appstatus/internal/observability/metrics"
	runsDomain "github.com/pendergraft/appstatus/internal/runs/domain"
	runsTransport "github.com/pendergraft/appstatus/internal/runs/transport"
	"github.com/pendergraft/appstatus/internal/status"
	"github.com/pendergraft/appstatus/internal/storage"
)

// Option configures a Server.
type Option func(*Server)

// WithDialer replaces the JSON-RPC dialer built from the configured networks.
func WithDialer(d runsDomain.Dialer) Option {
	return func(s *Server) {
		s.dialer = d
	}
}

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger
	router *chi.Mux
	dialer runsDomain.Dialer

	runsSvc runsTransport.Service
}

// New creates a new server
func New(cfg *config.Config, store storage.Store, logger *slog.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger,
		router: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mode, err := status.ParseMatchMode(cfg.Status.MatchMode)
	if err != nil {
		return nil, err
	}

	if s.dialer == nil {
		s.dialer = runsDomain.NewRPCDialer(cfg.Ledger.Networks, ledgerOptions(cfg, logger)...)
	}

	runsImpl := runsDomain.NewService(store, s.dialer, runsDomain.Options{
		ManifestDir: cfg.Status.ManifestDir,
		MatchMode:   mode,
		Concurrency: cfg.Ledger.Concurrency,
		Timeout:     cfg.Ledger.Timeout,
		Logger:      logger,
	})
	s.runsSvc = runsDomain.LoggingMiddleware(logger)(runsImpl)

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func ledgerOptions(cfg *config.Config, logger *slog.Logger) []ledger.Option {
	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithFromBlock(cfg.Ledger.FromBlock),
	}
	if cfg.Ledger.From != "" {
		opts = append(opts, ledger.WithFrom(common.HexToAddress(cfg.Ledger.From)))
	}
	if cfg.Ledger.RPS > 0 {
		opts = append(opts, ledger.WithRateLimit(cfg.Ledger.RPS, max(1, int(cfg.Ledger.RPS))))
	}
	return opts
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	// realip must run first so rate limiting and logging see the client IP.
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	s.router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
		ChecksPerMin:   s.cfg.RateLimit.ChecksPerMin,
	}))

	s.router.Use(MaxBodySize(int64(s.cfg.Server.MaxBodySizeKB) * 1024))
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second))
	}

	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", metrics.Handler())
	}

	runsHandler := runsTransport.NewHandler(s.runsSvc)

	requireAuth := func(r chi.Router) {
		if s.cfg.Auth.Type == "api-key" {
			r.Use(auth.Middleware(s.store, writeError))
		}
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/networks", s.handleNetworks)

		r.Route("/runs", func(r chi.Router) {
			runsHandler.RegisterReadRoutes(r)

			r.Group(func(r chi.Router) {
				requireAuth(r)
				runsHandler.RegisterWriteRoutes(r)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once storage answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNetworks lists the networks runs can be started for.
func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	var names []string
	if lister, ok := s.dialer.(interface{ Networks() []string }); ok {
		names = lister.Networks()
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": names})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
