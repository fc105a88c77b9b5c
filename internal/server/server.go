// Package server assembles the HTTP API: routes, middleware chain, and the
// WebSocket hub.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/server/handler"
	"github.com/openwager/wagerd/internal/server/middleware"
	"github.com/openwager/wagerd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	JWTSecret   string // if empty, identity falls back to the X-Participant header
	OperatorKey string // guards operator routes; if empty, they are disabled

	// RateLimiter guards the mutating routes per participant. A nil limiter
	// or a zero RateLimit disables the guard.
	RateLimiter domain.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Wagers   *handler.WagerHandler
	Accounts *handler.AccountHandler
	Chain    *handler.ChainHandler
}

// Server is the HTTP + WebSocket API server for the wagering ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (request id, logging, CORS, identity) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Rate limit on the mutating routes, a no-op when no limiter is wired.
	limited := func(h http.HandlerFunc) http.Handler { return h }
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		rl := middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateWindow)
		limited = func(h http.HandlerFunc) http.Handler { return rl(h) }
	}

	// Health check (no identity required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market lifecycle.
	mux.Handle("POST /api/markets", limited(handlers.Markets.CreateMarket))
	mux.HandleFunc("GET /api/markets/count", handlers.Markets.MarketCount)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/active", handlers.Markets.IsActive)
	mux.Handle("POST /api/markets/{id}/outcomes", limited(handlers.Markets.DefineOutcome))
	mux.Handle("POST /api/markets/{id}/resolve", limited(handlers.Markets.Resolve))

	// Staking and settlement.
	mux.Handle("POST /api/markets/{id}/stakes", limited(handlers.Wagers.Stake))
	mux.Handle("POST /api/markets/{id}/claims", limited(handlers.Wagers.Claim))
	mux.HandleFunc("GET /api/markets/{id}/outcomes/{index}", handlers.Wagers.GetOutcome)
	mux.HandleFunc("GET /api/markets/{id}/positions/{index}", handlers.Wagers.GetPosition)
	mux.HandleFunc("GET /api/events", handlers.Wagers.Events)

	// Chain height. Reads are open; advancing is an operator action.
	mux.HandleFunc("GET /api/height", handlers.Chain.Height)

	// Operator routes behind the static API key.
	operator := middleware.OperatorAuth(cfg.OperatorKey)
	mux.Handle("POST /api/height/advance", operator(http.HandlerFunc(handlers.Chain.Advance)))
	mux.Handle("POST /api/accounts/{id}/deposits", operator(http.HandlerFunc(handlers.Accounts.Deposit)))
	mux.Handle("GET /api/accounts/{id}", operator(http.HandlerFunc(handlers.Accounts.Balance)))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Identity(cfg.JWTSecret)(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)
	h = middleware.WithRequestID()(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Participant")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
