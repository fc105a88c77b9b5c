package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openwager/wagerd/internal/cache/redis"
	"github.com/openwager/wagerd/internal/chain"
	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/server"
	"github.com/openwager/wagerd/internal/server/handler"
	"github.com/openwager/wagerd/internal/server/ws"
)

// shutdownGrace is how long in-flight requests get to finish on shutdown.
const shutdownGrace = 10 * time.Second

// ServeMode runs the HTTP API, the WebSocket hub, the chain ticker, and the
// settlement archiver until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	checks := map[string]handler.Pinger{}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(checks),
		Markets:  handler.NewMarketHandler(deps.Ledger, a.logger),
		Wagers:   handler.NewWagerHandler(deps.Ledger, a.logger),
		Accounts: handler.NewAccountHandler(deps.Bank, a.logger),
		Chain:    handler.NewChainHandler(deps.Chain, a.logger),
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger)
	}

	var limiter domain.RateLimiter
	if deps.Redis != nil {
		limiter = redis.NewRateLimiter(deps.Redis)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		JWTSecret:   a.cfg.Auth.JWTSecret,
		OperatorKey: a.cfg.Auth.OperatorKey,
		RateLimiter: limiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if hub != nil {
		g.Go(func() error {
			return hub.Run(gctx)
		})
	}

	if a.cfg.Chain.TickEnabled {
		runner := chain.NewRunner(deps.Chain, a.cfg.Chain.TickInterval.Duration, a.logger)
		g.Go(func() error {
			return runner.Run(gctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Start(gctx)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}
