package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polkawar/internal/config"
	"github.com/alanyoungcy/polkawar/internal/server"
	"github.com/alanyoungcy/polkawar/internal/server/handler"
	"github.com/alanyoungcy/polkawar/internal/server/ws"
	"github.com/alanyoungcy/polkawar/internal/service"
)

// registryLockKey names the single-writer lock held while serving.
const registryLockKey = "polkawar:registry"

// errLeaseLost stops server mode when another process may have taken over
// the registry.
var errLeaseLost = errors.New("app: registry lock lost")

// ServerMode takes the registry writer lock, restores the registry and serves
// the HTTP and websocket API until ctx is cancelled. With archiving enabled it
// also archives old settlements on a fixed interval.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Single writer: hold the lock before loading state so no other process
	// mutates pools between load and serve.
	if deps.LockManager != nil {
		lease, err := deps.LockManager.Hold(ctx, registryLockKey, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: registry lock: %w", err)
		}
		g.Go(func() error {
			defer lease.Release()
			select {
			case <-ctx.Done():
				return nil
			case <-lease.Lost():
				a.logger.ErrorContext(ctx, "registry lock lost, stopping")
				return errLeaseLost
			}
		})
	} else {
		a.logger.WarnContext(ctx, "redis disabled: running without the registry writer lock")
	}

	svc, err := a.openWagerService(ctx, deps)
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	a.startHTTPServer(ctx, g, deps, svc)

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		a.startArchiveLoop(ctx, g, svc)
	}

	return g.Wait()
}

// ArchiveMode runs a single settlement archive pass and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode: %w", service.ErrArchiveDisabled)
	}
	before := a.cfg.Archive.Cutoff(time.Now().UTC())
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.String("before", before.Format(time.RFC3339)),
	)

	n, err := deps.Archiver.ArchiveSettlements(ctx, before)
	if err != nil {
		return fmt.Errorf("app: archive settlements: %w", err)
	}
	a.logger.InfoContext(ctx, "archive mode complete", slog.Int64("settlements", n))
	return nil
}

// openWagerService restores the registry and wraps it with its fan-out
// dependencies.
func (a *App) openWagerService(ctx context.Context, deps *Dependencies) (*service.WagerService, error) {
	reg, err := service.OpenRegistry(ctx, deps.RegistryStore, deps.Registry, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: open registry: %w", err)
	}

	svc := service.NewWagerService(
		reg,
		deps.Ledger,
		deps.SettlementStore,
		deps.AuditStore,
		deps.SignalBus,
		deps.Notifier,
		a.logger,
	)
	if deps.Archiver != nil {
		svc.WithArchiver(deps.Archiver)
	}
	if deps.Metrics != nil {
		svc.WithMetrics(deps.Metrics)
	}

	a.logger.InfoContext(ctx, "registry ready",
		slog.String("administrator", reg.Administrator().Hex()),
		slog.String("escrow_account", reg.EscrowAccount().Hex()),
		slog.Uint64("reward_multiplier", reg.RewardMultiplier()),
		slog.Uint64("pools", reg.PoolCount()),
		slog.Any("notify_senders", deps.Notifier.Senders()),
	)
	return svc, nil
}

// startHTTPServer builds the API server and runs it inside g. The server is
// shut down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.WagerService) {
	// The websocket hub needs the signal bus.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:          a.cfg.Mode,
			Administrator: deps.Registry.Administrator.Hex(),
			EscrowAccount: deps.Registry.EscrowAccount.Hex(),
			StartedAt:     time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	var lister handler.ArchiveLister
	if deps.Archiver != nil {
		lister = deps.Archiver
	}

	srv := server.NewServer(
		server.Config{
			Port:             a.cfg.Server.Port,
			CORSOrigins:      a.cfg.Server.CORSOrigins,
			SignatureMaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
			RateLimit:        a.cfg.Server.RateLimit,
			RateWindow:       a.cfg.Server.RateWindow.Duration,
			Replay:           deps.ReplayGuard,
		},
		server.Handlers{
			Health:      handler.NewHealthHandler(deps.HealthChecks, a.logger),
			Pools:       handler.NewPoolHandler(svc, a.logger),
			Settlements: handler.NewSettlementHandler(svc, a.logger),
			Ledger:      handler.NewLedgerHandler(svc, a.logger),
			Archive:     handler.NewArchiveHandler(svc, lister, a.cfg.Archive.Cutoff, a.logger),
			Metrics:     deps.MetricsHandler,
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		port := a.cfg.Server.Port
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startArchiveLoop archives settlements past the retention window once per
// configured interval.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, svc *service.WagerService) {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	runOnce := func() {
		before := a.cfg.Archive.Cutoff(time.Now().UTC())
		if _, err := svc.RunArchive(ctx, before); err != nil && ctx.Err() == nil {
			a.logger.WarnContext(ctx, "archive: periodic run failed",
				slog.String("error", err.Error()),
			)
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})

	a.logger.InfoContext(ctx, "archive worker started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)
}

// modeRunner runs one application mode.
type modeRunner func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeRunner{
	config.ModeServer:  (*App).ServerMode,
	config.ModeArchive: (*App).ArchiveMode,
}
