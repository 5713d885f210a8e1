package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/feed"
	"github.com/alanyoungcy/copybot/internal/ledger"
	"github.com/alanyoungcy/copybot/internal/pipeline"
	"github.com/alanyoungcy/copybot/internal/risk"
	"github.com/alanyoungcy/copybot/internal/server"
	"github.com/alanyoungcy/copybot/internal/strategy"
)

const eventBuffer = 256

// CopyMode runs the full pipeline: activity feed, sizing, risk checks, order
// submission and the position ledger.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting copy mode",
		slog.String("copy_strategy", strings.ToUpper(a.cfg.Copy.Strategy)),
	)

	if err := a.systemCheck(ctx, deps); err != nil {
		return fmt.Errorf("copy mode: system check: %w", err)
	}

	strat, err := a.cfg.Strategy()
	if err != nil {
		return fmt.Errorf("copy mode: %w", err)
	}
	sizer, err := strategy.NewEngine(strat, a.cfg.Copy.TradeMultiplier)
	if err != nil {
		return fmt.Errorf("copy mode: %w", err)
	}
	guard := risk.NewGuard(a.cfg.RiskLimits(), a.logger)

	book := ledger.New(time.Now, a.logger)
	if deps.Checkpoints != nil {
		cp, err := deps.Checkpoints.Load(ctx)
		switch {
		case err == nil:
			book.Restore(cp)
			a.logger.InfoContext(ctx, "ledger restored from checkpoint",
				slog.Int("positions", len(cp.Positions)),
				slog.Time("last_reset", cp.LastReset),
			)
		case errors.Is(err, domain.ErrNotFound):
			a.logger.InfoContext(ctx, "no ledger checkpoint found, starting fresh")
		default:
			return fmt.Errorf("copy mode: load checkpoint: %w", err)
		}
	}

	exec := executor.NewExecutor(
		deps.Submitter,
		a.cfg.Executor.NetworkRetryLimit,
		a.cfg.RetryBaseDelay(),
		a.logger,
	)

	copier := pipeline.NewCopier(sizer, guard, book, exec, deps.Dedup, deps.Balances, a.logger, pipeline.Options{
		MaxEventAge: a.cfg.MaxEventAge(),
		Concurrency: a.cfg.Copy.Concurrency,
		Notifier:    deps.Notifier,
	})

	events := make(chan domain.TradeEvent, eventBuffer)
	activity := feed.New(a.cfg.Polymarket.WsHost, a.cfg.Copy.UserAddresses, events, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		return activity.Run(ctx)
	})
	g.Go(func() error {
		return copier.Run(ctx, events)
	})

	if deps.Checkpoints != nil {
		g.Go(func() error {
			return a.checkpointLoop(ctx, book, deps.Checkpoints)
		})
	}
	if deps.MemDedup != nil {
		g.Go(func() error {
			return a.dedupSweep(ctx, deps.MemDedup)
		})
	}
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, book)
	}

	return g.Wait()
}

// MonitorMode observes and logs watched-account activity without placing
// orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	mon := pipeline.NewMonitor(deps.Dedup, a.logger)

	events := make(chan domain.TradeEvent, eventBuffer)
	activity := feed.New(a.cfg.Polymarket.WsHost, a.cfg.Copy.UserAddresses, events, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		return activity.Run(ctx)
	})
	g.Go(func() error {
		return mon.Run(ctx, events)
	})

	// Report the controlled wallet's open positions when one is configured;
	// monitor mode carries no signer, so the proxy address is the only handle
	// on the controlled account.
	if wallet := a.cfg.Wallet.ProxyAddress; wallet != "" {
		g.Go(func() error {
			return mon.RunPositionReports(ctx, deps.DataClient, wallet, 0)
		})
	}

	if deps.MemDedup != nil {
		g.Go(func() error {
			return a.dedupSweep(ctx, deps.MemDedup)
		})
	}
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, ledger.New(time.Now, a.logger))
	}

	return g.Wait()
}

// systemCheck verifies the venue and the wallet before any order can be
// placed: the data API must answer and the collateral balance must be
// readable.
func (a *App) systemCheck(ctx context.Context, deps *Dependencies) error {
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := deps.DataClient.Healthy(checkCtx); err != nil {
		a.logger.WarnContext(ctx, "data api unreachable",
			slog.String("error", err.Error()),
		)
	}

	balance, err := deps.Balances.BalanceUSD(checkCtx)
	if err != nil {
		return fmt.Errorf("read usdc balance: %w", err)
	}
	a.logger.InfoContext(ctx, "system check passed",
		slog.Float64("balance_usd", balance),
	)
	return nil
}

// checkpointLoop periodically persists the ledger and writes a final
// checkpoint on shutdown.
func (a *App) checkpointLoop(ctx context.Context, book *ledger.Ledger, store domain.LedgerCheckpointStore) error {
	interval := a.cfg.Postgres.CheckpointInterval.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	save := func(ctx context.Context) {
		if err := store.Save(ctx, book.Export()); err != nil {
			a.logger.ErrorContext(ctx, "checkpoint save failed",
				slog.String("error", err.Error()),
			)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			save(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			save(ctx)
		}
	}
}

// dedupSweep expires stale idempotency keys from the in-memory dedup store.
func (a *App) dedupSweep(ctx context.Context, dedup *executor.Dedup) error {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			dedup.Cleanup()
		}
	}
}

// startServer adds the HTTP server goroutines to the errgroup.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, book server.LedgerSource) {
	srv := server.NewServer(a.cfg.Server.Port, server.Stats{
		Mode:      strings.ToLower(a.cfg.Mode),
		Strategy:  strings.ToUpper(a.cfg.Copy.Strategy),
		Watched:   len(a.cfg.Copy.UserAddresses),
		StartedAt: time.Now().UTC(),
	}, book, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
