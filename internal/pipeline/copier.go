// Package pipeline drives trade events through sizing, risk evaluation,
// submission and ledger settlement. Each event reaches exactly one terminal
// state and failures never leak partial updates into the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/ledger"
	"github.com/alanyoungcy/copybot/internal/risk"
	"github.com/alanyoungcy/copybot/internal/strategy"
)

// Stage labels the processing states of an event.
type Stage string

const (
	StageReceived    Stage = "received"
	StageSized       Stage = "sized"
	StageRiskChecked Stage = "risk_checked"
	StageSubmitted   Stage = "submitted"
	StageSettled     Stage = "settled"
	StageSkipped     Stage = "skipped"
)

// Skip reasons recorded on terminal StageSkipped results.
const (
	SkipDuplicate      = "duplicate"
	SkipStale          = "stale"
	SkipNoMatchingTier = "no_matching_tier"
	SkipRiskRejected   = "risk_rejected"
	SkipBalanceLookup  = "balance_unavailable"
)

// Result is the terminal record for one processed event. Stage is always
// StageSettled or StageSkipped; Outcome is populated only when settled.
type Result struct {
	Stage      Stage
	SkipReason string
	Rejection  *domain.RiskRejection
	Outcome    domain.OrderOutcome
}

// Notifier is the subset of the notification dispatcher the pipeline uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// balanceInvalidator is implemented by cached balance providers that can drop
// their cached value once a fill changes the collateral balance.
type balanceInvalidator interface {
	Invalidate(ctx context.Context)
}

// Copier is the full copy-trading pipeline. Handle serializes events per
// market: the ledger snapshot, risk evaluation, submission and fill
// application for one market run inside an exclusive critical section, so a
// second event for the same market observes the settled effects of the
// first. Events for different markets proceed in parallel.
type Copier struct {
	sizer    *strategy.Engine
	guard    *risk.Guard
	book     *ledger.Ledger
	exec     *executor.Executor
	dedup    domain.DedupStore
	balances domain.BalanceProvider
	notifier Notifier
	maxAge   time.Duration
	now      func() time.Time
	logger   *slog.Logger

	lockMu      sync.Mutex
	marketLocks map[string]*sync.Mutex

	concurrency int
}

// Options carries the optional knobs for NewCopier.
type Options struct {
	// MaxEventAge skips events older than this; zero disables the check.
	MaxEventAge time.Duration
	// Concurrency bounds in-flight events in Run. Zero means 8.
	Concurrency int
	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
	// Notifier receives fill/failure/rejection notifications; nil disables.
	Notifier Notifier
}

// NewCopier wires the pipeline from its collaborators.
func NewCopier(
	sizer *strategy.Engine,
	guard *risk.Guard,
	book *ledger.Ledger,
	exec *executor.Executor,
	dedup domain.DedupStore,
	balances domain.BalanceProvider,
	logger *slog.Logger,
	opts Options,
) *Copier {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Copier{
		sizer:       sizer,
		guard:       guard,
		book:        book,
		exec:        exec,
		dedup:       dedup,
		balances:    balances,
		notifier:    opts.Notifier,
		maxAge:      opts.MaxEventAge,
		now:         now,
		logger:      logger.With(slog.String("component", "pipeline")),
		marketLocks: make(map[string]*sync.Mutex),
		concurrency: concurrency,
	}
}

// marketLock returns the mutex guarding a market, creating it on first use.
func (c *Copier) marketLock(market string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	mu, ok := c.marketLocks[market]
	if !ok {
		mu = &sync.Mutex{}
		c.marketLocks[market] = mu
	}
	return mu
}

// Run consumes events until the channel closes or the context is cancelled.
// Each event is handled on its own goroutine, bounded by the configured
// concurrency; per-market ordering is enforced by the market locks, not by
// the consumption order.
func (c *Copier) Run(ctx context.Context, events <-chan domain.TradeEvent) error {
	c.logger.Info("pipeline started")
	defer c.logger.Info("pipeline stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for {
		select {
		case <-gctx.Done():
			_ = g.Wait()
			return gctx.Err()
		case ev, ok := <-events:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				c.Handle(gctx, ev)
				return nil
			})
		}
	}
}

// HandleTrade implements domain.TradeHandler.
func (c *Copier) HandleTrade(ctx context.Context, ev domain.TradeEvent) {
	c.Handle(ctx, ev)
}

// Handle processes one trade event to its terminal state. It never returns
// an error: every failure mode maps to a Skipped or Settled result and is
// logged, so one bad event cannot take down the pipeline.
func (c *Copier) Handle(ctx context.Context, ev domain.TradeEvent) Result {
	log := c.logger.With(
		slog.String("trader", ev.Trader),
		slog.String("market", ev.Market),
		slog.String("side", string(ev.Side)),
		slog.Float64("traded_usd", ev.SizeUSD),
		slog.String("tx_hash", ev.TxHash),
	)
	log.Debug("event received", slog.String("stage", string(StageReceived)))

	fresh, err := c.dedup.MarkSeen(ctx, ev.IdempotencyKey())
	if err != nil {
		// Fail open: the venue collapses replays on the idempotency key.
		log.Warn("dedup store error, continuing", slog.String("error", err.Error()))
	} else if !fresh {
		log.Debug("duplicate event skipped")
		return c.skipped(SkipDuplicate, nil)
	}

	if c.maxAge > 0 && c.now().Sub(ev.Timestamp) > c.maxAge {
		log.Info("stale event skipped",
			slog.Time("event_time", ev.Timestamp),
			slog.Duration("max_age", c.maxAge),
		)
		return c.skipped(SkipStale, nil)
	}

	size, err := c.sizer.ComputeCopySize(ev)
	if err != nil {
		if errors.Is(err, domain.ErrNoMatchingTier) {
			log.Info("no matching tier, event skipped")
			return c.skipped(SkipNoMatchingTier, nil)
		}
		log.Error("sizing failed", slog.String("error", err.Error()))
		return c.skipped(SkipNoMatchingTier, nil)
	}
	log.Debug("event sized", slog.String("stage", string(StageSized)), slog.Float64("proposed_usd", size))

	mu := c.marketLock(ev.Market)
	mu.Lock()
	defer mu.Unlock()

	snap := c.book.Snapshot(ev.Market)
	balance, err := c.balances.BalanceUSD(ctx)
	if err != nil {
		log.Error("balance lookup failed", slog.String("error", err.Error()))
		return c.skipped(SkipBalanceLookup, nil)
	}

	approved, err := c.guard.Evaluate(size, snap, balance)
	if err != nil {
		var rej *domain.RiskRejection
		if errors.As(err, &rej) {
			log.Info("risk rejected",
				slog.String("reason", string(rej.Reason)),
				slog.String("detail", rej.Detail),
			)
			c.notify(ctx, "risk_rejected", "Risk check rejected",
				fmt.Sprintf("%s %s %.2f USD: %s", ev.Side, ev.Market, size, rej.Reason))
			return c.skipped(SkipRiskRejected, rej)
		}
		log.Error("risk evaluation failed", slog.String("error", err.Error()))
		return c.skipped(SkipRiskRejected, nil)
	}
	log.Debug("risk approved", slog.String("stage", string(StageRiskChecked)), slog.Float64("approved_usd", approved))

	req := domain.OrderRequest{
		Market:         ev.Market,
		AssetID:        ev.AssetID,
		Side:           ev.Side,
		SizeUSD:        approved,
		Price:          ev.Price,
		IdempotencyKey: ev.IdempotencyKey(),
	}
	log.Debug("order submitted", slog.String("stage", string(StageSubmitted)))
	outcome := c.exec.Submit(ctx, req)

	switch outcome.Kind {
	case domain.OutcomeFilled:
		filled := outcome.Result.FilledSizeUSD
		if filled <= 0 {
			filled = approved
		}
		if ev.Side == domain.SideSell {
			filled = -filled
		}
		c.book.ApplyFill(ev.Market, filled)
		if inv, ok := c.balances.(balanceInvalidator); ok {
			inv.Invalidate(ctx)
		}
		log.Info("event settled",
			slog.String("order_id", outcome.Result.OrderID),
			slog.Float64("filled_usd", filled),
			slog.Int("attempts", outcome.Attempts),
		)
		c.notify(ctx, "order_filled", "Copy order filled",
			fmt.Sprintf("%s %s %.2f USD (order %s)", ev.Side, ev.Market, approved, outcome.Result.OrderID))
	case domain.OutcomeRejected:
		log.Warn("order rejected by venue", slog.String("message", outcome.Result.Message))
		c.notify(ctx, "order_failed", "Copy order rejected", outcome.Result.Message)
	case domain.OutcomeFailed:
		log.Error("order failed",
			slog.Int("attempts", outcome.Attempts),
			slog.String("error", errString(outcome.Err)),
		)
		c.notify(ctx, "order_failed", "Copy order failed", errString(outcome.Err))
	}

	return Result{Stage: StageSettled, Outcome: outcome}
}

func (c *Copier) skipped(reason string, rej *domain.RiskRejection) Result {
	return Result{Stage: StageSkipped, SkipReason: reason, Rejection: rej}
}

func (c *Copier) notify(ctx context.Context, event, title, message string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, event, title, message); err != nil {
		c.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
