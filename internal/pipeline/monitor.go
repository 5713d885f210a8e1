package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/platform/polymarket"
)

const (
	defaultReportInterval = 5 * time.Minute
	reportTopPositions    = 5
)

// PositionSource lists the open venue positions for a wallet address.
type PositionSource interface {
	Positions(ctx context.Context, wallet string) ([]polymarket.Position, error)
}

// Monitor observes watched-wallet activity without placing orders. It shares
// the copier's dedup store so switching modes does not replay old events.
type Monitor struct {
	dedup  domain.DedupStore
	logger *slog.Logger

	mu   sync.Mutex
	seen int64
}

// NewMonitor creates a Monitor.
func NewMonitor(dedup domain.DedupStore, logger *slog.Logger) *Monitor {
	return &Monitor{
		dedup:  dedup,
		logger: logger.With(slog.String("component", "monitor")),
	}
}

// Seen returns the number of unique events observed.
func (m *Monitor) Seen() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen
}

// HandleTrade implements domain.TradeHandler. It logs each unique event.
func (m *Monitor) HandleTrade(ctx context.Context, ev domain.TradeEvent) {
	fresh, err := m.dedup.MarkSeen(ctx, ev.IdempotencyKey())
	if err != nil {
		m.logger.Warn("dedup store error", slog.String("error", err.Error()))
	} else if !fresh {
		return
	}

	m.mu.Lock()
	m.seen++
	m.mu.Unlock()

	m.logger.Info("watched trade observed",
		slog.String("trader", ev.Trader),
		slog.String("market", ev.Market),
		slog.String("side", string(ev.Side)),
		slog.Float64("size_usd", ev.SizeUSD),
		slog.Float64("price", ev.Price),
		slog.String("tx_hash", ev.TxHash),
	)
}

// ReportPositions fetches the controlled wallet's open positions and logs the
// largest ones by current value. Returns the reported positions, largest
// first; nil when the lookup fails.
func (m *Monitor) ReportPositions(ctx context.Context, src PositionSource, wallet string) []polymarket.Position {
	positions, err := src.Positions(ctx, wallet)
	if err != nil {
		m.logger.Warn("position report failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		return nil
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].CurrentValue > positions[j].CurrentValue
	})
	total := 0.0
	for _, p := range positions {
		total += p.CurrentValue
	}

	top := positions
	if len(top) > reportTopPositions {
		top = top[:reportTopPositions]
	}
	m.logger.Info("open positions",
		slog.String("wallet", wallet),
		slog.Int("count", len(positions)),
		slog.Float64("total_value_usd", total),
	)
	for _, p := range top {
		m.logger.Info("position",
			slog.String("market", p.Market),
			slog.String("title", p.Title),
			slog.Float64("shares", p.Shares),
			slog.Float64("avg_price", p.AvgPrice),
			slog.Float64("value_usd", p.CurrentValue),
			slog.Float64("pnl_percent", p.PercentPnL),
		)
	}
	return top
}

// RunPositionReports reports once at startup and then on every interval tick
// until ctx is cancelled. interval <= 0 selects the default.
func (m *Monitor) RunPositionReports(ctx context.Context, src PositionSource, wallet string, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultReportInterval
	}
	m.ReportPositions(ctx, src, wallet)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.ReportPositions(ctx, src, wallet)
		}
	}
}

// Run blocks until the event channel closes or the context is cancelled.
func (m *Monitor) Run(ctx context.Context, events <-chan domain.TradeEvent) error {
	m.logger.Info("monitor started")
	defer m.logger.Info("monitor stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.HandleTrade(ctx, ev)
		}
	}
}
