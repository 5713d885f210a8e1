package ledger

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// marketState holds the per-market position and daily volume, each market
// guarded by its own mutex so unrelated markets never contend.
type marketState struct {
	mu          sync.Mutex
	positionUSD float64
	volumeUSD   float64
}

// Ledger tracks open positions and traded volume for the controlled account.
// Position survives day boundaries; market and aggregate daily volume reset
// at UTC midnight. ApplyFill is the single commit point: a fill updates
// position, market volume and aggregate volume together.
type Ledger struct {
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex // guards markets map and lastReset
	markets   map[string]*marketState
	lastReset time.Time

	aggMu        sync.Mutex
	aggVolumeUSD float64
}

// New creates an empty ledger. now is injectable for rollover tests; nil
// defaults to time.Now.
func New(now func() time.Time, logger *slog.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	l := &Ledger{
		now:     now,
		logger:  logger.With(slog.String("component", "ledger")),
		markets: make(map[string]*marketState),
	}
	l.lastReset = midnightUTC(l.now())
	return l
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// state returns the market's state, creating it on first use, after applying
// any pending daily rollover.
func (l *Ledger) state(market string) *marketState {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	st, ok := l.markets[market]
	if !ok {
		st = &marketState{}
		l.markets[market] = st
	}
	return st
}

// rolloverLocked resets daily volumes when the UTC day has advanced since the
// last reset. Positions are untouched. Caller holds l.mu.
func (l *Ledger) rolloverLocked() {
	today := midnightUTC(l.now())
	if !today.After(l.lastReset) {
		return
	}
	for _, st := range l.markets {
		st.mu.Lock()
		st.volumeUSD = 0
		st.mu.Unlock()
	}
	l.aggMu.Lock()
	l.aggVolumeUSD = 0
	l.aggMu.Unlock()
	l.logger.Info("daily volume rollover",
		slog.Time("previous_reset", l.lastReset),
		slog.Time("new_reset", today),
	)
	l.lastReset = today
}

// Snapshot returns a consistent view of one market's position and volume plus
// the aggregate daily volume. The caller serializes per-market access, so the
// market fields cannot change between Snapshot and the matching ApplyFill;
// the aggregate may move due to fills in other markets.
func (l *Ledger) Snapshot(market string) domain.LedgerSnapshot {
	st := l.state(market)

	st.mu.Lock()
	pos, vol := st.positionUSD, st.volumeUSD
	st.mu.Unlock()

	l.aggMu.Lock()
	agg := l.aggVolumeUSD
	l.aggMu.Unlock()

	return domain.LedgerSnapshot{
		Market:          market,
		PositionUSD:     pos,
		MarketVolumeUSD: vol,
		DailyVolumeUSD:  agg,
	}
}

// ApplyFill commits an executed fill. signedUSD is positive for buys and
// negative for sells; volume accrues by the absolute value either way.
func (l *Ledger) ApplyFill(market string, signedUSD float64) {
	st := l.state(market)
	filled := math.Abs(signedUSD)

	st.mu.Lock()
	st.positionUSD += signedUSD
	st.volumeUSD += filled
	st.mu.Unlock()

	l.aggMu.Lock()
	l.aggVolumeUSD += filled
	l.aggMu.Unlock()
}

// Export produces a checkpoint of the full ledger state for persistence.
func (l *Ledger) Export() domain.LedgerCheckpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	cp := domain.LedgerCheckpoint{
		Positions:   make(map[string]float64, len(l.markets)),
		DailyVolume: make(map[string]float64, len(l.markets)),
		LastReset:   l.lastReset,
	}
	for market, st := range l.markets {
		st.mu.Lock()
		if st.positionUSD != 0 {
			cp.Positions[market] = st.positionUSD
		}
		if st.volumeUSD != 0 {
			cp.DailyVolume[market] = st.volumeUSD
		}
		st.mu.Unlock()
	}
	l.aggMu.Lock()
	cp.AggregateDailyVolume = l.aggVolumeUSD
	l.aggMu.Unlock()
	return cp
}

// Restore replaces the ledger state with a previously exported checkpoint.
// Daily volumes are carried over only when the checkpoint was taken on the
// current UTC day; positions are restored unconditionally.
func (l *Ledger) Restore(cp domain.LedgerCheckpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := midnightUTC(l.now())
	sameDay := midnightUTC(cp.LastReset).Equal(today)

	l.markets = make(map[string]*marketState, len(cp.Positions))
	for market, pos := range cp.Positions {
		l.markets[market] = &marketState{positionUSD: pos}
	}
	agg := 0.0
	if sameDay {
		for market, vol := range cp.DailyVolume {
			st, ok := l.markets[market]
			if !ok {
				st = &marketState{}
				l.markets[market] = st
			}
			st.volumeUSD = vol
		}
		agg = cp.AggregateDailyVolume
	}
	l.aggMu.Lock()
	l.aggVolumeUSD = agg
	l.aggMu.Unlock()
	l.lastReset = today

	l.logger.Info("ledger restored",
		slog.Int("markets", len(l.markets)),
		slog.Bool("volumes_carried", sameDay),
	)
}
