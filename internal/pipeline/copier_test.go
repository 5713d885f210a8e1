package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/ledger"
	"github.com/alanyoungcy/copybot/internal/platform/polymarket"
	"github.com/alanyoungcy/copybot/internal/risk"
	"github.com/alanyoungcy/copybot/internal/strategy"
)

type recordingSubmitter struct {
	mu       sync.Mutex
	requests []domain.OrderRequest
	inFlight int32
	maxInFlt int32
	delay    time.Duration
	fail     func(req domain.OrderRequest) error
}

func (s *recordingSubmitter) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	cur := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&s.maxInFlt)
		if cur <= prev || atomic.CompareAndSwapInt32(&s.maxInFlt, prev, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail != nil {
		if err := s.fail(req); err != nil {
			return domain.OrderResult{}, err
		}
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return domain.OrderResult{Success: true, OrderID: "ord-" + req.IdempotencyKey, FilledSizeUSD: req.SizeUSD}, nil
}

type fixedBalance float64

func (b fixedBalance) BalanceUSD(context.Context) (float64, error) { return float64(b), nil }

type failingBalance struct{}

func (failingBalance) BalanceUSD(context.Context) (float64, error) {
	return 0, errors.New("rpc unavailable")
}

func noopLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestCopier(t *testing.T, sub domain.OrderSubmitter, limits domain.RiskLimits, bal domain.BalanceProvider, opts Options) *Copier {
	t.Helper()
	logger := noopLogger()
	sizer, err := strategy.NewEngine(domain.CopyStrategy{Kind: domain.StrategyPercentage, Ratio: 0.10}, 1)
	require.NoError(t, err)
	exec := executor.NewExecutor(sub, 2, time.Millisecond, logger)
	exec.SetSleep(func(context.Context, time.Duration) error { return nil })
	return NewCopier(
		sizer,
		risk.NewGuard(limits, logger),
		ledger.New(opts.Now, logger),
		exec,
		executor.NewDedup(time.Hour),
		bal,
		logger,
		opts,
	)
}

func event(market, txHash string, sizeUSD float64) domain.TradeEvent {
	return domain.TradeEvent{
		Trader:    "0xwatched",
		Market:    market,
		AssetID:   "tok-" + market,
		Side:      domain.SideBuy,
		SizeUSD:   sizeUSD,
		Price:     0.5,
		Timestamp: time.Now().UTC(),
		TxHash:    txHash,
	}
}

func TestHandleSettlesAndAppliesFill(t *testing.T) {
	sub := &recordingSubmitter{}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 1}, fixedBalance(10000), Options{})

	res := c.Handle(context.Background(), event("m1", "0x1", 500))
	require.Equal(t, StageSettled, res.Stage)
	assert.Equal(t, domain.OutcomeFilled, res.Outcome.Kind)

	require.Len(t, sub.requests, 1)
	assert.Equal(t, 50.0, sub.requests[0].SizeUSD)

	snap := c.book.Snapshot("m1")
	assert.Equal(t, 50.0, snap.PositionUSD)
	assert.Equal(t, 50.0, snap.DailyVolumeUSD)
}

func TestHandleDuplicateSubmitsOnce(t *testing.T) {
	sub := &recordingSubmitter{}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 1}, fixedBalance(10000), Options{})
	ev := event("m1", "0x1", 500)

	first := c.Handle(context.Background(), ev)
	second := c.Handle(context.Background(), ev)

	assert.Equal(t, StageSettled, first.Stage)
	assert.Equal(t, StageSkipped, second.Stage)
	assert.Equal(t, SkipDuplicate, second.SkipReason)
	assert.Len(t, sub.requests, 1)

	snap := c.book.Snapshot("m1")
	assert.Equal(t, 50.0, snap.PositionUSD, "ledger applied exactly once")
}

func TestHandleStaleEventSkipped(t *testing.T) {
	sub := &recordingSubmitter{}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 1}, fixedBalance(10000), Options{
		MaxEventAge: time.Hour,
	})

	ev := event("m1", "0x1", 500)
	ev.Timestamp = time.Now().UTC().Add(-2 * time.Hour)

	res := c.Handle(context.Background(), ev)
	assert.Equal(t, StageSkipped, res.Stage)
	assert.Equal(t, SkipStale, res.SkipReason)
	assert.Empty(t, sub.requests)
}

func TestHandleRiskRejectionSkips(t *testing.T) {
	sub := &recordingSubmitter{}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 100}, fixedBalance(10000), Options{})

	res := c.Handle(context.Background(), event("m1", "0x1", 500)) // sized to 50
	require.Equal(t, StageSkipped, res.Stage)
	assert.Equal(t, SkipRiskRejected, res.SkipReason)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, domain.RejectTooSmall, res.Rejection.Reason)
	assert.Empty(t, sub.requests)

	snap := c.book.Snapshot("m1")
	assert.Equal(t, 0.0, snap.PositionUSD, "skipped event leaves ledger untouched")
}

func TestHandleBalanceLookupFailureSkips(t *testing.T) {
	sub := &recordingSubmitter{}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 1}, failingBalance{}, Options{})

	res := c.Handle(context.Background(), event("m1", "0x1", 500))
	assert.Equal(t, StageSkipped, res.Stage)
	assert.Equal(t, SkipBalanceLookup, res.SkipReason)
	assert.Empty(t, sub.requests)
}

func TestHandleFailedOrderLeavesLedgerClean(t *testing.T) {
	sub := &recordingSubmitter{fail: func(domain.OrderRequest) error {
		return &domain.SubmissionError{Err: errors.New("invalid signature")}
	}}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 1}, fixedBalance(10000), Options{})

	res := c.Handle(context.Background(), event("m1", "0x1", 500))
	require.Equal(t, StageSettled, res.Stage)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome.Kind)

	snap := c.book.Snapshot("m1")
	assert.Equal(t, 0.0, snap.PositionUSD)
	assert.Equal(t, 0.0, snap.DailyVolumeUSD)
}

func TestSameMarketEventsSerialized(t *testing.T) {
	sub := &recordingSubmitter{delay: 20 * time.Millisecond}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 1, MaxPositionSizeUSD: 60}, fixedBalance(10000), Options{})

	// Two concurrent events for the same market, each sized to 50. With the
	// 60 USD position limit only one may pass; without serialization both
	// would snapshot a zero position and both would submit.
	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Handle(context.Background(), event("m1", "0x"+string(rune('1'+i)), 500))
		}(i)
	}
	wg.Wait()

	settled, skipped := 0, 0
	for _, r := range results {
		switch r.Stage {
		case StageSettled:
			settled++
		case StageSkipped:
			skipped++
			assert.Equal(t, SkipRiskRejected, r.SkipReason)
		}
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 50.0, c.book.Snapshot("m1").PositionUSD)
}

func TestSameMarketEventsSerializedByDailyVolume(t *testing.T) {
	sub := &recordingSubmitter{delay: 20 * time.Millisecond}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 1, MaxDailyVolumeUSD: 60}, fixedBalance(10000), Options{})

	// Two concurrent events for the same market, each sized to 50 against a
	// 60 USD daily volume cap. Without serialization both would snapshot a
	// zero volume and both would submit, overshooting the cap.
	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Handle(context.Background(), event("m1", "0x"+string(rune('1'+i)), 500))
		}(i)
	}
	wg.Wait()

	settled, skipped := 0, 0
	for _, r := range results {
		switch r.Stage {
		case StageSettled:
			settled++
		case StageSkipped:
			skipped++
			require.NotNil(t, r.Rejection)
			assert.Equal(t, domain.RejectDailyVolumeExceeded, r.Rejection.Reason)
		}
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 50.0, c.book.Snapshot("m1").DailyVolumeUSD)
}

func TestDifferentMarketsRunInParallel(t *testing.T) {
	sub := &recordingSubmitter{delay: 30 * time.Millisecond}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 1}, fixedBalance(100000), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Handle(context.Background(), event("m"+string(rune('1'+i)), "0xaa"+string(rune('1'+i)), 500))
		}(i)
	}
	wg.Wait()

	assert.Greater(t, atomic.LoadInt32(&sub.maxInFlt), int32(1), "distinct markets should overlap")
}

func TestSellFillReducesPosition(t *testing.T) {
	sub := &recordingSubmitter{}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 1}, fixedBalance(10000), Options{})

	buy := event("m1", "0x1", 500)
	res := c.Handle(context.Background(), buy)
	require.Equal(t, StageSettled, res.Stage)

	sell := event("m1", "0x2", 300)
	sell.Side = domain.SideSell
	res = c.Handle(context.Background(), sell)
	require.Equal(t, StageSettled, res.Stage)

	snap := c.book.Snapshot("m1")
	assert.Equal(t, 20.0, snap.PositionUSD)
	assert.Equal(t, 80.0, snap.DailyVolumeUSD)
}

func TestRunDrainsChannelUntilClosed(t *testing.T) {
	sub := &recordingSubmitter{}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 1}, fixedBalance(100000), Options{})

	events := make(chan domain.TradeEvent, 4)
	for i := 0; i < 4; i++ {
		events <- event("m1", "0x"+string(rune('1'+i)), 500)
	}
	close(events)

	err := c.Run(context.Background(), events)
	require.NoError(t, err)
	assert.Len(t, sub.requests, 4)
}

type invalidatingBalance struct {
	balance     float64
	invalidated int32
}

func (b *invalidatingBalance) BalanceUSD(context.Context) (float64, error) {
	return b.balance, nil
}

func (b *invalidatingBalance) Invalidate(context.Context) {
	atomic.AddInt32(&b.invalidated, 1)
}

func TestFillInvalidatesCachedBalance(t *testing.T) {
	bal := &invalidatingBalance{balance: 10000}
	sub := &recordingSubmitter{}
	c := newTestCopier(t, sub, domain.RiskLimits{MinOrderSizeUSD: 1}, bal, Options{})
	ev := event("m1", "0x1", 500)

	res := c.Handle(context.Background(), ev)
	require.Equal(t, StageSettled, res.Stage)
	assert.Equal(t, int32(1), atomic.LoadInt32(&bal.invalidated))

	// Skipped events leave the cache alone.
	res = c.Handle(context.Background(), ev)
	require.Equal(t, StageSkipped, res.Stage)
	assert.Equal(t, int32(1), atomic.LoadInt32(&bal.invalidated))
}

func TestMonitorCountsUniqueEvents(t *testing.T) {
	m := NewMonitor(executor.NewDedup(time.Hour), noopLogger())
	ctx := context.Background()

	m.HandleTrade(ctx, event("m1", "0x1", 100))
	m.HandleTrade(ctx, event("m1", "0x1", 100))
	m.HandleTrade(ctx, event("m1", "0x2", 100))

	assert.Equal(t, int64(2), m.Seen())
}

type fakePositionSource struct {
	calls     int32
	positions []polymarket.Position
	err       error
}

func (f *fakePositionSource) Positions(context.Context, string) ([]polymarket.Position, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.positions, f.err
}

func TestMonitorReportsTopPositionsByValue(t *testing.T) {
	src := &fakePositionSource{}
	for i := 0; i < 7; i++ {
		src.positions = append(src.positions, polymarket.Position{
			Market:       "m" + string(rune('1'+i)),
			CurrentValue: float64(10 * (i + 1)),
		})
	}
	m := NewMonitor(executor.NewDedup(time.Hour), noopLogger())

	top := m.ReportPositions(context.Background(), src, "0xproxy")
	require.Len(t, top, 5)
	assert.Equal(t, 70.0, top[0].CurrentValue)
	assert.Equal(t, 30.0, top[4].CurrentValue)
}

func TestMonitorPositionReportLookupFailure(t *testing.T) {
	src := &fakePositionSource{err: errors.New("data api down")}
	m := NewMonitor(executor.NewDedup(time.Hour), noopLogger())

	assert.Nil(t, m.ReportPositions(context.Background(), src, "0xproxy"))
}

func TestRunPositionReportsTicksUntilCancelled(t *testing.T) {
	src := &fakePositionSource{}
	m := NewMonitor(executor.NewDedup(time.Hour), noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.RunPositionReports(ctx, src, "0xproxy", 5*time.Millisecond)
	}()

	// One report fires immediately, the rest on the ticker.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&src.calls) >= 2
	}, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
