package risk

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
)

func testGuard(limits domain.RiskLimits) *Guard {
	return NewGuard(limits, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func rejectionReason(t *testing.T, err error) domain.RejectReason {
	t.Helper()
	var rej *domain.RiskRejection
	require.True(t, errors.As(err, &rej), "expected RiskRejection, got %v", err)
	return rej.Reason
}

func TestTooSmallRejected(t *testing.T) {
	g := testGuard(domain.RiskLimits{MinOrderSizeUSD: 5})

	_, err := g.Evaluate(4.99, domain.LedgerSnapshot{Market: "m1"}, 1000)
	assert.Equal(t, domain.RejectTooSmall, rejectionReason(t, err))
}

func TestClampToMaxOrderSize(t *testing.T) {
	g := testGuard(domain.RiskLimits{MinOrderSizeUSD: 1, MaxOrderSizeUSD: 100})

	approved, err := g.Evaluate(150, domain.LedgerSnapshot{Market: "m1"}, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100.0, approved)
}

func TestPositionLimitUsesClampedSize(t *testing.T) {
	g := testGuard(domain.RiskLimits{
		MinOrderSizeUSD:    1,
		MaxOrderSizeUSD:    100,
		MaxPositionSizeUSD: 500,
	})

	// 450 existing + 100 clamped = 550 > 500.
	_, err := g.Evaluate(150, domain.LedgerSnapshot{Market: "m1", PositionUSD: 450}, 10000)
	assert.Equal(t, domain.RejectPositionLimitExceeded, rejectionReason(t, err))

	// 350 existing + 100 clamped = 450 <= 500.
	approved, err := g.Evaluate(150, domain.LedgerSnapshot{Market: "m1", PositionUSD: 350}, 10000)
	require.NoError(t, err)
	assert.Equal(t, 100.0, approved)
}

func TestDailyVolumeLimitAggregate(t *testing.T) {
	g := testGuard(domain.RiskLimits{MinOrderSizeUSD: 1, MaxDailyVolumeUSD: 1000})

	_, err := g.Evaluate(200, domain.LedgerSnapshot{Market: "m1", DailyVolumeUSD: 900}, 10000)
	assert.Equal(t, domain.RejectDailyVolumeExceeded, rejectionReason(t, err))

	approved, err := g.Evaluate(100, domain.LedgerSnapshot{Market: "m1", DailyVolumeUSD: 900}, 10000)
	require.NoError(t, err)
	assert.Equal(t, 100.0, approved)
}

func TestInsufficientBalanceRejected(t *testing.T) {
	g := testGuard(domain.RiskLimits{MinOrderSizeUSD: 1})

	_, err := g.Evaluate(50, domain.LedgerSnapshot{Market: "m1"}, 49.99)
	assert.Equal(t, domain.RejectInsufficientBalance, rejectionReason(t, err))
}

func TestCheckOrderTooSmallBeforeClamp(t *testing.T) {
	// A size below the minimum is rejected even when a clamp would have
	// brought a larger order into range.
	g := testGuard(domain.RiskLimits{MinOrderSizeUSD: 10, MaxOrderSizeUSD: 5})

	_, err := g.Evaluate(7, domain.LedgerSnapshot{Market: "m1"}, 1000)
	assert.Equal(t, domain.RejectTooSmall, rejectionReason(t, err))
}

func TestZeroLimitsDisableChecks(t *testing.T) {
	g := testGuard(domain.RiskLimits{})

	approved, err := g.Evaluate(1e6, domain.LedgerSnapshot{Market: "m1", PositionUSD: 1e9, DailyVolumeUSD: 1e9}, 2e6)
	require.NoError(t, err)
	assert.Equal(t, 1e6, approved)
}
