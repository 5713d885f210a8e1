package domain

import "fmt"

// RejectReason identifies which risk check rejected a proposed order.
type RejectReason string

const (
	RejectTooSmall              RejectReason = "too_small"
	RejectPositionLimitExceeded RejectReason = "position_limit_exceeded"
	RejectDailyVolumeExceeded   RejectReason = "daily_volume_exceeded"
	RejectInsufficientBalance   RejectReason = "insufficient_balance"
)

// RiskRejection is returned by the risk guard when a proposed order fails one
// of the configured limits. It is a per-event, non-fatal error: the event is
// skipped with the reason recorded.
type RiskRejection struct {
	Reason RejectReason
	Detail string
}

func (r *RiskRejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("risk rejection: %s", r.Reason)
	}
	return fmt.Sprintf("risk rejection: %s (%s)", r.Reason, r.Detail)
}

// LedgerSnapshot is a point-in-time read of the position ledger for one
// market, taken under the pipeline's per-market critical section so it cannot
// be stale relative to a concurrently completing order for the same market.
type LedgerSnapshot struct {
	Market          string
	PositionUSD     float64 // current open position, signed
	MarketVolumeUSD float64 // cumulative volume for this market today
	DailyVolumeUSD  float64 // aggregate cumulative volume across all markets today
}
