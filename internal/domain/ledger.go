package domain

import "time"

// LedgerCheckpoint is the full exportable state of the position ledger, used
// to persist positions across restarts. Maps are keyed by market.
type LedgerCheckpoint struct {
	Positions            map[string]float64 `json:"positions"`
	DailyVolume          map[string]float64 `json:"daily_volume"`
	AggregateDailyVolume float64            `json:"aggregate_daily_volume"`
	LastReset            time.Time          `json:"last_reset"`
}
