package domain

import "fmt"

// StrategyKind enumerates the closed set of copy-sizing strategies.
type StrategyKind string

const (
	StrategyPercentage StrategyKind = "PERCENTAGE"
	StrategyFixed      StrategyKind = "FIXED"
	StrategyAdaptive   StrategyKind = "ADAPTIVE"
	StrategyTiered     StrategyKind = "TIERED"
)

// TierBand is one [Min, Max) band of a tiered strategy. When Open is true the
// band has no upper bound and must be the last band.
type TierBand struct {
	Min        float64
	Max        float64
	Multiplier float64
	Open       bool
}

// Contains reports whether the trader's trade size falls inside the band.
func (b TierBand) Contains(sizeUSD float64) bool {
	if sizeUSD < b.Min {
		return false
	}
	return b.Open || sizeUSD < b.Max
}

func (b TierBand) String() string {
	if b.Open {
		return fmt.Sprintf("%g+:%g", b.Min, b.Multiplier)
	}
	return fmt.Sprintf("%g-%g:%g", b.Min, b.Max, b.Multiplier)
}

// CopyStrategy is the active sizing policy, selected at startup and immutable
// thereafter. Exactly one Kind is in effect; only the fields for that Kind are
// meaningful. Ratios are fractions (0.10 = 10%), converted from the percent
// values on the configuration surface.
type CopyStrategy struct {
	Kind StrategyKind

	// Percentage
	Ratio float64

	// Fixed
	AmountUSD float64

	// Adaptive
	MinPct       float64
	MaxPct       float64
	ThresholdUSD float64

	// Tiered; bands ascending, non-overlapping
	Bands []TierBand
}

// RiskLimits is the immutable risk configuration consumed by the risk guard.
// A zero limit means the corresponding check is not enforced, except
// MinOrderSizeUSD which always applies.
type RiskLimits struct {
	MaxOrderSizeUSD    float64
	MinOrderSizeUSD    float64
	MaxPositionSizeUSD float64
	MaxDailyVolumeUSD  float64
	GlobalMultiplier   float64
}
