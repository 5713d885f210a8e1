package risk

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Guard applies the configured risk limits to proposed copy orders. Checks
// run in a fixed order and the first failing check decides the outcome; the
// max-order-size limit clamps instead of rejecting. Guard holds no mutable
// state, so concurrent evaluations are safe.
type Guard struct {
	limits domain.RiskLimits
	logger *slog.Logger
}

// NewGuard creates a Guard with the given limits. Zero-valued limits disable
// their checks except the minimum order size, which always applies.
func NewGuard(limits domain.RiskLimits, logger *slog.Logger) *Guard {
	return &Guard{
		limits: limits,
		logger: logger.With(slog.String("component", "risk_guard")),
	}
}

// Evaluate runs the risk checks against a proposed order size and returns the
// approved size, possibly reduced to the max order size. proposedUSD is the
// unsigned notional; snap must be taken under the same critical section that
// later applies the fill. A *domain.RiskRejection error means the event is
// skipped, not failed.
func (g *Guard) Evaluate(proposedUSD float64, snap domain.LedgerSnapshot, balanceUSD float64) (float64, error) {
	if proposedUSD < g.limits.MinOrderSizeUSD {
		return 0, &domain.RiskRejection{
			Reason: domain.RejectTooSmall,
			Detail: fmt.Sprintf("size %.2f below minimum %.2f", proposedUSD, g.limits.MinOrderSizeUSD),
		}
	}

	approved := proposedUSD
	if g.limits.MaxOrderSizeUSD > 0 && approved > g.limits.MaxOrderSizeUSD {
		g.logger.Debug("order size clamped",
			slog.String("market", snap.Market),
			slog.Float64("proposed_usd", proposedUSD),
			slog.Float64("max_order_usd", g.limits.MaxOrderSizeUSD),
		)
		approved = g.limits.MaxOrderSizeUSD
	}

	if g.limits.MaxPositionSizeUSD > 0 && snap.PositionUSD+approved > g.limits.MaxPositionSizeUSD {
		return 0, &domain.RiskRejection{
			Reason: domain.RejectPositionLimitExceeded,
			Detail: fmt.Sprintf("position %.2f + order %.2f exceeds limit %.2f",
				snap.PositionUSD, approved, g.limits.MaxPositionSizeUSD),
		}
	}

	if g.limits.MaxDailyVolumeUSD > 0 && snap.DailyVolumeUSD+approved > g.limits.MaxDailyVolumeUSD {
		return 0, &domain.RiskRejection{
			Reason: domain.RejectDailyVolumeExceeded,
			Detail: fmt.Sprintf("daily volume %.2f + order %.2f exceeds limit %.2f",
				snap.DailyVolumeUSD, approved, g.limits.MaxDailyVolumeUSD),
		}
	}

	if approved > balanceUSD {
		return 0, &domain.RiskRejection{
			Reason: domain.RejectInsufficientBalance,
			Detail: fmt.Sprintf("order %.2f exceeds balance %.2f", approved, balanceUSD),
		}
	}

	return approved, nil
}
