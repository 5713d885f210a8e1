package strategy

import (
	"fmt"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Engine computes the copy order size for observed trades. It is pure: the
// strategy and multiplier are fixed at construction and ComputeCopySize
// depends only on its input, so equal inputs always produce equal outputs.
type Engine struct {
	strategy   domain.CopyStrategy
	multiplier float64
}

// NewEngine builds a sizing engine for the given strategy. The global
// multiplier scales every computed size regardless of strategy kind; a
// multiplier of 0 is treated as 1.
func NewEngine(strategy domain.CopyStrategy, multiplier float64) (*Engine, error) {
	if err := validateStrategy(strategy); err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	if multiplier < 0 {
		return nil, fmt.Errorf("strategy: multiplier must be non-negative, got %g", multiplier)
	}
	if multiplier == 0 {
		multiplier = 1
	}
	return &Engine{strategy: strategy, multiplier: multiplier}, nil
}

// Kind returns the active strategy kind.
func (e *Engine) Kind() domain.StrategyKind { return e.strategy.Kind }

// ComputeCopySize maps the watched trader's trade size to the size of the
// copy order, before risk checks. The global multiplier is applied after the
// strategy computation. ErrNoMatchingTier is returned by the tiered strategy
// when the trade size falls outside every configured band.
func (e *Engine) ComputeCopySize(ev domain.TradeEvent) (float64, error) {
	base, err := e.baseSize(ev)
	if err != nil {
		return 0, err
	}
	return base * e.multiplier, nil
}

func (e *Engine) baseSize(ev domain.TradeEvent) (float64, error) {
	switch e.strategy.Kind {
	case domain.StrategyPercentage:
		return ev.SizeUSD * e.strategy.Ratio, nil
	case domain.StrategyFixed:
		return e.strategy.AmountUSD, nil
	case domain.StrategyAdaptive:
		if ev.SizeUSD < e.strategy.ThresholdUSD {
			return ev.SizeUSD * e.strategy.MinPct, nil
		}
		return ev.SizeUSD * e.strategy.MaxPct, nil
	case domain.StrategyTiered:
		for _, band := range e.strategy.Bands {
			if band.Contains(ev.SizeUSD) {
				return ev.SizeUSD * band.Multiplier, nil
			}
		}
		return 0, fmt.Errorf("strategy: trade size %.2f: %w", ev.SizeUSD, domain.ErrNoMatchingTier)
	default:
		return 0, fmt.Errorf("strategy: unknown kind %q", e.strategy.Kind)
	}
}

func validateStrategy(s domain.CopyStrategy) error {
	switch s.Kind {
	case domain.StrategyPercentage:
		if s.Ratio <= 0 {
			return fmt.Errorf("percentage ratio must be positive, got %g", s.Ratio)
		}
	case domain.StrategyFixed:
		if s.AmountUSD <= 0 {
			return fmt.Errorf("fixed amount must be positive, got %g", s.AmountUSD)
		}
	case domain.StrategyAdaptive:
		if s.MinPct <= 0 || s.MaxPct <= 0 {
			return fmt.Errorf("adaptive percentages must be positive")
		}
		if s.MinPct > s.MaxPct {
			return fmt.Errorf("adaptive min %g exceeds max %g", s.MinPct, s.MaxPct)
		}
		if s.ThresholdUSD <= 0 {
			return fmt.Errorf("adaptive threshold must be positive, got %g", s.ThresholdUSD)
		}
	case domain.StrategyTiered:
		if len(s.Bands) == 0 {
			return fmt.Errorf("tiered strategy requires at least one band")
		}
		for i, band := range s.Bands {
			if band.Multiplier <= 0 {
				return fmt.Errorf("band %d: multiplier must be positive", i)
			}
			if band.Open {
				if i != len(s.Bands)-1 {
					return fmt.Errorf("band %d: open band must be last", i)
				}
				continue
			}
			if band.Max <= band.Min {
				return fmt.Errorf("band %d: max %g must exceed min %g", i, band.Max, band.Min)
			}
			if i > 0 && band.Min < s.Bands[i-1].Max {
				return fmt.Errorf("band %d: overlaps previous band", i)
			}
		}
	default:
		return fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
	return nil
}
