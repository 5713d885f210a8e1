package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// ParseTiers parses a tiered_multipliers option like
// "0-100:1.0,100-500:1.5,500+:2.0" into ascending bands. Each entry is
// "min-max:multiplier"; the last entry may be "min+:multiplier" for an
// open-ended band.
func ParseTiers(spec string) ([]domain.TierBand, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("no tiers defined")
	}

	entries := strings.Split(spec, ",")
	bands := make([]domain.TierBand, 0, len(entries))
	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		band, err := parseTierEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("tier %d %q: %w", i+1, entry, err)
		}
		if band.Open && i != len(entries)-1 {
			return nil, fmt.Errorf("tier %d %q: open-ended band must come last", i+1, entry)
		}
		if len(bands) > 0 {
			prev := bands[len(bands)-1]
			if band.Min < prev.Max {
				return nil, fmt.Errorf("tier %d %q: overlaps previous band %s", i+1, entry, prev)
			}
		}
		bands = append(bands, band)
	}
	return bands, nil
}

func parseTierEntry(entry string) (domain.TierBand, error) {
	rangePart, multPart, ok := strings.Cut(entry, ":")
	if !ok {
		return domain.TierBand{}, fmt.Errorf("missing multiplier (want min-max:mult)")
	}

	mult, err := strconv.ParseFloat(strings.TrimSpace(multPart), 64)
	if err != nil {
		return domain.TierBand{}, fmt.Errorf("invalid multiplier %q", multPart)
	}
	if mult <= 0 {
		return domain.TierBand{}, fmt.Errorf("multiplier must be > 0, got %g", mult)
	}

	rangePart = strings.TrimSpace(rangePart)
	if min, found := strings.CutSuffix(rangePart, "+"); found {
		lo, err := strconv.ParseFloat(min, 64)
		if err != nil {
			return domain.TierBand{}, fmt.Errorf("invalid lower bound %q", min)
		}
		if lo < 0 {
			return domain.TierBand{}, fmt.Errorf("lower bound must be >= 0, got %g", lo)
		}
		return domain.TierBand{Min: lo, Multiplier: mult, Open: true}, nil
	}

	minStr, maxStr, ok := strings.Cut(rangePart, "-")
	if !ok {
		return domain.TierBand{}, fmt.Errorf("invalid range %q (want min-max or min+)", rangePart)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(minStr), 64)
	if err != nil {
		return domain.TierBand{}, fmt.Errorf("invalid lower bound %q", minStr)
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(maxStr), 64)
	if err != nil {
		return domain.TierBand{}, fmt.Errorf("invalid upper bound %q", maxStr)
	}
	if lo < 0 {
		return domain.TierBand{}, fmt.Errorf("lower bound must be >= 0, got %g", lo)
	}
	if hi <= lo {
		return domain.TierBand{}, fmt.Errorf("upper bound %g must exceed lower bound %g", hi, lo)
	}
	return domain.TierBand{Min: lo, Max: hi, Multiplier: mult}, nil
}
