// Package filters holds the stateless predicates that gate which outcomes
// are eligible for alerting. A disabled filter always passes; the chain is a
// logical AND over all enabled filters.
package filters

import (
	"time"

	"github.com/rewired-gh/polysentry/internal/config"
	"github.com/rewired-gh/polysentry/internal/models"
)

// NormalizeBounds converts probability bounds to fractions. Configs written
// against an older release expressed bounds as percentages; when either
// bound exceeds 1 the pair is reinterpreted as percentages and both are
// divided by 100. {min: 70, max: 90} therefore equals {min: 0.70, max: 0.90}.
func NormalizeBounds(min, max float64) (float64, float64) {
	if min > 1 || max > 1 {
		return min / 100, max / 100
	}
	return min, max
}

// Probability passes when the price lies inside the configured range.
func Probability(snap models.OutcomeSnapshot, cfg config.ProbabilityFilter) bool {
	if !cfg.Enabled {
		return true
	}
	min, max := NormalizeBounds(cfg.Min, cfg.Max)
	return snap.Price >= min && snap.Price <= max
}

// TimeToResolution passes when the days until resolution fall inside the
// configured range. An unknown resolution time fails the enabled filter.
func TimeToResolution(snap models.OutcomeSnapshot, cfg config.ResolutionFilter) bool {
	if !cfg.Enabled {
		return true
	}
	if snap.Resolution == nil {
		return false
	}
	days := time.Until(*snap.Resolution).Hours() / 24
	return days >= cfg.MinDays && days <= cfg.MaxDays
}

// Liquidity passes when outcome liquidity meets the configured minimum.
func Liquidity(snap models.OutcomeSnapshot, cfg config.LiquidityFilter) bool {
	if !cfg.Enabled {
		return true
	}
	return snap.Liquidity >= cfg.MinUSD
}

// Volume passes when cumulative volume meets the configured minimum.
func Volume(snap models.OutcomeSnapshot, cfg config.VolumeFilter) bool {
	if !cfg.Enabled {
		return true
	}
	return snap.Volume >= cfg.MinUSD
}

// Passes evaluates the full chain. All filters run; there are no
// short-circuit side effects to preserve.
func Passes(snap models.OutcomeSnapshot, cfg config.FiltersConfig) bool {
	prob := Probability(snap, cfg.Probability)
	ttr := TimeToResolution(snap, cfg.TimeToResolution)
	liq := Liquidity(snap, cfg.Liquidity)
	vol := Volume(snap, cfg.Volume)
	return prob && ttr && liq && vol
}
