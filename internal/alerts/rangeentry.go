package alerts

import (
	"fmt"

	"github.com/rewired-gh/polysentry/internal/config"
	"github.com/rewired-gh/polysentry/internal/filters"
	"github.com/rewired-gh/polysentry/internal/models"
	"github.com/rewired-gh/polysentry/internal/state"
)

// RangeEntry fires on the transition from above the probability range into
// it: the prior price must sit strictly above the upper bound and the new
// price inside [min, max]. Re-entry from below or movement while already
// inside never fires. Bounds normalize the same way as the probability
// filter they come from.
func RangeEntry(snap models.OutcomeSnapshot, prior *state.OutcomeState, cfg config.RangeEntryAlert, probCfg config.ProbabilityFilter) string {
	if !cfg.Enabled {
		return ""
	}
	if prior == nil || prior.LastSeenPrice == nil {
		return ""
	}

	min, max := filters.NormalizeBounds(probCfg.Min, probCfg.Max)
	previous := *prior.LastSeenPrice
	if previous <= max {
		return ""
	}
	if snap.Price < min || snap.Price > max {
		return ""
	}

	return fmt.Sprintf(
		"🎯 Price entered range\nMarket: %s\nOutcome: %s\nWas: %.4f → Now: %.4f\nRange: [%.4f, %.4f]\nLink: %s",
		snap.MarketName,
		snap.OutcomeName,
		previous,
		snap.Price,
		min,
		max,
		snap.MarketURL,
	)
}
