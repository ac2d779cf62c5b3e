package alerts

import (
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/polysentry/internal/config"
	"github.com/rewired-gh/polysentry/internal/models"
	"github.com/rewired-gh/polysentry/internal/state"
)

// PriceSpike fires when the price moved by at least the configured percent
// OR absolute threshold since the previous observation. A prior observation
// older than the lookback window is stale and never compared; a prior price
// of exactly zero is skipped to avoid dividing by it.
func PriceSpike(snap models.OutcomeSnapshot, prior *state.OutcomeState, cfg config.PriceSpikeAlert) string {
	if !cfg.Enabled {
		return ""
	}
	if prior == nil || prior.LastSeenPrice == nil || prior.LastSeenAt == nil {
		return ""
	}

	ageMinutes := time.Since(*prior.LastSeenAt).Minutes()
	if ageMinutes > cfg.LookbackMinutes {
		return ""
	}

	previous := *prior.LastSeenPrice
	if previous == 0 {
		return ""
	}

	percentChange := (snap.Price - previous) / previous * 100
	absoluteChange := snap.Price - previous

	triggered := false
	if cfg.PercentChange != 0 && math.Abs(percentChange) >= cfg.PercentChange {
		triggered = true
	}
	if cfg.AbsoluteChange != 0 && math.Abs(absoluteChange) >= cfg.AbsoluteChange {
		triggered = true
	}
	if !triggered {
		return ""
	}

	return fmt.Sprintf(
		"⚡ Sharp price move\nMarket: %s\nOutcome: %s\nWas: %.4f → Now: %.4f\nΔ%%: %+.2f%% (Δ %+.4f)\nLink: %s",
		snap.MarketName,
		snap.OutcomeName,
		previous,
		snap.Price,
		percentChange,
		absoluteChange,
		snap.MarketURL,
	)
}
