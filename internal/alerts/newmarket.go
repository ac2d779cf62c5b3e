// Package alerts implements the alert rules. Each rule compares a new
// observation against stored prior state and returns a formatted message, or
// an empty string when nothing noteworthy happened. Disabled rules always
// return nothing.
package alerts

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/polysentry/internal/config"
	"github.com/rewired-gh/polysentry/internal/models"
	"github.com/rewired-gh/polysentry/internal/state"
)

// NewMarket fires iff no prior state exists for the outcome. Pure existence
// check, no thresholds.
func NewMarket(snap models.OutcomeSnapshot, prior *state.OutcomeState, cfg config.NewMarketAlert) string {
	if !cfg.Enabled {
		return ""
	}
	if prior != nil {
		return ""
	}
	return fmt.Sprintf(
		"🆕 New market under filters\nMarket: %s\nOutcome: %s\nPrice: %.4f\nLiquidity: $%s\nVolume: $%s\nLink: %s",
		snap.MarketName,
		snap.OutcomeName,
		snap.Price,
		humanize.CommafWithDigits(snap.Liquidity, 2),
		humanize.CommafWithDigits(snap.Volume, 2),
		snap.MarketURL,
	)
}

// NewMarketGroup formats one batched message for all new outcomes that
// surfaced under the same event during a single scan.
func NewMarketGroup(outcomes []models.OutcomeSnapshot) string {
	if len(outcomes) == 0 {
		return ""
	}
	first := outcomes[0]
	var b strings.Builder
	b.WriteString("🆕 New market(s) matched\n")
	if first.EventTitle != "" {
		fmt.Fprintf(&b, "Event: %s\n", first.EventTitle)
	}
	b.WriteString("Market(s):\n")
	for _, o := range outcomes {
		fmt.Fprintf(&b, "- %s: %s %.2f%%\n", o.MarketName, o.OutcomeName, o.Price*100)
	}
	fmt.Fprintf(&b, "Liquidity (market): $%s\n", humanize.CommafWithDigits(first.Liquidity, 2))
	fmt.Fprintf(&b, "Volume (market): $%s\n", humanize.CommafWithDigits(first.Volume, 2))
	fmt.Fprintf(&b, "Link: %s", first.MarketURL)
	return b.String()
}
