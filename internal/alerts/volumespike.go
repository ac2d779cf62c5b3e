package alerts

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/polysentry/internal/config"
)

// VolumeSpike fires when the current window's volume exceeds the baseline
// per-window rate by at least the configured percentage. A non-positive
// baseline (no history yet, or a data correction) never fires.
func VolumeSpike(marketName, marketURL string, currentVolume, baselineVolume float64, cfg config.VolumeSpikeAlert) string {
	if !cfg.Enabled {
		return ""
	}
	if baselineVolume <= 0 {
		return ""
	}

	percentChange := (currentVolume - baselineVolume) / baselineVolume * 100
	if percentChange < cfg.PercentChange {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 VOLUME SPIKE +%.0f%%\n\n", percentChange)
	fmt.Fprintf(&b, "Market: %s\n", marketName)
	fmt.Fprintf(&b, "• Last %d min: $%s\n", cfg.LookbackMinutes, humanize.CommafWithDigits(currentVolume, 0))
	fmt.Fprintf(&b, "• Typical %d min: $%s", cfg.LookbackMinutes, humanize.CommafWithDigits(baselineVolume, 0))
	if marketURL != "" {
		fmt.Fprintf(&b, "\n\n🔗 %s", marketURL)
	}
	return b.String()
}
