package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/polysentry/internal/config"
	"github.com/rewired-gh/polysentry/internal/state"
)

// Insider fires for wallets matching the heuristic risk profile: first seen
// less than new_wallet_age_hours ago, focused on at most one market when
// single_market_focus is set, and with cumulative volume at or above
// min_volume_usd. A wallet with no recorded first-seen never fires.
func Insider(wallet string, stats state.WalletStats, marketName, marketURL string, cfg config.InsiderAlert) string {
	if !cfg.Enabled {
		return ""
	}
	if stats.FirstSeen.IsZero() {
		return ""
	}

	ageHours := time.Since(stats.FirstSeen).Hours()
	if ageHours >= cfg.NewWalletAgeHours {
		return ""
	}
	if cfg.SingleMarketFocus && stats.MarketsTraded > 1 {
		return ""
	}
	if stats.TotalVolumeUSD < cfg.MinVolumeUSD {
		return ""
	}

	display := wallet
	if len(wallet) > 14 {
		display = wallet[:10] + "..." + wallet[len(wallet)-4:]
	}

	var b strings.Builder
	b.WriteString("🕵️ INSIDER SUSPECT\n\n")
	fmt.Fprintf(&b, "Wallet: %s\n", display)
	fmt.Fprintf(&b, "• First seen %.0f hour(s) ago\n", ageHours)
	fmt.Fprintf(&b, "• Trades %d market(s)\n", stats.MarketsTraded)
	fmt.Fprintf(&b, "• Total volume: $%s\n\n", humanize.CommafWithDigits(stats.TotalVolumeUSD, 0))
	fmt.Fprintf(&b, "Market: %s", marketName)
	if marketURL != "" {
		fmt.Fprintf(&b, "\n\n🔗 %s", marketURL)
	}
	return b.String()
}
