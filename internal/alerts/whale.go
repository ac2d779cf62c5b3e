package alerts

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/polysentry/internal/config"
	"github.com/rewired-gh/polysentry/internal/models"
)

// WhaleTrade fires when a single trade's USD value (size × price) meets the
// configured minimum. Trades with malformed numeric fields are skipped, not
// errors. Side and outcome labels normalize to BUY/SELL and YES/NO, falling
// back to the raw value when unrecognized.
func WhaleTrade(trade models.Trade, marketName, marketURL string, cfg config.WhaleTradeAlert) string {
	if !cfg.Enabled {
		return ""
	}

	usdValue, ok := trade.USDValue()
	if !ok {
		return ""
	}
	if usdValue < cfg.MinUSD {
		return ""
	}

	price, _ := trade.PriceFloat()

	var b strings.Builder
	fmt.Fprintf(&b, "🐋 WHALE ALERT: $%s %s %s\n\n",
		humanize.CommafWithDigits(usdValue, 0), sideLabel(trade.Side), outcomeLabel(trade.Outcome))
	if marketName != "" {
		fmt.Fprintf(&b, "Market: %s\n", marketName)
	}
	fmt.Fprintf(&b, "Price: %.1f¢\n", price*100)
	fmt.Fprintf(&b, "Size: %s shares", trade.Size)
	if wallet := shortWallet(trade.Wallet()); wallet != "" {
		fmt.Fprintf(&b, "\nWallet: %s", wallet)
	}
	if marketURL != "" {
		fmt.Fprintf(&b, "\n\n🔗 %s", marketURL)
	}
	return b.String()
}

func sideLabel(side string) string {
	switch strings.ToUpper(side) {
	case "BUY":
		return "BUY"
	case "SELL":
		return "SELL"
	default:
		return side
	}
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case "Yes", "YES", "0":
		return "YES"
	case "No", "NO", "1":
		return "NO"
	default:
		return outcome
	}
}

func shortWallet(wallet string) string {
	if len(wallet) > 10 {
		return wallet[:10] + "..."
	}
	return wallet
}
