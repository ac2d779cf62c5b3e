package monitor

import (
	"context"
	"fmt"

	"github.com/rewired-gh/polysentry/internal/alerts"
	"github.com/rewired-gh/polysentry/internal/history"
	"github.com/rewired-gh/polysentry/internal/logger"
	"github.com/rewired-gh/polysentry/internal/models"
)

// CheckTrades runs the whale/insider sub-cycle: fetch trades for every
// scanned outcome token, deduplicate against the processed-trade ring,
// update wallet stats, and evaluate the whale and insider rules. Trades are
// recorded as processed whether or not they alert.
func (m *Monitor) CheckTrades(ctx context.Context) (int, error) {
	whaleCfg := m.cfg.Alerts.WhaleTrade
	insiderCfg := m.cfg.Alerts.InsiderDetection
	if !whaleCfg.Enabled && !insiderCfg.Enabled {
		return 0, nil
	}

	snapshots, err := m.markets.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch markets for trade check: %w", err)
	}
	m.rememberTokenMeta(snapshots)

	seen := make(map[string]bool, len(snapshots))
	var tokenIDs []string
	for _, snap := range snapshots {
		if snap.OutcomeID == "" || seen[snap.OutcomeID] {
			continue
		}
		seen[snap.OutcomeID] = true
		tokenIDs = append(tokenIDs, snap.OutcomeID)
	}

	alerted := 0
	for _, tokenID := range tokenIDs {
		trades, err := m.trades.FetchTrades(ctx, tokenID)
		if err != nil {
			// One token failing does not abort the sub-cycle.
			logger.Warn("Trade fetch failed for token %s: %v", shortID(tokenID), err)
			continue
		}
		meta := m.lookupTokenMeta(tokenID)
		for _, trade := range trades {
			id := trade.DedupID()
			if id == "" {
				continue
			}
			if m.store.HasProcessedTrade(id) {
				continue
			}
			alerted += m.evaluateTrade(trade, tokenID, meta)
			m.store.AddProcessedTrade(id)
		}
	}

	m.store.PruneWallets(m.cfg.WalletTracking.RetentionDays)
	if err := m.store.Save(); err != nil {
		logger.Error("Failed to persist state: %v", err)
	}
	return alerted, nil
}

// evaluateTrade runs wallet tracking plus the insider and whale rules for a
// single deduplicated trade and returns the number of alerts sent.
func (m *Monitor) evaluateTrade(trade models.Trade, tokenID string, meta marketMeta) int {
	sent := 0
	wallet := trade.Wallet()

	if m.cfg.WalletTracking.Enabled && wallet != "" {
		// Malformed size/price contribute zero volume, like a skipped record.
		usdValue, _ := trade.USDValue()
		stats := m.store.UpdateWallet(wallet, tokenID, usdValue)

		if m.cfg.Alerts.InsiderDetection.Enabled && !m.store.HasInsiderAlerted(wallet) {
			if msg := alerts.Insider(wallet, stats, meta.name, meta.url, m.cfg.Alerts.InsiderDetection); msg != "" {
				m.send(history.KindInsider, wallet, msg)
				m.store.MarkInsiderAlerted(wallet)
				sent++
			}
		}
	}

	if msg := alerts.WhaleTrade(trade, meta.name, meta.url, m.cfg.Alerts.WhaleTrade); msg != "" {
		m.send(history.KindWhaleTrade, trade.DedupID(), msg)
		sent++
	}
	return sent
}

// HandleStreamTrade feeds one live-streamed trade through the same
// evaluation path as the polled sub-cycle.
func (m *Monitor) HandleStreamTrade(trade models.Trade) {
	id := trade.DedupID()
	if id == "" {
		return
	}
	if m.store.HasProcessedTrade(id) {
		return
	}
	tokenID := trade.AssetID
	if tokenID == "" {
		tokenID = trade.TokenID
	}
	m.evaluateTrade(trade, tokenID, m.lookupTokenMeta(tokenID))
	m.store.AddProcessedTrade(id)
}

// TokenIDs returns the outcome tokens seen in the most recent scan, for
// stream subscriptions.
func (m *Monitor) TokenIDs() []string {
	m.metaMu.RLock()
	defer m.metaMu.RUnlock()
	ids := make([]string, 0, len(m.tokenMeta))
	for id := range m.tokenMeta {
		ids = append(ids, id)
	}
	return ids
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16] + "..."
	}
	return id
}
