package monitor

import (
	"context"
	"fmt"

	"github.com/rewired-gh/polysentry/internal/alerts"
	"github.com/rewired-gh/polysentry/internal/history"
	"github.com/rewired-gh/polysentry/internal/logger"
	"github.com/rewired-gh/polysentry/internal/models"
)

// CheckVolumes runs the volume-spike sub-cycle: record one cumulative-volume
// sample per market, compare the recent window against the baseline rate,
// and prune history past the retention horizon. Samples are recorded whether
// or not anything alerts.
func (m *Monitor) CheckVolumes(ctx context.Context) (int, error) {
	cfg := m.cfg.Alerts.VolumeSpike
	if !cfg.Enabled {
		return 0, nil
	}

	snapshots, err := m.markets.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch markets for volume check: %w", err)
	}

	// One sample and one evaluation per market, first snapshot wins.
	byMarket := make(map[string]models.OutcomeSnapshot, len(snapshots))
	var order []string
	for _, snap := range snapshots {
		if snap.MarketID == "" {
			continue
		}
		if _, seen := byMarket[snap.MarketID]; seen {
			continue
		}
		byMarket[snap.MarketID] = snap
		order = append(order, snap.MarketID)
		m.store.RecordVolume(snap.MarketID, snap.Volume)
	}

	alerted := 0
	for _, marketID := range order {
		snap := byMarket[marketID]
		current := m.store.VolumeWindow(marketID, cfg.LookbackMinutes)
		baseline := m.store.VolumeBaseline(marketID, cfg.LookbackMinutes, cfg.BaselineDays)

		if msg := alerts.VolumeSpike(snap.MarketName, snap.MarketURL, current, baseline, cfg); msg != "" {
			m.send(history.KindVolumeSpike, marketID, msg)
			alerted++
		}
	}

	m.store.PruneVolumeHistory(cfg.BaselineDays + 1)
	logger.Debug("Volume check complete: %d market(s), %d alert(s)", len(order), alerted)
	return alerted, nil
}
