// Package monitor runs the scan cycles: it pulls snapshots from the market
// fetcher, gates them through the filter chain, evaluates alert rules
// against the state store, and forwards produced messages to the notifier.
package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rewired-gh/polysentry/internal/alerts"
	"github.com/rewired-gh/polysentry/internal/config"
	"github.com/rewired-gh/polysentry/internal/filters"
	"github.com/rewired-gh/polysentry/internal/history"
	"github.com/rewired-gh/polysentry/internal/logger"
	"github.com/rewired-gh/polysentry/internal/models"
	"github.com/rewired-gh/polysentry/internal/state"
)

// MarketFetcher supplies normalized outcome snapshots.
type MarketFetcher interface {
	Scan(ctx context.Context) ([]models.OutcomeSnapshot, error)
}

// TradeFetcher supplies recent trades for one outcome token.
type TradeFetcher interface {
	FetchTrades(ctx context.Context, tokenID string) ([]models.Trade, error)
}

// Notifier delivers one alert message. Errors are logged here, never
// propagated into rule evaluation.
type Notifier interface {
	Send(message string) error
}

type marketMeta struct {
	name string
	url  string
}

// Monitor owns one scan pipeline over a shared state store.
type Monitor struct {
	store    *state.Store
	markets  MarketFetcher
	trades   TradeFetcher
	notifier Notifier
	journal  *history.Store // nil disables journaling
	cfg      *config.Config

	metaMu    sync.RWMutex
	tokenMeta map[string]marketMeta // latest token -> market name/url mapping
}

// New creates a Monitor. journal may be nil.
func New(store *state.Store, markets MarketFetcher, trades TradeFetcher, notifier Notifier, journal *history.Store, cfg *config.Config) *Monitor {
	return &Monitor{
		store:     store,
		markets:   markets,
		trades:    trades,
		notifier:  notifier,
		journal:   journal,
		cfg:       cfg,
		tokenMeta: make(map[string]marketMeta),
	}
}

// RunScan executes one market scan cycle. Every observation is recorded via
// Upsert whether or not it alerts, so later spike and range comparisons
// always see the freshest prior price. New-market alerts are batched into
// one message per event.
func (m *Monitor) RunScan(ctx context.Context) error {
	snapshots, err := m.markets.Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch markets: %w", err)
	}
	logger.Info("Scan fetched %d outcomes", len(snapshots))
	m.rememberTokenMeta(snapshots)

	alerted := 0
	newMarketGroups := make(map[string][]models.OutcomeSnapshot)
	var groupOrder []string

	for _, snap := range snapshots {
		prior, tracked := m.store.Get(snap.OutcomeID)
		var priorRef *state.OutcomeState
		if tracked {
			priorRef = &prior
		}

		if !filters.Passes(snap, m.cfg.Filters) {
			m.store.Upsert(snap.OutcomeID, snap.Price)
			continue
		}

		if m.cfg.Alerts.NewMarket.Enabled && !tracked {
			key := snap.EventTitle
			if key == "" {
				key = snap.MarketID
			}
			if _, seen := newMarketGroups[key]; !seen {
				groupOrder = append(groupOrder, key)
			}
			newMarketGroups[key] = append(newMarketGroups[key], snap)
			m.store.Upsert(snap.OutcomeID, snap.Price)
			continue
		}

		// Fixed rule order; new-market was already handled above.
		if msg := alerts.PriceSpike(snap, priorRef, m.cfg.Alerts.PriceSpike); msg != "" {
			m.send(history.KindPriceSpike, snap.OutcomeID, msg)
			m.store.MarkAlerted(snap.OutcomeID)
			alerted++
		}
		if msg := alerts.RangeEntry(snap, priorRef, m.cfg.Alerts.RangeEntry, m.cfg.Filters.Probability); msg != "" {
			m.send(history.KindRangeEntry, snap.OutcomeID, msg)
			m.store.MarkAlerted(snap.OutcomeID)
			alerted++
		}

		m.store.Upsert(snap.OutcomeID, snap.Price)
	}

	for _, key := range groupOrder {
		group := newMarketGroups[key]
		msg := alerts.NewMarketGroup(group)
		if msg == "" {
			continue
		}
		m.send(history.KindNewMarket, key, msg)
		for _, snap := range group {
			m.store.MarkAlerted(snap.OutcomeID)
		}
		alerted++
	}

	if err := m.store.Save(); err != nil {
		logger.Error("Failed to persist state: %v", err)
	}
	logger.Info("Scan cycle complete: %d alert(s) sent", alerted)
	return nil
}

// send delivers a message and journals it. Delivery failures are logged and
// swallowed; bookkeeping still proceeds so the alert is not re-sent forever.
func (m *Monitor) send(kind, subject, message string) {
	if err := m.notifier.Send(message); err != nil {
		logger.Error("Failed to deliver %s alert for %s: %v", kind, subject, err)
	}
	if m.journal != nil {
		if err := m.journal.Record(kind, subject, message); err != nil {
			logger.Warn("Failed to journal %s alert: %v", kind, err)
		}
	}
}

// rememberTokenMeta caches market names and URLs per outcome token for the
// trade sub-cycle and the live stream.
func (m *Monitor) rememberTokenMeta(snapshots []models.OutcomeSnapshot) {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	for _, snap := range snapshots {
		if snap.OutcomeID == "" {
			continue
		}
		m.tokenMeta[snap.OutcomeID] = marketMeta{name: snap.MarketName, url: snap.MarketURL}
	}
}

func (m *Monitor) lookupTokenMeta(tokenID string) marketMeta {
	m.metaMu.RLock()
	defer m.metaMu.RUnlock()
	return m.tokenMeta[tokenID]
}
