// Package state owns all persistent scanner state: per-outcome observations,
// the processed-trade dedup ring, per-wallet trading stats, and per-market
// volume history. Every other component reads and writes state only through
// the Store.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrCorruptState marks a state file that exists but cannot be parsed.
// Callers treat it as fatal at startup rather than discarding prior state.
var ErrCorruptState = errors.New("corrupt state file")

// OutcomeState tracks the last-known observation of one outcome. All fields
// stay nil until the relevant event has happened at least once.
type OutcomeState struct {
	LastSeenPrice *float64   `json:"last_seen_price"`
	LastSeenAt    *time.Time `json:"last_seen_timestamp"`
	LastAlertedAt *time.Time `json:"last_alerted_timestamp"`
	FirstSeenAt   *time.Time `json:"first_seen_timestamp"`
}

// WalletStats is a read-only snapshot of one wallet's aggregated activity.
type WalletStats struct {
	FirstSeen      time.Time
	MarketsTraded  int
	TotalVolumeUSD float64
}

type walletRecord struct {
	firstSeen time.Time
	markets   map[string]struct{}
	volume    float64
	seq       int // creation order, tie-break for eviction
}

type volumeSample struct {
	at     time.Time
	volume float64
}

// Store is the durable state container. The poll loop is sequential; the
// mutex exists for the optional live trade stream, which shares the store
// from its own goroutine.
type Store struct {
	mu   sync.Mutex
	path string

	outcomes  map[string]*OutcomeState
	processed *tradeRing

	wallets        map[string]*walletRecord
	walletSeq      int
	maxWallets     int
	insiderAlerted map[string]struct{}

	volumes map[string][]volumeSample

	now func() time.Time
}

// New creates a Store backed by the JSON file at path and loads any
// previously persisted state. A missing file yields an empty store; an
// unparsable one yields ErrCorruptState.
func New(path string, maxProcessedTrades, maxWallets int) (*Store, error) {
	s := &Store{
		path:           path,
		outcomes:       make(map[string]*OutcomeState),
		processed:      newTradeRing(maxProcessedTrades),
		wallets:        make(map[string]*walletRecord),
		maxWallets:     maxWallets,
		insiderAlerted: make(map[string]struct{}),
		volumes:        make(map[string][]volumeSample),
		now:            time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// persistedState is the current on-disk shape. Earlier versions wrote the
// outcome map directly at the top level; load handles both.
type persistedState struct {
	Outcomes        map[string]*OutcomeState `json:"outcomes"`
	ProcessedTrades []string                 `json:"_processed_trades"`
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file %s: %w", s.path, err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
	}

	if _, wrapped := top["outcomes"]; wrapped {
		var ps persistedState
		if err := json.Unmarshal(raw, &ps); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path, err)
		}
		if ps.Outcomes != nil {
			s.outcomes = ps.Outcomes
		}
		for _, id := range ps.ProcessedTrades {
			s.processed.add(id)
		}
		return nil
	}

	// Legacy shape: flat outcome_id -> payload map.
	outcomes := make(map[string]*OutcomeState, len(top))
	for id, payload := range top {
		var st OutcomeState
		if err := json.Unmarshal(payload, &st); err != nil {
			return fmt.Errorf("%w: %s: outcome %s: %v", ErrCorruptState, s.path, id, err)
		}
		outcomes[id] = &st
	}
	s.outcomes = outcomes
	return nil
}

// Save writes outcomes and the processed-trade list back to disk. The file
// is written to a temp path and renamed so a crash mid-write never leaves a
// half-written state file behind.
func (s *Store) Save() error {
	s.mu.Lock()
	payload := persistedState{
		Outcomes:        s.outcomes,
		ProcessedTrades: s.processed.ordered(),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Get returns the stored state for an outcome, if any.
func (s *Store) Get(outcomeID string) (OutcomeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.outcomes[outcomeID]
	if !ok {
		return OutcomeState{}, false
	}
	return *st, true
}

// Upsert records an observation of the outcome at the given price. The
// first-seen timestamp is set once on creation and never changes.
func (s *Store) Upsert(outcomeID string, price float64) OutcomeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	st, ok := s.outcomes[outcomeID]
	if !ok {
		first := now
		st = &OutcomeState{FirstSeenAt: &first}
		s.outcomes[outcomeID] = st
	}
	p := price
	t := now
	st.LastSeenPrice = &p
	st.LastSeenAt = &t
	return *st
}

// MarkAlerted stamps the last-alerted timestamp; unknown IDs are a no-op.
func (s *Store) MarkAlerted(outcomeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.outcomes[outcomeID]
	if !ok {
		return
	}
	t := s.now()
	st.LastAlertedAt = &t
}

// OutcomeCount reports the number of tracked outcomes.
func (s *Store) OutcomeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

// HasProcessedTrade reports whether the trade ID was already alerted on.
func (s *Store) HasProcessedTrade(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed.has(id)
}

// AddProcessedTrade records a trade ID, evicting the oldest entry once the
// ring is full. Re-adding a known ID is a no-op.
func (s *Store) AddProcessedTrade(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed.add(id)
}

// UpdateWallet folds one trade into the wallet's stats and returns the
// updated snapshot. An empty address returns a zero snapshot untracked.
func (s *Store) UpdateWallet(address, tokenID string, usdValue float64) WalletStats {
	if address == "" {
		return WalletStats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.wallets[address]
	if !ok {
		rec = &walletRecord{
			firstSeen: s.now(),
			markets:   make(map[string]struct{}),
			seq:       s.walletSeq,
		}
		s.walletSeq++
		s.wallets[address] = rec
	}
	rec.markets[tokenID] = struct{}{}
	rec.volume += usdValue
	s.evictOldWallets()
	return rec.snapshot()
}

// GetWalletStats returns the wallet's snapshot, if tracked.
func (s *Store) GetWalletStats(address string) (WalletStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.wallets[address]
	if !ok {
		return WalletStats{}, false
	}
	return rec.snapshot(), true
}

// HasInsiderAlerted reports whether the wallet already triggered an insider
// alert. The flag persists until the wallet is evicted or pruned.
func (s *Store) HasInsiderAlerted(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.insiderAlerted[address]
	return ok
}

// MarkInsiderAlerted suppresses further insider alerts for the wallet.
func (s *Store) MarkInsiderAlerted(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insiderAlerted[address] = struct{}{}
}

// evictOldWallets drops the oldest-first-seen wallets once the ceiling is
// exceeded, clearing their insider markers too. Caller holds the lock.
func (s *Store) evictOldWallets() {
	excess := len(s.wallets) - s.maxWallets
	if excess <= 0 {
		return
	}
	type aged struct {
		addr string
		rec  *walletRecord
	}
	all := make([]aged, 0, len(s.wallets))
	for addr, rec := range s.wallets {
		all = append(all, aged{addr, rec})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].rec.firstSeen.Equal(all[j].rec.firstSeen) {
			return all[i].rec.seq < all[j].rec.seq
		}
		return all[i].rec.firstSeen.Before(all[j].rec.firstSeen)
	})
	for _, a := range all[:excess] {
		delete(s.wallets, a.addr)
		delete(s.insiderAlerted, a.addr)
	}
}

// PruneWallets drops wallets first seen before the retention horizon.
func (s *Store) PruneWallets(retentionDays int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	for addr, rec := range s.wallets {
		if rec.firstSeen.Before(cutoff) {
			delete(s.wallets, addr)
			delete(s.insiderAlerted, addr)
		}
	}
}

// WalletCount reports the number of tracked wallets.
func (s *Store) WalletCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wallets)
}

// RecordVolume appends a timestamped cumulative-volume sample for a market.
func (s *Store) RecordVolume(marketID string, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordVolumeAt(marketID, volume, s.now())
}

func (s *Store) recordVolumeAt(marketID string, volume float64, at time.Time) {
	s.volumes[marketID] = append(s.volumes[marketID], volumeSample{at: at, volume: volume})
}

// VolumeWindow returns the volume added between the earliest and latest
// samples inside the last windowMinutes, or 0 when fewer than two samples
// fall in the window.
func (s *Store) VolumeWindow(marketID string, windowMinutes int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.volumes[marketID]
	if len(history) < 2 {
		return 0
	}
	cutoff := s.now().Add(-time.Duration(windowMinutes) * time.Minute)
	var recent []volumeSample
	for _, sample := range history {
		if !sample.at.Before(cutoff) {
			recent = append(recent, sample)
		}
	}
	if len(recent) < 2 {
		return 0
	}
	return recent[len(recent)-1].volume - recent[0].volume
}

// VolumeBaseline returns the average per-window volume rate over
// [now-baselineDays, now-windowMinutes), derived from the first and last
// sample in that interval. Windows are counted by elapsed time, not sample
// count; with sparse samples the implied window stretches, which alert
// thresholds were tuned against. Non-positive spans or volume deltas
// (baseline resets, corrections) return 0.
func (s *Store) VolumeBaseline(marketID string, windowMinutes, baselineDays int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.volumes[marketID]
	if len(history) < 2 {
		return 0
	}
	now := s.now()
	baselineStart := now.AddDate(0, 0, -baselineDays)
	windowStart := now.Add(-time.Duration(windowMinutes) * time.Minute)

	var points []volumeSample
	for _, sample := range history {
		if !sample.at.Before(baselineStart) && sample.at.Before(windowStart) {
			points = append(points, sample)
		}
	}
	if len(points) < 2 {
		return 0
	}
	span := points[len(points)-1].at.Sub(points[0].at).Seconds()
	if span <= 0 {
		return 0
	}
	delta := points[len(points)-1].volume - points[0].volume
	if delta <= 0 {
		return 0
	}
	windows := span / (float64(windowMinutes) * 60)
	if windows <= 0 {
		return 0
	}
	return delta / windows
}

// PruneVolumeHistory drops samples older than the retention horizon and
// removes markets whose series became empty.
func (s *Store) PruneVolumeHistory(retentionDays int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	for marketID, history := range s.volumes {
		kept := history[:0]
		for _, sample := range history {
			if !sample.at.Before(cutoff) {
				kept = append(kept, sample)
			}
		}
		if len(kept) == 0 {
			delete(s.volumes, marketID)
			continue
		}
		s.volumes[marketID] = kept
	}
}

func (r *walletRecord) snapshot() WalletStats {
	return WalletStats{
		FirstSeen:      r.firstSeen,
		MarketsTraded:  len(r.markets),
		TotalVolumeUSD: r.volume,
	}
}
