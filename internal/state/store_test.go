package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, maxProcessedTrades, maxWallets int) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state.json"), maxProcessedTrades, maxWallets)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := New(path, 100, 100)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s.Upsert("outcome-1", 0.42)
	s.MarkAlerted("outcome-1")
	s.Upsert("outcome-2", 0.87)
	s.AddProcessedTrade("trade-a")
	s.AddProcessedTrade("trade-b")
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := New(path, 100, 100)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	st, ok := reloaded.Get("outcome-1")
	if !ok {
		t.Fatal("outcome-1 missing after reload")
	}
	if st.LastSeenPrice == nil || *st.LastSeenPrice != 0.42 {
		t.Errorf("LastSeenPrice = %v, want 0.42", st.LastSeenPrice)
	}
	if st.LastAlertedAt == nil {
		t.Error("LastAlertedAt not persisted")
	}
	if st.FirstSeenAt == nil {
		t.Error("FirstSeenAt not persisted")
	}

	st2, ok := reloaded.Get("outcome-2")
	if !ok || st2.LastAlertedAt != nil {
		t.Errorf("outcome-2 = %+v, %v; want tracked with nil LastAlertedAt", st2, ok)
	}

	for _, id := range []string{"trade-a", "trade-b"} {
		if !reloaded.HasProcessedTrade(id) {
			t.Errorf("processed trade %s missing after reload", id)
		}
	}
	if reloaded.HasProcessedTrade("trade-c") {
		t.Error("unexpected processed trade after reload")
	}
}

func TestLoadLegacyFlatShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	legacy := `{
		"outcome-1": {
			"last_seen_price": 0.65,
			"last_seen_timestamp": "2026-01-02T15:04:05Z",
			"last_alerted_timestamp": null,
			"first_seen_timestamp": "2026-01-01T00:00:00Z"
		}
	}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := New(path, 100, 100)
	if err != nil {
		t.Fatalf("New failed on legacy shape: %v", err)
	}
	st, ok := s.Get("outcome-1")
	if !ok {
		t.Fatal("outcome-1 missing")
	}
	if st.LastSeenPrice == nil || *st.LastSeenPrice != 0.65 {
		t.Errorf("LastSeenPrice = %v, want 0.65", st.LastSeenPrice)
	}
	if st.LastAlertedAt != nil {
		t.Errorf("LastAlertedAt = %v, want nil", st.LastAlertedAt)
	}
	if st.FirstSeenAt == nil || !st.FirstSeenAt.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("FirstSeenAt = %v", st.FirstSeenAt)
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "absent.json"), 100, 100)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.OutcomeCount() != 0 {
		t.Errorf("OutcomeCount = %d, want 0", s.OutcomeCount())
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := New(path, 100, 100)
	if !errors.Is(err, ErrCorruptState) {
		t.Errorf("New error = %v, want ErrCorruptState", err)
	}
}

func TestUpsertKeepsFirstSeen(t *testing.T) {
	s := newTestStore(t, 100, 100)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	s.Upsert("o", 0.30)
	current = base.Add(time.Hour)
	st := s.Upsert("o", 0.55)

	if st.FirstSeenAt == nil || !st.FirstSeenAt.Equal(base) {
		t.Errorf("FirstSeenAt = %v, want %v", st.FirstSeenAt, base)
	}
	if st.LastSeenAt == nil || !st.LastSeenAt.Equal(base.Add(time.Hour)) {
		t.Errorf("LastSeenAt = %v, want %v", st.LastSeenAt, base.Add(time.Hour))
	}
	if st.LastSeenPrice == nil || *st.LastSeenPrice != 0.55 {
		t.Errorf("LastSeenPrice = %v, want 0.55", st.LastSeenPrice)
	}
}

func TestMarkAlertedUnknownOutcome(t *testing.T) {
	s := newTestStore(t, 100, 100)
	s.MarkAlerted("never-seen")
	if _, ok := s.Get("never-seen"); ok {
		t.Error("MarkAlerted created an outcome record")
	}
}

func TestProcessedTradeRingEviction(t *testing.T) {
	s := newTestStore(t, 3, 100)

	for _, id := range []string{"t1", "t2", "t3"} {
		s.AddProcessedTrade(id)
	}
	// Re-adding a known ID must not evict anything.
	s.AddProcessedTrade("t2")
	if !s.HasProcessedTrade("t1") {
		t.Error("t1 evicted by duplicate add")
	}

	s.AddProcessedTrade("t4")
	if s.HasProcessedTrade("t1") {
		t.Error("t1 should be evicted, ring is FIFO")
	}
	for _, id := range []string{"t2", "t3", "t4"} {
		if !s.HasProcessedTrade(id) {
			t.Errorf("%s unexpectedly evicted", id)
		}
	}
}

func TestTradeRingOrdered(t *testing.T) {
	r := newTradeRing(3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		r.add(id)
	}
	got := r.ordered()
	want := []string{"c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("ordered = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ordered[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestUpdateWallet(t *testing.T) {
	s := newTestStore(t, 100, 100)

	stats := s.UpdateWallet("0xabc", "token-1", 500)
	if stats.MarketsTraded != 1 || stats.TotalVolumeUSD != 500 {
		t.Errorf("stats = %+v, want 1 market / 500 USD", stats)
	}

	stats = s.UpdateWallet("0xabc", "token-1", 250)
	if stats.MarketsTraded != 1 {
		t.Errorf("MarketsTraded = %d after same-token trade, want 1", stats.MarketsTraded)
	}
	if stats.TotalVolumeUSD != 750 {
		t.Errorf("TotalVolumeUSD = %v, want 750", stats.TotalVolumeUSD)
	}

	stats = s.UpdateWallet("0xabc", "token-2", 0)
	if stats.MarketsTraded != 2 {
		t.Errorf("MarketsTraded = %d, want 2", stats.MarketsTraded)
	}
}

func TestUpdateWalletEmptyAddress(t *testing.T) {
	s := newTestStore(t, 100, 100)
	stats := s.UpdateWallet("", "token-1", 999)
	if stats != (WalletStats{}) {
		t.Errorf("stats = %+v, want zero value", stats)
	}
	if s.WalletCount() != 0 {
		t.Errorf("WalletCount = %d, want 0", s.WalletCount())
	}
}

func TestWalletEvictionClearsInsiderMarkers(t *testing.T) {
	s := newTestStore(t, 100, 2)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	s.UpdateWallet("0xold", "t", 1)
	s.MarkInsiderAlerted("0xold")
	current = base.Add(time.Hour)
	s.UpdateWallet("0xmid", "t", 1)
	current = base.Add(2 * time.Hour)
	s.UpdateWallet("0xnew", "t", 1)

	if s.WalletCount() != 2 {
		t.Fatalf("WalletCount = %d, want 2", s.WalletCount())
	}
	if _, ok := s.GetWalletStats("0xold"); ok {
		t.Error("oldest wallet should have been evicted")
	}
	if s.HasInsiderAlerted("0xold") {
		t.Error("insider marker should be cleared on eviction")
	}
	if _, ok := s.GetWalletStats("0xnew"); !ok {
		t.Error("newest wallet missing")
	}
}

func TestPruneWallets(t *testing.T) {
	s := newTestStore(t, 100, 100)
	base := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	current := base.AddDate(0, 0, -10)
	s.now = func() time.Time { return current }

	s.UpdateWallet("0xstale", "t", 1)
	s.MarkInsiderAlerted("0xstale")
	current = base.AddDate(0, 0, -2)
	s.UpdateWallet("0xfresh", "t", 1)

	current = base
	s.PruneWallets(7)

	if _, ok := s.GetWalletStats("0xstale"); ok {
		t.Error("stale wallet survived pruning")
	}
	if s.HasInsiderAlerted("0xstale") {
		t.Error("insider marker survived pruning")
	}
	if _, ok := s.GetWalletStats("0xfresh"); !ok {
		t.Error("fresh wallet pruned")
	}
}

func TestVolumeWindow(t *testing.T) {
	s := newTestStore(t, 100, 100)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if got := s.VolumeWindow("m", 30); got != 0 {
		t.Errorf("empty history: VolumeWindow = %v, want 0", got)
	}

	s.recordVolumeAt("m", 1000, now.Add(-25*time.Minute))
	if got := s.VolumeWindow("m", 30); got != 0 {
		t.Errorf("single sample: VolumeWindow = %v, want 0", got)
	}

	s.recordVolumeAt("m", 1600, now.Add(-5*time.Minute))
	if got := s.VolumeWindow("m", 30); got != 600 {
		t.Errorf("VolumeWindow = %v, want 600", got)
	}

	// Samples outside the window must not count.
	s.recordVolumeAt("m2", 0, now.Add(-2*time.Hour))
	s.recordVolumeAt("m2", 5000, now.Add(-90*time.Minute))
	s.recordVolumeAt("m2", 5100, now.Add(-10*time.Minute))
	if got := s.VolumeWindow("m2", 30); got != 0 {
		t.Errorf("one recent sample: VolumeWindow = %v, want 0", got)
	}
}

func TestVolumeBaseline(t *testing.T) {
	s := newTestStore(t, 100, 100)
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if got := s.VolumeBaseline("m", 30, 7); got != 0 {
		t.Errorf("empty history: baseline = %v, want 0", got)
	}

	// Two samples 24h apart, 1440 USD added: one 30-minute window per 30
	// minutes of span means 48 windows, so 30 USD per window.
	s.recordVolumeAt("m", 1000, now.Add(-48*time.Hour))
	s.recordVolumeAt("m", 2440, now.Add(-24*time.Hour))
	if got := s.VolumeBaseline("m", 30, 7); got != 30 {
		t.Errorf("baseline = %v, want 30", got)
	}

	// Samples inside the recent window are excluded from the baseline.
	s.recordVolumeAt("m", 9999, now.Add(-5*time.Minute))
	if got := s.VolumeBaseline("m", 30, 7); got != 30 {
		t.Errorf("baseline with recent sample = %v, want 30", got)
	}

	// A volume reset (negative delta) yields no baseline.
	s.recordVolumeAt("down", 5000, now.Add(-48*time.Hour))
	s.recordVolumeAt("down", 100, now.Add(-24*time.Hour))
	if got := s.VolumeBaseline("down", 30, 7); got != 0 {
		t.Errorf("negative delta: baseline = %v, want 0", got)
	}

	// Samples older than the baseline horizon are excluded.
	s.recordVolumeAt("old", 0, now.AddDate(0, 0, -10))
	s.recordVolumeAt("old", 800, now.AddDate(0, 0, -9))
	if got := s.VolumeBaseline("old", 30, 7); got != 0 {
		t.Errorf("stale samples: baseline = %v, want 0", got)
	}
}

func TestPruneVolumeHistory(t *testing.T) {
	s := newTestStore(t, 100, 100)
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.recordVolumeAt("stale", 100, now.AddDate(0, 0, -20))
	s.recordVolumeAt("mixed", 100, now.AddDate(0, 0, -20))
	s.recordVolumeAt("mixed", 200, now.Add(-time.Hour))
	s.recordVolumeAt("mixed", 300, now.Add(-time.Minute))

	s.PruneVolumeHistory(8)

	if _, ok := s.volumes["stale"]; ok {
		t.Error("fully stale market should be removed")
	}
	if got := len(s.volumes["mixed"]); got != 2 {
		t.Errorf("mixed market has %d samples, want 2", got)
	}
}
