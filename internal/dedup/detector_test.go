package dedup

import (
	"testing"
	"time"

	"nse-trading-bot/internal/clock"
	"nse-trading-bot/internal/signals"
)

func makeSignal(ts time.Time) *signals.Signal {
	return &signals.Signal{
		Kind:       signals.KindBaseEntry,
		Instrument: "BANK_NIFTY",
		Slot:       "Long_1",
		ChartTS:    ts,
	}
}

// TestDuplicateWithinWindow suppresses the second of two identical signals
func TestDuplicateWithinWindow(t *testing.T) {
	clk := &clock.FakeClock{Current: time.Date(2025, 8, 12, 10, 0, 0, 0, clock.IST)}
	d := NewDetector(time.Minute, 100, clk)

	first := makeSignal(clk.Current)
	second := makeSignal(clk.Current.Add(15 * time.Second))

	if d.IsDuplicate(first) {
		t.Fatal("first signal must not be a duplicate")
	}
	if !d.IsDuplicate(second) {
		t.Fatal("second signal 15s later must be a duplicate")
	}

	stats := d.Stats()
	if stats.Checked != 2 || stats.Duplicates != 1 {
		t.Errorf("stats = %+v, want checked=2 duplicates=1", stats)
	}
}

// TestOutsideWindowAdmits lets a same-fingerprint signal through after the window
func TestOutsideWindowAdmits(t *testing.T) {
	clk := &clock.FakeClock{Current: time.Date(2025, 8, 12, 10, 0, 0, 0, clock.IST)}
	d := NewDetector(time.Minute, 100, clk)

	d.IsDuplicate(makeSignal(clk.Current))
	later := makeSignal(clk.Current.Add(2 * time.Minute))
	if d.IsDuplicate(later) {
		t.Error("signal two minutes later should not match a 60s window")
	}
}

// TestForgetAllowsRetry evicts a fingerprint after a downstream failure
func TestForgetAllowsRetry(t *testing.T) {
	clk := &clock.FakeClock{Current: time.Date(2025, 8, 12, 10, 0, 0, 0, clock.IST)}
	d := NewDetector(time.Minute, 100, clk)

	sig := makeSignal(clk.Current)
	d.IsDuplicate(sig)
	d.Forget(sig)

	if d.IsDuplicate(makeSignal(clk.Current)) {
		t.Error("identical signal should be admissible after Forget")
	}
	if d.Stats().Forgotten != 1 {
		t.Errorf("forgotten = %d, want 1", d.Stats().Forgotten)
	}
}

// TestCapacityEviction drops the oldest fingerprints at capacity
func TestCapacityEviction(t *testing.T) {
	clk := &clock.FakeClock{Current: time.Date(2025, 8, 12, 10, 0, 0, 0, clock.IST)}
	d := NewDetector(time.Hour, 3, clk)

	for i := 0; i < 4; i++ {
		sig := makeSignal(clk.Current)
		sig.Slot = signals.Slot([]string{"Long_1", "Long_2", "Long_3", "Long_4"}[i])
		d.IsDuplicate(sig)
	}

	if got := d.Stats().Tracked; got != 3 {
		t.Errorf("tracked = %d, want capacity 3", got)
	}
	// Oldest entry fell off, so Long_1 admits again
	if d.IsDuplicate(makeSignal(clk.Current)) {
		t.Error("evicted fingerprint should admit again")
	}
}
