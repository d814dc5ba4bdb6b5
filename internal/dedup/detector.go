package dedup

import (
	"sync"
	"time"

	"nse-trading-bot/internal/clock"
	"nse-trading-bot/internal/signals"
)

// pruneEvery controls how often the rolling set drops aged-out entries
const pruneEvery = 50

// Stats holds duplicate-detector counters
type Stats struct {
	Checked    int64 `json:"checked"`
	Duplicates int64 `json:"duplicates"`
	Forgotten  int64 `json:"forgotten"`
	Tracked    int   `json:"tracked"`
}

// Detector is a thread-safe rolling-window fingerprint set. A signal is a
// duplicate when any tracked fingerprint matches it within the window.
type Detector struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	clk      clock.Clock

	entries []signals.Fingerprint // FIFO order
	stats   Stats
}

// NewDetector creates a detector with the given match window and capacity
func NewDetector(window time.Duration, capacity int, clk clock.Clock) *Detector {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Detector{window: window, capacity: capacity, clk: clk}
}

// IsDuplicate checks the signal against the rolling set and, when new,
// records its fingerprint. Returns true for duplicates.
func (d *Detector) IsDuplicate(sig *signals.Signal) bool {
	fp := sig.Fingerprint()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Checked++
	if d.stats.Checked%pruneEvery == 0 {
		d.pruneLocked()
	}

	for _, existing := range d.entries {
		if existing.Matches(fp, d.window) {
			d.stats.Duplicates++
			return true
		}
	}

	d.entries = append(d.entries, fp)
	if len(d.entries) > d.capacity {
		d.entries = d.entries[len(d.entries)-d.capacity:]
	}
	return false
}

// Forget evicts the signal's fingerprint so an identical retry is
// admissible. Used when downstream processing failed for a non-duplicate
// reason.
func (d *Detector) Forget(sig *signals.Signal) {
	fp := sig.Fingerprint()

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, existing := range d.entries {
		if existing.Matches(fp, d.window) {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			d.stats.Forgotten++
			return
		}
	}
}

// Stats returns a snapshot of the counters
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Tracked = len(d.entries)
	return s
}

// pruneLocked drops fingerprints whose chart timestamp aged out of the
// window. Caller holds the lock.
func (d *Detector) pruneLocked() {
	cutoff := d.clk.Now().Add(-d.window)
	kept := d.entries[:0]
	for _, fp := range d.entries {
		if fp.ChartTS.After(cutoff) {
			kept = append(kept, fp)
		}
	}
	d.entries = kept
}
