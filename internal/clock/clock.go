package clock

import (
	"time"
)

// Clock abstracts time so session logic and caches are testable
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced clock for tests
type FakeClock struct {
	Current time.Time
}

func (f *FakeClock) Now() time.Time { return f.Current }

// Advance moves the fake clock forward
func (f *FakeClock) Advance(d time.Duration) { f.Current = f.Current.Add(d) }

// NextAligned returns the next instant aligned to the given interval
// (e.g. 5 minutes aligns to :00/:05/:10). Used by the margin monitor.
func NextAligned(now time.Time, interval time.Duration) time.Time {
	aligned := now.Truncate(interval)
	if !aligned.After(now) {
		aligned = aligned.Add(interval)
	}
	return aligned
}
