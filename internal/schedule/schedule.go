package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"nse-trading-bot/internal/clock"
)

// EntryDef is one scheduled short-straddle entry template
type EntryDef struct {
	Time       string `json:"time"` // "HH:MM" in IST
	Index      string `json:"index"`
	ExpiryType string `json:"expiry_type"` // "0DTE", "1DTE", "WEEKLY"
	Baskets    int    `json:"baskets"`
}

// Entry is a concrete scheduled entry for one session date
type Entry struct {
	At         time.Time `json:"at"`
	Index      string    `json:"index"`
	ExpiryType string    `json:"expiry_type"`
	Baskets    int       `json:"baskets"`
}

// Schedule resolves the day-of-week entry plan into concrete session
// times. Resolution is cached per date.
type Schedule struct {
	mu      sync.Mutex
	clk     clock.Clock
	cal     *clock.Calendar
	byDay   map[time.Weekday][]EntryDef
	cached  string
	entries []Entry

	lookahead  time.Duration
	exitBuffer time.Duration
}

// DefaultPlan returns the weekday entry plan used when none is configured.
// Weekly index expiries drive which index trades 0DTE on which day.
func DefaultPlan() map[time.Weekday][]EntryDef {
	return map[time.Weekday][]EntryDef{
		time.Monday: {
			{Time: "09:20", Index: "NIFTY", ExpiryType: "1DTE", Baskets: 10},
		},
		time.Tuesday: {
			{Time: "09:20", Index: "NIFTY", ExpiryType: "0DTE", Baskets: 15},
			{Time: "13:45", Index: "NIFTY", ExpiryType: "0DTE", Baskets: 5},
		},
		time.Wednesday: {
			{Time: "09:20", Index: "SENSEX", ExpiryType: "1DTE", Baskets: 10},
		},
		time.Thursday: {
			{Time: "09:20", Index: "SENSEX", ExpiryType: "0DTE", Baskets: 15},
			{Time: "13:45", Index: "SENSEX", ExpiryType: "0DTE", Baskets: 5},
		},
		time.Friday: {
			{Time: "09:20", Index: "NIFTY", ExpiryType: "WEEKLY", Baskets: 8},
		},
	}
}

// New creates a schedule. A nil plan uses DefaultPlan.
func New(clk clock.Clock, cal *clock.Calendar, plan map[time.Weekday][]EntryDef,
	lookahead, exitBuffer time.Duration) *Schedule {

	if plan == nil {
		plan = DefaultPlan()
	}
	if lookahead <= 0 {
		lookahead = 5 * time.Minute
	}
	if exitBuffer <= 0 {
		exitBuffer = 15 * time.Minute
	}
	return &Schedule{
		clk:        clk,
		cal:        cal,
		byDay:      plan,
		lookahead:  lookahead,
		exitBuffer: exitBuffer,
	}
}

// todayEntries resolves and caches today's concrete entries
func (s *Schedule) todayEntries(now time.Time) []Entry {
	ist := now.In(clock.IST)
	date := ist.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached == date {
		return s.entries
	}

	s.entries = nil
	s.cached = date

	if s.cal != nil && !s.cal.IsTradingDay(ist) {
		return s.entries
	}

	for _, def := range s.byDay[ist.Weekday()] {
		var hh, mm int
		if _, err := fmt.Sscanf(def.Time, "%d:%d", &hh, &mm); err != nil {
			continue
		}
		at := time.Date(ist.Year(), ist.Month(), ist.Day(), hh, mm, 0, 0, clock.IST)
		s.entries = append(s.entries, Entry{
			At:         at,
			Index:      def.Index,
			ExpiryType: def.ExpiryType,
			Baskets:    def.Baskets,
		})
	}
	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].At.Before(s.entries[j].At) })
	return s.entries
}

// NextEntry returns the next scheduled entry and the wait until it.
// ok is false when no entry remains today.
func (s *Schedule) NextEntry() (entry Entry, until time.Duration, ok bool) {
	now := s.clk.Now().In(clock.IST)
	for _, e := range s.todayEntries(now) {
		if e.At.After(now) {
			return e, e.At.Sub(now), true
		}
	}
	return Entry{}, 0, false
}

// EntriesWithin lists entries scheduled inside the window from now
func (s *Schedule) EntriesWithin(window time.Duration) []Entry {
	now := s.clk.Now().In(clock.IST)
	var out []Entry
	for _, e := range s.todayEntries(now) {
		if e.At.After(now) && e.At.Sub(now) <= window {
			out = append(out, e)
		}
	}
	return out
}

// IsEntryImminent reports whether an entry falls within the lookahead window
func (s *Schedule) IsEntryImminent() bool {
	return len(s.EntriesWithin(s.lookahead)) > 0
}

// ShouldHoldHedges reports whether hedge exits should be deferred because
// an entry is close enough to still need the margin benefit.
func (s *Schedule) ShouldHoldHedges() bool {
	return len(s.EntriesWithin(s.exitBuffer)) > 0
}
