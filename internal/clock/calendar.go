package clock

import (
	"time"
)

// Exchange identifies the trading venue for session purposes
type Exchange string

const (
	ExchangeNFO Exchange = "NFO" // NSE derivatives
	ExchangeBFO Exchange = "BFO" // BSE derivatives
	ExchangeMCX Exchange = "MCX" // Commodity derivatives
)

// Business timezone. All day-level semantics are computed in IST.
var IST = mustLoadIST()

func mustLoadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fixed offset fallback when tzdata is unavailable
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

type sessionWindow struct {
	openHour, openMin   int
	closeHour, closeMin int
}

var sessions = map[Exchange]sessionWindow{
	ExchangeNFO: {9, 15, 15, 30},
	ExchangeBFO: {9, 15, 15, 30},
	ExchangeMCX: {9, 0, 23, 30},
}

// Calendar answers market-hour and holiday questions in IST
type Calendar struct {
	clock    Clock
	holidays map[string]bool // "2006-01-02" -> closed
}

// NewCalendar creates a calendar with the given holiday dates (IST days)
func NewCalendar(clk Clock, holidays []time.Time) *Calendar {
	m := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		m[h.In(IST).Format("2006-01-02")] = true
	}
	return &Calendar{clock: clk, holidays: m}
}

// Now returns the current instant in IST
func (c *Calendar) Now() time.Time {
	return c.clock.Now().In(IST)
}

// IsTradingDay reports whether the given instant falls on a trading day
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(IST)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[t.Format("2006-01-02")]
}

// IsMarketOpen reports whether the exchange session is open at t
func (c *Calendar) IsMarketOpen(ex Exchange, t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	w, ok := sessions[ex]
	if !ok {
		return false
	}
	t = t.In(IST)
	open := time.Date(t.Year(), t.Month(), t.Day(), w.openHour, w.openMin, 0, 0, IST)
	close := time.Date(t.Year(), t.Month(), t.Day(), w.closeHour, w.closeMin, 0, 0, IST)
	return !t.Before(open) && !t.After(close)
}

// MarketOpen returns the session open instant for the day containing t
func (c *Calendar) MarketOpen(ex Exchange, t time.Time) time.Time {
	w := sessions[ex]
	t = t.In(IST)
	return time.Date(t.Year(), t.Month(), t.Day(), w.openHour, w.openMin, 0, 0, IST)
}

// MarketClose returns the session close instant for the day containing t
func (c *Calendar) MarketClose(ex Exchange, t time.Time) time.Time {
	w := sessions[ex]
	t = t.In(IST)
	return time.Date(t.Year(), t.Month(), t.Day(), w.closeHour, w.closeMin, 0, 0, IST)
}

// SameTradingDay reports whether two instants fall on the same IST date
func SameTradingDay(a, b time.Time) bool {
	a, b = a.In(IST), b.In(IST)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// NextTradingDay returns the next trading day strictly after t
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	d := t.In(IST).AddDate(0, 0, 1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, IST)
}
