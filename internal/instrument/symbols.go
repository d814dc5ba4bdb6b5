package instrument

import (
	"fmt"
	"strings"
	"time"

	"nse-trading-bot/internal/clock"
)

// TradingName returns the exchange symbol root for an instrument
func TradingName(inst Instrument) string {
	switch inst {
	case BankNifty:
		return "BANKNIFTY"
	case Nifty:
		return "NIFTY"
	case Sensex:
		return "SENSEX"
	case GoldMini:
		return "GOLDM"
	case SilverMini:
		return "SILVERM"
	}
	return strings.ReplaceAll(string(inst), "_", "")
}

func contractCode(expiry time.Time) string {
	e := expiry.In(clock.IST)
	return fmt.Sprintf("%02d%s", e.Year()%100, strings.ToUpper(e.Format("Jan")))
}

// OptionSymbol builds the trading symbol for an index option contract,
// e.g. BANKNIFTY25AUG52000PE.
func OptionSymbol(inst Instrument, expiry time.Time, strike float64, optionType string) string {
	return fmt.Sprintf("%s%s%d%s", TradingName(inst), contractCode(expiry), int64(strike), optionType)
}

// FutureSymbol builds the trading symbol for a futures contract,
// e.g. GOLDM25AUGFUT.
func FutureSymbol(inst Instrument, expiry time.Time) string {
	return fmt.Sprintf("%s%sFUT", TradingName(inst), contractCode(expiry))
}

// NextMonthlyExpiry returns the last Thursday of the month containing t,
// or of the following month when that date has already passed.
func NextMonthlyExpiry(t time.Time) time.Time {
	t = t.In(clock.IST)
	for m := 0; ; m++ {
		firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, clock.IST).AddDate(0, m+1, 0)
		last := firstOfNext.AddDate(0, 0, -1)
		for last.Weekday() != time.Thursday {
			last = last.AddDate(0, 0, -1)
		}
		expiry := time.Date(last.Year(), last.Month(), last.Day(), 15, 30, 0, 0, clock.IST)
		if expiry.After(t) {
			return expiry
		}
	}
}

// SpotSymbol is the index/underlying quote symbol
func SpotSymbol(inst Instrument) string {
	switch inst {
	case BankNifty:
		return "NIFTY BANK"
	case Nifty:
		return "NIFTY 50"
	case Sensex:
		return "SENSEX"
	}
	return TradingName(inst)
}
