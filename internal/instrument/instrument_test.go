package instrument

import (
	"testing"
	"time"

	"nse-trading-bot/internal/clock"
)

// TestParseInstrument accepts the supported set case-insensitively
func TestParseInstrument(t *testing.T) {
	cases := map[string]Instrument{
		"BANK_NIFTY":  BankNifty,
		"bank_nifty":  BankNifty,
		" NIFTY ":     Nifty,
		"GOLD_MINI":   GoldMini,
		"SILVER_MINI": SilverMini,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Parse(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := Parse("DAX"); err == nil {
		t.Error("unsupported instrument should error")
	}
}

// TestLotSizeHistory picks the revision effective on the entry date
func TestLotSizeHistory(t *testing.T) {
	reg := NewRegistry()
	cfg, _ := reg.Get(BankNifty)

	cases := []struct {
		date time.Time
		want int
	}{
		{time.Date(2024, 1, 10, 0, 0, 0, 0, clock.IST), 30},  // before first revision
		{time.Date(2024, 6, 1, 0, 0, 0, 0, clock.IST), 15},   // after April 2024 cut
		{time.Date(2025, 4, 25, 0, 0, 0, 0, clock.IST), 30},  // revision day itself
		{time.Date(2025, 8, 12, 0, 0, 0, 0, clock.IST), 30},
	}
	for _, c := range cases {
		if got := cfg.LotSizeOn(c.date); got != c.want {
			t.Errorf("LotSizeOn(%s) = %d, want %d", c.date.Format("2006-01-02"), got, c.want)
		}
	}
}

// TestRoundToStrike checks nearest rounding and the tie preference
func TestRoundToStrike(t *testing.T) {
	if got := RoundToStrike(52180, 500, false); got != 52000 {
		t.Errorf("52180 -> %v, want 52000", got)
	}
	if got := RoundToStrike(52320, 500, false); got != 52500 {
		t.Errorf("52320 -> %v, want 52500", got)
	}
	// Exact midpoint: preference decides
	if got := RoundToStrike(52250, 500, true); got != 52500 {
		t.Errorf("tie with round-up -> %v, want 52500", got)
	}
	if got := RoundToStrike(52250, 500, false); got != 52000 {
		t.Errorf("tie without round-up -> %v, want 52000", got)
	}
}

// TestOptionAndFutureSymbols checks the contract naming convention
func TestOptionAndFutureSymbols(t *testing.T) {
	expiry := time.Date(2025, 8, 28, 15, 30, 0, 0, clock.IST)

	if got := OptionSymbol(BankNifty, expiry, 52000, "PE"); got != "BANKNIFTY25AUG52000PE" {
		t.Errorf("option symbol = %q", got)
	}
	if got := OptionSymbol(BankNifty, expiry, 52000, "CE"); got != "BANKNIFTY25AUG52000CE" {
		t.Errorf("option symbol = %q", got)
	}
	if got := FutureSymbol(GoldMini, expiry); got != "GOLDM25AUGFUT" {
		t.Errorf("future symbol = %q", got)
	}
}

// TestNextMonthlyExpiry finds the last Thursday, rolling past expiry
func TestNextMonthlyExpiry(t *testing.T) {
	// August 2025: last Thursday is the 28th
	early := time.Date(2025, 8, 12, 10, 0, 0, 0, clock.IST)
	got := NextMonthlyExpiry(early)
	want := time.Date(2025, 8, 28, 15, 30, 0, 0, clock.IST)
	if !got.Equal(want) {
		t.Errorf("expiry from Aug 12 = %v, want %v", got, want)
	}

	// After the August expiry has passed, roll to September (25th)
	late := time.Date(2025, 8, 29, 10, 0, 0, 0, clock.IST)
	got = NextMonthlyExpiry(late)
	want = time.Date(2025, 9, 25, 15, 30, 0, 0, clock.IST)
	if !got.Equal(want) {
		t.Errorf("expiry from Aug 29 = %v, want %v", got, want)
	}
}
