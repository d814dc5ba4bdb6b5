package hedge

import (
	"testing"

	"nse-trading-bot/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
}

// TestPerBasketLookup reads the direct rows
func TestPerBasketLookup(t *testing.T) {
	tab := NewMarginTable(nil, testLogger())

	m, fellBack, ok := tab.PerBasket("SENSEX", "0DTE", false)
	if !ok || fellBack {
		t.Fatalf("ok=%v fellBack=%v, want a direct hit", ok, fellBack)
	}
	if m != 24445 {
		t.Errorf("SENSEX 0DTE without hedge = %v, want 24445", m)
	}

	m, _, _ = tab.PerBasket("SENSEX", "0DTE", true)
	if m != 15000 {
		t.Errorf("SENSEX 0DTE with hedge = %v, want 15000", m)
	}
}

// TestPerBasketWeeklyFallback uses the WEEKLY row for unknown expiry types
func TestPerBasketWeeklyFallback(t *testing.T) {
	tab := NewMarginTable(nil, testLogger())

	m, fellBack, ok := tab.PerBasket("BANKNIFTY", "0DTE", false)
	if !ok {
		t.Fatal("BANKNIFTY should fall back to its WEEKLY row")
	}
	if !fellBack {
		t.Error("fallback should be reported")
	}
	if m != 160000 {
		t.Errorf("fallback margin = %v, want the WEEKLY 160000", m)
	}
}

// TestPerBasketUnknownIndex reports no row at all
func TestPerBasketUnknownIndex(t *testing.T) {
	tab := NewMarginTable(nil, testLogger())
	if _, _, ok := tab.PerBasket("MIDCPNIFTY", "0DTE", false); ok {
		t.Error("unknown index should not resolve")
	}
}

// TestBenefit is the with/without spread
func TestBenefit(t *testing.T) {
	tab := NewMarginTable(nil, testLogger())

	b, ok := tab.Benefit("SENSEX", "0DTE")
	if !ok || b != 24445-15000 {
		t.Errorf("benefit = %v ok=%v, want 9445", b, ok)
	}
}
