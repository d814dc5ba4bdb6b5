package signals

import (
	"errors"
	"strings"
	"testing"
	"time"

	"nse-trading-bot/internal/clock"
)

func validPayload() string {
	return `{
		"type": "BASE_ENTRY",
		"instrument": "BANK_NIFTY",
		"position": "Long_1",
		"price": 52000,
		"stop": 51650,
		"lots": 2,
		"atr": 350,
		"er": 0.62,
		"supertrend": 51400,
		"timestamp": "2025-08-12T10:15:00"
	}`
}

// TestParseWebhookValid parses a complete base entry payload
func TestParseWebhookValid(t *testing.T) {
	received := time.Date(2025, 8, 12, 10, 15, 12, 0, clock.IST)

	sig, err := ParseWebhook([]byte(validPayload()), received)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	if sig.Kind != KindBaseEntry {
		t.Errorf("kind = %s, want BASE_ENTRY", sig.Kind)
	}
	if sig.Price != 52000 || sig.Stop != 51650 || sig.ATR != 350 {
		t.Errorf("numeric fields wrong: price=%v stop=%v atr=%v", sig.Price, sig.Stop, sig.ATR)
	}
	if sig.SuggestedLots != 2 {
		t.Errorf("lots = %d, want 2", sig.SuggestedLots)
	}

	// Naive timestamp must be interpreted as IST
	want := time.Date(2025, 8, 12, 10, 15, 0, 0, clock.IST)
	if !sig.ChartTS.Equal(want) {
		t.Errorf("chart_ts = %v, want %v", sig.ChartTS, want)
	}
	if got := sig.Age(); got != 12*time.Second {
		t.Errorf("age = %v, want 12s", got)
	}
}

// TestParseWebhookCollectsAllErrors checks that every bad field is reported
func TestParseWebhookCollectsAllErrors(t *testing.T) {
	payload := `{"type": "WRONG", "instrument": "DAX", "position": "Short_1", "timestamp": "yesterday"}`

	_, err := ParseWebhook([]byte(payload), time.Now())
	if err == nil {
		t.Fatal("expected a parse error")
	}

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}

	got := make(map[string]bool)
	for _, f := range pe.Fields {
		got[f.Field] = true
	}
	for _, field := range []string{"type", "instrument", "position", "timestamp", "price", "stop", "atr", "lots"} {
		if !got[field] {
			t.Errorf("missing field error for %q in %v", field, pe.Fields)
		}
	}
}

// TestParseWebhookMalformedJSON rejects non-JSON bodies
func TestParseWebhookMalformedJSON(t *testing.T) {
	_, err := ParseWebhook([]byte("not json"), time.Now())
	if err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
	if !strings.Contains(err.Error(), "malformed JSON") {
		t.Errorf("error = %q, want malformed JSON mention", err.Error())
	}
}

// TestEntryInvariants covers stop-above-price and ALL-slot entries
func TestEntryInvariants(t *testing.T) {
	sig := &Signal{
		Kind: KindBaseEntry, Slot: "Long_1",
		Price: 52000, Stop: 52100, ATR: 350,
	}
	if err := sig.CheckInvariants(); err == nil {
		t.Error("stop above price should fail invariants")
	}

	sig = &Signal{Kind: KindPyramid, Slot: SlotAll, Price: 52000, Stop: 51650, ATR: 350}
	if err := sig.CheckInvariants(); err == nil {
		t.Error("entry addressed to ALL should fail invariants")
	}

	sig = &Signal{Kind: KindExit, Slot: SlotAll, Reason: ""}
	if err := sig.CheckInvariants(); err == nil {
		t.Error("exit without reason should fail invariants")
	}
}

// TestFingerprintMatching checks the window semantics
func TestFingerprintMatching(t *testing.T) {
	base := time.Date(2025, 8, 12, 10, 15, 0, 0, clock.IST)
	a := Fingerprint{Instrument: "BANK_NIFTY", Kind: KindBaseEntry, Slot: "Long_1", ChartTS: base}

	b := a
	b.ChartTS = base.Add(45 * time.Second)
	if !a.Matches(b, time.Minute) {
		t.Error("fingerprints 45s apart should match inside a 60s window")
	}
	if a.Matches(b, 30*time.Second) {
		t.Error("fingerprints 45s apart should not match inside a 30s window")
	}

	c := a
	c.Slot = "Long_2"
	if a.Matches(c, time.Minute) {
		t.Error("different slots must never match")
	}
}

func TestFingerprintKeyStable(t *testing.T) {
	ts := time.Date(2025, 8, 12, 10, 15, 0, 0, clock.IST)
	fp := Fingerprint{Instrument: "NIFTY", Kind: KindExit, Slot: SlotAll, ChartTS: ts}
	if fp.Key() != fp.Key() {
		t.Error("key must be deterministic")
	}
	if !strings.HasPrefix(fp.Key(), "NIFTY|EXIT|ALL|") {
		t.Errorf("unexpected key shape %q", fp.Key())
	}
}

// TestValidSlot covers the slot universe
func TestValidSlot(t *testing.T) {
	for i := 1; i <= 6; i++ {
		s := Slot("Long_" + string(rune('0'+i)))
		if !ValidSlot(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	if !ValidSlot(SlotAll) {
		t.Error("ALL should be valid")
	}
	for _, s := range []Slot{"Long_0", "Long_7", "Short_1", ""} {
		if ValidSlot(s) {
			t.Errorf("%q should be invalid", s)
		}
	}
}
