package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func captureLogger(level string) (*Logger, *bytes.Buffer) {
	l := New(&Config{Level: level, JSONFormat: true})
	buf := &bytes.Buffer{}
	l.output = buf
	return l, buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) Entry {
	t.Helper()
	var e Entry
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	return e
}

// TestKeyValueFields attaches variadic pairs as structured fields
func TestKeyValueFields(t *testing.T) {
	l, buf := captureLogger("INFO")
	l.Info("quote attempt failed", "symbol", "NIFTY BANK", "attempt", 2)

	e := lastEntry(t, buf)
	if e.Message != "quote attempt failed" {
		t.Errorf("message = %q, want it untouched", e.Message)
	}
	if e.Fields["symbol"] != "NIFTY BANK" {
		t.Errorf("symbol field = %v", e.Fields["symbol"])
	}
	if e.Fields["attempt"] != float64(2) {
		t.Errorf("attempt field = %v", e.Fields["attempt"])
	}
}

// TestMessageNeverFormatted keeps percent signs and stray args literal
func TestMessageNeverFormatted(t *testing.T) {
	l, buf := captureLogger("INFO")
	l.Info("utilisation at 85% of budget", "orphan")

	e := lastEntry(t, buf)
	if e.Message != "utilisation at 85% of budget" {
		t.Errorf("message = %q, printf formatting must not apply", e.Message)
	}
	if e.Fields["!BADKEY"] != "orphan" {
		t.Errorf("fields = %v, want the unpaired arg under !BADKEY", e.Fields)
	}
}

// TestErrorValuesStringified stores error values as their message
func TestErrorValuesStringified(t *testing.T) {
	l, buf := captureLogger("INFO")
	l.Error("order failed", "error", errors.New("gateway down"))

	e := lastEntry(t, buf)
	if e.Fields["error"] != "gateway down" {
		t.Errorf("error field = %v, want the error string", e.Fields["error"])
	}
}

// TestLevelFilter suppresses entries below the configured level
func TestLevelFilter(t *testing.T) {
	l, buf := captureLogger("WARN")
	l.Info("should not appear")
	if buf.Len() != 0 {
		t.Errorf("INFO passed a WARN filter: %q", buf.String())
	}
	l.Warn("should appear")
	if buf.Len() == 0 {
		t.Error("WARN suppressed by a WARN filter")
	}
}
