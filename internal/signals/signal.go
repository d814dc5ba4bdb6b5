package signals

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"nse-trading-bot/internal/clock"
	"nse-trading-bot/internal/instrument"
)

// Kind classifies an inbound signal
type Kind string

const (
	KindBaseEntry  Kind = "BASE_ENTRY"
	KindPyramid    Kind = "PYRAMID"
	KindExit       Kind = "EXIT"
	KindEODMonitor Kind = "EOD_MONITOR"
)

// ParseKind converts an inbound type string (case-insensitive)
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindBaseEntry:
		return KindBaseEntry, nil
	case KindPyramid:
		return KindPyramid, nil
	case KindExit:
		return KindExit, nil
	case KindEODMonitor:
		return KindEODMonitor, nil
	}
	return "", fmt.Errorf("unsupported signal type: %q", s)
}

// Slot is the symbolic position slot a signal addresses
type Slot string

const SlotAll Slot = "ALL"

// ValidSlot reports whether the slot is Long_1..Long_6 or ALL
func ValidSlot(s Slot) bool {
	if s == SlotAll {
		return true
	}
	for i := 1; i <= 6; i++ {
		if s == Slot(fmt.Sprintf("Long_%d", i)) {
			return true
		}
	}
	return false
}

// Signal is an externally generated, immutable intention to trade
type Signal struct {
	ReceivedAt    time.Time             `json:"received_at"`
	ChartTS       time.Time             `json:"chart_ts"`
	Kind          Kind                  `json:"kind"`
	Instrument    instrument.Instrument `json:"instrument"`
	Slot          Slot                  `json:"slot"`
	Price         float64               `json:"price"`
	Stop          float64               `json:"stop"`
	SuggestedLots int                   `json:"suggested_lots"`
	ATR           float64               `json:"atr"`
	ER            float64               `json:"er"`
	Supertrend    float64               `json:"supertrend"`
	ROC           float64               `json:"roc,omitempty"`
	Highest       float64               `json:"highest,omitempty"`
	Reason        string                `json:"reason,omitempty"`
}

// Fingerprint identifies a signal for duplicate detection. Two fingerprints
// match when instrument, kind and slot are equal and the chart timestamps
// are within the detector's window.
type Fingerprint struct {
	Instrument instrument.Instrument `json:"instrument"`
	Kind       Kind                  `json:"kind"`
	Slot       Slot                  `json:"slot"`
	ChartTS    time.Time             `json:"chart_ts"`
}

// Fingerprint returns the signal's duplicate-detection identity
func (s *Signal) Fingerprint() Fingerprint {
	return Fingerprint{Instrument: s.Instrument, Kind: s.Kind, Slot: s.Slot, ChartTS: s.ChartTS}
}

// Key renders the fingerprint as a stable string for persistence
func (f Fingerprint) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d", f.Instrument, f.Kind, f.Slot, f.ChartTS.Unix())
}

// Matches reports whether two fingerprints identify the same signal
// under the given chart-timestamp window
func (f Fingerprint) Matches(other Fingerprint, window time.Duration) bool {
	if f.Instrument != other.Instrument || f.Kind != other.Kind || f.Slot != other.Slot {
		return false
	}
	delta := f.ChartTS.Sub(other.ChartTS)
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}

// webhookPayload is the raw inbound JSON shape. Parsing happens once at
// the edge; interior code only sees the typed Signal.
type webhookPayload struct {
	Type       string   `json:"type"`
	Instrument string   `json:"instrument"`
	Position   string   `json:"position"`
	Price      *float64 `json:"price"`
	Stop       *float64 `json:"stop"`
	Lots       *int     `json:"lots"`
	ATR        *float64 `json:"atr"`
	ER         *float64 `json:"er"`
	Supertrend *float64 `json:"supertrend"`
	ROC        *float64 `json:"roc"`
	Highest    *float64 `json:"highest"`
	Timestamp  string   `json:"timestamp"`
	Reason     string   `json:"reason"`
}

// FieldError describes one invalid or missing payload field
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ParseError carries every field problem found in an inbound payload
type ParseError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ParseError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Reason)
	}
	return "invalid signal payload: " + strings.Join(parts, "; ")
}

// ParseWebhook decodes and validates an inbound signal payload.
// Naive timestamps are assumed to be Asia/Kolkata. All field problems are
// collected so the caller can return a complete structured error.
func ParseWebhook(data []byte, receivedAt time.Time) (*Signal, error) {
	var p webhookPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ParseError{Fields: []FieldError{{Field: "body", Reason: "malformed JSON"}}}
	}

	var fields []FieldError
	addErr := func(field, reason string) {
		fields = append(fields, FieldError{Field: field, Reason: reason})
	}

	kind, err := ParseKind(p.Type)
	if err != nil {
		addErr("type", "must be one of BASE_ENTRY, PYRAMID, EXIT, EOD_MONITOR")
	}

	inst, err := instrument.Parse(p.Instrument)
	if err != nil {
		addErr("instrument", "unsupported instrument")
	}

	slot := Slot(strings.TrimSpace(p.Position))
	if !ValidSlot(slot) {
		addErr("position", "must be Long_1..Long_6 or ALL")
	}

	chartTS, tsErr := parseTimestamp(p.Timestamp)
	if tsErr != nil {
		addErr("timestamp", "must be ISO-8601")
	}

	required := map[string]*float64{
		"price": p.Price, "stop": p.Stop, "atr": p.ATR, "er": p.ER, "supertrend": p.Supertrend,
	}
	for name, v := range required {
		if v == nil {
			addErr(name, "required")
		}
	}
	if p.Lots == nil {
		addErr("lots", "required")
	}

	if len(fields) > 0 {
		return nil, &ParseError{Fields: fields}
	}

	sig := &Signal{
		ReceivedAt:    receivedAt,
		ChartTS:       chartTS,
		Kind:          kind,
		Instrument:    inst,
		Slot:          slot,
		Price:         *p.Price,
		Stop:          *p.Stop,
		SuggestedLots: *p.Lots,
		ATR:           *p.ATR,
		ER:            *p.ER,
		Supertrend:    *p.Supertrend,
		Reason:        strings.TrimSpace(p.Reason),
	}
	if p.ROC != nil {
		sig.ROC = *p.ROC
	}
	if p.Highest != nil {
		sig.Highest = *p.Highest
	}

	if err := sig.CheckInvariants(); err != nil {
		return nil, err
	}
	return sig, nil
}

// CheckInvariants enforces the structural rules on a decoded signal
func (s *Signal) CheckInvariants() error {
	var fields []FieldError

	switch s.Kind {
	case KindExit:
		if s.Reason == "" {
			fields = append(fields, FieldError{Field: "reason", Reason: "required for EXIT signals"})
		}
	case KindBaseEntry, KindPyramid:
		if s.Price <= 0 {
			fields = append(fields, FieldError{Field: "price", Reason: "must be positive"})
		}
		if s.Stop <= 0 {
			fields = append(fields, FieldError{Field: "stop", Reason: "must be positive"})
		}
		if s.Stop >= s.Price {
			fields = append(fields, FieldError{Field: "stop", Reason: "must be below price for long slots"})
		}
		if s.ATR <= 0 {
			fields = append(fields, FieldError{Field: "atr", Reason: "must be positive"})
		}
		if s.Slot == SlotAll {
			fields = append(fields, FieldError{Field: "position", Reason: "entries require a specific slot"})
		}
	}

	if len(fields) > 0 {
		return &ParseError{Fields: fields}
	}
	return nil
}

// Age returns how long after chart generation the signal arrived
func (s *Signal) Age() time.Duration {
	return s.ReceivedAt.Sub(s.ChartTS)
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339}
	for _, l := range layouts {
		if t, err := time.Parse(l, raw); err == nil {
			return t, nil
		}
	}
	// Naive timestamps are business-local
	naive := []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"}
	for _, l := range naive {
		if t, err := time.ParseInLocation(l, raw, clock.IST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
