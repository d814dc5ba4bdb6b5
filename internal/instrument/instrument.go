package instrument

import (
	"fmt"
	"strings"
	"time"

	"nse-trading-bot/internal/clock"
)

// Instrument identifies a tradeable underlying
type Instrument string

const (
	BankNifty  Instrument = "BANK_NIFTY"
	Nifty      Instrument = "NIFTY"
	Sensex     Instrument = "SENSEX"
	GoldMini   Instrument = "GOLD_MINI"
	SilverMini Instrument = "SILVER_MINI"
)

// Parse converts an inbound instrument string (case-insensitive)
func Parse(s string) (Instrument, error) {
	switch Instrument(strings.ToUpper(strings.TrimSpace(s))) {
	case BankNifty:
		return BankNifty, nil
	case Nifty:
		return Nifty, nil
	case Sensex:
		return Sensex, nil
	case GoldMini:
		return GoldMini, nil
	case SilverMini:
		return SilverMini, nil
	}
	return "", fmt.Errorf("unsupported instrument: %q", s)
}

// LotSizeRevision is a dated lot-size change. Exchanges revise lot sizes;
// the revision effective on the entry date wins over the static default.
type LotSizeRevision struct {
	Effective time.Time // IST date the new lot size applies from
	LotSize   int
}

// Config holds the static per-instrument trading parameters
type Config struct {
	Instrument      Instrument
	Exchange        clock.Exchange
	LotSize         int     // Default lot size
	LotSizeHistory  []LotSizeRevision
	PointValue      float64 // Rupees per point per lot unit
	MarginPerLot    float64
	InitialRiskPct  float64 // Equity % risked per entry
	OngoingRiskPct  float64
	InitialVolPct   float64 // Equity % allocated per ATR unit
	OngoingVolPct   float64
	InitialATRMult  float64 // Initial stop distance in ATRs
	TrailingATRMult float64 // Trailing stop distance in ATRs
	MaxPyramids     int
	StrikeInterval  float64 // Option strike spacing
	TickSize        float64
}

// LotSizeOn returns the lot size effective on the given date.
// Dated revisions take precedence over the static default.
func (c *Config) LotSizeOn(date time.Time) int {
	size := c.LotSize
	d := date.In(clock.IST)
	for _, rev := range c.LotSizeHistory {
		if !d.Before(rev.Effective.In(clock.IST)) {
			size = rev.LotSize
		}
	}
	return size
}

// Registry resolves instrument configuration
type Registry struct {
	configs map[Instrument]*Config
}

// NewRegistry returns a registry seeded with the supported instrument set
func NewRegistry() *Registry {
	return &Registry{configs: map[Instrument]*Config{
		BankNifty: {
			Instrument: BankNifty, Exchange: clock.ExchangeNFO,
			LotSize: 30,
			LotSizeHistory: []LotSizeRevision{
				{Effective: time.Date(2024, 4, 26, 0, 0, 0, 0, clock.IST), LotSize: 15},
				{Effective: time.Date(2025, 4, 25, 0, 0, 0, 0, clock.IST), LotSize: 30},
			},
			PointValue: 1, MarginPerLot: 270000,
			InitialRiskPct: 0.5, OngoingRiskPct: 0.5,
			InitialVolPct: 0.5, OngoingVolPct: 0.5,
			InitialATRMult: 1.0, TrailingATRMult: 3.0,
			MaxPyramids: 5, StrikeInterval: 500, TickSize: 0.05,
		},
		Nifty: {
			Instrument: Nifty, Exchange: clock.ExchangeNFO,
			LotSize: 75, PointValue: 1, MarginPerLot: 180000,
			InitialRiskPct: 0.5, OngoingRiskPct: 0.5,
			InitialVolPct: 0.5, OngoingVolPct: 0.5,
			InitialATRMult: 1.0, TrailingATRMult: 3.0,
			MaxPyramids: 5, StrikeInterval: 100, TickSize: 0.05,
		},
		Sensex: {
			Instrument: Sensex, Exchange: clock.ExchangeBFO,
			LotSize: 20, PointValue: 1, MarginPerLot: 200000,
			InitialRiskPct: 0.5, OngoingRiskPct: 0.5,
			InitialVolPct: 0.5, OngoingVolPct: 0.5,
			InitialATRMult: 1.0, TrailingATRMult: 3.0,
			MaxPyramids: 5, StrikeInterval: 100, TickSize: 0.05,
		},
		GoldMini: {
			Instrument: GoldMini, Exchange: clock.ExchangeMCX,
			LotSize: 1, PointValue: 10, MarginPerLot: 90000,
			InitialRiskPct: 0.5, OngoingRiskPct: 0.5,
			InitialVolPct: 0.5, OngoingVolPct: 0.5,
			InitialATRMult: 1.0, TrailingATRMult: 2.0,
			MaxPyramids: 4, StrikeInterval: 100, TickSize: 1,
		},
		SilverMini: {
			Instrument: SilverMini, Exchange: clock.ExchangeMCX,
			LotSize: 1, PointValue: 5, MarginPerLot: 75000,
			InitialRiskPct: 0.5, OngoingRiskPct: 0.5,
			InitialVolPct: 0.5, OngoingVolPct: 0.5,
			InitialATRMult: 1.0, TrailingATRMult: 2.0,
			MaxPyramids: 4, StrikeInterval: 100, TickSize: 1,
		},
	}}
}

// Get returns the configuration for an instrument
func (r *Registry) Get(inst Instrument) (*Config, bool) {
	c, ok := r.configs[inst]
	return c, ok
}

// All returns every configured instrument
func (r *Registry) All() []*Config {
	out := make([]*Config, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	return out
}

// RoundToStrike rounds a spot price to the nearest strike interval.
// On an exact tie the higher multiple is preferred when preferRoundUp is set.
func RoundToStrike(spot, interval float64, preferRoundUp bool) float64 {
	if interval <= 0 {
		return spot
	}
	lower := float64(int64(spot/interval)) * interval
	upper := lower + interval
	dLow := spot - lower
	dHigh := upper - spot
	if dLow < dHigh {
		return lower
	}
	if dHigh < dLow {
		return upper
	}
	if preferRoundUp {
		return upper
	}
	return lower
}
