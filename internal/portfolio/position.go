package portfolio

import (
	"time"

	"nse-trading-bot/internal/instrument"
	"nse-trading-bot/internal/signals"
)

// Status is a position's lifecycle state
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusRolling Status = "rolling"
)

// Limiter names the binding constraint at sizing time
type Limiter string

const (
	LimiterRisk   Limiter = "RISK"
	LimiterVol    Limiter = "VOL"
	LimiterMargin Limiter = "MARGIN"
)

// Position is one executed exposure. Positions are owned exclusively by
// State; callers outside this package only ever see copies.
type Position struct {
	ID             string                `json:"id"`
	Instrument     instrument.Instrument `json:"instrument"`
	Slot           signals.Slot          `json:"slot"`
	EntryTime      time.Time             `json:"entry_time"`
	EntryPrice     float64               `json:"entry_price"`
	Lots           int                   `json:"lots"`
	Quantity       int                   `json:"quantity"` // lots x lot_size at entry date
	InitialStop    float64               `json:"initial_stop"`
	CurrentStop    float64               `json:"current_stop"`
	HighestClose   float64               `json:"highest_close"`
	LastPrice      float64               `json:"last_price"`
	ATRAtEntry     float64               `json:"atr_at_entry"`
	PointValue     float64               `json:"point_value"`
	Status         Status                `json:"status"`
	RealizedPnL    float64               `json:"realized_pnl"`
	UnrealizedPnL  float64               `json:"unrealized_pnl"`
	LimiterAtEntry Limiter               `json:"limiter_at_entry"`
	Expiry         time.Time             `json:"expiry,omitempty"`
	ContractMonth  string                `json:"contract_month,omitempty"`
	// ATM strike of the synthetic pair, zero for futures positions
	SyntheticStrike float64 `json:"synthetic_strike,omitempty"`
	// Set after a failed rollback so the boot integrity check surfaces it
	IntegritySuspect bool      `json:"integrity_suspect,omitempty"`
	ExitTime         time.Time `json:"exit_time,omitempty"`
	ExitPrice        float64   `json:"exit_price,omitempty"`
}

// OpenRisk is the rupee loss if the position stops out from its last price
func (p *Position) OpenRisk() float64 {
	ref := p.LastPrice
	if ref == 0 {
		ref = p.EntryPrice
	}
	risk := (ref - p.CurrentStop) * float64(p.Quantity) * p.PointValue
	if risk < 0 {
		return 0
	}
	return risk
}

// VolExposure is the rupee swing of one ATR move
func (p *Position) VolExposure() float64 {
	return p.ATRAtEntry * float64(p.Quantity) * p.PointValue
}

func (p *Position) clone() *Position {
	c := *p
	return &c
}
