package risk

import (
	"nse-trading-bot/internal/logging"
	"nse-trading-bot/internal/portfolio"
)

// StopUpdate reports the outcome of one trailing-stop evaluation
type StopUpdate struct {
	PositionID   string  `json:"position_id"`
	OldStop      float64 `json:"old_stop"`
	NewStop      float64 `json:"new_stop"`
	HighestClose float64 `json:"highest_close"`
	Raised       bool    `json:"raised"`
	StopHit      bool    `json:"stop_hit"`
	TriggerPrice float64 `json:"trigger_price,omitempty"`
}

// StopManager maintains per-position ATR trailing stops. Stops ratchet
// only upward: the trailing level follows the highest close, and the
// current stop is the max of itself and the trailing level.
type StopManager struct {
	state *portfolio.State
	log   *logging.Logger
}

// NewStopManager creates a stop manager over the portfolio aggregate
func NewStopManager(state *portfolio.State, log *logging.Logger) *StopManager {
	return &StopManager{state: state, log: log.WithComponent("stops")}
}

// InitialStop computes the entry stop for a new position
func InitialStop(entry, atr, initialATRMult float64) float64 {
	return entry - initialATRMult*atr
}

// Update evaluates the trailing stop for one position against a price tick.
// Idempotent: the same (price, atr) pair yields the same state.
func (m *StopManager) Update(pos *portfolio.Position, price, atr, trailingATRMult float64) StopUpdate {
	upd := StopUpdate{
		PositionID:   pos.ID,
		OldStop:      pos.CurrentStop,
		NewStop:      pos.CurrentStop,
		HighestClose: pos.HighestClose,
	}

	if price < pos.CurrentStop {
		upd.StopHit = true
		upd.TriggerPrice = price
		return upd
	}

	if price > upd.HighestClose {
		upd.HighestClose = price
	}
	trailing := upd.HighestClose - trailingATRMult*atr
	if trailing > upd.NewStop {
		upd.NewStop = trailing
		upd.Raised = true
	}

	if upd.Raised || upd.HighestClose > pos.HighestClose {
		if err := m.state.UpdateStop(pos.ID, upd.NewStop, upd.HighestClose); err != nil {
			m.log.Error("stop update failed", "position_id", pos.ID, "error", err)
		} else if upd.Raised {
			m.log.Info("trailing stop raised",
				"position_id", pos.ID,
				"instrument", string(pos.Instrument),
				"old_stop", upd.OldStop,
				"new_stop", upd.NewStop,
				"highest_close", upd.HighestClose)
		}
	}
	return upd
}

// StopHit reports whether the price has crossed below the current stop
func StopHit(pos *portfolio.Position, price float64) bool {
	return price < pos.CurrentStop
}
