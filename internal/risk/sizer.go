package risk

import (
	"math"

	"nse-trading-bot/internal/instrument"
	"nse-trading-bot/internal/portfolio"
)

// SizingResult reports the three candidate lot counts and the binding limiter
type SizingResult struct {
	RiskLots   int               `json:"risk_lots"`
	VolLots    int               `json:"vol_lots"`
	MarginLots int               `json:"margin_lots"`
	FinalLots  int               `json:"final_lots"`
	Limiter    portfolio.Limiter `json:"limiter"`
	RiskAmount float64           `json:"risk_amount"` // Rupees at risk for FinalLots
}

// Sizer computes position size under the triple-constraint rule:
// risk budget, volatility budget and margin budget each yield a lot count
// and the minimum binds.
type Sizer struct {
	maxMarginUtilPct float64
}

// NewSizer creates a position sizer
func NewSizer(maxMarginUtilPct float64) *Sizer {
	if maxMarginUtilPct == 0 {
		maxMarginUtilPct = 80
	}
	return &Sizer{maxMarginUtilPct: maxMarginUtilPct}
}

// Size computes the lot count for an entry. equity is the sizing equity,
// availableMargin the broker's free margin, and riskPct/volPct come from
// the instrument config (initial or ongoing depending on signal kind).
func (s *Sizer) Size(entry, stop, atr float64, equity, availableMargin float64,
	cfg *instrument.Config, riskPct, volPct float64) SizingResult {

	res := SizingResult{}

	riskPerLot := math.Abs(entry-stop) * cfg.PointValue * float64(cfg.LotSize)
	if riskPerLot > 0 {
		res.RiskLots = int(math.Floor(equity * riskPct / 100 / riskPerLot))
	}

	volPerLot := atr * cfg.PointValue * float64(cfg.LotSize)
	if volPerLot > 0 {
		res.VolLots = int(math.Floor(equity * volPct / 100 / volPerLot))
	}

	if cfg.MarginPerLot > 0 {
		res.MarginLots = int(math.Floor(availableMargin * s.maxMarginUtilPct / 100 / cfg.MarginPerLot))
	}

	// Minimum binds; ties resolve RISK > VOL > MARGIN
	res.FinalLots = res.RiskLots
	res.Limiter = portfolio.LimiterRisk
	if res.VolLots < res.FinalLots {
		res.FinalLots = res.VolLots
		res.Limiter = portfolio.LimiterVol
	}
	if res.MarginLots < res.FinalLots {
		res.FinalLots = res.MarginLots
		res.Limiter = portfolio.LimiterMargin
	}
	if res.FinalLots < 0 {
		res.FinalLots = 0
	}

	res.RiskAmount = float64(res.FinalLots) * riskPerLot
	return res
}
