package risk

import (
	"fmt"
	"strings"

	"nse-trading-bot/internal/instrument"
	"nse-trading-bot/internal/portfolio"
	"nse-trading-bot/internal/signals"
)

// PyramidConfig holds the gate thresholds
type PyramidConfig struct {
	ATRSpacing   float64 // Min ATR multiples since the last pyramid entry
	RiskBlockPct float64 // Projected portfolio risk ceiling
	VolBlockPct  float64 // Projected portfolio volatility ceiling
}

// GateResult reports each gate's computation and any failing predicates
type GateResult struct {
	Allowed          bool     `json:"allowed"`
	PriceMoveR       float64  `json:"price_move_r"`
	ATRSpacing       float64  `json:"atr_spacing"`
	ProjectedRiskPct float64  `json:"projected_risk_pct"`
	ProjectedVolPct  float64  `json:"projected_vol_pct"`
	InstrumentPnL    float64  `json:"instrument_pnl"`
	Failed           []string `json:"failed,omitempty"`
}

// Reason joins the failing predicates for audit and reply payloads
func (r GateResult) Reason() string {
	return strings.Join(r.Failed, "; ")
}

// PyramidGate decides whether a pyramid entry is admissible. Three
// independent predicates must all hold: the instrument gate (1R move and
// ATR spacing), the portfolio gate (projected risk and volatility), and
// the profit gate (instrument position set in aggregate profit).
type PyramidGate struct {
	cfg PyramidConfig
}

// NewPyramidGate creates a pyramid gate
func NewPyramidGate(cfg PyramidConfig) *PyramidGate {
	if cfg.ATRSpacing == 0 {
		cfg.ATRSpacing = 0.5
	}
	if cfg.RiskBlockPct == 0 {
		cfg.RiskBlockPct = 12
	}
	if cfg.VolBlockPct == 0 {
		cfg.VolBlockPct = 4
	}
	return &PyramidGate{cfg: cfg}
}

// Check evaluates all three gates for a pyramid signal. estimate is a
// conservative lot estimate used for the portfolio projection.
func (g *PyramidGate) Check(sig *signals.Signal, snap *portfolio.Snapshot,
	open []*portfolio.Position, cfg *instrument.Config, estimate SizingResult) GateResult {

	res := GateResult{}

	if len(open) == 0 {
		res.Failed = append(res.Failed, "no base position for instrument")
		return res
	}
	base := open[0]
	last := open[len(open)-1]

	// Instrument gate: price must have advanced one initial risk unit from
	// the base entry and cleared the ATR spacing from the last entry.
	initialRisk := base.EntryPrice - base.InitialStop
	if initialRisk > 0 {
		res.PriceMoveR = (sig.Price - base.EntryPrice) / initialRisk
	}
	if sig.ATR > 0 {
		res.ATRSpacing = (sig.Price - last.EntryPrice) / sig.ATR
	}
	if res.PriceMoveR <= 1 {
		res.Failed = append(res.Failed, fmt.Sprintf("price move %.2fR has not cleared 1R", res.PriceMoveR))
	}
	if res.ATRSpacing < g.cfg.ATRSpacing {
		res.Failed = append(res.Failed,
			fmt.Sprintf("atr spacing %.2f below %.2f", res.ATRSpacing, g.cfg.ATRSpacing))
	}

	if len(open) >= cfg.MaxPyramids+1 {
		res.Failed = append(res.Failed,
			fmt.Sprintf("pyramid count %d at instrument limit %d", len(open)-1, cfg.MaxPyramids))
	}

	// Portfolio gate: project risk and volatility with the estimated lots
	addRisk := estimate.RiskAmount
	addVol := sig.ATR * cfg.PointValue * float64(estimate.FinalLots*cfg.LotSize)
	if snap.Equity > 0 {
		res.ProjectedRiskPct = (snap.TotalRiskAmount + addRisk) / snap.Equity * 100
		res.ProjectedVolPct = (snap.TotalVolAmount + addVol) / snap.Equity * 100
	}
	if res.ProjectedRiskPct > g.cfg.RiskBlockPct {
		res.Failed = append(res.Failed,
			fmt.Sprintf("projected risk %.2f%% above %.2f%%", res.ProjectedRiskPct, g.cfg.RiskBlockPct))
	}
	if res.ProjectedVolPct > g.cfg.VolBlockPct {
		res.Failed = append(res.Failed,
			fmt.Sprintf("projected volatility %.2f%% above %.2f%%", res.ProjectedVolPct, g.cfg.VolBlockPct))
	}

	// Profit gate: the instrument's open positions must be net profitable
	for _, p := range open {
		res.InstrumentPnL += p.UnrealizedPnL
	}
	if res.InstrumentPnL <= 0 {
		res.Failed = append(res.Failed,
			fmt.Sprintf("instrument unrealized pnl %.2f not positive", res.InstrumentPnL))
	}

	res.Allowed = len(res.Failed) == 0
	return res
}
