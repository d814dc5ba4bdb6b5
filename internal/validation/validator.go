package validation

import (
	"fmt"
	"math"
	"time"

	"nse-trading-bot/internal/portfolio"
	"nse-trading-bot/internal/signals"
)

// Severity classifies a signal's age at validation time
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityElevated Severity = "elevated"
	SeverityStale    Severity = "stale"
)

// Action is the execution-stage decision
type Action string

const (
	ActionAccept Action = "accept"
	ActionResize Action = "resize"
	ActionReject Action = "reject"
	ActionBypass Action = "bypass"
)

// Config holds the shared validation thresholds. Divergences and risk
// increases are percentages.
type Config struct {
	WarningThresholdPct   float64
	BaseEntryMaxDivPct    float64
	PyramidMaxDivPct      float64
	ExitMaxDivPct         float64
	ElevatedMaxDivPct     float64
	MaxRiskIncreasePct    float64
	AllowResize           bool
	MinLotsAfterAdjust    int
	RejectChaseForPyramid bool
	WarningAge            time.Duration
	ElevatedAge           time.Duration
	StaleAge              time.Duration
}

// ConditionResult is the pre-broker validation outcome
type ConditionResult struct {
	OK       bool     `json:"ok"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason,omitempty"`
}

// ExecutionResult is the post-quote validation outcome
type ExecutionResult struct {
	Action            Action  `json:"action"`
	Reason            string  `json:"reason,omitempty"`
	DivergencePct     float64 `json:"divergence_pct"`
	RiskIncreasePct   float64 `json:"risk_increase_pct"`
	AdjustedLots      int     `json:"adjusted_lots,omitempty"`
	FavorableSlippage bool    `json:"favorable_slippage,omitempty"`
	Bypassed          bool    `json:"bypassed,omitempty"`
}

// Validator performs the two-stage signal validation
type Validator struct {
	cfg Config
}

// NewValidator creates a validator
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// AgeSeverity buckets a signal's chart-to-receipt latency
func (v *Validator) AgeSeverity(age time.Duration) Severity {
	switch {
	case age >= v.cfg.StaleAge:
		return SeverityStale
	case age >= v.cfg.ElevatedAge:
		return SeverityElevated
	case age >= v.cfg.WarningAge:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}

// ValidateCondition runs the pre-broker checks: structural invariants,
// age bucket, and slot validity against the instrument's open positions.
func (v *Validator) ValidateCondition(sig *signals.Signal, open []*portfolio.Position) ConditionResult {
	res := ConditionResult{Severity: v.AgeSeverity(sig.Age())}

	if err := sig.CheckInvariants(); err != nil {
		res.Reason = err.Error()
		return res
	}

	slotTaken := func(slot signals.Slot) *portfolio.Position {
		for _, p := range open {
			if p.Slot == slot {
				return p
			}
		}
		return nil
	}

	switch sig.Kind {
	case signals.KindBaseEntry:
		if len(open) > 0 {
			res.Reason = fmt.Sprintf("base entry but %s already has %d open position(s)", sig.Instrument, len(open))
			return res
		}
	case signals.KindPyramid:
		if len(open) == 0 {
			res.Reason = "pyramid without a base position"
			return res
		}
		if p := slotTaken(sig.Slot); p != nil {
			res.Reason = fmt.Sprintf("slot %s already occupied by position %s", sig.Slot, p.ID)
			return res
		}
	case signals.KindExit:
		if sig.Slot != signals.SlotAll && slotTaken(sig.Slot) == nil {
			res.Reason = fmt.Sprintf("exit for slot %s with no matching open position", sig.Slot)
			return res
		}
		if sig.Slot == signals.SlotAll && len(open) == 0 {
			res.Reason = "exit-all with no open positions"
			return res
		}
	}

	res.OK = true
	return res
}

// kindDivLimit returns the unfavourable divergence limit for a signal kind
func (v *Validator) kindDivLimit(kind signals.Kind) float64 {
	switch kind {
	case signals.KindPyramid:
		return v.cfg.PyramidMaxDivPct
	case signals.KindExit, signals.KindEODMonitor:
		return v.cfg.ExitMaxDivPct
	default:
		return v.cfg.BaseEntryMaxDivPct
	}
}

// ValidateExecution compares the signal against the live broker price and
// applies the decision matrix: accept, resize, reject, or bypass.
// brokerLTP <= 0 means the quote was unavailable after retries.
func (v *Validator) ValidateExecution(sig *signals.Signal, brokerLTP float64, severity Severity) ExecutionResult {
	if brokerLTP <= 0 {
		// Broker price unavailable: proceed on the signal price and flag it
		return ExecutionResult{Action: ActionBypass, Bypassed: true, Reason: "broker price unavailable after retries"}
	}

	res := ExecutionResult{Action: ActionAccept}
	res.DivergencePct = (brokerLTP - sig.Price) / sig.Price * 100

	// Long slots: a broker price below the signal price is favourable
	favourable := res.DivergencePct < 0
	if sig.Kind == signals.KindExit || sig.Kind == signals.KindEODMonitor {
		favourable = res.DivergencePct > 0
	}

	absDiv := math.Abs(res.DivergencePct)
	limit := v.kindDivLimit(sig.Kind)

	if severity == SeverityStale && absDiv > v.cfg.ElevatedMaxDivPct {
		res.Action = ActionReject
		res.Reason = fmt.Sprintf("stale signal with %.3f%% divergence", res.DivergencePct)
		return res
	}

	if absDiv <= v.cfg.WarningThresholdPct {
		return res
	}

	if favourable {
		if absDiv <= limit {
			res.FavorableSlippage = true
			return res
		}
		// Even favourable moves beyond the kind limit mean the chart and
		// the market disagree too much to trust the stop geometry.
		res.Action = ActionReject
		res.Reason = fmt.Sprintf("divergence %.3f%% beyond %s limit %.3f%%", res.DivergencePct, sig.Kind, limit)
		return res
	}

	if absDiv > limit {
		res.Action = ActionReject
		res.Reason = fmt.Sprintf("divergence_too_high: %.3f%% > %.3f%%", res.DivergencePct, limit)
		return res
	}

	// Unfavourable but within the divergence limit: check risk geometry
	if sig.Kind == signals.KindBaseEntry || sig.Kind == signals.KindPyramid {
		signalRisk := sig.Price - sig.Stop
		brokerRisk := brokerLTP - sig.Stop
		if signalRisk > 0 {
			res.RiskIncreasePct = (brokerRisk/signalRisk - 1) * 100
		}

		if sig.Kind == signals.KindPyramid && v.cfg.RejectChaseForPyramid &&
			res.RiskIncreasePct > v.cfg.MaxRiskIncreasePct {
			res.Action = ActionReject
			res.Reason = fmt.Sprintf("chase: price surged %.3f%% ahead of pyramid signal", res.DivergencePct)
			return res
		}

		if res.RiskIncreasePct > v.cfg.MaxRiskIncreasePct {
			if !v.cfg.AllowResize {
				res.Action = ActionReject
				res.Reason = fmt.Sprintf("risk increase %.2f%% above %.2f%%", res.RiskIncreasePct, v.cfg.MaxRiskIncreasePct)
				return res
			}
			// Shrink lots so rupee risk at the broker price does not exceed
			// the rupee risk the signal priced in.
			adjusted := int(math.Floor(float64(sig.SuggestedLots) * signalRisk / brokerRisk))
			if adjusted < v.cfg.MinLotsAfterAdjust {
				adjusted = v.cfg.MinLotsAfterAdjust
			}
			if adjusted < sig.SuggestedLots {
				res.Action = ActionResize
				res.AdjustedLots = adjusted
				res.Reason = fmt.Sprintf("resized %d -> %d lots for %.2f%% risk increase",
					sig.SuggestedLots, adjusted, res.RiskIncreasePct)
			}
		}
	}

	return res
}
