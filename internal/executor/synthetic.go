package executor

import (
	"context"
	"fmt"

	"nse-trading-bot/internal/broker"
)

// SyntheticState is the two-leg state machine state
type SyntheticState string

const (
	SynNew            SyntheticState = "NEW"
	SynLeg1Pending    SyntheticState = "L1_PENDING"
	SynLeg1Filled     SyntheticState = "L1_FILLED"
	SynLeg2Pending    SyntheticState = "L2_PENDING"
	SynComplete       SyntheticState = "COMPLETE"
	SynAbortNoLeg     SyntheticState = "ABORT_NO_LEG"
	SynRollback       SyntheticState = "ROLLBACK"
	SynRolledBack     SyntheticState = "ROLLED_BACK"
	SynRollbackFailed SyntheticState = "ROLLBACK_FAILED"
)

// Terminal reports whether the state machine has finished
func (s SyntheticState) Terminal() bool {
	switch s {
	case SynComplete, SynAbortNoLeg, SynRolledBack, SynRollbackFailed:
		return true
	}
	return false
}

// SyntheticLeg records one leg of a synthetic execution
type SyntheticLeg struct {
	Symbol string             `json:"symbol"`
	Action broker.OrderAction `json:"action"`
	Fill   *Fill              `json:"fill,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// SyntheticRequest describes a two-leg synthetic futures order. An entry
// sells the ATM put and buys the ATM call; Exit reverses both actions.
type SyntheticRequest struct {
	Exchange string
	Product  string
	PESymbol string
	CESymbol string
	Strike   float64
	Quantity int
	Exit     bool
}

// SyntheticResult is the full record of a synthetic execution
type SyntheticResult struct {
	State  SyntheticState `json:"state"`
	Strike float64        `json:"strike"`
	PE     SyntheticLeg   `json:"pe"`
	CE     SyntheticLeg   `json:"ce"`
}

// ExecuteSynthetic drives the two-leg state machine. The PE leg always
// goes first; if the CE leg then fails, the PE leg is closed at market.
// A failed rollback is the only path that leaves a naked leg, and it is
// reported as FailRollbackFailed so the caller can escalate.
func (e *Executor) ExecuteSynthetic(ctx context.Context, req SyntheticRequest, peRef, ceRef float64) (*SyntheticResult, error) {
	peAction, ceAction := broker.ActionSell, broker.ActionBuy
	if req.Exit {
		peAction, ceAction = broker.ActionBuy, broker.ActionSell
	}

	res := &SyntheticResult{
		State:  SynNew,
		Strike: req.Strike,
		PE:     SyntheticLeg{Symbol: req.PESymbol, Action: peAction},
		CE:     SyntheticLeg{Symbol: req.CESymbol, Action: ceAction},
	}

	log := e.log.With().Float64("strike", req.Strike).Bool("exit", req.Exit).Logger()

	// Leg 1: PE
	res.State = SynLeg1Pending
	peFill, err := e.Execute(ctx, broker.OrderRequest{
		Symbol:   req.PESymbol,
		Exchange: req.Exchange,
		Product:  req.Product,
		Action:   peAction,
		Quantity: req.Quantity,
	}, peRef)
	res.PE.Fill = peFill
	if err != nil || !peFill.Complete() {
		if err != nil {
			res.PE.Error = err.Error()
		}
		if peFill != nil && peFill.FilledQty > 0 {
			// Partial PE leg: treat like a filled leg and roll it back
			return e.rollbackLeg1(ctx, req, res, peAction, peFill.FilledQty, err)
		}
		res.State = SynAbortNoLeg
		log.Warn().Str("pe", req.PESymbol).Msg("synthetic aborted before any leg filled")
		if err == nil {
			err = &ExecError{Kind: FailOrderRejected, Err: fmt.Errorf("pe leg %s did not fill", req.PESymbol)}
		}
		return res, err
	}
	res.State = SynLeg1Filled

	// Leg 2: CE
	res.State = SynLeg2Pending
	ceFill, err := e.Execute(ctx, broker.OrderRequest{
		Symbol:   req.CESymbol,
		Exchange: req.Exchange,
		Product:  req.Product,
		Action:   ceAction,
		Quantity: req.Quantity,
	}, ceRef)
	res.CE.Fill = ceFill
	if err != nil || !ceFill.Complete() {
		if err != nil {
			res.CE.Error = err.Error()
		}
		return e.rollbackLeg1(ctx, req, res, peAction, peFill.FilledQty, err)
	}

	res.State = SynComplete
	log.Info().Str("pe", req.PESymbol).Str("ce", req.CESymbol).
		Int("qty", req.Quantity).Msg("synthetic execution complete")
	return res, nil
}

// rollbackLeg1 closes the filled PE leg at market after a leg-2 failure
func (e *Executor) rollbackLeg1(ctx context.Context, req SyntheticRequest,
	res *SyntheticResult, peAction broker.OrderAction, filledQty int, cause error) (*SyntheticResult, error) {

	res.State = SynRollback
	e.log.Warn().Str("pe", req.PESymbol).Int("qty", filledQty).
		Msg("rolling back filled leg at market")

	rollback, err := e.ExecuteMarket(ctx, broker.OrderRequest{
		Symbol:   req.PESymbol,
		Exchange: req.Exchange,
		Product:  req.Product,
		Action:   peAction.Opposite(),
		Quantity: filledQty,
	})
	if err != nil || !rollback.Complete() {
		res.State = SynRollbackFailed
		e.log.Error().Str("pe", req.PESymbol).Err(err).
			Msg("rollback failed, naked leg remains")
		return res, &ExecError{Kind: FailRollbackFailed,
			Err: fmt.Errorf("leg2 failed (%v) and rollback of %s failed (%v)", cause, req.PESymbol, err)}
	}

	res.State = SynRolledBack
	if cause == nil {
		cause = &ExecError{Kind: FailOrderRejected, Err: fmt.Errorf("ce leg %s did not fill", req.CESymbol)}
	}
	return res, cause
}
