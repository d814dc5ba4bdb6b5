package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nse-trading-bot/internal/broker"
	"nse-trading-bot/internal/circuit"
	"nse-trading-bot/internal/clock"
	"nse-trading-bot/internal/confirm"
	"nse-trading-bot/internal/database"
	"nse-trading-bot/internal/dedup"
	"nse-trading-bot/internal/events"
	"nse-trading-bot/internal/executor"
	"nse-trading-bot/internal/instrument"
	"nse-trading-bot/internal/logging"
	"nse-trading-bot/internal/portfolio"
	"nse-trading-bot/internal/risk"
	"nse-trading-bot/internal/signals"
	"nse-trading-bot/internal/validation"
)

// Config holds engine tuning
type Config struct {
	QuoteRetries        int             // Broker quote attempts before price bypass
	QuoteBackoffs       []time.Duration // Wait before each retry
	QuoteTimeout        time.Duration
	MaxRiskPct          float64 // Portfolio hard cap, pre-checked before execution
	PreferStrikeRoundUp bool    // ATM tie-break preference
	Product             string
}

// Engine runs the nine-step signal pipeline: dedupe, validate, gate,
// size, admit, execute, audit.
type Engine struct {
	cfg      Config
	detector *dedup.Detector
	valid    *validation.Validator
	sizer    *risk.Sizer
	gate     *risk.PyramidGate
	stops    *risk.StopManager
	state    *portfolio.State
	registry *instrument.Registry
	gw       broker.Gateway
	cache    *broker.AccountCache
	exec     *executor.Executor
	confirms *confirm.Bus
	breaker  *circuit.Breaker
	audit    AuditSink
	store    PositionStore
	orders   OrderLog
	bus      *events.Bus
	clk      clock.Clock
	log      *logging.Logger

	stats Stats
}

// Stats are lifetime pipeline counters, reported on the status endpoint
type Stats struct {
	SignalsIn  uint64 `json:"signals_in"`
	Duplicates uint64 `json:"duplicates"`
	Rejections uint64 `json:"rejections"`
	Blocks     uint64 `json:"blocks"`
	Executions uint64 `json:"executions"`
	Errors     uint64 `json:"errors"`
}

// Deps bundles the engine's collaborators
type Deps struct {
	Detector  *dedup.Detector
	Validator *validation.Validator
	Sizer     *risk.Sizer
	Gate      *risk.PyramidGate
	Stops     *risk.StopManager
	State     *portfolio.State
	Registry  *instrument.Registry
	Gateway   broker.Gateway
	Cache     *broker.AccountCache
	Executor  *executor.Executor
	Confirms  *confirm.Bus
	Breaker   *circuit.Breaker
	Audit     AuditSink
	Store     PositionStore
	Orders    OrderLog
	Bus       *events.Bus
	Clock     clock.Clock
	Log       *logging.Logger
}

// New creates a signal engine
func New(cfg Config, d Deps) *Engine {
	if cfg.QuoteRetries == 0 {
		cfg.QuoteRetries = 3
	}
	if len(cfg.QuoteBackoffs) == 0 {
		cfg.QuoteBackoffs = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 5 * time.Second
	}
	if cfg.MaxRiskPct == 0 {
		cfg.MaxRiskPct = 15
	}
	if cfg.Product == "" {
		cfg.Product = "NRML"
	}
	return &Engine{
		cfg:      cfg,
		detector: d.Detector,
		valid:    d.Validator,
		sizer:    d.Sizer,
		gate:     d.Gate,
		stops:    d.Stops,
		state:    d.State,
		registry: d.Registry,
		gw:       d.Gateway,
		cache:    d.Cache,
		exec:     d.Executor,
		confirms: d.Confirms,
		breaker:  d.Breaker,
		audit:    d.Audit,
		store:    d.Store,
		orders:   d.Orders,
		bus:      d.Bus,
		clk:      d.Clock,
		log:      d.Log.WithComponent("engine"),
	}
}

// auditCtx accumulates the blobs that make up one audit record
type auditCtx struct {
	rec *signals.AuditRecord
}

func (e *Engine) newAudit(sig *signals.Signal) *auditCtx {
	return &auditCtx{rec: &signals.AuditRecord{
		ID:          uuid.New().String(),
		Signal:      sig,
		Fingerprint: sig.Fingerprint(),
		CreatedAt:   e.clk.Now(),
	}}
}

func (a *auditCtx) set(field *json.RawMessage, v interface{}) {
	if b, err := json.Marshal(v); err == nil {
		*field = b
	}
}

// finish writes the audit record and builds the engine result
func (e *Engine) finish(ctx context.Context, a *auditCtx, outcome signals.Outcome,
	auditOutcome signals.AuditOutcome, reason string) *signals.Result {

	switch outcome {
	case signals.OutcomeDuplicate:
		atomic.AddUint64(&e.stats.Duplicates, 1)
	case signals.OutcomeRejected:
		atomic.AddUint64(&e.stats.Rejections, 1)
	case signals.OutcomeBlocked:
		atomic.AddUint64(&e.stats.Blocks, 1)
	case signals.OutcomeExecuted, signals.OutcomeConfirmedOverride:
		atomic.AddUint64(&e.stats.Executions, 1)
	case signals.OutcomeError:
		atomic.AddUint64(&e.stats.Errors, 1)
	}

	a.rec.Outcome = auditOutcome
	a.rec.Reason = reason
	if err := e.audit.SaveAuditRecord(ctx, a.rec); err != nil {
		e.log.Error("audit write failed", "audit_id", a.rec.ID, "error", err)
	}
	e.bus.PublishSignalProcessed(string(a.rec.Signal.Instrument), string(a.rec.Signal.Kind),
		string(a.rec.Signal.Slot), string(outcome), reason)
	return &signals.Result{Outcome: outcome, Reason: reason, AuditID: a.rec.ID}
}

// Stats returns a copy of the lifetime counters
func (e *Engine) Stats() Stats {
	return Stats{
		SignalsIn:  atomic.LoadUint64(&e.stats.SignalsIn),
		Duplicates: atomic.LoadUint64(&e.stats.Duplicates),
		Rejections: atomic.LoadUint64(&e.stats.Rejections),
		Blocks:     atomic.LoadUint64(&e.stats.Blocks),
		Executions: atomic.LoadUint64(&e.stats.Executions),
		Errors:     atomic.LoadUint64(&e.stats.Errors),
	}
}

// Process runs one signal through the pipeline to a terminal outcome
func (e *Engine) Process(ctx context.Context, sig *signals.Signal) *signals.Result {
	atomic.AddUint64(&e.stats.SignalsIn, 1)
	a := e.newAudit(sig)
	log := e.log.WithField("instrument", string(sig.Instrument)).
		WithField("kind", string(sig.Kind)).
		WithField("slot", string(sig.Slot))

	// Step 1: duplicate detection
	if e.detector.IsDuplicate(sig) {
		log.Info("duplicate signal suppressed")
		return e.finish(ctx, a, signals.OutcomeDuplicate, signals.AuditDuplicate, "fingerprint seen within window")
	}

	cfg, ok := e.registry.Get(sig.Instrument)
	if !ok {
		e.detector.Forget(sig)
		return e.finish(ctx, a, signals.OutcomeRejected, signals.AuditRejectedValidation,
			fmt.Sprintf("unknown instrument %s", sig.Instrument))
	}

	// Circuit breaker blocks new exposure, never exits
	if sig.Kind == signals.KindBaseEntry || sig.Kind == signals.KindPyramid {
		if allowed, reason := e.breaker.CanEnter(e.clk.Now()); !allowed {
			e.detector.Forget(sig)
			return e.finish(ctx, a, signals.OutcomeBlocked, signals.AuditBlocked, reason)
		}
	}

	// Step 2: condition validation
	open := e.state.OpenByInstrument(sig.Instrument)
	cond := e.valid.ValidateCondition(sig, open)
	a.set(&a.rec.Validation, cond)
	if !cond.OK {
		e.detector.Forget(sig)
		log.Warn("condition validation failed", "reason", cond.Reason)
		return e.finish(ctx, a, signals.OutcomeRejected, signals.AuditRejectedValidation, cond.Reason)
	}

	switch sig.Kind {
	case signals.KindExit:
		return e.processExit(ctx, a, sig, cfg, open)
	case signals.KindEODMonitor:
		return e.processEODMonitor(ctx, a, sig, cfg, open)
	default:
		return e.processEntry(ctx, a, sig, cfg, open, cond)
	}
}

// fetchQuote retries the broker quote with backoff, returning 0 when every
// attempt failed so the caller can fall back to the signal price.
func (e *Engine) fetchQuote(ctx context.Context, cfg *instrument.Config, sig *signals.Signal) float64 {
	symbol := e.quoteSymbol(cfg, sig)
	for attempt := 0; attempt < e.cfg.QuoteRetries; attempt++ {
		qctx, cancel := context.WithTimeout(ctx, e.cfg.QuoteTimeout)
		quote, err := e.gw.Quote(qctx, symbol, string(cfg.Exchange))
		cancel()
		if err == nil && quote.LTP > 0 {
			e.breaker.RecordGatewaySuccess()
			return quote.LTP
		}
		e.breaker.RecordGatewayFailure(e.clk.Now())
		e.log.Warn("quote attempt failed", "symbol", symbol, "attempt", attempt+1, "error", err)

		if attempt < len(e.cfg.QuoteBackoffs) {
			select {
			case <-ctx.Done():
				return 0
			case <-time.After(e.cfg.QuoteBackoffs[attempt]):
			}
		}
	}
	return 0
}

// quoteSymbol picks the contract the engine prices against
func (e *Engine) quoteSymbol(cfg *instrument.Config, sig *signals.Signal) string {
	if cfg.Exchange == clock.ExchangeMCX {
		return instrument.FutureSymbol(sig.Instrument, instrument.NextMonthlyExpiry(e.clk.Now()))
	}
	return instrument.SpotSymbol(sig.Instrument)
}

// processEntry drives steps 3-9 for BASE_ENTRY and PYRAMID signals
func (e *Engine) processEntry(ctx context.Context, a *auditCtx, sig *signals.Signal,
	cfg *instrument.Config, open []*portfolio.Position, cond validation.ConditionResult) *signals.Result {

	snap := e.state.CurrentState()

	// Funds feed the margin limiter; a fetch failure sizes with zero margin
	var availableMargin float64
	if funds, err := e.cache.Funds(ctx); err == nil {
		availableMargin = funds.AvailableCash
		e.breaker.RecordGatewaySuccess()
	} else {
		e.breaker.RecordGatewayFailure(e.clk.Now())
		e.log.Warn("funds fetch failed, margin limiter sized at zero", "error", err)
	}

	riskPct, volPct := cfg.InitialRiskPct, cfg.InitialVolPct
	if sig.Kind == signals.KindPyramid {
		riskPct, volPct = cfg.OngoingRiskPct, cfg.OngoingVolPct
	}

	// Step 3: pyramid gate with a conservative estimate at the signal price
	if sig.Kind == signals.KindPyramid {
		estimate := e.sizer.Size(sig.Price, sig.Stop, sig.ATR, snap.Equity, availableMargin, cfg, riskPct, volPct)
		gate := e.gate.Check(sig, snap, open, cfg, estimate)
		a.set(&a.rec.Risk, gate)
		if !gate.Allowed {
			e.detector.Forget(sig)
			return e.finish(ctx, a, signals.OutcomeBlocked, signals.AuditBlocked, gate.Reason())
		}
	}

	// Step 4: broker price with retry, then bypass
	brokerLTP := e.fetchQuote(ctx, cfg, sig)

	// Step 5: execution validation
	exec := e.valid.ValidateExecution(sig, brokerLTP, cond.Severity)
	a.set(&a.rec.Validation, struct {
		Condition validation.ConditionResult `json:"condition"`
		Execution validation.ExecutionResult `json:"execution"`
	}{cond, exec})
	if exec.Action == validation.ActionReject {
		e.detector.Forget(sig)
		return e.finish(ctx, a, signals.OutcomeRejected, signals.AuditRejectedValidation, exec.Reason)
	}

	execPrice := brokerLTP
	if exec.Bypassed {
		execPrice = sig.Price
		e.log.Warn("executing on signal price, broker quote bypassed", "price", execPrice)
	}

	// Step 6: position sizing
	sizing := e.sizer.Size(execPrice, sig.Stop, sig.ATR, snap.Equity, availableMargin, cfg, riskPct, volPct)
	lots := sizing.FinalLots
	if sig.SuggestedLots > 0 && sig.SuggestedLots < lots {
		lots = sig.SuggestedLots
	}
	if exec.Action == validation.ActionResize && exec.AdjustedLots < lots {
		lots = exec.AdjustedLots
	}
	a.set(&a.rec.Sizing, sizing)

	forced := false
	if lots == 0 {
		decision := e.confirms.Ask(ctx, "zero_lots", map[string]interface{}{
			"instrument": string(sig.Instrument),
			"price":      execPrice,
			"stop":       sig.Stop,
			"limiter":    string(sizing.Limiter),
		}, []confirm.Option{
			{Action: "skip", Label: "Skip the signal", Default: true},
			{Action: "force_one_lot", Label: "Force one lot"},
		}, 0, "skip")

		if decision != "force_one_lot" {
			e.detector.Forget(sig)
			return e.finish(ctx, a, signals.OutcomeRejected, signals.AuditRejectedRisk,
				fmt.Sprintf("zero lots, %s limited", sizing.Limiter))
		}
		lots = 1
		forced = true
	}

	lotSize := cfg.LotSizeOn(e.clk.Now())
	quantity := lots * lotSize

	pos := &portfolio.Position{
		ID:             uuid.New().String(),
		Instrument:     sig.Instrument,
		Slot:           sig.Slot,
		EntryTime:      e.clk.Now(),
		EntryPrice:     execPrice,
		Lots:           lots,
		Quantity:       quantity,
		InitialStop:    sig.Stop,
		CurrentStop:    sig.Stop,
		HighestClose:   execPrice,
		ATRAtEntry:     sig.ATR,
		PointValue:     cfg.PointValue,
		Status:         portfolio.StatusOpen,
		LimiterAtEntry: sizing.Limiter,
	}

	// Step 7: portfolio admission pre-check against the snapshot
	projRisk := snap.TotalRiskAmount + pos.OpenRisk()
	if snap.Equity > 0 && projRisk/snap.Equity*100 > e.cfg.MaxRiskPct {
		e.detector.Forget(sig)
		return e.finish(ctx, a, signals.OutcomeBlocked, signals.AuditRejectedRisk,
			fmt.Sprintf("projected portfolio risk %.2f%% above %.2f%% cap",
				projRisk/snap.Equity*100, e.cfg.MaxRiskPct))
	}

	// Step 8: execution
	result := e.executeEntry(ctx, a, sig, cfg, pos, execPrice)
	if result != nil {
		return result
	}

	// Commit under the aggregate lock, re-validated by version
	if err := e.state.AddPosition(pos, snap.Version); err != nil {
		if err == portfolio.ErrStaleVersion {
			err = e.state.AddPosition(pos, 0)
		}
		if err != nil {
			// The broker position is real; force it into state and flag it
			e.state.Restore(pos)
			e.state.MarkIntegritySuspect(pos.ID)
			e.log.Error("post-fill admission failed, position flagged", "position_id", pos.ID, "error", err)
			e.confirms.Ask(ctx, "admission_conflict", map[string]interface{}{
				"position_id": pos.ID,
				"error":       err.Error(),
			}, []confirm.Option{
				{Action: "acknowledge", Label: "Acknowledge", Default: true},
			}, 0, "acknowledge")
		}
	}
	e.cache.Invalidate()
	e.persistPosition(ctx, pos)
	e.bus.PublishPositionOpened(string(sig.Instrument), pos.EntryPrice, pos.Lots, pos.CurrentStop)
	e.log.Info("position opened",
		"position_id", pos.ID,
		"entry", pos.EntryPrice,
		"lots", pos.Lots,
		"stop", pos.CurrentStop,
		"limiter", string(pos.LimiterAtEntry))

	if forced {
		return e.finish(ctx, a, signals.OutcomeConfirmedOverride, signals.AuditConfirmedOverride,
			"one lot forced by confirmation")
	}
	return e.finish(ctx, a, signals.OutcomeExecuted, signals.AuditProcessed, "")
}

// executeEntry runs the order leg(s). A nil return means the fill
// succeeded; otherwise the returned result is terminal.
func (e *Engine) executeEntry(ctx context.Context, a *auditCtx, sig *signals.Signal,
	cfg *instrument.Config, pos *portfolio.Position, execPrice float64) *signals.Result {

	if sig.Instrument == instrument.BankNifty {
		return e.executeSyntheticEntry(ctx, a, sig, cfg, pos, execPrice)
	}

	expiry := instrument.NextMonthlyExpiry(e.clk.Now())
	pos.Expiry = expiry
	pos.ContractMonth = expiry.Format("2006-01")

	req := broker.OrderRequest{
		Symbol:   instrument.FutureSymbol(sig.Instrument, expiry),
		Exchange: string(cfg.Exchange),
		Product:  e.cfg.Product,
		Action:   broker.ActionBuy,
		Quantity: pos.Quantity,
		Type:     broker.TypeLimit,
	}
	fill, err := e.exec.Execute(ctx, req, execPrice)
	a.set(&a.rec.Execution, fill)
	if err != nil {
		e.detector.Forget(sig)
		e.recordOrder(ctx, a.rec.ID, req, fill, "FAILED")
		kind := executor.Failure(err)
		e.log.Error("entry order failed", "failure", string(kind), "error", err)
		if kind == executor.FailPartialUnresolved {
			return e.finish(ctx, a, signals.OutcomeError, signals.AuditPartialFill, err.Error())
		}
		return e.finish(ctx, a, signals.OutcomeError, signals.AuditFailedOrder, err.Error())
	}
	e.recordOrder(ctx, a.rec.ID, req, fill, "COMPLETE")
	if fill.AvgPrice > 0 {
		pos.EntryPrice = fill.AvgPrice
		pos.HighestClose = fill.AvgPrice
	}
	return nil
}

// executeSyntheticEntry opens the two-leg option structure for Bank Nifty
func (e *Engine) executeSyntheticEntry(ctx context.Context, a *auditCtx, sig *signals.Signal,
	cfg *instrument.Config, pos *portfolio.Position, execPrice float64) *signals.Result {

	strike := instrument.RoundToStrike(execPrice, cfg.StrikeInterval, e.cfg.PreferStrikeRoundUp)
	expiry := instrument.NextMonthlyExpiry(e.clk.Now())
	pos.Expiry = expiry
	pos.ContractMonth = expiry.Format("2006-01")
	pos.SyntheticStrike = strike

	res, err := e.exec.ExecuteSynthetic(ctx, executor.SyntheticRequest{
		Exchange: string(cfg.Exchange),
		Product:  e.cfg.Product,
		PESymbol: instrument.OptionSymbol(sig.Instrument, expiry, strike, "PE"),
		CESymbol: instrument.OptionSymbol(sig.Instrument, expiry, strike, "CE"),
		Strike:   strike,
		Quantity: pos.Quantity,
	}, execPrice, execPrice)
	a.set(&a.rec.Execution, res)
	e.recordSyntheticLegs(ctx, a.rec.ID, cfg, res)

	if err != nil || res.State != executor.SynComplete {
		e.detector.Forget(sig)
		kind := executor.Failure(err)
		reason := "synthetic entry did not complete"
		if err != nil {
			reason = err.Error()
		}
		e.log.Error("synthetic entry failed", "state", string(res.State), "error", err)

		if res.State == executor.SynRollbackFailed {
			e.breaker.RecordRollbackFailure(e.clk.Now())
			e.confirms.Ask(ctx, "rollback_failed", map[string]interface{}{
				"instrument": string(sig.Instrument),
				"strike":     strike,
				"state":      string(res.State),
			}, []confirm.Option{
				{Action: "acknowledge", Label: "Acknowledge naked leg", Default: true},
			}, 0, "acknowledge")
			return e.finish(ctx, a, signals.OutcomeError, signals.AuditRollbackFailed, reason)
		}
		if kind == executor.FailPartialUnresolved {
			return e.finish(ctx, a, signals.OutcomeError, signals.AuditPartialFill, reason)
		}
		return e.finish(ctx, a, signals.OutcomeError, signals.AuditFailedOrder, reason)
	}
	return nil
}

// processExit closes the slot's position, or every open position on ALL
func (e *Engine) processExit(ctx context.Context, a *auditCtx, sig *signals.Signal,
	cfg *instrument.Config, open []*portfolio.Position) *signals.Result {

	targets := open
	if sig.Slot != signals.SlotAll {
		targets = nil
		for _, p := range open {
			if p.Slot == sig.Slot {
				targets = append(targets, p)
			}
		}
	}

	brokerLTP := e.fetchQuote(ctx, cfg, sig)
	exitPrice := brokerLTP
	if exitPrice <= 0 {
		exitPrice = sig.Price
	}

	var fills []interface{}
	var failures []string
	for _, p := range targets {
		if err := e.closePosition(ctx, a.rec.ID, p, cfg, exitPrice, &fills); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", p.ID, err))
		}
	}
	a.set(&a.rec.Execution, fills)

	if len(failures) > 0 {
		e.detector.Forget(sig)
		return e.finish(ctx, a, signals.OutcomeError, signals.AuditFailedOrder,
			fmt.Sprintf("%d of %d exits failed: %v", len(failures), len(targets), failures))
	}
	return e.finish(ctx, a, signals.OutcomeExecuted, signals.AuditProcessed,
		fmt.Sprintf("closed %d position(s): %s", len(targets), sig.Reason))
}

// closePosition unwinds one position at the broker and realizes it in state
func (e *Engine) closePosition(ctx context.Context, auditID string, p *portfolio.Position,
	cfg *instrument.Config, exitPrice float64, fills *[]interface{}) error {

	if p.SyntheticStrike > 0 {
		res, err := e.exec.ExecuteSynthetic(ctx, executor.SyntheticRequest{
			Exchange: string(cfg.Exchange),
			Product:  e.cfg.Product,
			PESymbol: instrument.OptionSymbol(p.Instrument, p.Expiry, p.SyntheticStrike, "PE"),
			CESymbol: instrument.OptionSymbol(p.Instrument, p.Expiry, p.SyntheticStrike, "CE"),
			Strike:   p.SyntheticStrike,
			Quantity: p.Quantity,
			Exit:     true,
		}, exitPrice, exitPrice)
		*fills = append(*fills, res)
		e.recordSyntheticLegs(ctx, auditID, cfg, res)
		if err != nil {
			if res != nil && res.State == executor.SynRollbackFailed {
				e.state.MarkIntegritySuspect(p.ID)
				e.breaker.RecordRollbackFailure(e.clk.Now())
			}
			return err
		}
	} else {
		req := broker.OrderRequest{
			Symbol:   instrument.FutureSymbol(p.Instrument, p.Expiry),
			Exchange: string(cfg.Exchange),
			Product:  e.cfg.Product,
			Action:   broker.ActionSell,
			Quantity: p.Quantity,
			Type:     broker.TypeLimit,
		}
		fill, err := e.exec.Execute(ctx, req, exitPrice)
		if fill != nil {
			*fills = append(*fills, fill)
		}
		if err != nil {
			e.recordOrder(ctx, auditID, req, fill, "FAILED")
			return err
		}
		e.recordOrder(ctx, auditID, req, fill, "COMPLETE")
		if fill.AvgPrice > 0 {
			exitPrice = fill.AvgPrice
		}
	}

	closed, err := e.state.ClosePosition(p.ID, exitPrice, e.clk.Now())
	if err != nil {
		return err
	}
	e.cache.Invalidate()
	e.persistPosition(ctx, closed)
	if e.store != nil {
		snap := e.state.CurrentState()
		if err := e.store.SaveClosedEquity(ctx, snap.ClosedEquity); err != nil {
			e.log.Error("equity persist failed", "error", err)
		}
	}
	e.breaker.RecordRealizedPnL(e.clk.Now(), closed.RealizedPnL, e.state.CurrentState().Equity)
	e.bus.PublishPositionClosed(string(closed.Instrument), exitPrice, closed.RealizedPnL)
	e.log.Info("position closed",
		"position_id", closed.ID,
		"exit", exitPrice,
		"realized_pnl", closed.RealizedPnL)
	return nil
}

// processEODMonitor re-evaluates trailing stops against the end-of-day
// price and force-exits positions whose stop is breached.
func (e *Engine) processEODMonitor(ctx context.Context, a *auditCtx, sig *signals.Signal,
	cfg *instrument.Config, open []*portfolio.Position) *signals.Result {

	brokerLTP := e.fetchQuote(ctx, cfg, sig)
	price := brokerLTP
	if price <= 0 {
		price = sig.Price
	}

	var updates []risk.StopUpdate
	var fills []interface{}
	var failures []string
	for _, p := range open {
		upd := e.stops.Update(p, price, sig.ATR, cfg.TrailingATRMult)
		updates = append(updates, upd)
		if upd.StopHit {
			if err := e.closePosition(ctx, a.rec.ID, p, cfg, price, &fills); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", p.ID, err))
			}
		}
	}
	a.set(&a.rec.Risk, updates)
	a.set(&a.rec.Execution, fills)

	if len(failures) > 0 {
		e.detector.Forget(sig)
		return e.finish(ctx, a, signals.OutcomeError, signals.AuditFailedOrder,
			fmt.Sprintf("eod exits failed: %v", failures))
	}
	return e.finish(ctx, a, signals.OutcomeExecuted, signals.AuditProcessed,
		fmt.Sprintf("evaluated %d position(s)", len(open)))
}

// recordOrder persists one broker order leg against the audit id
func (e *Engine) recordOrder(ctx context.Context, auditID string, req broker.OrderRequest, fill *executor.Fill, status string) {
	if e.orders == nil || fill == nil {
		return
	}
	if err := e.orders.SaveOrderRecord(ctx, database.RecordFromFill(auditID, req, fill, status)); err != nil {
		e.log.Error("order record persist failed", "audit_id", auditID, "error", err)
	}
}

// recordSyntheticLegs persists both legs of a synthetic execution
func (e *Engine) recordSyntheticLegs(ctx context.Context, auditID string, cfg *instrument.Config, res *executor.SyntheticResult) {
	if res == nil {
		return
	}
	for _, leg := range []executor.SyntheticLeg{res.PE, res.CE} {
		if leg.Fill == nil {
			continue
		}
		status := "COMPLETE"
		if leg.Error != "" {
			status = "FAILED"
		}
		e.recordOrder(ctx, auditID, broker.OrderRequest{
			Symbol:   leg.Symbol,
			Exchange: string(cfg.Exchange),
			Product:  e.cfg.Product,
			Action:   leg.Action,
			Quantity: leg.Fill.RequestedQty,
			Type:     broker.TypeLimit,
		}, leg.Fill, status)
	}
}

func (e *Engine) persistPosition(ctx context.Context, p *portfolio.Position) {
	if e.store == nil {
		return
	}
	if err := e.store.SavePosition(ctx, p); err != nil {
		e.log.Error("position persist failed", "position_id", p.ID, "error", err)
	}
}

// VerifyIntegrity reconciles state positions against the broker at boot.
// Positions the broker does not know about are flagged, not deleted.
func (e *Engine) VerifyIntegrity(ctx context.Context) []string {
	positions, err := e.gw.Positions(ctx)
	if err != nil {
		e.log.Error("integrity check skipped, broker unreachable", "error", err)
		return nil
	}

	held := make(map[string]int)
	for _, p := range positions {
		held[p.Symbol] = p.Quantity
	}

	var flagged []string
	snap := e.state.CurrentState()
	for _, p := range snap.Positions {
		var symbol string
		if p.SyntheticStrike > 0 {
			symbol = instrument.OptionSymbol(p.Instrument, p.Expiry, p.SyntheticStrike, "CE")
		} else {
			symbol = instrument.FutureSymbol(p.Instrument, p.Expiry)
		}
		if qty, ok := held[symbol]; !ok || qty == 0 {
			e.state.MarkIntegritySuspect(p.ID)
			flagged = append(flagged, p.ID)
			e.log.Warn("position missing at broker, flagged", "position_id", p.ID, "symbol", symbol)
		}
	}
	return flagged
}
