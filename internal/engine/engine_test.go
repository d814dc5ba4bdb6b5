package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nse-trading-bot/internal/broker"
	"nse-trading-bot/internal/circuit"
	"nse-trading-bot/internal/clock"
	"nse-trading-bot/internal/confirm"
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

type harness struct {
	eng      *Engine
	gw       *broker.SimGateway
	state    *portfolio.State
	audit    *MemoryAuditSink
	clk      *clock.FakeClock
	confirms *confirm.Bus
}

func newHarness(t *testing.T, capital float64) *harness {
	t.Helper()
	log := logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
	clk := &clock.FakeClock{Current: time.Date(2025, 8, 12, 10, 15, 0, 0, clock.IST)}
	bus := events.NewBus()

	gw := broker.NewSimGateway()
	gw.SetFunds(broker.Funds{AvailableCash: 2_000_000})

	state := portfolio.NewState(portfolio.Config{InitialCapital: capital, MaxRiskPct: 15})
	audit := NewMemoryAuditSink()
	confirms := confirm.NewBus(confirm.Config{DefaultTimeout: 100 * time.Millisecond}, log)

	eng := New(Config{
		QuoteRetries:  1,
		QuoteBackoffs: []time.Duration{time.Millisecond},
		QuoteTimeout:  100 * time.Millisecond,
		MaxRiskPct:    15,
	}, Deps{
		Detector: dedup.NewDetector(3*time.Minute, 128, clk),
		Validator: validation.NewValidator(validation.Config{
			WarningThresholdPct: 0.1,
			BaseEntryMaxDivPct:  0.5,
			PyramidMaxDivPct:    0.3,
			ExitMaxDivPct:       1.0,
			ElevatedMaxDivPct:   0.3,
			MaxRiskIncreasePct:  20,
			AllowResize:         true,
			MinLotsAfterAdjust:  1,
			WarningAge:          30 * time.Second,
			ElevatedAge:         2 * time.Minute,
			StaleAge:            5 * time.Minute,
		}),
		Sizer:    risk.NewSizer(80),
		Gate:     risk.NewPyramidGate(risk.PyramidConfig{ATRSpacing: 0.5, RiskBlockPct: 12, VolBlockPct: 4}),
		Stops:    risk.NewStopManager(state, log),
		State:    state,
		Registry: instrument.NewRegistry(),
		Gateway:  gw,
		Cache:    broker.NewAccountCache(gw, clk, time.Minute, nil),
		Executor: executor.New(gw, executor.Config{
			Strategy:     executor.StrategySimpleLimit,
			PollInterval: time.Millisecond,
			OrderTimeout: 200 * time.Millisecond,
		}, zerolog.Nop()),
		Confirms: confirms,
		Breaker: circuit.NewBreaker(circuit.Config{
			Enabled: true, MaxGatewayFailures: 5, MaxDailyLossPct: 5,
			CooldownMinutes: 30, MaxRollbackFailures: 1,
		}, bus),
		Audit: audit,
		Bus:   bus,
		Clock: clk,
		Log:   log,
	})
	return &harness{eng: eng, gw: gw, state: state, audit: audit, clk: clk, confirms: confirms}
}

// replyToConfirm answers the next pending request of the given kind
func (h *harness) replyToConfirm(kind, action string) {
	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			for _, req := range h.confirms.Pending() {
				if req.Kind == kind && h.confirms.Reply(req.ID, action) {
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func (h *harness) signal(kind signals.Kind, slot signals.Slot, price, stop float64) *signals.Signal {
	return &signals.Signal{
		Kind:          kind,
		Instrument:    instrument.BankNifty,
		Slot:          slot,
		Price:         price,
		Stop:          stop,
		ATR:           350,
		SuggestedLots: 5,
		ChartTS:       h.clk.Current,
		ReceivedAt:    h.clk.Current.Add(5 * time.Second),
		Reason:        "supertrend flip",
	}
}

// TestBaseEntryOpensSyntheticPosition runs a Bank Nifty entry end to end:
// quote, validation, sizing, two option legs, state admission.
func TestBaseEntryOpensSyntheticPosition(t *testing.T) {
	h := newHarness(t, 5_000_000)
	h.gw.SetQuote("NIFTY BANK", "NFO", 52010)

	res := h.eng.Process(context.Background(), h.signal(signals.KindBaseEntry, "Long_1", 52000, 51650))
	if res.Outcome != signals.OutcomeExecuted {
		t.Fatalf("outcome = %s (%s), want executed", res.Outcome, res.Reason)
	}

	snap := h.state.CurrentState()
	if len(snap.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(snap.Positions))
	}
	p := snap.Positions[0]
	// 0.5% of 5M risk budget against a 360-point stop: 2 lots of 30
	if p.Lots != 2 || p.Quantity != 60 {
		t.Errorf("size = %d lots / %d qty, want 2/60", p.Lots, p.Quantity)
	}
	if p.SyntheticStrike != 52000 {
		t.Errorf("strike = %v, want the ATM 52000", p.SyntheticStrike)
	}
	if p.EntryPrice != 52010 {
		t.Errorf("entry = %v, want the broker LTP", p.EntryPrice)
	}

	if orders := h.gw.PlacedOrders(); len(orders) != 2 {
		t.Errorf("orders = %d, want the PE and CE legs", len(orders))
	}
	if rec := h.audit.Last(); rec == nil || rec.Outcome != signals.AuditProcessed {
		t.Errorf("audit outcome = %v, want PROCESSED", rec)
	}
}

// TestDuplicateSignalSuppressed drops a second identical webhook
func TestDuplicateSignalSuppressed(t *testing.T) {
	h := newHarness(t, 5_000_000)
	h.gw.SetQuote("NIFTY BANK", "NFO", 52010)

	first := h.eng.Process(context.Background(), h.signal(signals.KindBaseEntry, "Long_1", 52000, 51650))
	if first.Outcome != signals.OutcomeExecuted {
		t.Fatalf("first outcome = %s (%s)", first.Outcome, first.Reason)
	}

	second := h.eng.Process(context.Background(), h.signal(signals.KindBaseEntry, "Long_1", 52000, 51650))
	if second.Outcome != signals.OutcomeDuplicate {
		t.Fatalf("second outcome = %s, want duplicate", second.Outcome)
	}

	if len(h.state.CurrentState().Positions) != 1 {
		t.Error("duplicate must not open a second position")
	}
	if orders := h.gw.PlacedOrders(); len(orders) != 2 {
		t.Errorf("orders = %d, duplicate must not reach the broker", len(orders))
	}
	stats := h.eng.Stats()
	if stats.SignalsIn != 2 || stats.Executions != 1 || stats.Duplicates != 1 {
		t.Errorf("stats = %+v, want 2 in / 1 executed / 1 duplicate", stats)
	}
}

// TestRiskCapBlocksBeforeExecution refuses entries that would push total
// portfolio risk past the cap, before any order is placed.
func TestRiskCapBlocksBeforeExecution(t *testing.T) {
	h := newHarness(t, 5_000_000)
	h.gw.SetQuote("NIFTY BANK", "NFO", 52010)

	// Existing open risk near the cap
	big := &portfolio.Position{
		ID: "pre", Instrument: instrument.GoldMini, Slot: "Long_1",
		EntryPrice: 78500, CurrentStop: 71100, InitialStop: 71100,
		HighestClose: 78500, Lots: 10, Quantity: 10, ATRAtEntry: 700,
		PointValue: 10, Status: portfolio.StatusOpen,
	}
	if err := h.state.AddPosition(big, 0); err != nil {
		t.Fatal(err)
	}

	res := h.eng.Process(context.Background(), h.signal(signals.KindBaseEntry, "Long_1", 52000, 51650))
	if res.Outcome != signals.OutcomeBlocked {
		t.Fatalf("outcome = %s (%s), want blocked", res.Outcome, res.Reason)
	}
	if !strings.Contains(res.Reason, "portfolio risk") {
		t.Errorf("reason = %q, want the projected risk cap", res.Reason)
	}
	if orders := h.gw.PlacedOrders(); len(orders) != 0 {
		t.Errorf("orders = %d, blocked entry must not reach the broker", len(orders))
	}
	if rec := h.audit.Last(); rec.Outcome != signals.AuditRejectedRisk {
		t.Errorf("audit outcome = %s, want REJECTED_RISK", rec.Outcome)
	}
}

// TestZeroLotsDefaultsToSkip rejects when sizing yields zero lots and the
// confirmation question times out to its default.
func TestZeroLotsDefaultsToSkip(t *testing.T) {
	h := newHarness(t, 50_000) // Equity too small for one Bank Nifty lot
	h.gw.SetQuote("NIFTY BANK", "NFO", 52010)

	res := h.eng.Process(context.Background(), h.signal(signals.KindBaseEntry, "Long_1", 52000, 51650))
	if res.Outcome != signals.OutcomeRejected {
		t.Fatalf("outcome = %s (%s), want rejected", res.Outcome, res.Reason)
	}
	if !strings.Contains(res.Reason, "zero lots") {
		t.Errorf("reason = %q, want zero lots", res.Reason)
	}
	if orders := h.gw.PlacedOrders(); len(orders) != 0 {
		t.Errorf("orders = %d, want none", len(orders))
	}
}

// TestForcedOneLotReportsOverride executes a forced single lot and marks
// the outcome as a confirmed override rather than a plain execution.
func TestForcedOneLotReportsOverride(t *testing.T) {
	// 0.5% of 500k is under one lot's 10,800 risk, so the sizer yields
	// zero; the forced single lot still clears the 15% portfolio cap.
	h := newHarness(t, 500_000)
	h.gw.SetQuote("NIFTY BANK", "NFO", 52010)
	h.replyToConfirm("zero_lots", "force_one_lot")

	res := h.eng.Process(context.Background(), h.signal(signals.KindBaseEntry, "Long_1", 52000, 51650))
	if res.Outcome != signals.OutcomeConfirmedOverride {
		t.Fatalf("outcome = %s (%s), want confirmed_override", res.Outcome, res.Reason)
	}

	snap := h.state.CurrentState()
	if len(snap.Positions) != 1 || snap.Positions[0].Lots != 1 {
		t.Fatalf("positions = %+v, want one forced single-lot position", snap.Positions)
	}
	if rec := h.audit.Last(); rec == nil || rec.Outcome != signals.AuditConfirmedOverride {
		t.Errorf("audit outcome = %v, want CONFIRMED_OVERRIDE", rec.Outcome)
	}
}

// TestExitAllClosesPositions unwinds the synthetic structure and realizes
// the P&L into closed equity.
func TestExitAllClosesPositions(t *testing.T) {
	h := newHarness(t, 5_000_000)
	h.gw.SetQuote("NIFTY BANK", "NFO", 52500)

	expiry := instrument.NextMonthlyExpiry(h.clk.Current)
	pos := &portfolio.Position{
		ID: "p1", Instrument: instrument.BankNifty, Slot: "Long_1",
		EntryTime: h.clk.Current.Add(-2 * time.Hour), EntryPrice: 52000,
		Lots: 2, Quantity: 60, InitialStop: 51650, CurrentStop: 51650,
		HighestClose: 52000, ATRAtEntry: 350, PointValue: 1,
		Status: portfolio.StatusOpen, SyntheticStrike: 52000, Expiry: expiry,
	}
	if err := h.state.AddPosition(pos, 0); err != nil {
		t.Fatal(err)
	}

	res := h.eng.Process(context.Background(), h.signal(signals.KindExit, signals.SlotAll, 52500, 0))
	if res.Outcome != signals.OutcomeExecuted {
		t.Fatalf("outcome = %s (%s), want executed", res.Outcome, res.Reason)
	}

	snap := h.state.CurrentState()
	if len(snap.Positions) != 0 {
		t.Errorf("positions = %d, want all closed", len(snap.Positions))
	}
	if snap.ClosedEquity != 5_030_000 {
		t.Errorf("closed equity = %v, want 5,030,000 after the 500-point exit", snap.ClosedEquity)
	}
	// Exit reverses the synthetic: buy PE back, sell CE
	if orders := h.gw.PlacedOrders(); len(orders) != 2 {
		t.Errorf("orders = %d, want the two unwinding legs", len(orders))
	}
}

// TestEODMonitorForceExitsOnStopHit trails the stop against the evaluation
// price and force-exits a breached position.
func TestEODMonitorForceExitsOnStopHit(t *testing.T) {
	h := newHarness(t, 5_000_000)
	expiry := instrument.NextMonthlyExpiry(h.clk.Current)
	h.gw.SetQuote(instrument.FutureSymbol(instrument.GoldMini, expiry), "MCX", 78900)

	// Stop already ratcheted to 79100 off the 80500 high
	pos := &portfolio.Position{
		ID: "g1", Instrument: instrument.GoldMini, Slot: "Long_1",
		EntryTime: h.clk.Current.Add(-48 * time.Hour), EntryPrice: 78500,
		Lots: 3, Quantity: 3, InitialStop: 77800, CurrentStop: 79100,
		HighestClose: 80500, ATRAtEntry: 700, PointValue: 10,
		Status: portfolio.StatusOpen, Expiry: expiry,
	}
	if err := h.state.AddPosition(pos, 0); err != nil {
		t.Fatal(err)
	}

	sig := &signals.Signal{
		Kind: signals.KindEODMonitor, Instrument: instrument.GoldMini,
		Slot: signals.SlotAll, Price: 78900, ATR: 700,
		ChartTS: h.clk.Current, ReceivedAt: h.clk.Current.Add(5 * time.Second),
	}
	res := h.eng.Process(context.Background(), sig)
	if res.Outcome != signals.OutcomeExecuted {
		t.Fatalf("outcome = %s (%s), want executed", res.Outcome, res.Reason)
	}

	snap := h.state.CurrentState()
	if len(snap.Positions) != 0 {
		t.Fatalf("positions = %d, want the breached position closed", len(snap.Positions))
	}
	// (78900 - 78500) x 3 x point value 10
	if snap.ClosedEquity != 5_012_000 {
		t.Errorf("closed equity = %v, want 5,012,000", snap.ClosedEquity)
	}
}

// TestEODMonitorHoldsAboveStop leaves unbreached positions open
func TestEODMonitorHoldsAboveStop(t *testing.T) {
	h := newHarness(t, 5_000_000)
	expiry := instrument.NextMonthlyExpiry(h.clk.Current)
	h.gw.SetQuote(instrument.FutureSymbol(instrument.GoldMini, expiry), "MCX", 79400)

	pos := &portfolio.Position{
		ID: "g1", Instrument: instrument.GoldMini, Slot: "Long_1",
		EntryTime: h.clk.Current.Add(-48 * time.Hour), EntryPrice: 78500,
		Lots: 3, Quantity: 3, InitialStop: 77800, CurrentStop: 79100,
		HighestClose: 80500, ATRAtEntry: 700, PointValue: 10,
		Status: portfolio.StatusOpen, Expiry: expiry,
	}
	if err := h.state.AddPosition(pos, 0); err != nil {
		t.Fatal(err)
	}

	sig := &signals.Signal{
		Kind: signals.KindEODMonitor, Instrument: instrument.GoldMini,
		Slot: signals.SlotAll, Price: 79400, ATR: 700,
		ChartTS: h.clk.Current, ReceivedAt: h.clk.Current.Add(5 * time.Second),
	}
	if res := h.eng.Process(context.Background(), sig); res.Outcome != signals.OutcomeExecuted {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Reason)
	}
	if len(h.state.CurrentState().Positions) != 1 {
		t.Error("position above its stop must stay open")
	}
	if orders := h.gw.PlacedOrders(); len(orders) != 0 {
		t.Errorf("orders = %d, want none without a stop hit", len(orders))
	}
}

// TestSyntheticRollbackLeavesNoPosition rejects the CE leg, rolls the PE
// leg back at market, and admits nothing into state.
func TestSyntheticRollbackLeavesNoPosition(t *testing.T) {
	h := newHarness(t, 5_000_000)
	h.gw.SetQuote("NIFTY BANK", "NFO", 52010)
	h.gw.RejectSymbol(instrument.OptionSymbol(instrument.BankNifty, instrument.NextMonthlyExpiry(h.clk.Current), 52000, "CE"))

	res := h.eng.Process(context.Background(), h.signal(signals.KindBaseEntry, "Long_1", 52000, 51650))
	if res.Outcome != signals.OutcomeError {
		t.Fatalf("outcome = %s (%s), want error", res.Outcome, res.Reason)
	}

	if len(h.state.CurrentState().Positions) != 0 {
		t.Error("rolled-back entry must not appear in state")
	}
	// PE entry, rejected CE, PE rollback
	if orders := h.gw.PlacedOrders(); len(orders) != 3 {
		t.Errorf("orders = %d, want 3", len(orders))
	}
	if rec := h.audit.Last(); rec.Outcome != signals.AuditFailedOrder {
		t.Errorf("audit outcome = %s, want FAILED_ORDER", rec.Outcome)
	}
}

// TestIntegrityCheckFlagsMissingPosition reconciles state against the broker
func TestIntegrityCheckFlagsMissingPosition(t *testing.T) {
	h := newHarness(t, 5_000_000)
	expiry := instrument.NextMonthlyExpiry(h.clk.Current)

	pos := &portfolio.Position{
		ID: "g1", Instrument: instrument.GoldMini, Slot: "Long_1",
		EntryPrice: 78500, CurrentStop: 77800, InitialStop: 77800,
		HighestClose: 78500, Lots: 1, Quantity: 1, ATRAtEntry: 700,
		PointValue: 10, Status: portfolio.StatusOpen, Expiry: expiry,
	}
	if err := h.state.AddPosition(pos, 0); err != nil {
		t.Fatal(err)
	}

	flagged := h.eng.VerifyIntegrity(context.Background())
	if len(flagged) != 1 || flagged[0] != "g1" {
		t.Fatalf("flagged = %v, want g1", flagged)
	}
	if suspects := h.state.IntegritySuspects(); len(suspects) != 1 {
		t.Errorf("suspects = %d, want 1", len(suspects))
	}
}
