package portfolio

import (
	"errors"
	"testing"
	"time"

	"nse-trading-bot/internal/instrument"
	"nse-trading-bot/internal/signals"
)

func newPosition(id string, slot string, entry, stop float64, qty int) *Position {
	return &Position{
		ID: id, Instrument: instrument.BankNifty, Slot: signals.Slot(slot),
		EntryTime: time.Now(), EntryPrice: entry,
		Lots: 1, Quantity: qty,
		InitialStop: stop, CurrentStop: stop, HighestClose: entry,
		ATRAtEntry: 350, PointValue: 1, Status: StatusOpen,
	}
}

// TestAddPositionVersionCAS rejects a commit after a concurrent mutation
func TestAddPositionVersionCAS(t *testing.T) {
	s := NewState(Config{InitialCapital: 5_000_000})

	snap := s.CurrentState()
	if snap.Version == 0 {
		t.Fatal("a fresh snapshot must carry a non-zero version, 0 is the skip-CAS sentinel")
	}
	s.SetMarginUsed(100_000) // Concurrent mutation bumps the version

	p := newPosition("p1", "Long_1", 52000, 51650, 60)
	err := s.AddPosition(p, snap.Version)
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("err = %v, want ErrStaleVersion", err)
	}

	// Retry without the CAS succeeds
	if err := s.AddPosition(p, 0); err != nil {
		t.Fatalf("unconditional add failed: %v", err)
	}
}

// TestRiskCapBlocksAdmission enforces the hard portfolio cap
func TestRiskCapBlocksAdmission(t *testing.T) {
	s := NewState(Config{InitialCapital: 1_000_000, MaxRiskPct: 15})

	// 350-point risk x 60 quantity = 21,000 = 2.1% of equity, fine
	if err := s.AddPosition(newPosition("p1", "Long_1", 52000, 51650, 60), 0); err != nil {
		t.Fatalf("first admission failed: %v", err)
	}

	// A 150,000-rupee risk position pushes the total past 15%
	big := newPosition("p2", "Long_2", 52000, 49500, 60)
	err := s.AddPosition(big, 0)
	if !errors.Is(err, ErrRiskCapExceeded) {
		t.Fatalf("err = %v, want ErrRiskCapExceeded", err)
	}

	snap := s.CurrentState()
	if len(snap.Positions) != 1 {
		t.Errorf("positions = %d, want the rejected admission to leave state unchanged", len(snap.Positions))
	}
	if snap.TotalRiskPercent > 15 {
		t.Errorf("risk %% = %.2f, cap invariant violated", snap.TotalRiskPercent)
	}
}

// TestClosePositionRealizesPnL moves P&L from open to closed equity
func TestClosePositionRealizesPnL(t *testing.T) {
	s := NewState(Config{InitialCapital: 5_000_000})
	if err := s.AddPosition(newPosition("p1", "Long_1", 52000, 51650, 60), 0); err != nil {
		t.Fatal(err)
	}

	closed, err := s.ClosePosition("p1", 52500, time.Now())
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if want := 500.0 * 60; closed.RealizedPnL != want {
		t.Errorf("realized = %v, want %v", closed.RealizedPnL, want)
	}

	snap := s.CurrentState()
	if snap.ClosedEquity != 5_000_000+30_000 {
		t.Errorf("closed equity = %v, want 5,030,000", snap.ClosedEquity)
	}
	if len(snap.Positions) != 0 {
		t.Errorf("open positions = %d, want 0", len(snap.Positions))
	}

	// Double close errors
	if _, err := s.ClosePosition("p1", 52500, time.Now()); err == nil {
		t.Error("closing twice should error")
	}
}

// TestUpdateStopMonotonic ignores lower stops without error
func TestUpdateStopMonotonic(t *testing.T) {
	s := NewState(Config{InitialCapital: 5_000_000})
	if err := s.AddPosition(newPosition("p1", "Long_1", 52000, 51650, 60), 0); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateStop("p1", 51900, 52300); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStop("p1", 51700, 52300); err != nil {
		t.Fatal(err)
	}

	p := s.FindBySlot(instrument.BankNifty, "Long_1")
	if p.CurrentStop != 51900 {
		t.Errorf("stop = %v, want the higher 51900 kept", p.CurrentStop)
	}
}

// TestEquityModes compares closed, open and blended equity
func TestEquityModes(t *testing.T) {
	add := func(s *State) {
		p := newPosition("p1", "Long_1", 52000, 51650, 60)
		if err := s.AddPosition(p, 0); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateUnrealized("p1", 52500); err != nil {
			t.Fatal(err)
		}
	}

	closed := NewState(Config{InitialCapital: 1_000_000, EquityMode: "closed"})
	add(closed)
	if got := closed.CurrentState().Equity; got != 1_000_000 {
		t.Errorf("closed equity = %v, want 1,000,000", got)
	}

	open := NewState(Config{InitialCapital: 1_000_000, EquityMode: "open"})
	add(open)
	if got := open.CurrentState().Equity; got != 1_030_000 {
		t.Errorf("open equity = %v, want 1,030,000", got)
	}

	blended := NewState(Config{InitialCapital: 1_000_000, EquityMode: "blended", BlendedWeight: 0.5})
	add(blended)
	if got := blended.CurrentState().Equity; got != 1_015_000 {
		t.Errorf("blended equity = %v, want 1,015,000", got)
	}
}

// TestSnapshotIsolation checks callers cannot mutate interior state
func TestSnapshotIsolation(t *testing.T) {
	s := NewState(Config{InitialCapital: 5_000_000})
	if err := s.AddPosition(newPosition("p1", "Long_1", 52000, 51650, 60), 0); err != nil {
		t.Fatal(err)
	}

	snap := s.CurrentState()
	snap.Positions[0].CurrentStop = 1

	if got := s.FindBySlot(instrument.BankNifty, "Long_1").CurrentStop; got != 51650 {
		t.Errorf("interior stop = %v, snapshot mutation leaked in", got)
	}
}

// TestIntegritySuspects surfaces flagged positions
func TestIntegritySuspects(t *testing.T) {
	s := NewState(Config{InitialCapital: 5_000_000})
	if err := s.AddPosition(newPosition("p1", "Long_1", 52000, 51650, 60), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkIntegritySuspect("p1"); err != nil {
		t.Fatal(err)
	}

	suspects := s.IntegritySuspects()
	if len(suspects) != 1 || suspects[0].ID != "p1" {
		t.Errorf("suspects = %v, want p1", suspects)
	}
}
