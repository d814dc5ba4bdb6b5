package margin

import (
	"context"
	"testing"
	"time"

	"nse-trading-bot/internal/broker"
	"nse-trading-bot/internal/clock"
	"nse-trading-bot/internal/database"
	"nse-trading-bot/internal/events"
	"nse-trading-bot/internal/logging"
)

// memStore is an in-memory Store for monitor tests
type memStore struct {
	snapshots []database.MarginSnapshot
	baselines map[string]float64
	summaries []database.DailySummary
	spend     float64
}

func newMemStore() *memStore {
	return &memStore{baselines: make(map[string]float64)}
}

func (m *memStore) SaveMarginSnapshot(ctx context.Context, s *database.MarginSnapshot) error {
	m.snapshots = append(m.snapshots, *s)
	return nil
}

func (m *memStore) SaveBaseline(ctx context.Context, sessionDate string, baseline float64, capturedAt time.Time) (bool, error) {
	if _, ok := m.baselines[sessionDate]; ok {
		return false, nil
	}
	m.baselines[sessionDate] = baseline
	return true, nil
}

func (m *memStore) Baseline(ctx context.Context, sessionDate string) (float64, bool, error) {
	b, ok := m.baselines[sessionDate]
	return b, ok, nil
}

func (m *memStore) SnapshotsForSession(ctx context.Context, sessionDate string) ([]database.MarginSnapshot, error) {
	var out []database.MarginSnapshot
	for _, s := range m.snapshots {
		if s.SessionDate == sessionDate {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) SaveDailySummary(ctx context.Context, s *database.DailySummary) error {
	m.summaries = append(m.summaries, *s)
	return nil
}

func (m *memStore) DailyHedgeSpend(ctx context.Context, sessionDate string) (float64, error) {
	return m.spend, nil
}

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
}

func testMonitor(gw broker.Gateway, store Store, clk clock.Clock, cfg Config) *Monitor {
	cal := clock.NewCalendar(clk, nil)
	return NewMonitor(gw, store, clk, cal, events.NewBus(), testLogger(), cfg)
}

// TestBaselineOneShot captures the baseline once per session
func TestBaselineOneShot(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.SetFunds(broker.Funds{UsedMargin: 2_000_000})
	store := newMemStore()
	clk := &clock.FakeClock{Current: time.Date(2025, 8, 12, 9, 22, 0, 0, clock.IST)}

	m := testMonitor(gw, store, clk, Config{NumBaskets: 6, BudgetPerBasket: 2_500_000})
	if err := m.CaptureBaseline(context.Background()); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	// A later funds change must not move the captured baseline
	gw.SetFunds(broker.Funds{UsedMargin: 9_000_000})
	if err := m.CaptureBaseline(context.Background()); err != nil {
		t.Fatalf("second capture: %v", err)
	}
	if got := store.baselines["2025-08-12"]; got != 2_000_000 {
		t.Errorf("baseline = %v, want the first capture kept", got)
	}
}

// TestBaselineRestoredFromStore reuses a persisted baseline after a restart
func TestBaselineRestoredFromStore(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.SetFunds(broker.Funds{UsedMargin: 9_000_000})
	store := newMemStore()
	store.baselines["2025-08-12"] = 2_000_000
	clk := &clock.FakeClock{Current: time.Date(2025, 8, 12, 11, 0, 0, 0, clock.IST)}

	m := testMonitor(gw, store, clk, Config{NumBaskets: 6, BudgetPerBasket: 2_500_000})
	if err := m.CaptureBaseline(context.Background()); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	r, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if r.BaselineMargin != 2_000_000 {
		t.Errorf("baseline = %v, want the persisted 2,000,000", r.BaselineMargin)
	}
}

// TestSnapshotUtilisation computes intraday use net of baseline and
// exclusions against the basket budget.
func TestSnapshotUtilisation(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.SetFunds(broker.Funds{UsedMargin: 2_000_000})
	gw.SetPositions([]broker.BrokerPosition{
		{Symbol: "NIFTY25AUG24800PE", Quantity: -75},
		{Symbol: "BANKNIFTY25AUGFUT", Quantity: 30},
		{Symbol: "GOLDM25AUGFUT", Quantity: 10},  // Outside the index universe
		{Symbol: "NIFTY25AUG25000CE", Quantity: 0}, // Flat rows do not count
	})
	store := newMemStore()
	clk := &clock.FakeClock{Current: time.Date(2025, 8, 12, 10, 0, 0, 0, clock.IST)}

	// Budget 6 x 2.5M = 15M
	m := testMonitor(gw, store, clk, Config{
		NumBaskets: 6, BudgetPerBasket: 2_500_000, ExcludedMargin: 500_000,
	})
	if err := m.CaptureBaseline(context.Background()); err != nil {
		t.Fatal(err)
	}

	gw.SetFunds(broker.Funds{UsedMargin: 14_950_000})
	r, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// 14.95M - 2M baseline - 0.5M excluded = 12.45M, 83% of 15M
	if r.IntradayUsed != 12_450_000 {
		t.Errorf("intraday = %v, want 12,450,000", r.IntradayUsed)
	}
	if r.UtilisationPct < 82.9 || r.UtilisationPct > 83.1 {
		t.Errorf("utilisation = %.2f%%, want 83%%", r.UtilisationPct)
	}
	if r.OpenPositions != 2 {
		t.Errorf("open positions = %d, want 2 in-universe rows", r.OpenPositions)
	}

	if len(store.snapshots) != 1 {
		t.Fatalf("persisted %d snapshots, want 1", len(store.snapshots))
	}
	if got := m.Latest(); got == nil || got.IntradayUsed != r.IntradayUsed {
		t.Error("Latest should return the snapshot just taken")
	}
}

// TestSnapshotClampsNegativeIntraday never reports negative use
func TestSnapshotClampsNegativeIntraday(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.SetFunds(broker.Funds{UsedMargin: 100_000})
	store := newMemStore()
	store.baselines["2025-08-12"] = 2_000_000
	clk := &clock.FakeClock{Current: time.Date(2025, 8, 12, 10, 0, 0, 0, clock.IST)}

	m := testMonitor(gw, store, clk, Config{NumBaskets: 6, BudgetPerBasket: 2_500_000})
	if err := m.CaptureBaseline(context.Background()); err != nil {
		t.Fatal(err)
	}

	r, err := m.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.IntradayUsed != 0 {
		t.Errorf("intraday = %v, want clamp to 0 when used fell below baseline", r.IntradayUsed)
	}
}

// TestDailySummaryAggregates rolls the session's snapshots into one row
func TestDailySummaryAggregates(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.SetFunds(broker.Funds{UsedMargin: 0})
	store := newMemStore()
	store.spend = 42_000
	clk := &clock.FakeClock{Current: time.Date(2025, 8, 12, 15, 45, 0, 0, clock.IST)}

	store.snapshots = []database.MarginSnapshot{
		{SessionDate: "2025-08-12", UtilisationPct: 40, IntradayUsed: 6_000_000},
		{SessionDate: "2025-08-12", UtilisationPct: 83, IntradayUsed: 12_450_000},
		{SessionDate: "2025-08-12", UtilisationPct: 60, IntradayUsed: 9_000_000},
		{SessionDate: "2025-08-11", UtilisationPct: 99, IntradayUsed: 14_000_000}, // Prior session
	}

	m := testMonitor(gw, store, clk, Config{NumBaskets: 6, BudgetPerBasket: 2_500_000})
	if err := m.WriteDailySummary(context.Background(), 125_000); err != nil {
		t.Fatalf("summary: %v", err)
	}

	if len(store.summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(store.summaries))
	}
	s := store.summaries[0]
	if s.SnapshotCount != 3 {
		t.Errorf("count = %d, want 3 same-session snapshots", s.SnapshotCount)
	}
	if s.PeakUtilisationPct != 83 {
		t.Errorf("peak = %v, want 83", s.PeakUtilisationPct)
	}
	if s.AvgUtilisationPct != 61 {
		t.Errorf("avg = %v, want 61", s.AvgUtilisationPct)
	}
	if s.HedgeSpend != 42_000 || s.RealizedPnL != 125_000 {
		t.Errorf("spend/pnl = %v/%v, want 42,000/125,000", s.HedgeSpend, s.RealizedPnL)
	}
}
