package margin

import (
	"context"
	"strings"
	"sync"
	"time"

	"nse-trading-bot/internal/broker"
	"nse-trading-bot/internal/clock"
	"nse-trading-bot/internal/database"
	"nse-trading-bot/internal/events"
	"nse-trading-bot/internal/logging"
)

// Store is the persistence surface the monitor needs
type Store interface {
	SaveMarginSnapshot(ctx context.Context, s *database.MarginSnapshot) error
	SaveBaseline(ctx context.Context, sessionDate string, baseline float64, capturedAt time.Time) (bool, error)
	Baseline(ctx context.Context, sessionDate string) (float64, bool, error)
	SnapshotsForSession(ctx context.Context, sessionDate string) ([]database.MarginSnapshot, error)
	SaveDailySummary(ctx context.Context, s *database.DailySummary) error
	DailyHedgeSpend(ctx context.Context, sessionDate string) (float64, error)
}

// Config holds monitor tuning
type Config struct {
	Interval       time.Duration // Snapshot cadence, aligned to :00/:05
	BaselineDelay  time.Duration // After market open before baseline capture
	ExcludedMargin float64       // Margin outside the intraday universe
	NumBaskets     int
	BudgetPerBasket float64
	IndexUniverse  []string // Symbols prefixes counted as intraday exposure
}

// TotalBudget is the session's intraday margin budget
func (c Config) TotalBudget() float64 {
	return float64(c.NumBaskets) * c.BudgetPerBasket
}

// Reading is the monitor's latest in-memory utilisation view
type Reading struct {
	SessionDate    string    `json:"session_date"`
	TakenAt        time.Time `json:"taken_at"`
	UsedMargin     float64   `json:"used_margin"`
	BaselineMargin float64   `json:"baseline_margin"`
	IntradayUsed   float64   `json:"intraday_used"`
	TotalBudget    float64   `json:"total_budget"`
	UtilisationPct float64   `json:"utilisation_pct"`
	OpenPositions  int       `json:"open_positions"`
}

// Monitor takes five-minute margin snapshots during market hours and a
// one-shot baseline shortly after open.
type Monitor struct {
	gw    broker.Gateway
	store Store
	clk   clock.Clock
	cal   *clock.Calendar
	bus   *events.Bus
	log   *logging.Logger
	cfg   Config

	mu          sync.Mutex
	baseline    float64
	baselineSet bool
	baselineDay string
	latest      *Reading
}

// NewMonitor creates a margin monitor
func NewMonitor(gw broker.Gateway, store Store, clk clock.Clock, cal *clock.Calendar,
	bus *events.Bus, log *logging.Logger, cfg Config) *Monitor {

	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BaselineDelay <= 0 {
		cfg.BaselineDelay = 5 * time.Minute
	}
	if len(cfg.IndexUniverse) == 0 {
		cfg.IndexUniverse = []string{"NIFTY", "BANKNIFTY", "SENSEX"}
	}
	return &Monitor{
		gw:    gw,
		store: store,
		clk:   clk,
		cal:   cal,
		bus:   bus,
		log:   log.WithComponent("margin"),
		cfg:   cfg,
	}
}

// Latest returns the most recent reading, nil before the first snapshot
func (m *Monitor) Latest() *Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return nil
	}
	r := *m.latest
	return &r
}

// TotalBudget exposes the configured intraday budget
func (m *Monitor) TotalBudget() float64 { return m.cfg.TotalBudget() }

// CaptureBaseline records the session's opening used margin. At most one
// capture per session; later calls are no-ops.
func (m *Monitor) CaptureBaseline(ctx context.Context) error {
	now := m.clk.Now().In(clock.IST)
	date := now.Format("2006-01-02")

	m.mu.Lock()
	if m.baselineSet && m.baselineDay == date {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// A persisted baseline survives process restarts
	if base, found, err := m.store.Baseline(ctx, date); err == nil && found {
		m.mu.Lock()
		m.baseline, m.baselineSet, m.baselineDay = base, true, date
		m.mu.Unlock()
		return nil
	}

	funds, err := m.gw.Funds(ctx)
	if err != nil {
		m.log.Error("baseline capture failed", "error", err)
		return err
	}

	inserted, err := m.store.SaveBaseline(ctx, date, funds.UsedMargin, now)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.baseline, m.baselineSet, m.baselineDay = funds.UsedMargin, true, date
	m.mu.Unlock()

	if inserted {
		m.log.Info("margin baseline captured", "session", date, "baseline", funds.UsedMargin)
	}
	return nil
}

// inUniverse reports whether a broker position belongs to the monitored
// index/expiry universe.
func (m *Monitor) inUniverse(p broker.BrokerPosition) bool {
	sym := strings.ToUpper(p.Symbol)
	for _, idx := range m.cfg.IndexUniverse {
		if strings.HasPrefix(sym, idx) {
			return true
		}
	}
	return false
}

// Snapshot fetches funds and positions and writes one utilisation row
func (m *Monitor) Snapshot(ctx context.Context) (*Reading, error) {
	funds, err := m.gw.Funds(ctx)
	if err != nil {
		m.log.Error("funds fetch failed", "error", err)
		return nil, err
	}
	positions, err := m.gw.Positions(ctx)
	if err != nil {
		m.log.Error("positions fetch failed", "error", err)
		return nil, err
	}

	openCount := 0
	for _, p := range positions {
		if p.Quantity != 0 && m.inUniverse(p) {
			openCount++
		}
	}

	now := m.clk.Now().In(clock.IST)
	date := now.Format("2006-01-02")

	m.mu.Lock()
	baseline := m.baseline
	if !m.baselineSet || m.baselineDay != date {
		baseline = 0
	}
	m.mu.Unlock()

	budget := m.cfg.TotalBudget()
	intraday := funds.UsedMargin - baseline - m.cfg.ExcludedMargin
	if intraday < 0 {
		intraday = 0
	}
	util := 0.0
	if budget > 0 {
		util = intraday / budget * 100
	}

	reading := &Reading{
		SessionDate:    date,
		TakenAt:        now,
		UsedMargin:     funds.UsedMargin,
		BaselineMargin: baseline,
		IntradayUsed:   intraday,
		TotalBudget:    budget,
		UtilisationPct: util,
		OpenPositions:  openCount,
	}

	snap := &database.MarginSnapshot{
		SessionDate:    date,
		TakenAt:        now,
		UsedMargin:     funds.UsedMargin,
		BaselineMargin: baseline,
		IntradayUsed:   intraday,
		TotalBudget:    budget,
		UtilisationPct: util,
		OpenPositions:  openCount,
	}
	if err := m.store.SaveMarginSnapshot(ctx, snap); err != nil {
		m.log.Error("snapshot persist failed", "error", err)
	}

	m.mu.Lock()
	m.latest = reading
	m.mu.Unlock()

	m.bus.PublishMarginSnapshot(intraday, util)
	m.log.Info("margin snapshot",
		"used", funds.UsedMargin,
		"baseline", baseline,
		"intraday", intraday,
		"utilisation_pct", util)
	return reading, nil
}

// WriteDailySummary aggregates the session's snapshots into one row
func (m *Monitor) WriteDailySummary(ctx context.Context, realizedPnL float64) error {
	now := m.clk.Now().In(clock.IST)
	date := now.Format("2006-01-02")

	snaps, err := m.store.SnapshotsForSession(ctx, date)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		m.log.Warn("no snapshots for daily summary", "session", date)
		return nil
	}

	var peakUtil, sumUtil, peakIntraday float64
	for _, s := range snaps {
		sumUtil += s.UtilisationPct
		if s.UtilisationPct > peakUtil {
			peakUtil = s.UtilisationPct
		}
		if s.IntradayUsed > peakIntraday {
			peakIntraday = s.IntradayUsed
		}
	}

	spend, err := m.store.DailyHedgeSpend(ctx, date)
	if err != nil {
		m.log.Warn("hedge spend lookup failed", "error", err)
	}

	summary := &database.DailySummary{
		SessionDate:        date,
		SnapshotCount:      len(snaps),
		PeakUtilisationPct: peakUtil,
		AvgUtilisationPct:  sumUtil / float64(len(snaps)),
		PeakIntradayUsed:   peakIntraday,
		HedgeSpend:         spend,
		RealizedPnL:        realizedPnL,
	}
	if err := m.store.SaveDailySummary(ctx, summary); err != nil {
		return err
	}
	m.log.Info("daily summary written",
		"session", date,
		"snapshots", summary.SnapshotCount,
		"peak_utilisation_pct", peakUtil)
	return nil
}

// Run drives the aligned snapshot loop until ctx is cancelled. Snapshots
// only fire inside NFO market hours; the baseline is captured once shortly
// after open, and the daily summary after close.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("margin monitor started", "interval", m.cfg.Interval.String())

	summaryDone := ""
	for {
		now := m.clk.Now().In(clock.IST)
		next := clock.NextAligned(now, m.cfg.Interval)

		select {
		case <-ctx.Done():
			m.log.Info("margin monitor stopped")
			return
		case <-time.After(next.Sub(now)):
		}

		now = m.clk.Now().In(clock.IST)
		if !m.cal.IsTradingDay(now) {
			continue
		}

		open := m.cal.MarketOpen(clock.ExchangeNFO, now)
		close := m.cal.MarketClose(clock.ExchangeNFO, now)

		switch {
		case now.Before(open):
			continue
		case now.After(close):
			date := now.Format("2006-01-02")
			if summaryDone != date {
				if err := m.WriteDailySummary(ctx, 0); err == nil {
					summaryDone = date
				}
			}
			continue
		}

		if now.Sub(open) >= m.cfg.BaselineDelay {
			if err := m.CaptureBaseline(ctx); err != nil {
				continue
			}
		}
		m.Snapshot(ctx)
	}
}
