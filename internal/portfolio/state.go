package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"nse-trading-bot/internal/instrument"
	"nse-trading-bot/internal/signals"
)

// ErrStaleVersion means the aggregate changed between snapshot and commit.
// The caller should re-read and re-validate its admission decision.
var ErrStaleVersion = errors.New("portfolio version changed since snapshot")

// ErrRiskCapExceeded means admission would breach the hard portfolio risk cap
var ErrRiskCapExceeded = errors.New("admission would exceed portfolio risk cap")

// Config holds portfolio aggregate configuration
type Config struct {
	InitialCapital float64
	EquityMode     string  // "closed", "open", "blended"
	BlendedWeight  float64 // Weight of open equity in blended mode
	MaxRiskPct     float64 // Hard admission cap
}

// Snapshot is an immutable view of the aggregate
type Snapshot struct {
	Version          uint64      `json:"version"`
	InitialCapital   float64     `json:"initial_capital"`
	ClosedEquity     float64     `json:"closed_equity"`
	Equity           float64     `json:"equity"`
	TotalRiskAmount  float64     `json:"total_risk_amount"`
	TotalRiskPercent float64     `json:"total_risk_percent"`
	TotalVolAmount   float64     `json:"total_vol_amount"`
	TotalVolPercent  float64     `json:"total_vol_percent"`
	MarginUsed       float64     `json:"margin_used"`
	Positions        []*Position `json:"positions"`
	TakenAt          time.Time   `json:"taken_at"`
}

// State is the singleton portfolio aggregate. All mutation is serialised
// by its lock; every mutation bumps the version.
type State struct {
	mu      sync.Mutex
	cfg     Config
	version uint64

	closedEquity float64
	marginUsed   float64
	positions    map[string]*Position
}

// NewState creates a portfolio aggregate with no positions
func NewState(cfg Config) *State {
	if cfg.MaxRiskPct == 0 {
		cfg.MaxRiskPct = 15
	}
	if cfg.EquityMode == "" {
		cfg.EquityMode = "closed"
	}
	return &State{
		cfg:          cfg,
		version:      1, // 0 stays free as the skip-CAS sentinel
		closedEquity: cfg.InitialCapital,
		positions:    make(map[string]*Position),
	}
}

// CurrentState returns a consistent snapshot of the aggregate
func (s *State) CurrentState() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Version:        s.version,
		InitialCapital: s.cfg.InitialCapital,
		ClosedEquity:   s.closedEquity,
		MarginUsed:     s.marginUsed,
		TakenAt:        time.Now(),
	}

	var unrealized float64
	for _, p := range s.positions {
		if p.Status == StatusClosed {
			continue
		}
		snap.Positions = append(snap.Positions, p.clone())
		unrealized += p.UnrealizedPnL
		snap.TotalRiskAmount += p.OpenRisk()
		snap.TotalVolAmount += p.VolExposure()
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].EntryTime.Before(snap.Positions[j].EntryTime)
	})

	snap.Equity = s.equityLocked(unrealized)
	if snap.Equity > 0 {
		snap.TotalRiskPercent = snap.TotalRiskAmount / snap.Equity * 100
		snap.TotalVolPercent = snap.TotalVolAmount / snap.Equity * 100
	}
	return snap
}

// equityLocked applies the configured equity mode
func (s *State) equityLocked(unrealized float64) float64 {
	switch s.cfg.EquityMode {
	case "open":
		return s.closedEquity + unrealized
	case "blended":
		w := s.cfg.BlendedWeight
		return s.closedEquity + w*unrealized
	default: // closed
		return s.closedEquity
	}
}

// AddPosition admits a new position. The admission decision is re-validated
// under the lock: if expectedVersion no longer matches, ErrStaleVersion is
// returned; if the projected total risk breaches the cap,
// ErrRiskCapExceeded is returned. Pass expectedVersion 0 to skip the CAS;
// live versions start at 1, so 0 never matches a real snapshot.
func (s *State) AddPosition(p *Position, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expectedVersion != 0 && expectedVersion != s.version {
		return ErrStaleVersion
	}
	if _, exists := s.positions[p.ID]; exists {
		return fmt.Errorf("position %s already registered", p.ID)
	}

	var unrealized, riskAmount float64
	for _, existing := range s.positions {
		if existing.Status == StatusClosed {
			continue
		}
		unrealized += existing.UnrealizedPnL
		riskAmount += existing.OpenRisk()
	}
	riskAmount += p.OpenRisk()

	equity := s.equityLocked(unrealized)
	if equity > 0 && riskAmount/equity*100 > s.cfg.MaxRiskPct {
		return fmt.Errorf("%w: projected %.2f%% > %.2f%%",
			ErrRiskCapExceeded, riskAmount/equity*100, s.cfg.MaxRiskPct)
	}

	s.positions[p.ID] = p.clone()
	s.version++
	return nil
}

// ClosePosition closes a position and realizes its P&L. Closing always
// admits regardless of risk totals.
func (s *State) ClosePosition(id string, exitPrice float64, exitTime time.Time) (*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("unknown position %s", id)
	}
	if p.Status == StatusClosed {
		return nil, fmt.Errorf("position %s already closed", id)
	}

	p.Status = StatusClosed
	p.ExitPrice = exitPrice
	p.ExitTime = exitTime
	p.RealizedPnL = (exitPrice - p.EntryPrice) * float64(p.Quantity) * p.PointValue
	p.UnrealizedPnL = 0
	s.closedEquity += p.RealizedPnL
	s.version++
	return p.clone(), nil
}

// UpdateUnrealized refreshes a position's last price and unrealized P&L.
// Only the margin monitor calls this.
func (s *State) UpdateUnrealized(id string, lastPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("unknown position %s", id)
	}
	if p.Status == StatusClosed {
		return nil
	}
	p.LastPrice = lastPrice
	p.UnrealizedPnL = (lastPrice - p.EntryPrice) * float64(p.Quantity) * p.PointValue
	s.version++
	return nil
}

// UpdateStop applies a stop-manager decision. Stops only ratchet upward;
// a lower stop is ignored without error so updates stay idempotent.
func (s *State) UpdateStop(id string, newStop, highestClose float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("unknown position %s", id)
	}
	if p.Status == StatusClosed {
		return nil
	}

	changed := false
	if highestClose > p.HighestClose {
		p.HighestClose = highestClose
		changed = true
	}
	if newStop > p.CurrentStop {
		p.CurrentStop = newStop
		changed = true
	}
	if changed {
		s.version++
	}
	return nil
}

// SetMarginUsed records the latest broker-reported used margin
func (s *State) SetMarginUsed(margin float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marginUsed = margin
	s.version++
}

// MarkIntegritySuspect tags a position for the boot-time integrity check
func (s *State) MarkIntegritySuspect(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("unknown position %s", id)
	}
	p.IntegritySuspect = true
	s.version++
	return nil
}

// OpenByInstrument returns open positions for one instrument, oldest first
func (s *State) OpenByInstrument(inst instrument.Instrument) []*Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Position
	for _, p := range s.positions {
		if p.Status != StatusClosed && p.Instrument == inst {
			out = append(out, p.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// FindBySlot returns the open position occupying an instrument slot
func (s *State) FindBySlot(inst instrument.Instrument, slot signals.Slot) *Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.positions {
		if p.Status != StatusClosed && p.Instrument == inst && p.Slot == slot {
			return p.clone()
		}
	}
	return nil
}

// IntegritySuspects returns positions flagged by a failed rollback
func (s *State) IntegritySuspects() []*Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Position
	for _, p := range s.positions {
		if p.IntegritySuspect {
			out = append(out, p.clone())
		}
	}
	return out
}

// Restore re-registers a persisted position at boot, bypassing admission
func (s *State) Restore(p *Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p.clone()
	s.version++
}

// SetClosedEquity overrides closed equity when restoring persisted state
func (s *State) SetClosedEquity(equity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedEquity = equity
	s.version++
}
