package circuit

import (
	"fmt"
	"sync"
	"time"

	"nse-trading-bot/internal/events"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Trading halted
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// Config holds circuit breaker configuration
type Config struct {
	Enabled             bool    `json:"enabled"`
	MaxGatewayFailures  int     `json:"max_gateway_failures"`  // Consecutive broker failures before trip
	MaxDailyLossPct     float64 `json:"max_daily_loss_pct"`    // Realized daily loss as % of equity
	CooldownMinutes     int     `json:"cooldown_minutes"`      // Cooldown after trip
	MaxRollbackFailures int     `json:"max_rollback_failures"` // Naked-leg incidents before trip
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		MaxGatewayFailures:  5,
		MaxDailyLossPct:     5.0,
		CooldownMinutes:     30,
		MaxRollbackFailures: 1,
	}
}

// Breaker halts new entries after repeated broker failures or a daily loss
// breach. Exits are never blocked by the breaker.
type Breaker struct {
	mu sync.Mutex

	cfg   Config
	bus   *events.Bus
	state BreakerState

	gatewayFailures  int
	rollbackFailures int
	dailyLoss        float64
	equity           float64
	tripReason       string
	lastTripTime     time.Time
	dailyResetDate   string
}

// NewBreaker creates a circuit breaker
func NewBreaker(cfg Config, bus *events.Bus) *Breaker {
	if cfg.MaxGatewayFailures == 0 {
		cfg.MaxGatewayFailures = 5
	}
	if cfg.CooldownMinutes == 0 {
		cfg.CooldownMinutes = 30
	}
	return &Breaker{cfg: cfg, bus: bus, state: StateClosed}
}

// CanEnter checks whether new entries are allowed
func (b *Breaker) CanEnter(now time.Time) (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetDailyLocked(now)

	if b.state == StateOpen {
		cooldown := time.Duration(b.cfg.CooldownMinutes) * time.Minute
		elapsed := now.Sub(b.lastTripTime)
		if elapsed < cooldown {
			return false, fmt.Sprintf("circuit open, %s cooldown remaining (reason: %s)",
				(cooldown - elapsed).Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
	}
	return true, ""
}

// RecordGatewayFailure counts a broker failure; enough in a row trips
func (b *Breaker) RecordGatewayFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gatewayFailures++
	if b.cfg.Enabled && b.gatewayFailures >= b.cfg.MaxGatewayFailures {
		b.tripLocked(now, fmt.Sprintf("%d consecutive gateway failures", b.gatewayFailures))
	}
}

// RecordGatewaySuccess resets the failure streak; a half-open breaker closes
func (b *Breaker) RecordGatewaySuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gatewayFailures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.tripReason = ""
		if b.bus != nil {
			b.bus.Publish(events.Event{Type: events.EventCircuitReset,
				Data: map[string]interface{}{"state": string(StateClosed)}})
		}
	}
}

// RecordRollbackFailure counts a naked-leg incident; these trip immediately
// at the configured threshold.
func (b *Breaker) RecordRollbackFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollbackFailures++
	if b.cfg.Enabled && b.rollbackFailures >= b.cfg.MaxRollbackFailures {
		b.tripLocked(now, fmt.Sprintf("%d unresolved rollback failure(s)", b.rollbackFailures))
	}
}

// RecordRealizedPnL accumulates the day's realized result against equity
func (b *Breaker) RecordRealizedPnL(now time.Time, pnl, equity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetDailyLocked(now)
	if pnl < 0 {
		b.dailyLoss += -pnl
	}
	b.equity = equity

	if b.cfg.Enabled && equity > 0 && b.dailyLoss/equity*100 >= b.cfg.MaxDailyLossPct {
		b.tripLocked(now, fmt.Sprintf("daily loss %.2f%% breached %.2f%% limit",
			b.dailyLoss/equity*100, b.cfg.MaxDailyLossPct))
	}
}

// Reset force-closes the breaker and clears counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.gatewayFailures = 0
	b.rollbackFailures = 0
	b.tripReason = ""
	if b.bus != nil {
		b.bus.Publish(events.Event{Type: events.EventCircuitReset,
			Data: map[string]interface{}{"state": string(StateClosed), "forced": true}})
	}
}

// State returns the current state and trip reason
func (b *Breaker) State() (BreakerState, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.tripReason
}

func (b *Breaker) tripLocked(now time.Time, reason string) {
	if b.state == StateOpen {
		return
	}
	b.state = StateOpen
	b.tripReason = reason
	b.lastTripTime = now
	if b.bus != nil {
		b.bus.Publish(events.Event{Type: events.EventCircuitTripped,
			Data: map[string]interface{}{"reason": reason}})
	}
}

func (b *Breaker) resetDailyLocked(now time.Time) {
	date := now.Format("2006-01-02")
	if b.dailyResetDate != date {
		b.dailyResetDate = date
		b.dailyLoss = 0
	}
}
