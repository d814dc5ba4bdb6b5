package circuit

import (
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2025, 8, 12, 10, 0, 0, 0, time.UTC)

// TestGatewayFailureStreakTrips opens the breaker after consecutive failures
// and keeps it open through the cooldown.
func TestGatewayFailureStreakTrips(t *testing.T) {
	b := NewBreaker(Config{Enabled: true, MaxGatewayFailures: 3, CooldownMinutes: 30}, nil)

	for i := 0; i < 2; i++ {
		b.RecordGatewayFailure(t0)
	}
	if ok, _ := b.CanEnter(t0); !ok {
		t.Fatal("two failures should not trip a three-failure breaker")
	}

	b.RecordGatewayFailure(t0)
	ok, reason := b.CanEnter(t0.Add(time.Minute))
	if ok {
		t.Fatal("third failure should trip the breaker")
	}
	if !strings.Contains(reason, "cooldown") {
		t.Errorf("reason = %q, want the cooldown remainder", reason)
	}
}

// TestSuccessResetsStreak clears the failure count between incidents
func TestSuccessResetsStreak(t *testing.T) {
	b := NewBreaker(Config{Enabled: true, MaxGatewayFailures: 3}, nil)

	b.RecordGatewayFailure(t0)
	b.RecordGatewayFailure(t0)
	b.RecordGatewaySuccess()
	b.RecordGatewayFailure(t0)
	b.RecordGatewayFailure(t0)

	if ok, _ := b.CanEnter(t0); !ok {
		t.Error("interleaved success should have reset the streak")
	}
}

// TestCooldownHalfOpenThenCloses walks open -> half_open -> closed
func TestCooldownHalfOpenThenCloses(t *testing.T) {
	b := NewBreaker(Config{Enabled: true, MaxGatewayFailures: 1, CooldownMinutes: 30}, nil)
	b.RecordGatewayFailure(t0)

	if ok, _ := b.CanEnter(t0.Add(29 * time.Minute)); ok {
		t.Fatal("breaker should stay open inside the cooldown")
	}

	// Past the cooldown the breaker probes in half_open
	if ok, _ := b.CanEnter(t0.Add(31 * time.Minute)); !ok {
		t.Fatal("breaker should allow a probe after the cooldown")
	}
	if state, _ := b.State(); state != StateHalfOpen {
		t.Fatalf("state = %s, want %s", state, StateHalfOpen)
	}

	// A gateway success while half open closes the breaker
	b.RecordGatewaySuccess()
	if state, reason := b.State(); state != StateClosed || reason != "" {
		t.Errorf("state = %s reason=%q, want closed and cleared", state, reason)
	}
}

// TestDailyLossTrips breaches the realized-loss limit
func TestDailyLossTrips(t *testing.T) {
	b := NewBreaker(Config{Enabled: true, MaxGatewayFailures: 5, MaxDailyLossPct: 5, CooldownMinutes: 30}, nil)

	b.RecordRealizedPnL(t0, -30_000, 1_000_000) // 3%
	if ok, _ := b.CanEnter(t0); !ok {
		t.Fatal("3% loss should not trip a 5% breaker")
	}

	b.RecordRealizedPnL(t0, -25_000, 1_000_000) // cumulative 5.5%
	if ok, _ := b.CanEnter(t0); ok {
		t.Fatal("cumulative 5.5% loss should trip")
	}
	if _, reason := b.State(); !strings.Contains(reason, "daily loss") {
		t.Errorf("reason = %q, want a daily loss trip", reason)
	}
}

// TestDailyLossResetsNextDay clears the accumulator on a new date
func TestDailyLossResetsNextDay(t *testing.T) {
	b := NewBreaker(Config{Enabled: true, MaxGatewayFailures: 5, MaxDailyLossPct: 5, CooldownMinutes: 30}, nil)

	b.RecordRealizedPnL(t0, -40_000, 1_000_000)
	nextDay := t0.Add(24 * time.Hour)
	b.RecordRealizedPnL(nextDay, -20_000, 1_000_000)

	// 2% on the new day, the prior day's 4% is gone
	if ok, _ := b.CanEnter(nextDay); !ok {
		t.Error("loss accumulator should reset across days")
	}
}

// TestRollbackFailureTripsImmediately treats a naked leg as a hard stop
func TestRollbackFailureTripsImmediately(t *testing.T) {
	b := NewBreaker(Config{Enabled: true, MaxGatewayFailures: 5, MaxRollbackFailures: 1, CooldownMinutes: 30}, nil)

	b.RecordRollbackFailure(t0)
	if ok, _ := b.CanEnter(t0); ok {
		t.Fatal("one naked-leg incident should trip at threshold 1")
	}
	if _, reason := b.State(); !strings.Contains(reason, "rollback") {
		t.Errorf("reason = %q, want a rollback trip", reason)
	}
}

// TestResetForceCloses clears state and counters
func TestResetForceCloses(t *testing.T) {
	b := NewBreaker(Config{Enabled: true, MaxGatewayFailures: 1, CooldownMinutes: 30}, nil)
	b.RecordGatewayFailure(t0)

	b.Reset()
	if ok, _ := b.CanEnter(t0); !ok {
		t.Error("reset breaker should allow entries")
	}
	if state, _ := b.State(); state != StateClosed {
		t.Errorf("state = %s, want closed", state)
	}
}

// TestDisabledBreakerNeverBlocks ignores every trip condition
func TestDisabledBreakerNeverBlocks(t *testing.T) {
	b := NewBreaker(Config{Enabled: false, MaxGatewayFailures: 1, MaxDailyLossPct: 1}, nil)

	b.RecordGatewayFailure(t0)
	b.RecordRealizedPnL(t0, -500_000, 1_000_000)
	if ok, _ := b.CanEnter(t0); !ok {
		t.Error("disabled breaker should never block")
	}
}
