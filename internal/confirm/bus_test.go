package confirm

import (
	"context"
	"sync"
	"testing"
	"time"

	"nse-trading-bot/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
}

// captureChannel records asked requests for the test to reply to
type captureChannel struct {
	mu   sync.Mutex
	reqs []*Request
}

func (c *captureChannel) Ask(req *Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
}

func (c *captureChannel) last() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reqs) == 0 {
		return nil
	}
	return c.reqs[len(c.reqs)-1]
}

var zeroLotsOptions = []Option{
	{Action: "skip", Label: "Skip the signal", Default: true},
	{Action: "force_one_lot", Label: "Force one lot"},
}

// TestTimeoutReturnsDefault falls back when nobody answers
func TestTimeoutReturnsDefault(t *testing.T) {
	b := NewBus(Config{DefaultTimeout: 20 * time.Millisecond}, testLogger())

	got := b.Ask(context.Background(), "zero_lots", nil, zeroLotsOptions, 0, "skip")
	if got != "skip" {
		t.Errorf("timed-out answer = %q, want the default skip", got)
	}

	_, timedOut, _ := b.Stats()
	if timedOut != 1 {
		t.Errorf("timedOut = %d, want 1", timedOut)
	}
}

// TestReplyWins delivers the human's answer before the timeout
func TestReplyWins(t *testing.T) {
	b := NewBus(Config{DefaultTimeout: 2 * time.Second}, testLogger())
	ch := &captureChannel{}
	b.AddChannel(ch)

	done := make(chan string, 1)
	go func() {
		done <- b.Ask(context.Background(), "zero_lots", nil, zeroLotsOptions, 0, "skip")
	}()

	// Wait for the request to reach the channel
	var req *Request
	for i := 0; i < 100; i++ {
		if req = ch.last(); req != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if req == nil {
		t.Fatal("request never dispatched")
	}

	if !b.Reply(req.ID, "force_one_lot") {
		t.Fatal("valid reply rejected")
	}
	if got := <-done; got != "force_one_lot" {
		t.Errorf("answer = %q, want force_one_lot", got)
	}

	answered, _, _ := b.Stats()
	if answered != 1 {
		t.Errorf("answered = %d, want 1", answered)
	}
}

// TestInvalidReplyRejected ignores actions outside the offered set
func TestInvalidReplyRejected(t *testing.T) {
	b := NewBus(Config{DefaultTimeout: 50 * time.Millisecond}, testLogger())
	ch := &captureChannel{}
	b.AddChannel(ch)

	done := make(chan string, 1)
	go func() {
		done <- b.Ask(context.Background(), "zero_lots", nil, zeroLotsOptions, 0, "skip")
	}()

	var req *Request
	for i := 0; i < 100; i++ {
		if req = ch.last(); req != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if req == nil {
		t.Fatal("request never dispatched")
	}

	if b.Reply(req.ID, "abort_everything") {
		t.Error("reply with an unoffered action should be rejected")
	}
	if got := <-done; got != "skip" {
		t.Errorf("answer = %q, want the default after the invalid reply", got)
	}
}

// TestUnknownIDRejected returns false for ids that are not pending
func TestUnknownIDRejected(t *testing.T) {
	b := NewBus(Config{}, testLogger())
	if b.Reply("no-such-id", "skip") {
		t.Error("unknown id should be rejected")
	}
}

// TestQueueFullReturnsDefault drops immediately at capacity
func TestQueueFullReturnsDefault(t *testing.T) {
	b := NewBus(Config{DefaultTimeout: time.Second, QueueSize: 1}, testLogger())

	// Occupy the single slot
	go b.Ask(context.Background(), "first", nil, zeroLotsOptions, time.Second, "skip")
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	got := b.Ask(context.Background(), "second", nil, zeroLotsOptions, time.Second, "skip")
	if got != "skip" {
		t.Errorf("over-capacity answer = %q, want default", got)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("over-capacity ask blocked %v, want immediate default", elapsed)
	}

	_, _, dropped := b.Stats()
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

// TestDefaultComesFromOptions prefers the option marked default
func TestDefaultComesFromOptions(t *testing.T) {
	b := NewBus(Config{DefaultTimeout: 20 * time.Millisecond}, testLogger())

	options := []Option{
		{Action: "manual", Label: "Handle manually", Default: true},
		{Action: "retry", Label: "Retry rollback"},
	}
	got := b.Ask(context.Background(), "rollback_failed", nil, options, 0, "retry")
	if got != "manual" {
		t.Errorf("answer = %q, want the Default-flagged option", got)
	}
}
