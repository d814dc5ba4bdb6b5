package engine

import (
	"context"
	"errors"

	"nse-trading-bot/internal/signals"
)

// ErrQueueFull means the intake queue is saturated; the webhook layer
// translates this into a busy response so the sender can retry.
var ErrQueueFull = errors.New("signal queue full")

type queued struct {
	sig   *signals.Signal
	reply chan *signals.Result
}

// Intake is the bounded queue between the webhook handler and the engine.
// One worker drains it so signals process strictly in arrival order.
type Intake struct {
	engine *Engine
	queue  chan queued
}

// NewIntake creates an intake queue of the given depth
func NewIntake(engine *Engine, depth int) *Intake {
	if depth <= 0 {
		depth = 64
	}
	return &Intake{engine: engine, queue: make(chan queued, depth)}
}

// Submit enqueues a signal without blocking. The returned channel yields
// the terminal result once the engine has processed the signal.
func (in *Intake) Submit(sig *signals.Signal) (<-chan *signals.Result, error) {
	q := queued{sig: sig, reply: make(chan *signals.Result, 1)}
	select {
	case in.queue <- q:
		return q.reply, nil
	default:
		return nil, ErrQueueFull
	}
}

// Depth reports how many signals are waiting
func (in *Intake) Depth() int { return len(in.queue) }

// Stats reports the engine's lifetime pipeline counters
func (in *Intake) Stats() Stats { return in.engine.Stats() }

// Run drains the queue until ctx is cancelled. In-flight signals finish
// before the worker exits so shutdown never abandons a half-processed
// signal.
func (in *Intake) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain whatever is already queued, then stop
			for {
				select {
				case q := <-in.queue:
					q.reply <- in.engine.Process(context.Background(), q.sig)
				default:
					return
				}
			}
		case q := <-in.queue:
			q.reply <- in.engine.Process(ctx, q.sig)
		}
	}
}
