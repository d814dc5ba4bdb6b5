package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"nse-trading-bot/internal/broker"
	"nse-trading-bot/internal/clock"
	"nse-trading-bot/internal/engine"
	"nse-trading-bot/internal/portfolio"
	"nse-trading-bot/internal/signals"
)

// Event is one step of a recorded session: optional market state updates
// followed by an optional signal. Events replay in timestamp order.
type Event struct {
	At     string             `json:"at"` // RFC3339 or "2006-01-02 15:04:05" IST
	Quotes map[string]float64 `json:"quotes,omitempty"`
	Funds  *broker.Funds      `json:"funds,omitempty"`
	Signal json.RawMessage    `json:"signal,omitempty"`
}

// Session is the replay file format
type Session struct {
	Name           string  `json:"name"`
	InitialCapital float64 `json:"initial_capital"`
	Events         []Event `json:"events"`
}

// SignalResult pairs a replayed signal with its engine outcome
type SignalResult struct {
	At      time.Time
	Result  *signals.Result
	RawBody string
}

// Report summarises a completed replay
type Report struct {
	Name          string
	Signals       int
	Outcomes      map[signals.Outcome]int
	Results       []SignalResult
	FinalSnapshot *portfolio.Snapshot
}

// Runner replays a recorded session through the live signal pipeline
// against the simulating gateway.
type Runner struct {
	engine *engine.Engine
	gw     *broker.SimGateway
	clk    *clock.FakeClock
	state  *portfolio.State
}

// NewRunner wires a replay runner. The engine must have been built on the
// same gateway, clock and state.
func NewRunner(eng *engine.Engine, gw *broker.SimGateway, clk *clock.FakeClock, state *portfolio.State) *Runner {
	return &Runner{engine: eng, gw: gw, clk: clk, state: state}
}

// LoadSession reads and validates a replay file
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("malformed session file: %w", err)
	}
	if len(s.Events) == 0 {
		return nil, fmt.Errorf("session %q has no events", path)
	}
	return &s, nil
}

func parseEventTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04:05", s, clock.IST)
}

// Run replays the session and returns the report. Replay is strictly
// sequential; each event advances the fake clock before applying state.
func (r *Runner) Run(ctx context.Context, s *Session) (*Report, error) {
	events := make([]Event, len(s.Events))
	copy(events, s.Events)

	times := make([]time.Time, len(events))
	for i, ev := range events {
		t, err := parseEventTime(ev.At)
		if err != nil {
			return nil, fmt.Errorf("event %d: bad timestamp %q: %w", i, ev.At, err)
		}
		times[i] = t
	}
	sort.SliceStable(events, func(i, j int) bool { return times[i].Before(times[j]) })
	sort.SliceStable(times, func(i, j int) bool { return times[i].Before(times[j]) })

	report := &Report{
		Name:     s.Name,
		Outcomes: make(map[signals.Outcome]int),
	}

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r.clk.Current = times[i]

		for key, ltp := range ev.Quotes {
			symbol, exchange := splitQuoteKey(key)
			r.gw.SetQuote(symbol, exchange, ltp)
		}
		if ev.Funds != nil {
			r.gw.SetFunds(*ev.Funds)
		}
		if len(ev.Signal) == 0 {
			continue
		}

		sig, err := signals.ParseWebhook(ev.Signal, times[i])
		if err != nil {
			report.Signals++
			report.Outcomes[signals.OutcomeRejected]++
			report.Results = append(report.Results, SignalResult{
				At:      times[i],
				Result:  &signals.Result{Outcome: signals.OutcomeRejected, Reason: err.Error()},
				RawBody: string(ev.Signal),
			})
			continue
		}

		res := r.engine.Process(ctx, sig)
		report.Signals++
		report.Outcomes[res.Outcome]++
		report.Results = append(report.Results, SignalResult{At: times[i], Result: res})
	}

	report.FinalSnapshot = r.state.CurrentState()
	return report, nil
}

// splitQuoteKey splits "NFO:NIFTY25AUGFUT" into symbol and exchange.
// Keys without an exchange prefix default to NFO.
func splitQuoteKey(key string) (symbol, exchange string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[i+1:], key[:i]
		}
	}
	return key, "NFO"
}

// Print writes a human-readable report to stdout
func (rep *Report) Print() {
	fmt.Printf("backtest %q: %d signals\n", rep.Name, rep.Signals)

	outcomes := make([]string, 0, len(rep.Outcomes))
	for o := range rep.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Printf("  %-22s %d\n", o, rep.Outcomes[signals.Outcome(o)])
	}

	if snap := rep.FinalSnapshot; snap != nil {
		fmt.Printf("final equity %.2f (closed %.2f), open positions %d, risk %.2f%%\n",
			snap.Equity, snap.ClosedEquity, len(snap.Positions), snap.TotalRiskPercent)
		for _, p := range snap.Positions {
			fmt.Printf("  %s slot=%s lots=%d entry=%.2f stop=%.2f upnl=%.2f\n",
				p.Instrument, p.Slot, p.Lots, p.EntryPrice, p.CurrentStop, p.UnrealizedPnL)
		}
	}
}
