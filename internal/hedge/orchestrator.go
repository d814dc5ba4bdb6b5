package hedge

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"nse-trading-bot/internal/broker"
	"nse-trading-bot/internal/clock"
	"nse-trading-bot/internal/database"
	"nse-trading-bot/internal/events"
	"nse-trading-bot/internal/executor"
	"nse-trading-bot/internal/logging"
	"nse-trading-bot/internal/margin"
	"nse-trading-bot/internal/schedule"
)

// UtilSource feeds the orchestrator current margin utilisation
type UtilSource interface {
	Latest() *margin.Reading
	TotalBudget() float64
}

// Planner answers schedule questions
type Planner interface {
	NextEntry() (schedule.Entry, time.Duration, bool)
	IsEntryImminent() bool
	ShouldHoldHedges() bool
}

// Ledger is the hedge persistence surface
type Ledger interface {
	AppendHedgeTransaction(ctx context.Context, tx *database.HedgeTransaction) error
	DailyHedgeSpend(ctx context.Context, sessionDate string) (float64, error)
	SaveActiveHedge(ctx context.Context, h *database.ActiveHedge) error
	RemoveActiveHedge(ctx context.Context, sessionDate, symbol string, strike float64, optionType string) error
	ActiveHedges(ctx context.Context, sessionDate string) ([]database.ActiveHedge, error)
}

// Config holds orchestrator thresholds
type Config struct {
	EntryTriggerPct float64 // Buy hedges above this projected utilisation
	EntryTargetPct  float64 // Reduce projected utilisation to this
	ExitTriggerPct  float64 // Consider exits below this current utilisation
	Band            Band
	MaxCostPerDay   float64
	Cooldown        time.Duration
	MinExitValue    float64
	FullPair        bool // Buy one CE and one PE per action
	Exchange        string
	Product         string
}

// Decision records what one orchestrator tick concluded
type Decision struct {
	Action           string  `json:"action"` // "buy", "exit", "none"
	Reason           string  `json:"reason"`
	CurrentUtilPct   float64 `json:"current_util_pct"`
	ProjectedUtilPct float64 `json:"projected_util_pct"`
	BasketsHedged    int     `json:"baskets_hedged,omitempty"`
	PlannedCost      float64 `json:"planned_cost,omitempty"`
}

// Orchestrator runs the auto-hedge decision loop: buy deep OTM option
// protection when projected margin utilisation breaches the entry trigger,
// exit the least useful hedge when utilisation has fallen away.
type Orchestrator struct {
	gw     broker.Gateway
	exec   *executor.Executor
	table  *MarginTable
	util   UtilSource
	sched  Planner
	ledger Ledger
	bus    *events.Bus
	clk    clock.Clock
	cal    *clock.Calendar
	log    *logging.Logger
	cfg    Config

	mu         sync.Mutex
	busy       bool
	lastAction time.Time
}

// NewOrchestrator creates a hedge orchestrator
func NewOrchestrator(gw broker.Gateway, exec *executor.Executor, table *MarginTable,
	util UtilSource, sched Planner, ledger Ledger, bus *events.Bus,
	clk clock.Clock, cal *clock.Calendar, log *logging.Logger, cfg Config) *Orchestrator {

	if cfg.EntryTriggerPct == 0 {
		cfg.EntryTriggerPct = 95
	}
	if cfg.EntryTargetPct == 0 {
		cfg.EntryTargetPct = 85
	}
	if cfg.ExitTriggerPct == 0 {
		cfg.ExitTriggerPct = 70
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "NFO"
	}
	if cfg.Product == "" {
		cfg.Product = "NRML"
	}
	return &Orchestrator{
		gw:     gw,
		exec:   exec,
		table:  table,
		util:   util,
		sched:  sched,
		ledger: ledger,
		bus:    bus,
		clk:    clk,
		cal:    cal,
		log:    log.WithComponent("hedge"),
		cfg:    cfg,
	}
}

// Run drives Tick at the given cadence until ctx is cancelled
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	o.log.Info("hedge orchestrator started", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("hedge orchestrator stopped")
			return
		case <-ticker.C:
			if _, err := o.Tick(ctx); err != nil {
				o.log.Error("hedge tick failed", "error", err)
			}
		}
	}
}

// Tick makes at most one hedge decision. A tick that arrives while a
// prior action is still executing is skipped.
func (o *Orchestrator) Tick(ctx context.Context) (*Decision, error) {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return &Decision{Action: "none", Reason: "prior action still pending"}, nil
	}
	o.busy = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
	}()

	reading := o.util.Latest()
	if reading == nil {
		return &Decision{Action: "none", Reason: "no margin reading yet"}, nil
	}

	dec := &Decision{Action: "none", CurrentUtilPct: reading.UtilisationPct}
	budget := o.util.TotalBudget()
	if budget <= 0 {
		dec.Reason = "zero margin budget"
		return dec, nil
	}

	entry, _, hasEntry := o.sched.NextEntry()
	imminent := hasEntry && o.sched.IsEntryImminent()

	projectedIntraday := reading.IntradayUsed
	dec.ProjectedUtilPct = reading.UtilisationPct
	if imminent {
		perBasket, _, ok := o.table.PerBasket(entry.Index, entry.ExpiryType, false)
		if !ok {
			dec.Reason = fmt.Sprintf("no margin table row for %s", entry.Index)
			return dec, nil
		}
		projectedIntraday += float64(entry.Baskets) * perBasket
		dec.ProjectedUtilPct = projectedIntraday / budget * 100
	}

	switch {
	case imminent && dec.ProjectedUtilPct > o.cfg.EntryTriggerPct:
		return o.buy(ctx, dec, entry, projectedIntraday, budget)
	case reading.UtilisationPct < o.cfg.ExitTriggerPct && !o.sched.ShouldHoldHedges():
		return o.exit(ctx, dec, reading, budget)
	default:
		dec.Reason = fmt.Sprintf("projected %.1f%% within limits", dec.ProjectedUtilPct)
		return dec, nil
	}
}

// expiryFor maps an expiry type to a concrete expiry date
func (o *Orchestrator) expiryFor(expiryType string, now time.Time) time.Time {
	now = now.In(clock.IST)
	switch strings.ToUpper(expiryType) {
	case "0DTE":
		return now
	case "1DTE":
		return o.cal.NextTradingDay(now)
	default:
		// Weekly and unknown types hedge the nearest listed expiry
		return o.cal.NextTradingDay(now)
	}
}

// spotFrom estimates spot as the strike where call and put premiums cross
func spotFrom(chain []broker.OptionQuote) float64 {
	ce := make(map[float64]float64)
	for _, q := range chain {
		if q.OptionType == "CE" {
			ce[q.Strike] = q.LTP
		}
	}
	best, bestDiff := 0.0, math.MaxFloat64
	for _, q := range chain {
		if q.OptionType != "PE" {
			continue
		}
		if c, ok := ce[q.Strike]; ok {
			if d := math.Abs(c - q.LTP); d < bestDiff {
				best, bestDiff = q.Strike, d
			}
		}
	}
	return best
}

// shortQty sums the open short quantity for an index and option side
func shortQty(positions []broker.BrokerPosition, index, side string) int {
	total := 0
	for _, p := range positions {
		if p.Quantity >= 0 {
			continue
		}
		sym := strings.ToUpper(p.Symbol)
		if strings.HasPrefix(sym, strings.ToUpper(index)) && strings.HasSuffix(sym, side) {
			total += -p.Quantity
		}
	}
	return total
}

func (o *Orchestrator) buy(ctx context.Context, dec *Decision, entry schedule.Entry,
	projectedIntraday, budget float64) (*Decision, error) {

	now := o.clk.Now()
	date := now.In(clock.IST).Format("2006-01-02")

	o.mu.Lock()
	sinceLast := now.Sub(o.lastAction)
	o.mu.Unlock()
	if sinceLast < o.cfg.Cooldown {
		dec.Reason = fmt.Sprintf("cooldown, %s since last action", sinceLast.Round(time.Second))
		return dec, nil
	}

	benefit, ok := o.table.Benefit(entry.Index, entry.ExpiryType)
	if !ok || benefit <= 0 {
		dec.Reason = "no hedge benefit in margin table"
		return dec, nil
	}

	// Baskets to hedge so projected utilisation comes back to target
	target := o.cfg.EntryTargetPct / 100 * budget
	reduction := projectedIntraday - target
	baskets := int(math.Ceil(reduction / benefit))
	if baskets < 1 {
		baskets = 1
	}
	if baskets > entry.Baskets {
		baskets = entry.Baskets
	}

	expiry := o.expiryFor(entry.ExpiryType, now)
	chain, err := o.gw.OptionChain(ctx, entry.Index, expiry)
	if err != nil {
		return dec, fmt.Errorf("option chain fetch: %w", err)
	}
	if len(chain) == 0 {
		dec.Reason = "empty option chain"
		return dec, nil
	}

	spot := spotFrom(chain)
	lotSize := chain[0].LotSize
	if lotSize <= 0 {
		lotSize = 1
	}
	qty := baskets * lotSize

	sides := []string{"CE"}
	if o.cfg.FullPair {
		sides = []string{"CE", "PE"}
	}

	positions, err := o.gw.Positions(ctx)
	if err != nil {
		return dec, fmt.Errorf("positions fetch: %w", err)
	}
	actives, err := o.ledger.ActiveHedges(ctx, date)
	if err != nil {
		return dec, err
	}

	// Pick one candidate per side and price the whole action first
	type planned struct {
		side string
		cand Candidate
		qty  int
	}
	var plan []planned
	var plannedCost float64
	for _, side := range sides {
		cands := RankCandidates(chain, spot, side, o.cfg.Band, qty, benefit*float64(baskets))
		if len(cands) == 0 {
			dec.Reason = fmt.Sprintf("no %s candidate inside premium/OTM band", side)
			return dec, nil
		}

		// Hedge quantity per leg never exceeds the unhedged short quantity
		// on the same side, else the hedge stops earning margin benefit.
		held := 0
		for _, a := range actives {
			if a.OptionType == side {
				held += a.Quantity
			}
		}
		unhedgedShort := shortQty(positions, entry.Index, side) - held
		legQty := qty
		if legQty > unhedgedShort {
			legQty = unhedgedShort
		}
		if legQty <= 0 {
			dec.Reason = fmt.Sprintf("no unhedged short %s quantity to protect", side)
			return dec, nil
		}

		c := cands[0]
		plan = append(plan, planned{side: side, cand: c, qty: legQty})
		plannedCost += c.Quote.LTP * float64(legQty)
	}

	spend, err := o.ledger.DailyHedgeSpend(ctx, date)
	if err != nil {
		return dec, err
	}
	if spend+plannedCost > o.cfg.MaxCostPerDay {
		dec.Reason = fmt.Sprintf("daily hedge budget: spent %.0f, planned %.0f, cap %.0f",
			spend, plannedCost, o.cfg.MaxCostPerDay)
		return dec, nil
	}

	dec.Action = "buy"
	dec.BasketsHedged = baskets
	dec.PlannedCost = plannedCost

	for _, p := range plan {
		fill, err := o.exec.Execute(ctx, broker.OrderRequest{
			Symbol:   p.cand.Quote.Symbol,
			Exchange: o.cfg.Exchange,
			Product:  o.cfg.Product,
			Action:   broker.ActionBuy,
			Quantity: p.qty,
		}, p.cand.Quote.LTP)
		if err != nil {
			o.bus.PublishHedgeAction(events.EventHedgeFailed, p.cand.Quote.Symbol,
				p.cand.Quote.Strike, p.side, p.qty, p.cand.Quote.LTP)
			return dec, fmt.Errorf("hedge %s leg: %w", p.side, err)
		}

		tx := &database.HedgeTransaction{
			SessionDate: date,
			Action:      "BUY",
			Symbol:      p.cand.Quote.Symbol,
			IndexName:   entry.Index,
			Strike:      p.cand.Quote.Strike,
			OptionType:  p.side,
			Quantity:    fill.FilledQty,
			Price:       fill.AvgPrice,
			OTMDistance: p.cand.OTMDistance,
			MBPR:        p.cand.MBPR,
			Reason:      fmt.Sprintf("projected util %.1f%% above %.1f%%", dec.ProjectedUtilPct, o.cfg.EntryTriggerPct),
		}
		if err := o.ledger.AppendHedgeTransaction(ctx, tx); err != nil {
			o.log.Error("hedge ledger append failed", "error", err)
		}
		if err := o.ledger.SaveActiveHedge(ctx, &database.ActiveHedge{
			SessionDate: date,
			Symbol:      p.cand.Quote.Symbol,
			Strike:      p.cand.Quote.Strike,
			OptionType:  p.side,
			IndexName:   entry.Index,
			Quantity:    fill.FilledQty,
			EntryPrice:  fill.AvgPrice,
			OTMDistance: p.cand.OTMDistance,
			BoughtAt:    now,
		}); err != nil {
			o.log.Error("active hedge save failed", "error", err)
		}
		o.bus.PublishHedgeAction(events.EventHedgeBought, p.cand.Quote.Symbol,
			p.cand.Quote.Strike, p.side, fill.FilledQty, fill.AvgPrice)
		o.log.Info("hedge bought",
			"symbol", p.cand.Quote.Symbol,
			"qty", fill.FilledQty,
			"price", fill.AvgPrice,
			"mbpr", p.cand.MBPR)
	}

	o.mu.Lock()
	o.lastAction = now
	o.mu.Unlock()
	dec.Reason = fmt.Sprintf("projected util %.1f%% reduced toward %.1f%%", dec.ProjectedUtilPct, o.cfg.EntryTargetPct)
	return dec, nil
}

func (o *Orchestrator) exit(ctx context.Context, dec *Decision, reading *margin.Reading, budget float64) (*Decision, error) {
	now := o.clk.Now()
	date := now.In(clock.IST).Format("2006-01-02")

	o.mu.Lock()
	sinceLast := now.Sub(o.lastAction)
	o.mu.Unlock()
	if sinceLast < o.cfg.Cooldown {
		dec.Reason = fmt.Sprintf("cooldown, %s since last action", sinceLast.Round(time.Second))
		return dec, nil
	}

	actives, err := o.ledger.ActiveHedges(ctx, date)
	if err != nil {
		return dec, err
	}
	if len(actives) == 0 {
		dec.Reason = "no active hedges"
		return dec, nil
	}

	// Lowest OTM distance first: the least protective hedge goes first
	h := actives[0]
	for _, a := range actives[1:] {
		if a.OTMDistance < h.OTMDistance {
			h = a
		}
	}

	// Exiting gives back the hedge's margin benefit; stay inside the trigger
	benefit, _ := o.table.Benefit(h.IndexName, "WEEKLY")
	postUtil := (reading.IntradayUsed + benefit) / budget * 100
	if postUtil > o.cfg.EntryTriggerPct {
		dec.Reason = fmt.Sprintf("exit would push util to %.1f%%", postUtil)
		return dec, nil
	}

	quote, err := o.gw.Quote(ctx, h.Symbol, o.cfg.Exchange)
	if err != nil {
		return dec, fmt.Errorf("hedge quote: %w", err)
	}
	exitValue := quote.LTP * float64(h.Quantity)
	if exitValue < o.cfg.MinExitValue {
		dec.Reason = fmt.Sprintf("exit value %.0f below minimum %.0f", exitValue, o.cfg.MinExitValue)
		return dec, nil
	}

	fill, err := o.exec.Execute(ctx, broker.OrderRequest{
		Symbol:   h.Symbol,
		Exchange: o.cfg.Exchange,
		Product:  o.cfg.Product,
		Action:   broker.ActionSell,
		Quantity: h.Quantity,
	}, quote.LTP)
	if err != nil {
		o.bus.PublishHedgeAction(events.EventHedgeFailed, h.Symbol, h.Strike, h.OptionType, h.Quantity, quote.LTP)
		return dec, fmt.Errorf("hedge exit: %w", err)
	}

	if err := o.ledger.AppendHedgeTransaction(ctx, &database.HedgeTransaction{
		SessionDate: date,
		Action:      "SELL",
		Symbol:      h.Symbol,
		IndexName:   h.IndexName,
		Strike:      h.Strike,
		OptionType:  h.OptionType,
		Quantity:    fill.FilledQty,
		Price:       fill.AvgPrice,
		OTMDistance: h.OTMDistance,
		Reason:      fmt.Sprintf("current util %.1f%% below %.1f%%", reading.UtilisationPct, o.cfg.ExitTriggerPct),
	}); err != nil {
		o.log.Error("hedge ledger append failed", "error", err)
	}
	if err := o.ledger.RemoveActiveHedge(ctx, date, h.Symbol, h.Strike, h.OptionType); err != nil {
		o.log.Error("active hedge remove failed", "error", err)
	}
	o.bus.PublishHedgeAction(events.EventHedgeSold, h.Symbol, h.Strike, h.OptionType, fill.FilledQty, fill.AvgPrice)

	o.mu.Lock()
	o.lastAction = now
	o.mu.Unlock()

	dec.Action = "exit"
	dec.PlannedCost = -exitValue
	dec.Reason = fmt.Sprintf("sold %s hedge worth %.0f", h.Symbol, exitValue)
	o.log.Info("hedge sold", "symbol", h.Symbol, "qty", fill.FilledQty, "price", fill.AvgPrice)
	return dec, nil
}
