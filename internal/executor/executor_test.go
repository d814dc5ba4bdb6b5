package executor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nse-trading-bot/internal/broker"
)

func testExecutor(gw broker.Gateway, cfg Config) *Executor {
	cfg.PollInterval = time.Millisecond
	if cfg.OrderTimeout == 0 {
		cfg.OrderTimeout = 200 * time.Millisecond
	}
	return New(gw, cfg, zerolog.Nop())
}

func buyRequest(symbol string, qty int) broker.OrderRequest {
	return broker.OrderRequest{
		Symbol:   symbol,
		Exchange: "NFO",
		Product:  "NRML",
		Action:   broker.ActionBuy,
		Quantity: qty,
	}
}

// TestSimpleLimitFills places a buffered limit and polls it to completion
func TestSimpleLimitFills(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.SetQuote("BANKNIFTY25AUGFUT", "NFO", 52000)
	gw.FillAfterPolls(2)

	e := testExecutor(gw, Config{Strategy: StrategySimpleLimit, LimitBufferPct: 0.1})
	fill, err := e.Execute(context.Background(), buyRequest("BANKNIFTY25AUGFUT", 30), 52000)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !fill.Complete() {
		t.Fatalf("filled %d of %d", fill.FilledQty, fill.RequestedQty)
	}

	// Buy limit is shaded up by the buffer: 52000 x 1.001
	if want := 52000 * 1.001; fill.LimitPrice < want-0.01 || fill.LimitPrice > want+0.01 {
		t.Errorf("limit = %v, want about %v", fill.LimitPrice, want)
	}
	// Sim fills limit orders at the limit price, so slippage equals the buffer
	if fill.SlippagePct < 0.09 || fill.SlippagePct > 0.11 {
		t.Errorf("slippage = %.4f%%, want about 0.1%%", fill.SlippagePct)
	}
}

// TestSimpleLimitRejected maps a broker rejection onto the failure taxonomy
func TestSimpleLimitRejected(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.RejectSymbol("BANKNIFTY25AUGFUT")

	e := testExecutor(gw, Config{Strategy: StrategySimpleLimit})
	_, err := e.Execute(context.Background(), buyRequest("BANKNIFTY25AUGFUT", 30), 52000)
	if err == nil {
		t.Fatal("expected rejection")
	}
	if Failure(err) != FailOrderRejected {
		t.Errorf("failure = %s, want %s", Failure(err), FailOrderRejected)
	}
}

// TestSimpleLimitTimeoutCancels cancels an unfilled order at the deadline
func TestSimpleLimitTimeoutCancels(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.FillAfterPolls(100000)

	e := testExecutor(gw, Config{
		Strategy:            StrategySimpleLimit,
		OrderTimeout:        10 * time.Millisecond,
		PartialFillStrategy: "cancel",
	})
	fill, err := e.Execute(context.Background(), buyRequest("BANKNIFTY25AUGFUT", 30), 52000)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if Failure(err) != FailTimeout {
		t.Errorf("failure = %s, want %s", Failure(err), FailTimeout)
	}
	if fill.FilledQty != 0 {
		t.Errorf("filled = %d, want 0", fill.FilledQty)
	}
}

// TestSimpleLimitTimeoutMarketFallback cancels and sweeps the remainder at
// market when configured
func TestSimpleLimitTimeoutMarketFallback(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.SetQuote("BANKNIFTY25AUGFUT", "NFO", 52080)
	gw.FillAfterPolls(100000)

	e := testExecutor(gw, Config{
		Strategy:            StrategySimpleLimit,
		OrderTimeout:        10 * time.Millisecond,
		PartialFillStrategy: "market",
	})
	fill, err := e.Execute(context.Background(), buyRequest("BANKNIFTY25AUGFUT", 30), 52000)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !fill.Complete() {
		t.Fatalf("filled %d of %d", fill.FilledQty, fill.RequestedQty)
	}
	// The sweep fills at the quote
	if fill.AvgPrice != 52080 {
		t.Errorf("avg price = %v, want the market fill at 52080", fill.AvgPrice)
	}

	orders := gw.PlacedOrders()
	if len(orders) != 2 {
		t.Fatalf("placed %d orders, want limit then market", len(orders))
	}
}

// fillOnReplace stalls the first order and lets a re-placed order fill
type fillOnReplace struct {
	*broker.SimGateway
	placed int
}

func (g *fillOnReplace) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResponse, error) {
	g.placed++
	if g.placed == 2 {
		g.SimGateway.FillAfterPolls(0)
	}
	return g.SimGateway.PlaceOrder(ctx, req)
}

// TestSimpleLimitTimeoutReattempt cancels the stalled order and re-places
// the remainder as a fresh limit, never a market sweep
func TestSimpleLimitTimeoutReattempt(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.SetQuote("BANKNIFTY25AUGFUT", "NFO", 52000)
	gw.FillAfterPolls(100000)

	e := testExecutor(&fillOnReplace{SimGateway: gw}, Config{
		Strategy:            StrategySimpleLimit,
		LimitBufferPct:      0.1,
		OrderTimeout:        10 * time.Millisecond,
		PartialFillStrategy: "reattempt",
	})
	fill, err := e.Execute(context.Background(), buyRequest("BANKNIFTY25AUGFUT", 30), 52000)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !fill.Complete() {
		t.Fatalf("filled %d of %d", fill.FilledQty, fill.RequestedQty)
	}
	if fill.Retries != 1 {
		t.Errorf("retries = %d, want the reattempt counted once", fill.Retries)
	}

	orders := gw.PlacedOrders()
	if len(orders) != 2 {
		t.Fatalf("placed %d orders, want the original and the reattempt", len(orders))
	}
	for i, o := range orders {
		if o.Type != broker.TypeLimit {
			t.Errorf("order %d type = %s, want LIMIT", i, o.Type)
		}
	}
}

// TestReattemptUnresolvedWhenSecondStalls gives up after one reattempt
func TestReattemptUnresolvedWhenSecondStalls(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.FillAfterPolls(100000)

	e := testExecutor(gw, Config{
		Strategy:            StrategySimpleLimit,
		LimitBufferPct:      0.1,
		OrderTimeout:        10 * time.Millisecond,
		PartialFillStrategy: "reattempt",
	})
	fill, err := e.Execute(context.Background(), buyRequest("BANKNIFTY25AUGFUT", 30), 52000)
	if err == nil {
		t.Fatal("expected the reattempt to stay unresolved")
	}
	if Failure(err) != FailPartialUnresolved {
		t.Errorf("failure = %s, want %s", Failure(err), FailPartialUnresolved)
	}
	if fill.FilledQty != 0 {
		t.Errorf("filled = %d, want 0", fill.FilledQty)
	}
	if orders := gw.PlacedOrders(); len(orders) != 2 {
		t.Errorf("placed %d orders, want exactly one reattempt", len(orders))
	}
}

// TestProgressiveMarketFallback exhausts the widening retries and falls back
// to market
func TestProgressiveMarketFallback(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.SetQuote("BANKNIFTY25AUGFUT", "NFO", 52050)
	gw.FillAfterPolls(100000)

	e := testExecutor(gw, Config{
		Strategy:         StrategyProgressive,
		InitialBufferPct: 0.02,
		IncrementPct:     0.02,
		MaxRetries:       2,
		RetryInterval:    5 * time.Millisecond,
		MarketFallback:   true,
	})
	fill, err := e.Execute(context.Background(), buyRequest("BANKNIFTY25AUGFUT", 30), 52000)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !fill.Complete() {
		t.Fatalf("filled %d of %d", fill.FilledQty, fill.RequestedQty)
	}
	if fill.AvgPrice != 52050 {
		t.Errorf("avg price = %v, want market fill at 52050", fill.AvgPrice)
	}
	if fill.Retries != 2 {
		t.Errorf("retries = %d, want the exhausted retry count carried over", fill.Retries)
	}
}

// TestProgressiveGivesUpWithoutFallback cancels and reports a timeout when
// market fallback is off
func TestProgressiveGivesUpWithoutFallback(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.FillAfterPolls(100000)

	e := testExecutor(gw, Config{
		Strategy:         StrategyProgressive,
		InitialBufferPct: 0.02,
		IncrementPct:     0.02,
		MaxRetries:       1,
		RetryInterval:    5 * time.Millisecond,
	})
	_, err := e.Execute(context.Background(), buyRequest("BANKNIFTY25AUGFUT", 30), 52000)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if Failure(err) != FailTimeout {
		t.Errorf("failure = %s, want %s", Failure(err), FailTimeout)
	}
}

// TestExecuteMarket fills immediately at the quote
func TestExecuteMarket(t *testing.T) {
	gw := broker.NewSimGateway()
	gw.SetQuote("GOLDM25AUGFUT", "MCX", 78500)

	e := testExecutor(gw, Config{})
	req := broker.OrderRequest{
		Symbol: "GOLDM25AUGFUT", Exchange: "MCX", Product: "NRML",
		Action: broker.ActionBuy, Quantity: 10,
	}
	fill, err := e.ExecuteMarket(context.Background(), req)
	if err != nil {
		t.Fatalf("market order: %v", err)
	}
	if !fill.Complete() || fill.AvgPrice != 78500 {
		t.Errorf("fill = %d @ %v, want 10 @ 78500", fill.FilledQty, fill.AvgPrice)
	}
}
