package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nse-trading-bot/internal/broker"
)

// Strategy selects the execution algorithm
type Strategy string

const (
	StrategySimpleLimit Strategy = "simple_limit"
	StrategyProgressive Strategy = "progressive"
)

// FailureKind is the execution failure taxonomy propagated to the engine
// and into audit records.
type FailureKind string

const (
	FailGatewayUnreachable FailureKind = "gateway_unreachable"
	FailOrderRejected      FailureKind = "order_rejected"
	FailTimeout            FailureKind = "timeout"
	FailPartialUnresolved  FailureKind = "partial_fill_unresolved"
	FailRollbackFailed     FailureKind = "rollback_failed"
	FailValidationBypass   FailureKind = "validation_bypassed_then_executed"
	FailZeroLots           FailureKind = "zero_lots"
)

// ExecError wraps a broker error with its taxonomy kind
type ExecError struct {
	Kind FailureKind
	Err  error
}

func (e *ExecError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Failure extracts the taxonomy kind from an execution error
func Failure(err error) FailureKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return FailGatewayUnreachable
}

// Fill is the outcome of one executed order
type Fill struct {
	OrderID      string    `json:"order_id"`
	RequestedQty int       `json:"requested_qty"`
	FilledQty    int       `json:"filled_qty"`
	AvgPrice     float64   `json:"avg_price"`
	LimitPrice   float64   `json:"limit_price,omitempty"`
	SlippagePct  float64   `json:"slippage_pct"`
	Retries      int       `json:"retries"`
	PlacedAt     time.Time `json:"placed_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Complete reports whether the full requested quantity filled
func (f *Fill) Complete() bool { return f.FilledQty >= f.RequestedQty }

// Config holds executor tuning
type Config struct {
	Strategy            Strategy
	LimitBufferPct      float64       // SimpleLimit buffer past reference price
	OrderTimeout        time.Duration // SimpleLimit per-order deadline
	PollInterval        time.Duration
	PartialFillStrategy string // "cancel", "wait", "reattempt", "market"
	InitialBufferPct    float64
	IncrementPct        float64
	MaxRetries          int
	RetryInterval       time.Duration
	MarketFallback      bool
}

// Executor drives orders through the broker gateway
type Executor struct {
	gw  broker.Gateway
	cfg Config
	log zerolog.Logger
}

// New creates an executor
func New(gw broker.Gateway, cfg Config, log zerolog.Logger) *Executor {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySimpleLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 60 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 3 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Executor{gw: gw, cfg: cfg, log: log.With().Str("component", "executor").Logger()}
}

// Execute runs the configured strategy. refPrice is the price the order is
// priced from, normally the live LTP or the validated signal price.
func (e *Executor) Execute(ctx context.Context, req broker.OrderRequest, refPrice float64) (*Fill, error) {
	switch e.cfg.Strategy {
	case StrategyProgressive:
		return e.executeProgressive(ctx, req, refPrice)
	default:
		return e.executeSimpleLimit(ctx, req, refPrice)
	}
}

// buffered shades a limit price toward the fill side of the book
func buffered(ref float64, action broker.OrderAction, pct float64) float64 {
	if action == broker.ActionBuy {
		return ref * (1 + pct/100)
	}
	return ref * (1 - pct/100)
}

func slippagePct(ref, fill float64, action broker.OrderAction) float64 {
	if ref <= 0 {
		return 0
	}
	s := (fill - ref) / ref * 100
	if action == broker.ActionSell {
		s = -s
	}
	return s
}

// executeSimpleLimit places one limit order and polls until filled or the
// order deadline lapses, then escalates per the partial-fill strategy.
func (e *Executor) executeSimpleLimit(ctx context.Context, req broker.OrderRequest, refPrice float64) (*Fill, error) {
	req.Type = broker.TypeLimit
	req.Price = buffered(refPrice, req.Action, e.cfg.LimitBufferPct)

	fill := &Fill{RequestedQty: req.Quantity, LimitPrice: req.Price, PlacedAt: time.Now()}

	resp, err := e.gw.PlaceOrder(ctx, req)
	if err != nil {
		return nil, &ExecError{Kind: FailGatewayUnreachable, Err: err}
	}
	fill.OrderID = resp.OrderID
	e.log.Info().Str("order_id", resp.OrderID).Str("symbol", req.Symbol).
		Str("action", string(req.Action)).Int("qty", req.Quantity).
		Float64("limit", req.Price).Msg("limit order placed")

	deadline := time.Now().Add(e.cfg.OrderTimeout)
	status, err := e.pollUntilTerminal(ctx, resp.OrderID, deadline)
	if err != nil {
		return fill, err
	}

	switch status.Status {
	case broker.StateComplete:
		fill.FilledQty = status.FilledQty
		fill.AvgPrice = status.Price
		fill.SlippagePct = slippagePct(refPrice, status.Price, req.Action)
		fill.CompletedAt = time.Now()
		return fill, nil
	case broker.StateRejected:
		return fill, &ExecError{Kind: FailOrderRejected, Err: fmt.Errorf("order %s rejected", resp.OrderID)}
	case broker.StateCancelled:
		return fill, &ExecError{Kind: FailTimeout, Err: fmt.Errorf("order %s cancelled", resp.OrderID)}
	}

	// Deadline lapsed with the order pending or partially filled
	return e.resolveTimeout(ctx, req, fill, status, refPrice)
}

// resolveTimeout handles a limit order that did not complete in time
func (e *Executor) resolveTimeout(ctx context.Context, req broker.OrderRequest,
	fill *Fill, status *broker.OrderStatus, refPrice float64) (*Fill, error) {

	fill.FilledQty = status.FilledQty
	fill.AvgPrice = status.Price

	switch e.cfg.PartialFillStrategy {
	case "reattempt":
		return e.reattemptRemainder(ctx, req, fill, refPrice)
	case "wait":
		extended := time.Now().Add(e.cfg.OrderTimeout)
		st, err := e.pollUntilTerminal(ctx, fill.OrderID, extended)
		if err == nil && st.Status == broker.StateComplete {
			fill.FilledQty = st.FilledQty
			fill.AvgPrice = st.Price
			fill.SlippagePct = slippagePct(refPrice, st.Price, req.Action)
			fill.CompletedAt = time.Now()
			return fill, nil
		}
		fallthrough
	case "market":
		if err := e.gw.CancelOrder(ctx, fill.OrderID); err != nil {
			return fill, &ExecError{Kind: FailPartialUnresolved, Err: err}
		}
		remainder := req.Quantity - fill.FilledQty
		if remainder <= 0 {
			fill.CompletedAt = time.Now()
			return fill, nil
		}
		mktReq := req
		mktReq.Quantity = remainder
		mkt, err := e.ExecuteMarket(ctx, mktReq)
		if err != nil {
			return fill, &ExecError{Kind: FailPartialUnresolved, Err: err}
		}
		if fill.FilledQty+mkt.FilledQty > 0 {
			fill.AvgPrice = (fill.AvgPrice*float64(fill.FilledQty) + mkt.AvgPrice*float64(mkt.FilledQty)) /
				float64(fill.FilledQty+mkt.FilledQty)
		}
		fill.FilledQty += mkt.FilledQty
		fill.SlippagePct = slippagePct(refPrice, fill.AvgPrice, req.Action)
		fill.CompletedAt = time.Now()
		return fill, nil
	default: // cancel
		if err := e.gw.CancelOrder(ctx, fill.OrderID); err != nil {
			return fill, &ExecError{Kind: FailPartialUnresolved, Err: err}
		}
		e.log.Warn().Str("order_id", fill.OrderID).Int("filled", fill.FilledQty).
			Int("requested", fill.RequestedQty).Msg("order cancelled at deadline")
		if fill.FilledQty > 0 {
			return fill, &ExecError{Kind: FailPartialUnresolved,
				Err: fmt.Errorf("order %s filled %d of %d before cancel", fill.OrderID, fill.FilledQty, fill.RequestedQty)}
		}
		return fill, &ExecError{Kind: FailTimeout, Err: fmt.Errorf("order %s unfilled at deadline", fill.OrderID)}
	}
}

// reattemptRemainder cancels the stalled order and re-places the remainder
// as a fresh limit at the same buffered price, giving it one more deadline.
func (e *Executor) reattemptRemainder(ctx context.Context, req broker.OrderRequest,
	fill *Fill, refPrice float64) (*Fill, error) {

	if err := e.gw.CancelOrder(ctx, fill.OrderID); err != nil {
		return fill, &ExecError{Kind: FailPartialUnresolved, Err: err}
	}
	remainder := req.Quantity - fill.FilledQty
	if remainder <= 0 {
		fill.CompletedAt = time.Now()
		return fill, nil
	}

	fresh := req
	fresh.Quantity = remainder
	resp, err := e.gw.PlaceOrder(ctx, fresh)
	if err != nil {
		return fill, &ExecError{Kind: FailPartialUnresolved, Err: err}
	}
	e.log.Info().Str("order_id", resp.OrderID).Int("qty", remainder).
		Float64("limit", fresh.Price).Msg("remainder re-placed as a fresh limit")
	fill.Retries++

	status, err := e.pollUntilTerminal(ctx, resp.OrderID, time.Now().Add(e.cfg.OrderTimeout))
	if err != nil {
		return fill, &ExecError{Kind: FailPartialUnresolved, Err: err}
	}
	if status.Status == broker.StateComplete {
		if fill.FilledQty+status.FilledQty > 0 {
			fill.AvgPrice = (fill.AvgPrice*float64(fill.FilledQty) + status.Price*float64(status.FilledQty)) /
				float64(fill.FilledQty+status.FilledQty)
		}
		fill.FilledQty += status.FilledQty
		fill.SlippagePct = slippagePct(refPrice, fill.AvgPrice, req.Action)
		fill.CompletedAt = time.Now()
		return fill, nil
	}

	_ = e.gw.CancelOrder(ctx, resp.OrderID)
	return fill, &ExecError{Kind: FailPartialUnresolved,
		Err: fmt.Errorf("reattempt order %s ended %s with %d of %d filled",
			resp.OrderID, status.Status, fill.FilledQty, fill.RequestedQty)}
}

// executeProgressive starts with a tight limit and widens the live order's
// price each retry interval, optionally falling back to market at the end.
func (e *Executor) executeProgressive(ctx context.Context, req broker.OrderRequest, refPrice float64) (*Fill, error) {
	req.Type = broker.TypeLimit
	req.Price = buffered(refPrice, req.Action, e.cfg.InitialBufferPct)

	fill := &Fill{RequestedQty: req.Quantity, LimitPrice: req.Price, PlacedAt: time.Now()}

	resp, err := e.gw.PlaceOrder(ctx, req)
	if err != nil {
		return nil, &ExecError{Kind: FailGatewayUnreachable, Err: err}
	}
	fill.OrderID = resp.OrderID
	e.log.Info().Str("order_id", resp.OrderID).Str("symbol", req.Symbol).
		Float64("limit", req.Price).Msg("progressive order placed")

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		deadline := time.Now().Add(e.cfg.RetryInterval)
		status, err := e.pollUntilTerminal(ctx, resp.OrderID, deadline)
		if err != nil {
			return fill, err
		}
		switch status.Status {
		case broker.StateComplete:
			fill.FilledQty = status.FilledQty
			fill.AvgPrice = status.Price
			fill.SlippagePct = slippagePct(refPrice, status.Price, req.Action)
			fill.Retries = attempt
			fill.CompletedAt = time.Now()
			return fill, nil
		case broker.StateRejected:
			return fill, &ExecError{Kind: FailOrderRejected, Err: fmt.Errorf("order %s rejected", resp.OrderID)}
		case broker.StateCancelled:
			return fill, &ExecError{Kind: FailTimeout, Err: fmt.Errorf("order %s cancelled", resp.OrderID)}
		}

		if attempt == e.cfg.MaxRetries {
			break
		}
		pct := e.cfg.InitialBufferPct + float64(attempt+1)*e.cfg.IncrementPct
		newPrice := buffered(refPrice, req.Action, pct)
		if err := e.gw.ModifyOrder(ctx, resp.OrderID, newPrice); err != nil {
			return fill, &ExecError{Kind: FailGatewayUnreachable, Err: err}
		}
		fill.LimitPrice = newPrice
		fill.Retries = attempt + 1
		e.log.Debug().Str("order_id", resp.OrderID).Float64("new_limit", newPrice).
			Int("attempt", attempt+1).Msg("widened limit price")
	}

	if e.cfg.MarketFallback {
		if err := e.gw.CancelOrder(ctx, resp.OrderID); err != nil {
			return fill, &ExecError{Kind: FailTimeout, Err: err}
		}
		mkt, err := e.ExecuteMarket(ctx, req)
		if err != nil {
			return fill, err
		}
		mkt.Retries = fill.Retries
		mkt.SlippagePct = slippagePct(refPrice, mkt.AvgPrice, req.Action)
		return mkt, nil
	}

	if err := e.gw.CancelOrder(ctx, resp.OrderID); err != nil {
		return fill, &ExecError{Kind: FailTimeout, Err: err}
	}
	return fill, &ExecError{Kind: FailTimeout,
		Err: fmt.Errorf("order %s unfilled after %d retries", resp.OrderID, e.cfg.MaxRetries)}
}

// ExecuteMarket places a market order and waits for its fill. Used for
// rollbacks, market fallback, and forced exits.
func (e *Executor) ExecuteMarket(ctx context.Context, req broker.OrderRequest) (*Fill, error) {
	req.Type = broker.TypeMarket
	req.Price = 0

	fill := &Fill{RequestedQty: req.Quantity, PlacedAt: time.Now()}

	resp, err := e.gw.PlaceOrder(ctx, req)
	if err != nil {
		return nil, &ExecError{Kind: FailGatewayUnreachable, Err: err}
	}
	fill.OrderID = resp.OrderID

	deadline := time.Now().Add(e.cfg.OrderTimeout)
	status, err := e.pollUntilTerminal(ctx, resp.OrderID, deadline)
	if err != nil {
		return fill, err
	}
	switch status.Status {
	case broker.StateComplete:
		fill.FilledQty = status.FilledQty
		fill.AvgPrice = status.Price
		fill.CompletedAt = time.Now()
		return fill, nil
	case broker.StateRejected:
		return fill, &ExecError{Kind: FailOrderRejected, Err: fmt.Errorf("market order %s rejected", resp.OrderID)}
	default:
		return fill, &ExecError{Kind: FailTimeout, Err: fmt.Errorf("market order %s not complete", resp.OrderID)}
	}
}

// pollUntilTerminal polls order status until it reaches a terminal state or
// the deadline passes. The last observed status is returned either way.
func (e *Executor) pollUntilTerminal(ctx context.Context, orderID string, deadline time.Time) (*broker.OrderStatus, error) {
	last := &broker.OrderStatus{OrderID: orderID, Status: broker.StatePending}
	for {
		status, err := e.gw.OrderStatus(ctx, orderID)
		if err != nil {
			return last, &ExecError{Kind: FailGatewayUnreachable, Err: err}
		}
		last = status
		switch status.Status {
		case broker.StateComplete, broker.StateRejected, broker.StateCancelled:
			return status, nil
		}
		if time.Now().After(deadline) {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, &ExecError{Kind: FailTimeout, Err: ctx.Err()}
		case <-time.After(e.cfg.PollInterval):
		}
	}
}
