package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// SimGateway is an in-memory gateway for backtests and tests. Quotes, funds
// and failure behaviour are settable; orders fill deterministically.
type SimGateway struct {
	mu sync.Mutex

	quotes    map[string]float64 // "EXCHANGE:SYMBOL" -> LTP
	funds     Funds
	positions []BrokerPosition
	chains    map[string][]OptionQuote // index -> chain

	orders      map[string]*simOrder
	nextOrderID int

	// Failure injection
	rejectSymbols  map[string]bool // PlaceOrder returns REJECTED for these
	failQuotes     bool            // Quote returns an error
	fillAfterPolls int             // Limit orders stay PENDING for this many status calls
}

type simOrder struct {
	req       OrderRequest
	status    OrderState
	filledQty int
	price     float64
	polls     int
}

// NewSimGateway creates a simulator with empty state
func NewSimGateway() *SimGateway {
	return &SimGateway{
		quotes:        make(map[string]float64),
		chains:        make(map[string][]OptionQuote),
		orders:        make(map[string]*simOrder),
		rejectSymbols: make(map[string]bool),
	}
}

// SetQuote sets the LTP returned for a symbol
func (s *SimGateway) SetQuote(symbol, exchange string, ltp float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[exchange+":"+symbol] = ltp
}

// SetFunds sets the funds snapshot
func (s *SimGateway) SetFunds(f Funds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funds = f
}

// SetPositions sets the broker position rows
func (s *SimGateway) SetPositions(positions []BrokerPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = positions
}

// SetOptionChain sets the chain returned for an index
func (s *SimGateway) SetOptionChain(index string, chain []OptionQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[index] = chain
}

// RejectSymbol makes PlaceOrder reject orders for the given symbol
func (s *SimGateway) RejectSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectSymbols[symbol] = true
}

// FailQuotes toggles quote failures for retry/bypass testing
func (s *SimGateway) FailQuotes(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failQuotes = fail
}

// FillAfterPolls delays limit fills until the Nth status poll
func (s *SimGateway) FillAfterPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillAfterPolls = n
}

// PlacedOrders returns a copy of every order placed so far
func (s *SimGateway) PlacedOrders() []OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderRequest, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.req)
	}
	return out
}

func (s *SimGateway) Funds(ctx context.Context) (*Funds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.funds
	return &f, nil
}

func (s *SimGateway) Quote(ctx context.Context, symbol, exchange string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failQuotes {
		return nil, fmt.Errorf("sim: quote unavailable for %s", symbol)
	}
	ltp, ok := s.quotes[exchange+":"+symbol]
	if !ok {
		return nil, fmt.Errorf("sim: no quote for %s:%s", exchange, symbol)
	}
	spread := math.Max(ltp*0.0005, 0.05)
	return &Quote{
		Symbol: symbol, Exchange: exchange,
		LTP: ltp, Bid: ltp - spread, Ask: ltp + spread,
		TS: time.Now(),
	}, nil
}

func (s *SimGateway) Positions(ctx context.Context) ([]BrokerPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BrokerPosition, len(s.positions))
	copy(out, s.positions)
	return out, nil
}

func (s *SimGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOrderID++
	id := fmt.Sprintf("SIM-%06d", s.nextOrderID)

	o := &simOrder{req: req}
	if s.rejectSymbols[req.Symbol] {
		o.status = StateRejected
	} else {
		o.status = StatePending
		o.price = req.Price
		if req.Type == TypeMarket {
			// Market orders fill at the quote immediately
			if ltp, ok := s.quotes[req.Exchange+":"+req.Symbol]; ok {
				o.price = ltp
			}
			o.status = StateComplete
			o.filledQty = req.Quantity
		}
	}
	s.orders[id] = o

	return &OrderResponse{Status: "success", OrderID: id}, nil
}

func (s *SimGateway) OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("sim: unknown order %s", orderID)
	}

	if o.status == StatePending {
		o.polls++
		if o.polls > s.fillAfterPolls {
			o.status = StateComplete
			o.filledQty = o.req.Quantity
		}
	}

	return &OrderStatus{OrderID: orderID, Status: o.status, FilledQty: o.filledQty, Price: o.price}, nil
}

func (s *SimGateway) ModifyOrder(ctx context.Context, orderID string, newPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("sim: unknown order %s", orderID)
	}
	if o.status != StatePending && o.status != StatePartial {
		return fmt.Errorf("sim: order %s not modifiable in state %s", orderID, o.status)
	}
	o.price = newPrice
	return nil
}

func (s *SimGateway) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("sim: unknown order %s", orderID)
	}
	if o.status == StatePending || o.status == StatePartial {
		o.status = StateCancelled
	}
	return nil
}

func (s *SimGateway) OptionChain(ctx context.Context, index string, expiry time.Time) ([]OptionQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain, ok := s.chains[index]
	if !ok {
		return nil, fmt.Errorf("sim: no chain for %s", index)
	}
	out := make([]OptionQuote, len(chain))
	copy(out, chain)
	return out, nil
}
