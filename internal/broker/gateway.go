package broker

import (
	"context"
	"time"
)

// OrderAction is the trade direction
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// Opposite returns the reversing action
func (a OrderAction) Opposite() OrderAction {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// OrderType is the broker order type
type OrderType string

const (
	TypeMarket OrderType = "MARKET"
	TypeLimit  OrderType = "LIMIT"
)

// OrderState is the broker-reported order lifecycle state
type OrderState string

const (
	StatePending   OrderState = "PENDING"
	StateComplete  OrderState = "COMPLETE"
	StatePartial   OrderState = "PARTIAL"
	StateCancelled OrderState = "CANCELLED"
	StateRejected  OrderState = "REJECTED"
)

// Funds is the broker margin/funds snapshot
type Funds struct {
	UsedMargin     float64 `json:"used_margin"`
	AvailableCash  float64 `json:"available_cash"`
	Collateral     float64 `json:"collateral"`
	M2MRealized    float64 `json:"m2m_realized"`
	M2MUnrealized  float64 `json:"m2m_unrealized"`
}

// Quote is a point-in-time market quote
type Quote struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	LTP      float64   `json:"ltp"`
	Bid      float64   `json:"bid"`
	Ask      float64   `json:"ask"`
	TS       time.Time `json:"ts"`
}

// BrokerPosition is a broker-side open position row
type BrokerPosition struct {
	Symbol        string  `json:"symbol"`
	Exchange      string  `json:"exchange"`
	Product       string  `json:"product"`
	Quantity      int     `json:"quantity"` // Signed: negative for short
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// OrderRequest describes an order to place
type OrderRequest struct {
	Symbol   string      `json:"symbol"`
	Exchange string      `json:"exchange"`
	Action   OrderAction `json:"action"`
	Quantity int         `json:"quantity"`
	Type     OrderType   `json:"type"`
	Product  string      `json:"product"`
	Price    float64     `json:"price,omitempty"` // Required for LIMIT
}

// OrderResponse is the broker's acknowledgement of a placed order
type OrderResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
}

// OrderStatus is the broker-reported fill state of an order
type OrderStatus struct {
	OrderID   string     `json:"order_id"`
	Status    OrderState `json:"status"`
	FilledQty int        `json:"filled_qty"`
	Price     float64    `json:"price"` // Average fill price
}

// OptionQuote is one strike row of an option chain
type OptionQuote struct {
	Symbol     string  `json:"symbol"`
	Strike     float64 `json:"strike"`
	OptionType string  `json:"option_type"` // "CE" or "PE"
	LTP        float64 `json:"ltp"`
	LotSize    int     `json:"lot_size"`
}

// Gateway is the broker capability. Implementations must be safe for
// concurrent use; every call carries its own timeout via ctx.
type Gateway interface {
	Funds(ctx context.Context) (*Funds, error)
	Quote(ctx context.Context, symbol, exchange string) (*Quote, error)
	Positions(ctx context.Context) ([]BrokerPosition, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
	ModifyOrder(ctx context.Context, orderID string, newPrice float64) error
	CancelOrder(ctx context.Context, orderID string) error
	OptionChain(ctx context.Context, index string, expiry time.Time) ([]OptionQuote, error)
}

// Ensure both implementations satisfy the Gateway capability
var _ Gateway = (*Client)(nil)
var _ Gateway = (*SimGateway)(nil)
