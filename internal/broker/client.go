package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the live broker gateway speaking a Kite-style REST dialect
type Client struct {
	apiKey      string
	accessToken string
	baseURL     string
	httpClient  *http.Client
	limiter     *RateLimiter
}

// NewClient creates a live broker client
func NewClient(apiKey, accessToken, baseURL string, timeout time.Duration, rps float64) *Client {
	return &Client{
		apiKey:      apiKey,
		accessToken: accessToken,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     NewRateLimiter(rps),
	}
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet && params != nil {
		endpoint += "?" + params.Encode()
	} else if params != nil {
		body = bytes.NewBufferString(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, c.accessToken))
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("broker request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading broker response: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("error parsing broker response: %w", err)
	}
	if resp.StatusCode >= 400 || env.Status == "error" {
		return fmt.Errorf("broker error (%d): %s", resp.StatusCode, env.Message)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("error decoding broker data: %w", err)
		}
	}
	return nil
}

// Funds fetches the margin/funds snapshot
func (c *Client) Funds(ctx context.Context) (*Funds, error) {
	var raw struct {
		Utilised struct {
			Debits float64 `json:"debits"`
			M2MRealised   float64 `json:"m2m_realised"`
			M2MUnrealised float64 `json:"m2m_unrealised"`
		} `json:"utilised"`
		Available struct {
			Cash       float64 `json:"cash"`
			Collateral float64 `json:"collateral"`
		} `json:"available"`
	}
	if err := c.do(ctx, http.MethodGet, "/user/margins", nil, &raw); err != nil {
		return nil, err
	}
	return &Funds{
		UsedMargin:    raw.Utilised.Debits,
		AvailableCash: raw.Available.Cash,
		Collateral:    raw.Available.Collateral,
		M2MRealized:   raw.Utilised.M2MRealised,
		M2MUnrealized: raw.Utilised.M2MUnrealised,
	}, nil
}

// Quote fetches the last traded price and touchline for one symbol
func (c *Client) Quote(ctx context.Context, symbol, exchange string) (*Quote, error) {
	key := exchange + ":" + symbol
	params := url.Values{}
	params.Set("i", key)

	var raw map[string]struct {
		LastPrice float64 `json:"last_price"`
		Depth     struct {
			Buy  []struct{ Price float64 `json:"price"` } `json:"buy"`
			Sell []struct{ Price float64 `json:"price"` } `json:"sell"`
		} `json:"depth"`
		Timestamp string `json:"timestamp"`
	}
	if err := c.do(ctx, http.MethodGet, "/quote", params, &raw); err != nil {
		return nil, err
	}

	q, ok := raw[key]
	if !ok {
		return nil, fmt.Errorf("no quote returned for %s", key)
	}
	out := &Quote{Symbol: symbol, Exchange: exchange, LTP: q.LastPrice, TS: time.Now()}
	if len(q.Depth.Buy) > 0 {
		out.Bid = q.Depth.Buy[0].Price
	}
	if len(q.Depth.Sell) > 0 {
		out.Ask = q.Depth.Sell[0].Price
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", q.Timestamp); err == nil {
		out.TS = ts
	}
	return out, nil
}

// Positions fetches net open positions
func (c *Client) Positions(ctx context.Context) ([]BrokerPosition, error) {
	var raw struct {
		Net []struct {
			TradingSymbol string  `json:"tradingsymbol"`
			Exchange      string  `json:"exchange"`
			Product       string  `json:"product"`
			Quantity      int     `json:"quantity"`
			AveragePrice  float64 `json:"average_price"`
			LastPrice     float64 `json:"last_price"`
			UnrealisedPnL float64 `json:"unrealised"`
		} `json:"net"`
	}
	if err := c.do(ctx, http.MethodGet, "/portfolio/positions", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]BrokerPosition, 0, len(raw.Net))
	for _, p := range raw.Net {
		out = append(out, BrokerPosition{
			Symbol:        p.TradingSymbol,
			Exchange:      p.Exchange,
			Product:       p.Product,
			Quantity:      p.Quantity,
			AveragePrice:  p.AveragePrice,
			LastPrice:     p.LastPrice,
			UnrealizedPnL: p.UnrealisedPnL,
		})
	}
	return out, nil
}

// PlaceOrder places a regular order
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("tradingsymbol", req.Symbol)
	params.Set("exchange", req.Exchange)
	params.Set("transaction_type", string(req.Action))
	params.Set("quantity", strconv.Itoa(req.Quantity))
	params.Set("order_type", string(req.Type))
	params.Set("product", req.Product)
	if req.Type == TypeLimit {
		params.Set("price", strconv.FormatFloat(req.Price, 'f', 2, 64))
	}

	var raw struct {
		OrderID string `json:"order_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders/regular", params, &raw); err != nil {
		return nil, err
	}
	return &OrderResponse{Status: "success", OrderID: raw.OrderID}, nil
}

// OrderStatus fetches the current state of an order
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	var raw []struct {
		OrderID         string  `json:"order_id"`
		Status          string  `json:"status"`
		FilledQuantity  int     `json:"filled_quantity"`
		PendingQuantity int     `json:"pending_quantity"`
		AveragePrice    float64 `json:"average_price"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no history for order %s", orderID)
	}

	// Last history row carries the terminal state
	last := raw[len(raw)-1]
	st := &OrderStatus{OrderID: orderID, FilledQty: last.FilledQuantity, Price: last.AveragePrice}
	switch last.Status {
	case "COMPLETE":
		st.Status = StateComplete
	case "CANCELLED":
		st.Status = StateCancelled
	case "REJECTED":
		st.Status = StateRejected
	default:
		if last.FilledQuantity > 0 && last.PendingQuantity > 0 {
			st.Status = StatePartial
		} else {
			st.Status = StatePending
		}
	}
	return st, nil
}

// ModifyOrder changes the limit price of a live order
func (c *Client) ModifyOrder(ctx context.Context, orderID string, newPrice float64) error {
	params := url.Values{}
	params.Set("price", strconv.FormatFloat(newPrice, 'f', 2, 64))
	params.Set("order_type", string(TypeLimit))
	return c.do(ctx, http.MethodPut, "/orders/regular/"+orderID, params, nil)
}

// CancelOrder cancels a live order
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/orders/regular/"+orderID, nil, nil)
}

// OptionChain fetches quotes for the option strikes of an index expiry
func (c *Client) OptionChain(ctx context.Context, index string, expiry time.Time) ([]OptionQuote, error) {
	params := url.Values{}
	params.Set("index", index)
	params.Set("expiry", expiry.Format("2006-01-02"))

	var raw []struct {
		TradingSymbol string  `json:"tradingsymbol"`
		Strike        float64 `json:"strike"`
		InstrumentType string `json:"instrument_type"`
		LastPrice     float64 `json:"last_price"`
		LotSize       int     `json:"lot_size"`
	}
	if err := c.do(ctx, http.MethodGet, "/instruments/chain", params, &raw); err != nil {
		return nil, err
	}

	out := make([]OptionQuote, 0, len(raw))
	for _, r := range raw {
		out = append(out, OptionQuote{
			Symbol:     r.TradingSymbol,
			Strike:     r.Strike,
			OptionType: r.InstrumentType,
			LTP:        r.LastPrice,
			LotSize:    r.LotSize,
		})
	}
	return out, nil
}
