package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"tradeflow/internal/interfaces"
	"tradeflow/internal/types"
)

const (
	PaperBaseURL = "https://paper-api.alpaca.markets"
	LiveBaseURL  = "https://api.alpaca.markets"
	DataURL      = "https://data.alpaca.markets"
)

type Params struct {
	APIKey    string
	APISecret string
	BaseURL   string
	DataURL   string
	Timeout   time.Duration
}

// Client talks to an Alpaca-compatible trading REST API.
type Client struct {
	reads  *resty.Client
	writes *resty.Client
	data   *resty.Client
}

var _ interfaces.Broker = (*Client)(nil)

func New(p Params) (*Client, error) {
	if p.APIKey == "" || p.APISecret == "" {
		return nil, errors.New("alpaca: missing API key/secret")
	}
	if p.BaseURL == "" {
		p.BaseURL = PaperBaseURL
	}
	if p.DataURL == "" {
		p.DataURL = DataURL
	}
	if p.Timeout == 0 {
		p.Timeout = 10 * time.Second
	}

	base := func(url string) *resty.Client {
		return resty.New().
			SetBaseURL(url).
			SetTimeout(p.Timeout).
			SetHeader("APCA-API-KEY-ID", p.APIKey).
			SetHeader("APCA-API-SECRET-KEY", p.APISecret).
			SetHeader("Accept", "application/json")
	}
	retrying := func(c *resty.Client) *resty.Client {
		return c.SetRetryCount(2).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
			})
	}

	// Submits and cancels are never retried here; a lost response is
	// resolved by the client order id on the next run.
	return &Client{
		reads:  retrying(base(p.BaseURL)),
		writes: base(p.BaseURL),
		data:   retrying(base(p.DataURL)),
	}, nil
}

func (c *Client) Name() string { return "alpaca" }

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type orderBody struct {
	Symbol        string           `json:"symbol"`
	Qty           decimal.Decimal  `json:"qty"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

type orderResp struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Status         string              `json:"status"`
	Symbol         string              `json:"symbol"`
	FilledQty      decimal.Decimal     `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	FilledAt       *time.Time          `json:"filled_at"`
}

func (o orderResp) update() types.OrderUpdate {
	u := types.OrderUpdate{
		BrokerOrderID: o.ID,
		Status:        MapStatus(o.Status, o.FilledQty),
		FilledQty:     o.FilledQty,
	}
	if o.FilledAvgPrice.Valid {
		u.FilledAvgPrice = o.FilledAvgPrice.Decimal
	}
	if o.FilledAt != nil {
		u.FilledAt = o.FilledAt.UTC()
	}
	if u.Status == types.OrderCancelled || u.Status == types.OrderRejected {
		u.Reason = o.Status
	}
	return u
}

func (c *Client) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	body := orderBody{
		Symbol:        req.Symbol,
		Qty:           req.Qty,
		Side:          string(req.Side),
		Type:          string(req.Kind),
		TimeInForce:   string(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if req.Kind == types.KindLimit {
		body.LimitPrice = &req.LimitPrice
	} else {
		body.StopPrice = &req.StopPrice
	}

	var out orderResp
	var apiErr apiError
	resp, err := c.writes.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v2/orders")
	if err != nil {
		return types.OrderAck{}, fmt.Errorf("alpaca submit %s: %w", req.Symbol, err)
	}
	if resp.IsError() {
		switch resp.StatusCode() {
		case http.StatusForbidden, http.StatusUnprocessableEntity, http.StatusNotFound, http.StatusBadRequest:
			return types.OrderAck{}, types.Rejected(apiErr.reason(resp))
		}
		return types.OrderAck{}, fmt.Errorf("alpaca submit %s: status %d: %s", req.Symbol, resp.StatusCode(), apiErr.reason(resp))
	}
	return types.OrderAck{
		BrokerOrderID: out.ID,
		ClientOrderID: out.ClientOrderID,
		Status:        MapStatus(out.Status, out.FilledQty),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	var apiErr apiError
	resp, err := c.writes.R().
		SetContext(ctx).
		SetPathParam("id", brokerOrderID).
		SetError(&apiErr).
		Delete("/v2/orders/{id}")
	if err != nil {
		return fmt.Errorf("alpaca cancel %s: %w", brokerOrderID, err)
	}
	switch {
	case !resp.IsError():
		return nil
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("alpaca cancel %s: %w", brokerOrderID, types.ErrOrderNotFound)
	case resp.StatusCode() == http.StatusUnprocessableEntity:
		return fmt.Errorf("alpaca cancel %s: %s: %w", brokerOrderID, apiErr.reason(resp), types.ErrNotCancelable)
	}
	return fmt.Errorf("alpaca cancel %s: status %d: %s", brokerOrderID, resp.StatusCode(), apiErr.reason(resp))
}

func (c *Client) GetOrder(ctx context.Context, brokerOrderID string) (types.OrderUpdate, error) {
	var out orderResp
	var apiErr apiError
	resp, err := c.reads.R().
		SetContext(ctx).
		SetPathParam("id", brokerOrderID).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v2/orders/{id}")
	if err != nil {
		return types.OrderUpdate{}, fmt.Errorf("alpaca get order %s: %w", brokerOrderID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return types.OrderUpdate{}, fmt.Errorf("alpaca get order %s: %w", brokerOrderID, types.ErrOrderNotFound)
	}
	if resp.IsError() {
		return types.OrderUpdate{}, fmt.Errorf("alpaca get order %s: status %d: %s", brokerOrderID, resp.StatusCode(), apiErr.reason(resp))
	}
	return out.update(), nil
}

type positionResp struct {
	Symbol string          `json:"symbol"`
	Qty    decimal.Decimal `json:"qty"`
	Side   string          `json:"side"`
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]types.Holding, error) {
	var out []positionResp
	var apiErr apiError
	resp, err := c.reads.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v2/positions")
	if err != nil {
		return nil, fmt.Errorf("alpaca positions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("alpaca positions: status %d: %s", resp.StatusCode(), apiErr.reason(resp))
	}

	holdings := make([]types.Holding, 0, len(out))
	for _, p := range out {
		qty := p.Qty
		if p.Side == "short" && qty.IsPositive() {
			qty = qty.Neg()
		}
		holdings = append(holdings, types.Holding{Symbol: types.NormalizeSymbol(p.Symbol), Qty: qty})
	}
	return holdings, nil
}

type quoteResp struct {
	Symbol string `json:"symbol"`
	Quote  struct {
		Ask decimal.Decimal `json:"ap"`
		Bid decimal.Decimal `json:"bp"`
		At  time.Time       `json:"t"`
	} `json:"quote"`
}

func (c *Client) GetLatestQuote(ctx context.Context, symbol string) (types.Quote, error) {
	var out quoteResp
	var apiErr apiError
	resp, err := c.data.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v2/stocks/{symbol}/quotes/latest")
	if err != nil {
		return types.Quote{}, fmt.Errorf("alpaca quote %s: %w", symbol, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return types.Quote{}, fmt.Errorf("alpaca quote %s: %w", symbol, types.ErrNoQuote)
	}
	if resp.IsError() {
		return types.Quote{}, fmt.Errorf("alpaca quote %s: status %d: %s", symbol, resp.StatusCode(), apiErr.reason(resp))
	}
	q := types.Quote{Symbol: symbol, Bid: out.Quote.Bid, Ask: out.Quote.Ask, At: out.Quote.At.UTC()}
	if _, ok := q.Mid(); !ok {
		return types.Quote{}, fmt.Errorf("alpaca quote %s: %w", symbol, types.ErrNoQuote)
	}
	return q, nil
}

func (e apiError) reason(resp *resty.Response) string {
	if e.Message != "" {
		return e.Message
	}
	if s := strings.TrimSpace(resp.String()); s != "" {
		return s
	}
	return resp.Status()
}

// MapStatus folds Alpaca's order states onto the ledger's five.
func MapStatus(s string, filledQty decimal.Decimal) types.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return types.OrderFilled
	case "partially_filled":
		return types.OrderPartiallyFilled
	case "canceled", "cancelled", "expired", "replaced":
		return types.OrderCancelled
	case "rejected", "suspended":
		return types.OrderRejected
	}
	// new, accepted, pending_new, pending_cancel, done_for_day, held, ...
	if filledQty.IsPositive() {
		return types.OrderPartiallyFilled
	}
	return types.OrderPending
}
