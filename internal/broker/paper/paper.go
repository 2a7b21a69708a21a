// Package paper is an in-memory venue. It backs DRY_RUN mode and the
// engine tests: orders rest until a quote crosses them or a test fills
// them by hand.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeflow/internal/interfaces"
	"tradeflow/internal/types"
)

type order struct {
	id        string
	req       types.OrderRequest
	status    types.OrderStatus
	filledQty decimal.Decimal
	avgPrice  decimal.Decimal
	filledAt  time.Time
	reason    string
}

func (o *order) update() types.OrderUpdate {
	return types.OrderUpdate{
		BrokerOrderID:  o.id,
		Status:         o.status,
		FilledQty:      o.filledQty,
		FilledAvgPrice: o.avgPrice,
		FilledAt:       o.filledAt,
		Reason:         o.reason,
	}
}

// Broker is a simulated venue.
type Broker struct {
	mu       sync.Mutex
	seq      int
	orders   map[string]*order
	byClient map[string]string
	quotes   map[string]types.Quote
	holdings map[string]decimal.Decimal
	source   interfaces.QuoteSource
	reject   func(types.OrderRequest) string
	now      func() time.Time
}

var _ interfaces.Broker = (*Broker)(nil)

type Option func(*Broker)

// WithQuoteSource prices the venue from an external feed.
func WithQuoteSource(src interfaces.QuoteSource) Option {
	return func(b *Broker) { b.source = src }
}

// WithClock overrides time.Now for fill timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

func New(opts ...Option) *Broker {
	b := &Broker{
		orders:   make(map[string]*order),
		byClient: make(map[string]string),
		quotes:   make(map[string]types.Quote),
		holdings: make(map[string]decimal.Decimal),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) Name() string { return "paper" }

func (b *Broker) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderAck{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !req.Qty.IsPositive() {
		return types.OrderAck{}, types.Rejected("qty must be positive")
	}
	if req.ClientOrderID != "" {
		if _, dup := b.byClient[req.ClientOrderID]; dup {
			return types.OrderAck{}, types.Rejected("client_order_id must be unique")
		}
	}
	if b.reject != nil {
		if reason := b.reject(req); reason != "" {
			return types.OrderAck{}, types.Rejected(reason)
		}
	}

	b.seq++
	o := &order{
		id:        fmt.Sprintf("SIM-%06d", b.seq),
		req:       req,
		status:    types.OrderPending,
		filledQty: decimal.Zero,
		avgPrice:  decimal.Zero,
	}
	b.orders[o.id] = o
	if req.ClientOrderID != "" {
		b.byClient[req.ClientOrderID] = o.id
	}
	if q, ok := b.quotes[req.Symbol]; ok {
		b.match(o, q)
	}
	return types.OrderAck{BrokerOrderID: o.id, ClientOrderID: req.ClientOrderID, Status: o.status}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", brokerOrderID, types.ErrOrderNotFound)
	}
	switch o.status {
	case types.OrderFilled:
		return fmt.Errorf("cancel %s: %w", brokerOrderID, types.ErrNotCancelable)
	case types.OrderCancelled, types.OrderRejected:
		return nil
	}
	o.status = types.OrderCancelled
	return nil
}

func (b *Broker) GetOrder(ctx context.Context, brokerOrderID string) (types.OrderUpdate, error) {
	b.mu.Lock()
	o, ok := b.orders[brokerOrderID]
	var symbol string
	if ok {
		symbol = o.req.Symbol
	}
	b.mu.Unlock()
	if !ok {
		return types.OrderUpdate{}, fmt.Errorf("get %s: %w", brokerOrderID, types.ErrOrderNotFound)
	}

	if b.source != nil && !o.status.Terminal() {
		if q, err := b.source.GetLatestQuote(ctx, symbol); err == nil {
			b.SetQuote(q)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return o.update(), nil
}

func (b *Broker) GetOpenPositions(ctx context.Context) ([]types.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.Holding, 0, len(b.holdings))
	for sym, qty := range b.holdings {
		if !qty.IsZero() {
			out = append(out, types.Holding{Symbol: sym, Qty: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (b *Broker) GetLatestQuote(ctx context.Context, symbol string) (types.Quote, error) {
	if b.source != nil {
		q, err := b.source.GetLatestQuote(ctx, symbol)
		if err != nil {
			return types.Quote{}, err
		}
		b.SetQuote(q)
		return q, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.quotes[symbol]
	if !ok {
		return types.Quote{}, fmt.Errorf("%s: %w", symbol, types.ErrNoQuote)
	}
	return q, nil
}

// SetQuote updates the market for q.Symbol and fills any resting orders it
// crosses.
func (b *Broker) SetQuote(q types.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q.At.IsZero() {
		q.At = b.now()
	}
	b.quotes[q.Symbol] = q
	for _, id := range b.sortedIDs() {
		o := b.orders[id]
		if o.req.Symbol == q.Symbol && !o.status.Terminal() {
			b.match(o, q)
		}
	}
}

// Fill executes qty more of an order at price.
func (b *Broker) Fill(brokerOrderID string, qty, price decimal.Decimal, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("fill %s: %w", brokerOrderID, types.ErrOrderNotFound)
	}
	if o.status.Terminal() {
		return fmt.Errorf("fill %s: order is %s", brokerOrderID, o.status)
	}
	if at.IsZero() {
		at = b.now()
	}
	b.execute(o, qty, price, at)
	return nil
}

// Expire cancels an order on the venue side.
func (b *Broker) Expire(brokerOrderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.orders[brokerOrderID]; ok && !o.status.Terminal() {
		o.status = types.OrderCancelled
		o.reason = "expired"
	}
}

// SetHolding overrides the venue's holding for symbol, as an out-of-band
// trade would.
func (b *Broker) SetHolding(symbol string, qty decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdings[symbol] = qty
}

// RejectWhen installs a rule that rejects submissions with the returned
// reason; an empty reason accepts.
func (b *Broker) RejectWhen(fn func(types.OrderRequest) string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reject = fn
}

// Order returns the request and current state of an order.
func (b *Broker) Order(brokerOrderID string) (types.OrderRequest, types.OrderUpdate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[brokerOrderID]
	if !ok {
		return types.OrderRequest{}, types.OrderUpdate{}, false
	}
	return o.req, o.update(), true
}

// OpenOrderIDs lists resting orders for symbol in submission order.
func (b *Broker) OpenOrderIDs(symbol string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, id := range b.sortedIDs() {
		o := b.orders[id]
		if o.req.Symbol == symbol && !o.status.Terminal() {
			out = append(out, id)
		}
	}
	return out
}

func (b *Broker) sortedIDs() []string {
	ids := make([]string, 0, len(b.orders))
	for id := range b.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// match fills o in full if q crosses it. Callers hold b.mu.
func (b *Broker) match(o *order, q types.Quote) {
	remaining := o.req.Qty.Sub(o.filledQty)
	if !remaining.IsPositive() {
		return
	}
	buy := o.req.Side == types.SideBuy
	switch o.req.Kind {
	case types.KindLimit:
		if buy && q.Ask.IsPositive() && q.Ask.LessThanOrEqual(o.req.LimitPrice) {
			b.execute(o, remaining, q.Ask, q.At)
		}
		if !buy && q.Bid.IsPositive() && q.Bid.GreaterThanOrEqual(o.req.LimitPrice) {
			b.execute(o, remaining, q.Bid, q.At)
		}
	case types.KindStop:
		if buy && q.Ask.IsPositive() && q.Ask.GreaterThanOrEqual(o.req.StopPrice) {
			b.execute(o, remaining, q.Ask, q.At)
		}
		if !buy && q.Bid.IsPositive() && q.Bid.LessThanOrEqual(o.req.StopPrice) {
			b.execute(o, remaining, q.Bid, q.At)
		}
	}
}

// execute books a fill of qty at price. Callers hold b.mu.
func (b *Broker) execute(o *order, qty, price decimal.Decimal, at time.Time) {
	remaining := o.req.Qty.Sub(o.filledQty)
	if qty.GreaterThan(remaining) {
		qty = remaining
	}
	if !qty.IsPositive() {
		return
	}

	notional := o.avgPrice.Mul(o.filledQty).Add(price.Mul(qty))
	o.filledQty = o.filledQty.Add(qty)
	o.avgPrice = notional.Div(o.filledQty)
	o.filledAt = at.UTC()
	if o.filledQty.Equal(o.req.Qty) {
		o.status = types.OrderFilled
	} else {
		o.status = types.OrderPartiallyFilled
	}

	held := b.holdings[o.req.Symbol]
	if o.req.Side == types.SideBuy {
		held = held.Add(qty)
	} else {
		held = held.Sub(qty)
	}
	b.holdings[o.req.Symbol] = held
}
