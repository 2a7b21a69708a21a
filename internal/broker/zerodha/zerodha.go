package zerodha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"tradeflow/internal/interfaces"
	"tradeflow/internal/types"
)

// Kite order tags are capped at 20 characters.
const maxTagLen = 20

type Zerodha struct {
	kc kiteAPI
	p  Params
}

var _ interfaces.Broker = (*Zerodha)(nil)

func (z *Zerodha) Name() string { return "zerodha" }

func (z *Zerodha) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderAck{}, err
	}
	params, err := z.orderParams(req)
	if err != nil {
		return types.OrderAck{}, err
	}

	resp, err := z.kc.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		if reason, ok := rejection(err); ok {
			return types.OrderAck{}, types.Rejected(reason)
		}
		return types.OrderAck{}, fmt.Errorf("kite place %s: %w", req.Symbol, err)
	}
	return types.OrderAck{
		BrokerOrderID: resp.OrderID,
		ClientOrderID: req.ClientOrderID,
		Status:        types.OrderPending,
	}, nil
}

func (z *Zerodha) orderParams(req types.OrderRequest) (kiteconnect.OrderParams, error) {
	if !req.Qty.IsInteger() {
		return kiteconnect.OrderParams{}, types.Rejected(fmt.Sprintf("fractional quantity %s not supported", req.Qty))
	}

	params := kiteconnect.OrderParams{
		Exchange:        z.p.Exchange,
		Tradingsymbol:   req.Symbol,
		Validity:        validity(req.TimeInForce),
		Product:         z.p.Product,
		TransactionType: kiteconnect.TransactionTypeBuy,
		Quantity:        int(req.Qty.IntPart()),
		Tag:             tag(req.ClientOrderID),
	}
	if req.Side == types.SideSell {
		params.TransactionType = kiteconnect.TransactionTypeSell
	}

	switch req.Kind {
	case types.KindLimit:
		params.OrderType = kiteconnect.OrderTypeLimit
		params.Price = req.LimitPrice.InexactFloat64()
	case types.KindStop:
		params.OrderType = kiteconnect.OrderTypeSLM
		params.TriggerPrice = req.StopPrice.InexactFloat64()
	default:
		return kiteconnect.OrderParams{}, types.Rejected("unsupported order kind " + string(req.Kind))
	}
	return params, nil
}

func (z *Zerodha) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := z.kc.CancelOrder(kiteconnect.VarietyRegular, brokerOrderID, nil); err != nil {
		// Kite answers a cancel on a completed order with an InputException,
		// so consult the order book before classifying.
		u, gerr := z.GetOrder(ctx, brokerOrderID)
		switch {
		case errors.Is(gerr, types.ErrOrderNotFound):
			return fmt.Errorf("kite cancel %s: %w", brokerOrderID, types.ErrOrderNotFound)
		case gerr == nil && u.Status == types.OrderFilled:
			return fmt.Errorf("kite cancel %s: %w", brokerOrderID, types.ErrNotCancelable)
		case gerr == nil && u.Status.Terminal():
			return nil
		}
		return fmt.Errorf("kite cancel %s: %w", brokerOrderID, err)
	}
	return nil
}

func (z *Zerodha) GetOrder(ctx context.Context, brokerOrderID string) (types.OrderUpdate, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderUpdate{}, err
	}
	history, err := z.kc.GetOrderHistory(brokerOrderID)
	if err != nil {
		var ke kiteconnect.Error
		if errors.As(err, &ke) && ke.Code == 404 {
			return types.OrderUpdate{}, fmt.Errorf("kite order %s: %w", brokerOrderID, types.ErrOrderNotFound)
		}
		return types.OrderUpdate{}, fmt.Errorf("kite order %s: %w", brokerOrderID, err)
	}
	if len(history) == 0 {
		return types.OrderUpdate{}, fmt.Errorf("kite order %s: %w", brokerOrderID, types.ErrOrderNotFound)
	}
	return orderUpdate(history[len(history)-1]), nil
}

func (z *Zerodha) GetOpenPositions(ctx context.Context) ([]types.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pos, err := z.kc.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("kite positions: %w", err)
	}

	holdings := make([]types.Holding, 0, len(pos.Net))
	for _, p := range pos.Net {
		if p.Quantity == 0 || (z.p.Exchange != "" && p.Exchange != z.p.Exchange) {
			continue
		}
		holdings = append(holdings, types.Holding{
			Symbol: types.NormalizeSymbol(p.Tradingsymbol),
			Qty:    decimal.NewFromInt(int64(p.Quantity)),
		})
	}
	return holdings, nil
}

func (z *Zerodha) GetLatestQuote(ctx context.Context, symbol string) (types.Quote, error) {
	if err := ctx.Err(); err != nil {
		return types.Quote{}, err
	}
	key := z.instrument(symbol)
	quotes, err := z.kc.GetQuote(key)
	if err != nil {
		return types.Quote{}, fmt.Errorf("kite quote %s: %w", symbol, err)
	}
	data, ok := quotes[key]
	if !ok {
		return types.Quote{}, fmt.Errorf("kite quote %s: %w", symbol, types.ErrNoQuote)
	}

	q := types.Quote{Symbol: symbol, At: data.Timestamp.Time.UTC()}
	for _, lvl := range data.Depth.Buy {
		q.Bid = decimal.NewFromFloat(lvl.Price)
		break
	}
	for _, lvl := range data.Depth.Sell {
		q.Ask = decimal.NewFromFloat(lvl.Price)
		break
	}
	if _, ok := q.Mid(); !ok {
		if data.LastPrice <= 0 {
			return types.Quote{}, fmt.Errorf("kite quote %s: %w", symbol, types.ErrNoQuote)
		}
		// Outside market hours the depth is empty; fall back to the last trade.
		q.Bid = decimal.NewFromFloat(data.LastPrice)
		q.Ask = q.Bid
	}
	return q, nil
}

func (z *Zerodha) instrument(symbol string) string {
	return z.p.Exchange + ":" + symbol
}

// orderUpdate converts the latest order-history entry.
func orderUpdate(o kiteconnect.Order) types.OrderUpdate {
	filled := decimal.NewFromFloat(o.FilledQuantity)
	u := types.OrderUpdate{
		BrokerOrderID: o.OrderID,
		Status:        MapStatus(o.Status, filled),
		FilledQty:     filled,
	}
	if filled.IsPositive() {
		u.FilledAvgPrice = decimal.NewFromFloat(o.AveragePrice)
		u.FilledAt = fillTime(o)
	}
	if u.Status == types.OrderCancelled || u.Status == types.OrderRejected {
		u.Reason = o.StatusMessage
		if u.Reason == "" {
			u.Reason = o.Status
		}
	}
	return u
}

func fillTime(o kiteconnect.Order) time.Time {
	for _, t := range []time.Time{o.ExchangeUpdateTimestamp.Time, o.ExchangeTimestamp.Time, o.OrderTimestamp.Time} {
		if !t.IsZero() {
			return t.UTC()
		}
	}
	return time.Time{}
}

// MapStatus folds Kite's order states onto the ledger's five.
func MapStatus(s string, filledQty decimal.Decimal) types.OrderStatus {
	switch strings.ToUpper(s) {
	case "COMPLETE":
		return types.OrderFilled
	case "CANCELLED":
		return types.OrderCancelled
	case "REJECTED":
		return types.OrderRejected
	}
	// OPEN, TRIGGER PENDING, PUT ORDER REQ RECEIVED, VALIDATION PENDING, ...
	if filledQty.IsPositive() {
		return types.OrderPartiallyFilled
	}
	return types.OrderPending
}

func validity(tif types.TimeInForce) string {
	if tif == types.TIFIOC || tif == types.TIFFOK {
		return kiteconnect.ValidityIOC
	}
	// Regular Kite orders have no GTC; protective legs are re-placed by the
	// repair pass when a DAY order lapses.
	return kiteconnect.ValidityDay
}

func tag(clientOrderID string) string {
	if len(clientOrderID) > maxTagLen {
		return clientOrderID[len(clientOrderID)-maxTagLen:]
	}
	return clientOrderID
}

// rejection reports whether err is a venue refusal rather than a transport failure.
func rejection(err error) (string, bool) {
	var ke kiteconnect.Error
	if !errors.As(err, &ke) {
		return "", false
	}
	switch ke.ErrorType {
	case kiteconnect.InputError, kiteconnect.OrderError, "MarginException":
		return ke.Message, true
	}
	return "", false
}
