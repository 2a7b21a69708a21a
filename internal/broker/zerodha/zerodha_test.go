package zerodha

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"

	"tradeflow/internal/types"
)

type fakeKite struct {
	placed    []kiteconnect.OrderParams
	placeErr  error
	cancelErr error
	history   map[string][]kiteconnect.Order
	positions kiteconnect.Positions
	quotes    kiteconnect.Quote
}

func (f *fakeKite) PlaceOrder(variety string, p kiteconnect.OrderParams) (kiteconnect.OrderResponse, error) {
	if f.placeErr != nil {
		return kiteconnect.OrderResponse{}, f.placeErr
	}
	f.placed = append(f.placed, p)
	return kiteconnect.OrderResponse{OrderID: "250304000000001"}, nil
}

func (f *fakeKite) CancelOrder(variety, orderID string, parent *string) (kiteconnect.OrderResponse, error) {
	if f.cancelErr != nil {
		return kiteconnect.OrderResponse{}, f.cancelErr
	}
	return kiteconnect.OrderResponse{OrderID: orderID}, nil
}

func (f *fakeKite) GetOrderHistory(orderID string) ([]kiteconnect.Order, error) {
	h, ok := f.history[orderID]
	if !ok {
		return nil, kiteconnect.Error{Code: 404, ErrorType: kiteconnect.GeneralError, Message: "order not found"}
	}
	return h, nil
}

func (f *fakeKite) GetPositions() (kiteconnect.Positions, error) { return f.positions, nil }

func (f *fakeKite) GetQuote(instruments ...string) (kiteconnect.Quote, error) { return f.quotes, nil }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestGateway(f *fakeKite) *Zerodha {
	return newWithClient(f, Params{})
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Params{APIKey: "k"})
	assert.Error(t, err)
}

func TestSubmitLimitOrder(t *testing.T) {
	f := &fakeKite{}
	z := newTestGateway(f)

	ack, err := z.SubmitOrder(context.Background(), types.OrderRequest{
		Symbol: "INFY", Side: types.SideBuy, Qty: d("10"), Kind: types.KindLimit,
		LimitPrice: d("1500.5"), TimeInForce: types.TIFGTC, ClientOrderID: "01JNFZ8ZQK4Y9W3B2C1D0E5F6G-entry",
	})
	require.NoError(t, err)
	assert.Equal(t, "250304000000001", ack.BrokerOrderID)
	assert.Equal(t, types.OrderPending, ack.Status)

	require.Len(t, f.placed, 1)
	p := f.placed[0]
	assert.Equal(t, "NSE", p.Exchange)
	assert.Equal(t, "CNC", p.Product)
	assert.Equal(t, "INFY", p.Tradingsymbol)
	assert.Equal(t, kiteconnect.OrderTypeLimit, p.OrderType)
	assert.Equal(t, kiteconnect.TransactionTypeBuy, p.TransactionType)
	assert.Equal(t, kiteconnect.ValidityDay, p.Validity)
	assert.Equal(t, 10, p.Quantity)
	assert.InDelta(t, 1500.5, p.Price, 1e-9)
	assert.LessOrEqual(t, len(p.Tag), maxTagLen)
}

func TestSubmitStopUsesTrigger(t *testing.T) {
	f := &fakeKite{}
	z := newTestGateway(f)

	_, err := z.SubmitOrder(context.Background(), types.OrderRequest{
		Symbol: "INFY", Side: types.SideSell, Qty: d("10"), Kind: types.KindStop,
		StopPrice: d("1450"), TimeInForce: types.TIFGTC,
	})
	require.NoError(t, err)
	p := f.placed[0]
	assert.Equal(t, kiteconnect.OrderTypeSLM, p.OrderType)
	assert.Equal(t, kiteconnect.TransactionTypeSell, p.TransactionType)
	assert.InDelta(t, 1450.0, p.TriggerPrice, 1e-9)
}

func TestSubmitRejections(t *testing.T) {
	z := newTestGateway(&fakeKite{placeErr: kiteconnect.Error{Code: 400, ErrorType: kiteconnect.InputError, Message: "Insufficient funds"}})
	_, err := z.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "INFY", Side: types.SideBuy, Qty: d("1"),
		Kind: types.KindLimit, LimitPrice: d("1")})
	require.ErrorIs(t, err, types.ErrRejected)
	reason, _ := types.RejectReason(err)
	assert.Equal(t, "Insufficient funds", reason)

	z = newTestGateway(&fakeKite{placeErr: kiteconnect.Error{Code: 503, ErrorType: kiteconnect.NetworkError, Message: "gateway timeout"}})
	_, err = z.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "INFY", Side: types.SideBuy, Qty: d("1"),
		Kind: types.KindLimit, LimitPrice: d("1")})
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrRejected))

	f := &fakeKite{}
	z = newTestGateway(f)
	_, err = z.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "INFY", Side: types.SideBuy, Qty: d("1.5"),
		Kind: types.KindLimit, LimitPrice: d("1")})
	assert.ErrorIs(t, err, types.ErrRejected)
	assert.Empty(t, f.placed)
}

func TestGetOrderUsesLatestHistoryEntry(t *testing.T) {
	at := time.Date(2025, 3, 4, 9, 20, 0, 0, time.UTC)
	f := &fakeKite{history: map[string][]kiteconnect.Order{
		"1": {
			{OrderID: "1", Status: "OPEN"},
			{OrderID: "1", Status: "OPEN", FilledQuantity: 4, AveragePrice: 1500.25, ExchangeUpdateTimestamp: models.Time{Time: at}},
			{OrderID: "1", Status: "COMPLETE", FilledQuantity: 10, AveragePrice: 1500.4, ExchangeUpdateTimestamp: models.Time{Time: at.Add(time.Minute)}},
		},
	}}
	z := newTestGateway(f)

	u, err := z.GetOrder(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, u.Status)
	assert.True(t, u.FilledQty.Equal(d("10")))
	assert.True(t, u.FilledAvgPrice.Equal(d("1500.4")))
	assert.Equal(t, at.Add(time.Minute), u.FilledAt)

	_, err = z.GetOrder(context.Background(), "2")
	assert.ErrorIs(t, err, types.ErrOrderNotFound)
}

func TestCancelClassifiesFilledOrders(t *testing.T) {
	f := &fakeKite{
		cancelErr: kiteconnect.Error{Code: 400, ErrorType: kiteconnect.InputError, Message: "Order cannot be cancelled as it is being processed"},
		history: map[string][]kiteconnect.Order{
			"done":   {{OrderID: "done", Status: "COMPLETE", FilledQuantity: 10, AveragePrice: 1}},
			"gone":   {{OrderID: "gone", Status: "CANCELLED"}},
			"moving": {{OrderID: "moving", Status: "OPEN"}},
		},
	}
	z := newTestGateway(f)
	ctx := context.Background()

	assert.ErrorIs(t, z.CancelOrder(ctx, "done"), types.ErrNotCancelable)
	assert.NoError(t, z.CancelOrder(ctx, "gone"))
	assert.ErrorIs(t, z.CancelOrder(ctx, "missing"), types.ErrOrderNotFound)

	err := z.CancelOrder(ctx, "moving")
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrNotCancelable))
}

func TestGetOpenPositionsFiltersFlatAndOtherExchanges(t *testing.T) {
	f := &fakeKite{positions: kiteconnect.Positions{Net: []kiteconnect.Position{
		{Tradingsymbol: "INFY", Exchange: "NSE", Quantity: 10},
		{Tradingsymbol: "TCS", Exchange: "NSE", Quantity: -5},
		{Tradingsymbol: "SBIN", Exchange: "NSE", Quantity: 0},
		{Tradingsymbol: "INFY", Exchange: "BSE", Quantity: 3},
	}}}
	z := newTestGateway(f)

	hs, err := z.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, "INFY", hs[0].Symbol)
	assert.True(t, hs[0].Qty.Equal(d("10")))
	assert.True(t, hs[1].Qty.Equal(d("-5")))
}

func TestGetLatestQuote(t *testing.T) {
	var q kiteconnect.Quote
	require.NoError(t, json.Unmarshal([]byte(`{
		"NSE:INFY": {"last_price": 1500, "depth": {"buy": [{"price": 1499.5, "quantity": 10, "orders": 1}], "sell": [{"price": 1500.5, "quantity": 5, "orders": 1}]}},
		"NSE:TCS": {"last_price": 3900}
	}`), &q))
	z := newTestGateway(&fakeKite{quotes: q})
	ctx := context.Background()

	got, err := z.GetLatestQuote(ctx, "INFY")
	require.NoError(t, err)
	mid, ok := got.Mid()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("1500")))

	got, err = z.GetLatestQuote(ctx, "TCS")
	require.NoError(t, err)
	mid, _ = got.Mid()
	assert.True(t, mid.Equal(d("3900")))

	_, err = z.GetLatestQuote(ctx, "WIPRO")
	assert.ErrorIs(t, err, types.ErrNoQuote)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, types.OrderFilled, MapStatus("COMPLETE", d("10")))
	assert.Equal(t, types.OrderPartiallyFilled, MapStatus("OPEN", d("3")))
	assert.Equal(t, types.OrderPending, MapStatus("OPEN", d("0")))
	assert.Equal(t, types.OrderPending, MapStatus("TRIGGER PENDING", d("0")))
	assert.Equal(t, types.OrderCancelled, MapStatus("CANCELLED", d("0")))
	assert.Equal(t, types.OrderRejected, MapStatus("REJECTED", d("0")))
}
