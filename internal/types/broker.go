package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderRequest struct {
	Symbol        string
	Side          Side
	Qty           decimal.Decimal
	Kind          OrderKind
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
}

type OrderAck struct {
	BrokerOrderID string
	ClientOrderID string
	Status        OrderStatus
}

// OrderUpdate is the venue's current view of one order.
type OrderUpdate struct {
	BrokerOrderID  string
	Status         OrderStatus
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
	FilledAt       time.Time
	Reason         string
}

// Holding is a venue-side open position. Qty is negative for shorts.
type Holding struct {
	Symbol string
	Qty    decimal.Decimal
}

type Quote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	At     time.Time
}

// Mid is the bid/ask midpoint, or whichever side is quoted.
func (q Quote) Mid() (decimal.Decimal, bool) {
	bid, ask := q.Bid.IsPositive(), q.Ask.IsPositive()
	switch {
	case bid && ask:
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2)), true
	case ask:
		return q.Ask, true
	case bid:
		return q.Bid, true
	}
	return decimal.Zero, false
}
