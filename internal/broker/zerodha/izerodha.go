package zerodha

import (
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

// kiteAPI is the slice of the Kite Connect client the gateway uses.
type kiteAPI interface {
	PlaceOrder(variety string, orderParams kiteconnect.OrderParams) (kiteconnect.OrderResponse, error)
	CancelOrder(variety string, orderID string, parentOrderID *string) (kiteconnect.OrderResponse, error)
	GetOrderHistory(orderID string) ([]kiteconnect.Order, error)
	GetPositions() (kiteconnect.Positions, error)
	GetQuote(instruments ...string) (kiteconnect.Quote, error)
}

var _ kiteAPI = (*kiteconnect.Client)(nil)
