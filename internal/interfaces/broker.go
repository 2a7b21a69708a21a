package interfaces

import (
	"context"

	"tradeflow/internal/types"
)

// Broker is the venue gateway. Every call may fail transiently; rejections
// wrap types.ErrRejected and cancels of filled orders wrap
// types.ErrNotCancelable.
type Broker interface {
	Name() string
	SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrder(ctx context.Context, brokerOrderID string) (types.OrderUpdate, error)
	GetOpenPositions(ctx context.Context) ([]types.Holding, error)
	GetLatestQuote(ctx context.Context, symbol string) (types.Quote, error)
}

// QuoteSource supplies quotes to venues that do not price instruments
// themselves.
type QuoteSource interface {
	GetLatestQuote(ctx context.Context, symbol string) (types.Quote, error)
}
