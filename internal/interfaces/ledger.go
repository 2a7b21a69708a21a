package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradeflow/internal/types"
)

// Records is the persisted state shared by the three stages. Transition
// methods are conditional on the row's current status and return
// ledger.ErrStale when the expected prior status no longer holds.
type Records interface {
	InsertDecision(ctx context.Context, d types.Decision) error
	GetDecision(ctx context.Context, id string) (types.Decision, error)
	PendingDecisions(ctx context.Context) ([]types.Decision, error)
	MarkDecisionExecuted(ctx context.Context, id, remarks string, at time.Time) error

	InsertTrade(ctx context.Context, t types.Trade) error
	GetTrade(ctx context.Context, id string) (types.Trade, error)
	ListTrades(ctx context.Context, statuses ...types.TradeStatus) ([]types.Trade, error)
	OpenTrade(ctx context.Context, id string, entry, qty decimal.Decimal, at time.Time) error
	ResizeTrade(ctx context.Context, id string, entry, qty decimal.Decimal, at time.Time) error
	CloseTrade(ctx context.Context, id string, c types.TradeClose) error
	CancelTrade(ctx context.Context, id string, reason types.ExitReason, at time.Time) error
	ReviewTrade(ctx context.Context, id string, at time.Time) error

	InsertOrder(ctx context.Context, o types.Order) error
	GetOrder(ctx context.Context, id string) (types.Order, error)
	GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (types.Order, error)
	OrdersForTrade(ctx context.Context, tradeID string) ([]types.Order, error)
	OpenOrders(ctx context.Context) ([]types.Order, error)
	ApplyOrderUpdate(ctx context.Context, id string, from types.OrderStatus, u types.OrderUpdate, at time.Time) error
	MarkOrderCancelled(ctx context.Context, id string, at time.Time) error
	LatestFilledExit(ctx context.Context, tradeID string) (types.Order, bool, error)

	InsertPosition(ctx context.Context, p types.Position) error
	GetPositionByTrade(ctx context.Context, tradeID string) (types.Position, error)
	ListPositions(ctx context.Context) ([]types.Position, error)
	MarkPosition(ctx context.Context, p types.Position) error
	ResizePosition(ctx context.Context, p types.Position) error
	SetProtectiveOrders(ctx context.Context, tradeID, stopLossID, takeProfitID string, at time.Time) error
	DeletePosition(ctx context.Context, tradeID string) error

	FlagAnomaly(ctx context.Context, a types.Anomaly) (bool, error)
	ListAnomalies(ctx context.Context) ([]types.Anomaly, error)
}

// Ledger adds transactions to Records. fn's writes commit together or not
// at all.
type Ledger interface {
	Records
	InTx(ctx context.Context, fn func(Records) error) error
}
