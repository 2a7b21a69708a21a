package interfaces

import (
	"context"

	"tradeflow/internal/types"
)

// Executor turns approved decisions into broker orders.
type Executor interface {
	RunOnce(ctx context.Context) (types.ExecResult, error)
	Execute(ctx context.Context, decisions []types.Decision) types.ExecResult
}

// OrderMonitor syncs open orders and drives fill transitions.
type OrderMonitor interface {
	RunOnce(ctx context.Context) (types.SyncResult, error)
	Sync(ctx context.Context, openOrders []types.Order) types.SyncResult
}

// PositionValuator marks open positions and reconciles them with the venue.
type PositionValuator interface {
	RunOnce(ctx context.Context) (types.ValuationResult, error)
	Valuate(ctx context.Context) (types.ValuationResult, error)
	Reconcile(ctx context.Context) (types.ValuationResult, error)
}
