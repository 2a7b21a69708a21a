package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradeflow/internal/types"
)

const orderCols = `id, trade_id, decision_id, broker_order_id, client_order_id, role, side, kind,
	time_in_force, qty, limit_price, stop_price, status, filled_qty, filled_avg_price, filled_at,
	created_at, updated_at`

func (r *records) InsertOrder(ctx context.Context, o types.Order) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO orders (`+orderCols+`) VALUES (`+placeholders(18)+`)`,
		o.ID, o.TradeID, o.DecisionID, o.BrokerOrderID, o.ClientOrderID, string(o.Role), string(o.Side),
		string(o.Kind), string(o.TimeInForce), o.Qty, o.LimitPrice, o.StopPrice, string(o.Status),
		o.FilledQty, o.FilledAvgPrice, nullTime(o.FilledAt), o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	return insertErr(err)
}

func (r *records) GetOrder(ctx context.Context, id string) (types.Order, error) {
	return r.oneOrder(ctx, `SELECT `+orderCols+` FROM orders WHERE id = ?`, "order "+id, id)
}

func (r *records) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (types.Order, error) {
	return r.oneOrder(ctx,
		`SELECT `+orderCols+` FROM orders WHERE broker_order_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		"broker order "+brokerOrderID, brokerOrderID)
}

func (r *records) OrdersForTrade(ctx context.Context, tradeID string) ([]types.Order, error) {
	return r.listOrders(ctx, `SELECT `+orderCols+` FROM orders WHERE trade_id = ? ORDER BY created_at, id`, tradeID)
}

// OpenOrders returns every order not yet in a terminal status.
func (r *records) OpenOrders(ctx context.Context) ([]types.Order, error) {
	return r.listOrders(ctx,
		`SELECT `+orderCols+` FROM orders WHERE status IN (?, ?) ORDER BY created_at, id`,
		string(types.OrderPending), string(types.OrderPartiallyFilled))
}

// ApplyOrderUpdate writes the venue's view of an order, provided the row is
// still in status from.
func (r *records) ApplyOrderUpdate(ctx context.Context, id string, from types.OrderStatus, u types.OrderUpdate, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE orders SET status = ?, filled_qty = ?, filled_avg_price = ?, filled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(u.Status), u.FilledQty, u.FilledAvgPrice, nullTime(u.FilledAt), at.UTC(), id, string(from))
	if err != nil {
		return err
	}
	return r.guarded(ctx, res, "orders", id)
}

// MarkOrderCancelled moves a non-terminal order to cancelled.
func (r *records) MarkOrderCancelled(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(types.OrderCancelled), at.UTC(), id,
		string(types.OrderPending), string(types.OrderPartiallyFilled))
	if err != nil {
		return err
	}
	return r.guarded(ctx, res, "orders", id)
}

// LatestFilledExit returns the most recently filled protective order of a
// trade.
func (r *records) LatestFilledExit(ctx context.Context, tradeID string) (types.Order, bool, error) {
	o, err := r.oneOrder(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE trade_id = ? AND role IN (?, ?) AND status = ?
		 ORDER BY filled_at DESC, id DESC LIMIT 1`,
		"exit order for trade "+tradeID,
		tradeID, string(types.RoleStopLoss), string(types.RoleTakeProfit), string(types.OrderFilled))
	if errors.Is(err, ErrNotFound) {
		return types.Order{}, false, nil
	}
	if err != nil {
		return types.Order{}, false, err
	}
	return o, true, nil
}

func (r *records) oneOrder(ctx context.Context, query, what string, args ...any) (types.Order, error) {
	o, err := scanOrder(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Order{}, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return o, err
}

func (r *records) listOrders(ctx context.Context, query string, args ...any) ([]types.Order, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(s scanner) (types.Order, error) {
	var (
		o                              types.Order
		role, side, kind, tif, status  string
		filledAt, createdAt, updatedAt sql.NullTime
	)
	err := s.Scan(&o.ID, &o.TradeID, &o.DecisionID, &o.BrokerOrderID, &o.ClientOrderID, &role, &side, &kind,
		&tif, &o.Qty, &o.LimitPrice, &o.StopPrice, &status, &o.FilledQty, &o.FilledAvgPrice, &filledAt,
		&createdAt, &updatedAt)
	if err != nil {
		return types.Order{}, err
	}
	o.Role = types.OrderRole(role)
	o.Side = types.Side(side)
	o.Kind = types.OrderKind(kind)
	o.TimeInForce = types.TimeInForce(tif)
	o.Status = types.OrderStatus(status)
	o.FilledAt = timeOf(filledAt)
	o.CreatedAt = timeOf(createdAt)
	o.UpdatedAt = timeOf(updatedAt)
	return o, nil
}
