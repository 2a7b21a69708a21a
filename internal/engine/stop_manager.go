package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"tradeflow/internal/id"
	"tradeflow/internal/logger"
	"tradeflow/internal/tradelog"
	"tradeflow/internal/types"
)

// protect makes sure pos has a stop-loss and, for target styles, a
// take-profit at the venue, both sized to pos.Qty on the opposite side of
// the entry. Legs already open in the ledger are adopted, not re-placed.
func (m *Monitor) protect(ctx context.Context, trade types.Trade, pos types.Position, res *types.SyncResult) {
	orders, err := m.ledger.OrdersForTrade(ctx, trade.ID)
	if err != nil {
		res.Fail(trade.ID, err)
		logger.ErrorWithErr(ctx, "Failed to load orders for protection", err, "trade_id", trade.ID)
		return
	}

	sl, tp := pos.StopLossOrderID, pos.TakeProfitOrderID
	placed := map[types.OrderRole]int{}
	for _, o := range orders {
		if !o.Role.IsExit() {
			continue
		}
		placed[o.Role]++
		if o.Status.Terminal() {
			continue
		}
		if o.Role == types.RoleStopLoss && sl == "" {
			sl = o.BrokerOrderID
		}
		if o.Role == types.RoleTakeProfit && tp == "" {
			tp = o.BrokerOrderID
		}
	}

	if sl == "" {
		sl = m.placeLeg(ctx, trade, types.RoleStopLoss, pos.Qty, placed[types.RoleStopLoss]+1, res)
	}
	if tp == "" && trade.HasTarget(m.opts.TargetStyles) {
		tp = m.placeLeg(ctx, trade, types.RoleTakeProfit, pos.Qty, placed[types.RoleTakeProfit]+1, res)
	}

	if err := m.ledger.SetProtectiveOrders(ctx, trade.ID, sl, tp, m.now()); err != nil {
		res.Fail(trade.ID, err)
		logger.ErrorWithErr(ctx, "Failed to record protective orders", err,
			"trade_id", trade.ID,
			"stop_loss_order_id", sl,
			"take_profit_order_id", tp,
		)
	}
}

// placeLeg submits one protective order and records it. It returns the
// broker order id, or "" if nothing was placed.
func (m *Monitor) placeLeg(ctx context.Context, trade types.Trade, role types.OrderRole, qty decimal.Decimal, n int, res *types.SyncResult) string {
	req := types.OrderRequest{
		Symbol:        trade.Symbol,
		Side:          trade.Side.Opposite(),
		Qty:           qty,
		TimeInForce:   types.TIFGTC,
		ClientOrderID: legClientID(trade.ID, role, n),
	}
	if role == types.RoleStopLoss {
		req.Kind = types.KindStop
		req.StopPrice = trade.PlannedStop
	} else {
		req.Kind = types.KindLimit
		req.LimitPrice = trade.PlannedTarget.Decimal
	}

	ack, err := m.brk.SubmitOrder(ctx, req)
	if reason, ok := types.RejectReason(err); ok {
		if role == types.RoleStopLoss {
			if m.flag(ctx, m.ledger, trade, "", types.AnomalyUnprotected, "stop-loss rejected: "+reason) {
				res.Anomalies++
			}
			return ""
		}
		logger.Warn(ctx, "Take-profit rejected", "trade_id", trade.ID, "symbol", trade.Symbol, "reason", reason)
		return ""
	}
	if err != nil {
		res.Fail(trade.ID, err)
		logger.Warn(ctx, "Protective order not placed; retrying next cycle",
			"trade_id", trade.ID,
			"role", role,
			"error", err,
		)
		return ""
	}

	now := m.now()
	order := types.Order{
		ID:            id.New(),
		TradeID:       trade.ID,
		DecisionID:    trade.DecisionID,
		BrokerOrderID: ack.BrokerOrderID,
		ClientOrderID: req.ClientOrderID,
		Role:          role,
		Side:          req.Side,
		Kind:          req.Kind,
		TimeInForce:   req.TimeInForce,
		Qty:           req.Qty,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		Status:        types.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.ledger.InsertOrder(ctx, order); err != nil {
		res.Fail(order.ID, err)
		logger.ErrorWithErr(ctx, "Protective order placed but not recorded", err,
			"trade_id", trade.ID,
			"broker_order_id", ack.BrokerOrderID,
		)
		return ack.BrokerOrderID
	}

	logger.Info(ctx, "Protective order placed",
		"trade_id", trade.ID,
		"symbol", trade.Symbol,
		"role", role,
		"side", req.Side,
		"qty", qty.String(),
		"broker_order_id", ack.BrokerOrderID,
	)
	tradelog.Order(order, trade.Symbol)
	return ack.BrokerOrderID
}

// resizeProtection replaces the open legs of trade with legs sized to
// pos.Qty.
func (m *Monitor) resizeProtection(ctx context.Context, trade types.Trade, pos types.Position, res *types.SyncResult) {
	orders, err := m.ledger.OrdersForTrade(ctx, trade.ID)
	if err != nil {
		res.Fail(trade.ID, err)
		return
	}

	for _, o := range orders {
		if !o.Role.IsExit() || o.Status.Terminal() || o.Qty.Equal(pos.Qty) {
			continue
		}
		err := m.brk.CancelOrder(ctx, o.BrokerOrderID)
		switch {
		case err == nil, errors.Is(err, types.ErrOrderNotFound):
			if err == nil {
				// A partly filled leg means the venue holds less than pos.
				flagged, err := m.bookCancelled(ctx, trade, o, types.AnomalyHoldingMismatch)
				if err != nil {
					res.Fail(o.ID, err)
					continue
				}
				if flagged {
					res.Anomalies++
				}
			} else if err := m.ledger.MarkOrderCancelled(ctx, o.ID, m.now()); err != nil && !isStale(err) {
				res.Fail(o.ID, err)
				continue
			}
			res.Cancelled++
			if o.BrokerOrderID == pos.StopLossOrderID {
				pos.StopLossOrderID = ""
			}
			if o.BrokerOrderID == pos.TakeProfitOrderID {
				pos.TakeProfitOrderID = ""
			}
		case errors.Is(err, types.ErrNotCancelable):
			// The leg filled; its sync closes the trade and flags the
			// uncovered remainder.
			logger.Warn(ctx, "Protective order filled during resize", "trade_id", trade.ID, "order_id", o.ID)
			return
		default:
			res.Fail(o.ID, err)
			logger.Warn(ctx, "Could not cancel undersized protective order", "trade_id", trade.ID, "order_id", o.ID, "error", err)
		}
	}

	m.protect(ctx, trade, pos, res)
}

// dropLeg forgets a protective order that ended at the venue without
// filling, so the repair pass re-places it.
func (m *Monitor) dropLeg(ctx context.Context, trade types.Trade, o types.Order, u types.OrderUpdate) {
	pos, err := m.ledger.GetPositionByTrade(ctx, trade.ID)
	if err != nil {
		return
	}
	sl, tp := pos.StopLossOrderID, pos.TakeProfitOrderID
	switch o.BrokerOrderID {
	case sl:
		sl = ""
	case tp:
		tp = ""
	default:
		return
	}
	if err := m.ledger.SetProtectiveOrders(ctx, trade.ID, sl, tp, m.now()); err != nil {
		logger.ErrorWithErr(ctx, "Failed to clear protective order", err, "trade_id", trade.ID, "order_id", o.ID)
		return
	}
	logger.Warn(ctx, "Protective order ended at venue without filling",
		"trade_id", trade.ID,
		"symbol", trade.Symbol,
		"role", o.Role,
		"status", u.Status,
		"reason", u.Reason,
	)
}

// repairProtection places missing legs for every open position.
func (m *Monitor) repairProtection(ctx context.Context) (types.SyncResult, error) {
	positions, err := m.ledger.ListPositions(ctx)
	if err != nil {
		return types.SyncResult{}, err
	}

	var (
		mu  sync.Mutex
		res types.SyncResult
	)
	forEach(ctx, m.opts.MaxParallel, positions, func(ctx context.Context, p types.Position) {
		trade, err := m.ledger.GetTrade(ctx, p.TradeID)
		if err != nil {
			logger.Warn(ctx, "Position references a missing trade", "position_id", p.ID, "trade_id", p.TradeID, "error", err)
			return
		}
		if trade.Status != types.TradePosition {
			return
		}
		if p.StopLossOrderID != "" && (p.TakeProfitOrderID != "" || !trade.HasTarget(m.opts.TargetStyles)) {
			return
		}

		logger.Warn(ctx, "Position missing protective orders",
			"trade_id", trade.ID,
			"symbol", trade.Symbol,
			"stop_loss_order_id", p.StopLossOrderID,
			"take_profit_order_id", p.TakeProfitOrderID,
		)
		var r types.SyncResult
		m.protect(ctx, trade, p, &r)
		mu.Lock()
		res.Merge(r)
		mu.Unlock()
	})
	return res, nil
}
