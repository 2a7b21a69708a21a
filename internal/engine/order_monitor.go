package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"tradeflow/internal/id"
	"tradeflow/internal/interfaces"
	"tradeflow/internal/logger"
	"tradeflow/internal/tradelog"
	"tradeflow/internal/types"
)

// Monitor follows open orders at the venue and drives the fill
// transitions: entry fills open positions and place protective orders,
// exit fills close trades and cancel the sibling leg.
type Monitor struct {
	core
	guard runGuard
}

var _ interfaces.OrderMonitor = (*Monitor)(nil)

func NewMonitor(brk interfaces.Broker, l interfaces.Ledger, opts Options) *Monitor {
	return &Monitor{core: newCore(brk, l, opts)}
}

// observed pairs a ledger order with the venue's current view of it.
type observed struct {
	order types.Order
	u     types.OrderUpdate
}

// RunOnce syncs every open order, then places protective orders for any
// open position that lacks them.
func (m *Monitor) RunOnce(ctx context.Context) (types.SyncResult, error) {
	release, err := m.guard.acquire()
	if err != nil {
		return types.SyncResult{}, err
	}
	defer release()

	open, err := m.ledger.OpenOrders(ctx)
	if err != nil {
		return types.SyncResult{}, fmt.Errorf("load open orders: %w", err)
	}
	res := m.Sync(ctx, open)

	repaired, err := m.repairProtection(ctx)
	if err != nil {
		return res, fmt.Errorf("repair protection: %w", err)
	}
	res.Merge(repaired)
	return res, nil
}

// Sync brings the given orders up to date. Orders of one trade are always
// handled by the same worker, in fill order.
func (m *Monitor) Sync(ctx context.Context, openOrders []types.Order) types.SyncResult {
	tradeIDs, groups := groupByTrade(openOrders)

	var (
		mu  sync.Mutex
		res types.SyncResult
	)
	forEach(ctx, m.opts.MaxParallel, tradeIDs, func(ctx context.Context, tradeID string) {
		r := m.syncTrade(ctx, tradeID, groups[tradeID])
		mu.Lock()
		res.Merge(r)
		mu.Unlock()
	})
	return res
}

func (m *Monitor) syncTrade(ctx context.Context, tradeID string, orders []types.Order) types.SyncResult {
	var res types.SyncResult

	obs := make([]observed, 0, len(orders))
	for _, o := range orders {
		res.Checked++
		if o.BrokerOrderID == "" {
			logger.Warn(ctx, "Order has no broker id", "order_id", o.ID, "trade_id", tradeID)
			continue
		}
		u, err := m.brk.GetOrder(ctx, o.BrokerOrderID)
		if err != nil {
			res.Fail(o.ID, err)
			logger.Warn(ctx, "Order status unavailable; retrying next cycle",
				"order_id", o.ID,
				"broker_order_id", o.BrokerOrderID,
				"error", err,
			)
			continue
		}
		obs = append(obs, observed{order: o, u: u})
	}
	byFillTime(obs)

	for _, ob := range obs {
		if !ob.order.Changed(ob.u) {
			continue
		}
		trade, err := m.ledger.GetTrade(ctx, tradeID)
		if err != nil {
			res.Fail(ob.order.ID, err)
			logger.Warn(ctx, "Order references a missing trade", "order_id", ob.order.ID, "trade_id", tradeID, "error", err)
			return res
		}
		if ob.order.Role == types.RoleEntry {
			m.applyEntry(ctx, trade, ob, &res)
		} else {
			m.applyExit(ctx, trade, ob, &res)
		}
	}

	m.sweepClosed(ctx, tradeID, &res)
	return res
}

// applyEntry handles a change on an entry order.
func (m *Monitor) applyEntry(ctx context.Context, trade types.Trade, ob observed, res *types.SyncResult) {
	o, u := ob.order, ob.u
	now := m.now()

	switch {
	case u.FilledQty.IsPositive() && trade.Status == types.TradeOrdered:
		pos := types.OpenPosition(trade, u.FilledQty, u.FilledAvgPrice)
		pos.ID = id.New()
		pos.CreatedAt, pos.UpdatedAt = now, now

		err := m.ledger.InTx(ctx, func(r interfaces.Records) error {
			if err := r.ApplyOrderUpdate(ctx, o.ID, o.Status, u, now); err != nil {
				return err
			}
			if err := r.OpenTrade(ctx, trade.ID, u.FilledAvgPrice, u.FilledQty, now); err != nil {
				return err
			}
			return r.InsertPosition(ctx, pos)
		})
		if !m.settled(ctx, err, o, res) {
			return
		}
		res.Updated++
		res.Entries++

		o.Status, o.FilledQty, o.FilledAvgPrice, o.FilledAt = u.Status, u.FilledQty, u.FilledAvgPrice, u.FilledAt
		logger.Fill(ctx, trade.Symbol, string(o.Role), o.BrokerOrderID, u.FilledQty.String(), u.FilledAvgPrice.String(),
			"trade_id", trade.ID,
			"status", u.Status,
		)
		tradelog.Fill(o, trade.Symbol)

		trade.Status = types.TradePosition
		trade.ActualEntry, trade.ActualQty = u.FilledAvgPrice, u.FilledQty
		m.protect(ctx, trade, pos, res)

	case u.FilledQty.GreaterThan(o.FilledQty) && trade.Status == types.TradePosition:
		m.resizeEntry(ctx, trade, ob, res)

	case u.FilledQty.IsPositive() && trade.Status.Terminal():
		if m.apply(ctx, o, u, res) && m.flag(ctx, m.ledger, trade, o.ID, types.AnomalyOrphanedOrder,
			fmt.Sprintf("entry filled %s @ %s after trade became %s", u.FilledQty, u.FilledAvgPrice, trade.Status)) {
			res.Anomalies++
		}

	case u.Status.Terminal() && !u.FilledQty.IsPositive() && trade.Status == types.TradeOrdered:
		err := m.ledger.InTx(ctx, func(r interfaces.Records) error {
			if err := r.ApplyOrderUpdate(ctx, o.ID, o.Status, u, now); err != nil {
				return err
			}
			return r.CancelTrade(ctx, trade.ID, types.ExitCancelled, now)
		})
		if !m.settled(ctx, err, o, res) {
			return
		}
		res.Updated++
		res.Cancelled++
		logger.Info(ctx, "Entry order ended unfilled; trade cancelled",
			"trade_id", trade.ID,
			"symbol", trade.Symbol,
			"status", u.Status,
			"reason", u.Reason,
		)

	default:
		m.apply(ctx, o, u, res)
	}
}

// resizeEntry books further entry fills on an open trade and resizes the
// protective legs to the new quantity.
func (m *Monitor) resizeEntry(ctx context.Context, trade types.Trade, ob observed, res *types.SyncResult) {
	o, u := ob.order, ob.u
	now := m.now()

	var pos types.Position
	err := m.ledger.InTx(ctx, func(r interfaces.Records) error {
		if err := r.ApplyOrderUpdate(ctx, o.ID, o.Status, u, now); err != nil {
			return err
		}
		if err := r.ResizeTrade(ctx, trade.ID, u.FilledAvgPrice, u.FilledQty, now); err != nil {
			return err
		}
		p, err := r.GetPositionByTrade(ctx, trade.ID)
		if err != nil {
			return err
		}
		p.Qty = u.FilledQty
		p.AvgEntry = u.FilledAvgPrice
		p.CostBasis = u.FilledQty.Mul(u.FilledAvgPrice)
		p = p.Mark(p.CurrentPrice)
		p.UpdatedAt = now
		pos = p
		return r.ResizePosition(ctx, p)
	})
	if !m.settled(ctx, err, o, res) {
		return
	}
	res.Updated++

	o.Status, o.FilledQty, o.FilledAvgPrice, o.FilledAt = u.Status, u.FilledQty, u.FilledAvgPrice, u.FilledAt
	logger.Fill(ctx, trade.Symbol, string(o.Role), o.BrokerOrderID, u.FilledQty.String(), u.FilledAvgPrice.String(),
		"trade_id", trade.ID,
		"status", u.Status,
	)
	tradelog.Fill(o, trade.Symbol)

	trade.ActualEntry, trade.ActualQty = u.FilledAvgPrice, u.FilledQty
	m.resizeProtection(ctx, trade, pos, res)
}

// applyExit handles a change on a stop-loss or take-profit order.
func (m *Monitor) applyExit(ctx context.Context, trade types.Trade, ob observed, res *types.SyncResult) {
	o, u := ob.order, ob.u

	if u.Status != types.OrderFilled {
		if !m.apply(ctx, o, u, res) {
			return
		}
		if u.Status.Terminal() && trade.Status == types.TradePosition {
			m.dropLeg(ctx, trade, o, u)
		}
		return
	}

	switch trade.Status {
	case types.TradePosition:
		m.closeOnExit(ctx, trade, ob, res)

	case types.TradeClosed:
		if !m.apply(ctx, o, u, res) || trade.ExitOrderID == o.ID {
			return
		}
		kind := types.AnomalyLateExitFill
		if trade.ExitReason == types.ExitTargetHit || trade.ExitReason == types.ExitStoppedOut {
			kind = types.AnomalyDoubleFill
		}
		if m.flag(ctx, m.ledger, trade, o.ID, kind,
			fmt.Sprintf("%s filled %s @ %s after trade closed (%s)", o.Role, u.FilledQty, u.FilledAvgPrice, trade.ExitReason)) {
			res.Anomalies++
		}

	default:
		if m.apply(ctx, o, u, res) && m.flag(ctx, m.ledger, trade, o.ID, types.AnomalyOrphanedOrder,
			fmt.Sprintf("%s filled while trade is %s", o.Role, trade.Status)) {
			res.Anomalies++
		}
	}
}

// closeOnExit closes the trade on a protective fill and cancels the other
// leg so it cannot fill against a flat position.
func (m *Monitor) closeOnExit(ctx context.Context, trade types.Trade, ob observed, res *types.SyncResult) {
	o, u := ob.order, ob.u
	now := m.now()

	c := types.TradeClose{
		ExitPrice:   u.FilledAvgPrice,
		PnL:         types.RealizedPnL(trade.Side, trade.ActualEntry, u.FilledAvgPrice, u.FilledQty),
		Reason:      o.Role.ExitReason(),
		ExitOrderID: o.ID,
		At:          fillTime(u, now),
	}
	held := decimal.Zero
	err := m.ledger.InTx(ctx, func(r interfaces.Records) error {
		if err := r.ApplyOrderUpdate(ctx, o.ID, o.Status, u, now); err != nil {
			return err
		}
		if err := r.CloseTrade(ctx, trade.ID, c); err != nil {
			return err
		}
		p, err := r.GetPositionByTrade(ctx, trade.ID)
		switch {
		case err == nil:
			held = p.Qty
		case !isNotFound(err):
			return err
		}
		if err := r.DeletePosition(ctx, trade.ID); err != nil && !isNotFound(err) {
			return err
		}
		return nil
	})
	if !m.settled(ctx, err, o, res) {
		return
	}
	res.Updated++
	res.Exits++

	o.Status, o.FilledQty, o.FilledAvgPrice, o.FilledAt = u.Status, u.FilledQty, u.FilledAvgPrice, u.FilledAt
	logger.Fill(ctx, trade.Symbol, string(o.Role), o.BrokerOrderID, u.FilledQty.String(), u.FilledAvgPrice.String(),
		"trade_id", trade.ID,
		"pnl", c.PnL.String(),
		"exit_reason", c.Reason,
	)
	tradelog.Fill(o, trade.Symbol)
	trade.Status = types.TradeClosed
	tradelog.Closed(trade, c)

	trade.ExitOrderID, trade.ExitReason = o.ID, c.Reason
	if rest := held.Sub(u.FilledQty); rest.IsPositive() {
		// The exit was sized for an earlier fill of the entry.
		if m.flag(ctx, m.ledger, trade, o.ID, types.AnomalyUnprotected,
			fmt.Sprintf("%s filled %s of %s; %s remain at venue without protection", o.Role, u.FilledQty, held, rest)) {
			res.Anomalies++
		}
	}
	m.cancelSiblings(ctx, trade, o.ID, res)
}

// cancelSiblings cancels every open protective order of trade other than
// keep. A sibling that turns out to have filled, fully or in part, is
// synced and flagged as a double fill.
func (m *Monitor) cancelSiblings(ctx context.Context, trade types.Trade, keep string, res *types.SyncResult) {
	orders, err := m.ledger.OrdersForTrade(ctx, trade.ID)
	if err != nil {
		res.Fail(trade.ID, err)
		logger.ErrorWithErr(ctx, "Failed to load sibling orders", err, "trade_id", trade.ID)
		return
	}

	for _, o := range orders {
		if o.ID == keep || !o.Role.IsExit() || o.Status.Terminal() {
			continue
		}
		err := m.brk.CancelOrder(ctx, o.BrokerOrderID)
		switch {
		case err == nil:
			flagged, err := m.bookCancelled(ctx, trade, o, types.AnomalyDoubleFill)
			if err != nil {
				res.Fail(o.ID, err)
				continue
			}
			res.Cancelled++
			if flagged {
				res.Anomalies++
			}

		case errors.Is(err, types.ErrOrderNotFound):
			if err := m.ledger.MarkOrderCancelled(ctx, o.ID, m.now()); err != nil && !isStale(err) {
				res.Fail(o.ID, err)
				continue
			}
			res.Cancelled++

		case errors.Is(err, types.ErrNotCancelable):
			u, gerr := m.brk.GetOrder(ctx, o.BrokerOrderID)
			if gerr == nil {
				m.apply(ctx, o, u, res)
			}
			if m.flag(ctx, m.ledger, trade, o.ID, types.AnomalyDoubleFill,
				fmt.Sprintf("%s filled after %s closed the trade; venue may hold an opposite position", o.Role, keep)) {
				res.Anomalies++
			}

		default:
			res.Fail(o.ID, err)
			logger.Warn(ctx, "Sibling cancel failed; retrying next cycle",
				"trade_id", trade.ID,
				"order_id", o.ID,
				"error", err,
			)
		}
	}
}

// sweepClosed retries sibling cancellation for trades that closed with a
// protective order still open.
func (m *Monitor) sweepClosed(ctx context.Context, tradeID string, res *types.SyncResult) {
	trade, err := m.ledger.GetTrade(ctx, tradeID)
	if err != nil || !trade.Status.Terminal() {
		return
	}
	m.cancelSiblings(ctx, trade, trade.ExitOrderID, res)
}

// apply writes the venue's view of o. It reports whether the write landed.
func (m *Monitor) apply(ctx context.Context, o types.Order, u types.OrderUpdate, res *types.SyncResult) bool {
	err := m.ledger.ApplyOrderUpdate(ctx, o.ID, o.Status, u, m.now())
	if !m.settled(ctx, err, o, res) {
		return false
	}
	res.Updated++
	return true
}

// settled classifies the error of a transition write. A stale guard means
// another writer got there first and is not a failure.
func (m *Monitor) settled(ctx context.Context, err error, o types.Order, res *types.SyncResult) bool {
	switch {
	case err == nil:
		return true
	case isStale(err):
		logger.Debug(ctx, "Transition already applied", "order_id", o.ID, "trade_id", o.TradeID)
	default:
		res.Fail(o.ID, err)
		logger.ErrorWithErr(ctx, "Failed to record order transition", err, "order_id", o.ID, "trade_id", o.TradeID)
	}
	return false
}
