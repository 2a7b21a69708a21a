package engine

import (
	"context"
	"fmt"

	"tradeflow/internal/id"
	"tradeflow/internal/interfaces"
	"tradeflow/internal/logger"
	"tradeflow/internal/tradelog"
	"tradeflow/internal/types"
)

// flag queues an anomaly for manual review. It reports whether a new entry
// was written; repeats of the same (trade, order, kind) are dropped.
func (c *core) flag(ctx context.Context, r interfaces.Records, t types.Trade, orderID string, kind types.AnomalyKind, detail string) bool {
	a := types.Anomaly{
		ID:        id.New(),
		TradeID:   t.ID,
		OrderID:   orderID,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: c.now(),
	}
	created, err := r.FlagAnomaly(ctx, a)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to record anomaly", err,
			"trade_id", t.ID,
			"order_id", orderID,
			"kind", kind,
			"detail", detail,
		)
		return false
	}
	if !created {
		return false
	}

	logger.Risk(ctx, t.Symbol, string(kind),
		"trade_id", t.ID,
		"order_id", orderID,
		"detail", detail,
	)
	tradelog.Anomaly(a, t.Symbol)
	return true
}

// bookCancelled records a protective order the venue just cancelled. A leg
// that filled partly before the cancel keeps its fill in the ledger and is
// flagged as kind. It reports whether an anomaly was written.
func (c *core) bookCancelled(ctx context.Context, trade types.Trade, o types.Order, kind types.AnomalyKind) (bool, error) {
	u, err := c.brk.GetOrder(ctx, o.BrokerOrderID)
	if err != nil || !u.FilledQty.IsPositive() {
		if err := c.ledger.MarkOrderCancelled(ctx, o.ID, c.now()); err != nil && !isStale(err) {
			return false, err
		}
		return false, nil
	}

	if err := c.ledger.ApplyOrderUpdate(ctx, o.ID, o.Status, u, c.now()); err != nil && !isStale(err) {
		return false, err
	}
	return c.flag(ctx, c.ledger, trade, o.ID, kind,
		fmt.Sprintf("%s filled %s of %s @ %s before it was cancelled", o.Role, u.FilledQty, o.Qty, u.FilledAvgPrice)), nil
}
