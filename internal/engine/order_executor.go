package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tradeflow/internal/id"
	"tradeflow/internal/interfaces"
	"tradeflow/internal/logger"
	"tradeflow/internal/tradelog"
	"tradeflow/internal/types"
)

type outcome int

const (
	outcomeExecuted outcome = iota
	outcomeRejected
	outcomeSkipped
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeExecuted:
		return "executed"
	case outcomeRejected:
		return "rejected"
	case outcomeSkipped:
		return "skipped"
	}
	return "failed"
}

// Executor turns approved decisions into entry orders and trades.
type Executor struct {
	core
	guard runGuard
}

var _ interfaces.Executor = (*Executor)(nil)

func NewExecutor(brk interfaces.Broker, l interfaces.Ledger, opts Options) *Executor {
	return &Executor{core: newCore(brk, l, opts)}
}

// RunOnce executes every approved decision not yet executed.
func (e *Executor) RunOnce(ctx context.Context) (types.ExecResult, error) {
	release, err := e.guard.acquire()
	if err != nil {
		return types.ExecResult{}, err
	}
	defer release()

	pending, err := e.ledger.PendingDecisions(ctx)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("load pending decisions: %w", err)
	}
	return e.Execute(ctx, pending), nil
}

// Execute processes decisions oldest first. Each decision is handled on its
// own: a failure leaves that decision unexecuted for the next run and does
// not stop the others.
func (e *Executor) Execute(ctx context.Context, decisions []types.Decision) types.ExecResult {
	ds := make([]types.Decision, len(decisions))
	copy(ds, decisions)
	sort.SliceStable(ds, func(i, j int) bool { return ds[i].Timestamp.Before(ds[j].Timestamp) })

	var res types.ExecResult
	for _, d := range ds {
		res.Processed++
		if err := ctx.Err(); err != nil {
			res.Fail(d.ID, err)
			continue
		}

		out, err := e.execute(ctx, d)
		switch out {
		case outcomeExecuted:
			res.Executed++
		case outcomeRejected:
			res.Rejected++
		case outcomeSkipped:
			res.Skipped++
		default:
			res.Fail(d.ID, err)
			logger.ErrorWithErr(ctx, "Decision left for next run", err, "decision_id", d.ID, "symbol", d.Symbol)
		}
	}
	return res
}

func (e *Executor) execute(ctx context.Context, d types.Decision) (outcome, error) {
	if d.Executed || !d.Approved {
		return outcomeSkipped, nil
	}

	// The ledger copy is authoritative for the executed flag.
	cur, err := e.ledger.GetDecision(ctx, d.ID)
	if err != nil {
		return outcomeFailed, fmt.Errorf("load decision: %w", err)
	}
	if cur.Executed {
		return outcomeSkipped, nil
	}
	d = cur
	d.Symbol = types.NormalizeSymbol(d.Symbol)

	switch a := d.Action.(type) {
	case types.NewTrade:
		return e.newTrade(ctx, d, a.Plan, "", "", types.ActionNewTrade)
	case types.Cancel:
		return e.cancel(ctx, d)
	case types.Amend:
		return e.amend(ctx, d, a.Plan)
	case types.NoAction:
		return e.review(ctx, d)
	}
	return e.retire(ctx, d, "", "unreadable action payload")
}

// newTrade submits the entry order and records Trade, Order and the
// executed flag together.
func (e *Executor) newTrade(ctx context.Context, d types.Decision, plan types.TradePlan, replaces, note string, kind types.ActionKind) (outcome, error) {
	plan = plan.Normalize()
	if err := plan.Validate(); err != nil {
		return e.retire(ctx, d, kind, joinRemarks(note, "invalid plan: "+err.Error()))
	}

	leg := "entry"
	if kind == types.ActionAmend {
		leg = "amend"
	}
	req := types.OrderRequest{
		Symbol:        d.Symbol,
		Side:          plan.Side,
		Qty:           plan.Qty,
		Kind:          types.KindLimit,
		LimitPrice:    plan.LimitPrice,
		TimeInForce:   plan.TimeInForce,
		ClientOrderID: entryClientID(d.ID, leg),
	}

	ack, err := e.brk.SubmitOrder(ctx, req)
	if reason, ok := types.RejectReason(err); ok {
		return e.retire(ctx, d, kind, joinRemarks(note, "broker rejected: "+reason))
	}
	if err != nil {
		return outcomeFailed, fmt.Errorf("submit entry: %w", err)
	}

	now := e.now()
	trade := types.Trade{
		ID:              id.New(),
		DecisionID:      d.ID,
		ReplacesTradeID: replaces,
		Symbol:          d.Symbol,
		Side:            plan.Side,
		Style:           plan.Style,
		Pattern:         plan.Pattern,
		Status:          types.TradeOrdered,
		PlannedEntry:    plan.LimitPrice,
		PlannedStop:     plan.StopLoss,
		PlannedTarget:   plan.TakeProfit,
		PlannedQty:      plan.Qty,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order := types.Order{
		ID:            id.New(),
		TradeID:       trade.ID,
		DecisionID:    d.ID,
		BrokerOrderID: ack.BrokerOrderID,
		ClientOrderID: req.ClientOrderID,
		Role:          types.RoleEntry,
		Side:          req.Side,
		Kind:          req.Kind,
		TimeInForce:   req.TimeInForce,
		Qty:           req.Qty,
		LimitPrice:    req.LimitPrice,
		Status:        types.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = e.ledger.InTx(ctx, func(r interfaces.Records) error {
		if err := r.InsertTrade(ctx, trade); err != nil {
			return err
		}
		if err := r.InsertOrder(ctx, order); err != nil {
			return err
		}
		return r.MarkDecisionExecuted(ctx, d.ID, note, now)
	})
	if err != nil {
		// The order is live at the venue with no local record.
		logger.Risk(ctx, d.Symbol, string(types.AnomalyOrphanedOrder),
			"decision_id", d.ID,
			"broker_order_id", ack.BrokerOrderID,
			"error", err.Error(),
		)
		return outcomeFailed, fmt.Errorf("record trade: %w", err)
	}

	logger.Execution(ctx, d.ID, d.Symbol, string(kind), outcomeExecuted.String(),
		"trade_id", trade.ID,
		"broker_order_id", ack.BrokerOrderID,
		"side", plan.Side,
		"qty", plan.Qty.String(),
		"limit_price", plan.LimitPrice.String(),
	)
	tradelog.Execution(d, outcomeExecuted.String(), trade.ID, ack.BrokerOrderID)
	tradelog.Order(order, trade.Symbol)
	return outcomeExecuted, nil
}

func (e *Executor) cancel(ctx context.Context, d types.Decision) (outcome, error) {
	note, done, out, err := e.cancelPrior(ctx, d, types.ExitCancelled)
	if done {
		return out, err
	}

	err = e.ledger.MarkDecisionExecuted(ctx, d.ID, note, e.now())
	if isStale(err) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeFailed, err
	}
	logger.Execution(ctx, d.ID, d.Symbol, string(types.ActionCancel), outcomeExecuted.String(), "remarks", note)
	tradelog.Execution(d, outcomeExecuted.String(), d.TradeRef, d.OrderRef)
	return outcomeExecuted, nil
}

// amend retires the prior trade with exit reason AMENDED and opens a new
// one from the updated plan. A transient failure on the new submission
// leaves the decision unexecuted; the cancel half is a no-op on retry.
// An entry that already has fills is not amended.
func (e *Executor) amend(ctx context.Context, d types.Decision, plan types.TradePlan) (outcome, error) {
	target, err := e.resolve(ctx, d)
	if err != nil {
		return outcomeFailed, err
	}
	if target.hasTrade && target.trade.Status == types.TradePosition {
		return e.retire(ctx, d, types.ActionAmend, "prior trade is already open; amend not applied")
	}

	note, done, out, err := e.cancelPrior(ctx, d, types.ExitAmended)
	if done {
		return out, err
	}
	var replaces string
	if target.hasTrade {
		replaces = target.trade.ID
	}
	return e.newTrade(ctx, d, plan, replaces, note, types.ActionAmend)
}

type cancelTarget struct {
	order    types.Order
	hasOrder bool
	trade    types.Trade
	hasTrade bool
}

// resolve finds the order and trade a decision refers to. Missing rows are
// reported through the has* flags; only ledger failures are errors.
func (e *Executor) resolve(ctx context.Context, d types.Decision) (cancelTarget, error) {
	var t cancelTarget

	if d.OrderRef != "" {
		o, err := e.ledger.GetOrderByBrokerID(ctx, d.OrderRef)
		switch {
		case err == nil:
			t.order, t.hasOrder = o, true
		case !isNotFound(err):
			return t, err
		}
	}

	tradeID := d.TradeRef
	if t.hasOrder {
		tradeID = t.order.TradeID
	}
	if tradeID == "" {
		return t, nil
	}
	tr, err := e.ledger.GetTrade(ctx, tradeID)
	switch {
	case err == nil:
		t.trade, t.hasTrade = tr, true
	case !isNotFound(err):
		return t, err
	}

	if t.hasTrade && !t.hasOrder {
		orders, err := e.ledger.OrdersForTrade(ctx, tr.ID)
		if err != nil {
			return t, err
		}
		for _, o := range orders {
			if o.Role == types.RoleEntry {
				t.order, t.hasOrder = o, true
				break
			}
		}
	}
	return t, nil
}

// cancelPrior cancels the referenced entry at the venue and books the
// cancellation. done reports that the decision has been fully handled (or
// must be retried) and the caller should return out, err.
func (e *Executor) cancelPrior(ctx context.Context, d types.Decision, reason types.ExitReason) (note string, done bool, out outcome, err error) {
	kind := types.ActionCancel
	if reason == types.ExitAmended {
		kind = types.ActionAmend
	}

	t, err := e.resolve(ctx, d)
	if err != nil {
		return "", true, outcomeFailed, err
	}
	if !t.hasOrder && !t.hasTrade {
		logger.Warn(ctx, "Decision references no known trade or order",
			"decision_id", d.ID,
			"trade_ref", d.TradeRef,
			"order_ref", d.OrderRef,
		)
		if kind == types.ActionAmend {
			return "prior trade not found", false, 0, nil
		}
		out, err := e.retire(ctx, d, kind, "referenced trade/order not found")
		return "", true, out, err
	}

	if t.hasOrder && !t.order.Status.Terminal() && t.order.BrokerOrderID != "" {
		err := e.brk.CancelOrder(ctx, t.order.BrokerOrderID)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrOrderNotFound):
			logger.Warn(ctx, "Order unknown at venue; booking cancellation locally",
				"decision_id", d.ID,
				"broker_order_id", t.order.BrokerOrderID,
			)
		case errors.Is(err, types.ErrNotCancelable):
			// The entry filled; the monitor will open the position.
			out, err := e.retire(ctx, d, kind, "cancel refused: entry order already filled")
			return "", true, out, err
		default:
			return "", true, outcomeFailed, fmt.Errorf("cancel order %s: %w", t.order.BrokerOrderID, err)
		}

		// A partial fill survives the cancel; the monitor opens the
		// position for the filled part. An amend is refused then; the fill
		// stays with the prior trade.
		if u, err := e.brk.GetOrder(ctx, t.order.BrokerOrderID); err == nil && u.FilledQty.IsPositive() {
			note := fmt.Sprintf("entry partially filled %s; unfilled remainder cancelled", u.FilledQty)
			if kind == types.ActionAmend {
				out, err := e.retire(ctx, d, kind, note+"; amend not applied")
				return "", true, out, err
			}
			return note, false, 0, nil
		}
	}

	now := e.now()
	err = e.ledger.InTx(ctx, func(r interfaces.Records) error {
		if t.hasOrder && !t.order.Status.Terminal() {
			if err := r.MarkOrderCancelled(ctx, t.order.ID, now); err != nil && !isStale(err) {
				return err
			}
		}
		if t.hasTrade {
			err := r.CancelTrade(ctx, t.trade.ID, reason, now)
			switch {
			case err == nil:
			case isStale(err):
				note = fmt.Sprintf("trade %s already %s", t.trade.ID, t.trade.Status)
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", true, outcomeFailed, fmt.Errorf("book cancellation: %w", err)
	}
	if t.hasTrade {
		logger.Info(ctx, "Trade cancelled",
			"trade_id", t.trade.ID,
			"symbol", t.trade.Symbol,
			"exit_reason", reason,
			"decision_id", d.ID,
		)
	}
	return note, false, 0, nil
}

// review handles NO_ACTION: the referenced trade is marked as reviewed for
// another day.
func (e *Executor) review(ctx context.Context, d types.Decision) (outcome, error) {
	now := e.now()
	var note string
	err := e.ledger.InTx(ctx, func(r interfaces.Records) error {
		if d.TradeRef != "" {
			err := r.ReviewTrade(ctx, d.TradeRef, now)
			switch {
			case err == nil:
			case isNotFound(err):
				note = "referenced trade not found"
			case isStale(err):
				note = "referenced trade is no longer live"
			default:
				return err
			}
		}
		return r.MarkDecisionExecuted(ctx, d.ID, note, now)
	})
	if isStale(err) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeFailed, err
	}
	if note != "" {
		logger.Warn(ctx, "NO_ACTION decision could not review its trade", "decision_id", d.ID, "trade_ref", d.TradeRef, "remarks", note)
	}
	logger.Execution(ctx, d.ID, d.Symbol, string(types.ActionNoAction), outcomeExecuted.String(), "trade_id", d.TradeRef)
	tradelog.Execution(d, outcomeExecuted.String(), d.TradeRef, "")
	return outcomeExecuted, nil
}

// retire marks a decision executed without further effect. It is the
// terminal outcome for rejections and unusable decisions.
func (e *Executor) retire(ctx context.Context, d types.Decision, kind types.ActionKind, remarks string) (outcome, error) {
	err := e.ledger.MarkDecisionExecuted(ctx, d.ID, remarks, e.now())
	if isStale(err) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeFailed, err
	}

	logger.Execution(ctx, d.ID, d.Symbol, string(kind), outcomeRejected.String(), "remarks", remarks)
	d.Remarks = remarks
	tradelog.Execution(d, outcomeRejected.String(), "", "")
	return outcomeRejected, nil
}
