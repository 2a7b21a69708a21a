package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeflow/internal/interfaces"
	"tradeflow/internal/logger"
	"tradeflow/internal/tradelog"
	"tradeflow/internal/types"
)

// Valuator marks open positions to market and reconciles them against the
// venue's holdings.
type Valuator struct {
	core
	guard runGuard
}

var _ interfaces.PositionValuator = (*Valuator)(nil)

func NewValuator(brk interfaces.Broker, l interfaces.Ledger, opts Options) *Valuator {
	return &Valuator{core: newCore(brk, l, opts)}
}

// RunOnce values every position, then reconciles. A venue that cannot list
// its positions skips reconciliation for this run only.
func (v *Valuator) RunOnce(ctx context.Context) (types.ValuationResult, error) {
	release, err := v.guard.acquire()
	if err != nil {
		return types.ValuationResult{}, err
	}
	defer release()

	res, err := v.Valuate(ctx)
	if err != nil {
		return res, err
	}

	rec, err := v.Reconcile(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Reconciliation skipped", err)
		res.Fail("reconcile", err)
		return res, nil
	}
	res.Merge(rec)
	return res, nil
}

type quoteResult struct {
	q   types.Quote
	err error
}

// Valuate marks each open position at the quote midpoint. Positions without
// a usable quote keep their previous valuation.
func (v *Valuator) Valuate(ctx context.Context) (types.ValuationResult, error) {
	var res types.ValuationResult

	positions, err := v.ledger.ListPositions(ctx)
	if err != nil {
		return res, fmt.Errorf("load positions: %w", err)
	}
	if len(positions) == 0 {
		return res, nil
	}

	var symbols []string
	seen := make(map[string]bool)
	for _, p := range positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}

	var mu sync.Mutex
	quotes := make(map[string]quoteResult, len(symbols))
	forEach(ctx, v.opts.MaxParallel, symbols, func(ctx context.Context, sym string) {
		q, err := v.brk.GetLatestQuote(ctx, sym)
		mu.Lock()
		quotes[sym] = quoteResult{q: q, err: err}
		mu.Unlock()
	})

	for _, p := range positions {
		qr, ok := quotes[p.Symbol]
		if !ok {
			res.Skipped++
			continue
		}
		if qr.err != nil {
			if errors.Is(qr.err, types.ErrNoQuote) {
				res.Skipped++
				logger.Debug(ctx, "No quote; valuation unchanged", "symbol", p.Symbol, "trade_id", p.TradeID)
			} else {
				res.Fail(p.TradeID, qr.err)
				logger.Warn(ctx, "Quote unavailable", "symbol", p.Symbol, "error", qr.err)
			}
			continue
		}
		mid, ok := qr.q.Mid()
		if !ok {
			res.Skipped++
			continue
		}

		marked := p.Mark(mid)
		marked.UpdatedAt = v.now()
		if err := v.ledger.MarkPosition(ctx, marked); err != nil {
			if isNotFound(err) {
				logger.Debug(ctx, "Position closed during valuation", "trade_id", p.TradeID)
				res.Skipped++
				continue
			}
			res.Fail(p.TradeID, err)
			logger.ErrorWithErr(ctx, "Failed to mark position", err, "trade_id", p.TradeID)
			continue
		}
		res.Valued++
		logger.Debug(ctx, "Position marked",
			"symbol", p.Symbol,
			"trade_id", p.TradeID,
			"price", mid.String(),
			"unrealized_pnl", marked.UnrealizedPnL.String(),
		)
	}
	return res, nil
}

// Reconcile compares local positions with the venue. A symbol the venue no
// longer holds is closed locally, from its filled exit order if one exists
// or as a manual exit at the last known price otherwise. Partial
// disagreement is queued for review, never auto-corrected.
func (v *Valuator) Reconcile(ctx context.Context) (types.ValuationResult, error) {
	var res types.ValuationResult

	holdings, err := v.brk.GetOpenPositions(ctx)
	if err != nil {
		return res, fmt.Errorf("venue positions: %w", err)
	}
	positions, err := v.ledger.ListPositions(ctx)
	if err != nil {
		return res, fmt.Errorf("load positions: %w", err)
	}

	held := make(map[string]decimal.Decimal, len(holdings))
	for _, h := range holdings {
		sym := types.NormalizeSymbol(h.Symbol)
		held[sym] = held[sym].Add(h.Qty)
	}

	now := v.now()
	var symbols []string
	bySymbol := make(map[string][]types.Position)
	for _, p := range positions {
		if _, ok := bySymbol[p.Symbol]; !ok {
			symbols = append(symbols, p.Symbol)
		}
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}

	for _, sym := range symbols {
		group := bySymbol[sym]
		if v.young(group, now) {
			logger.Debug(ctx, "Skipping reconciliation inside grace period", "symbol", sym)
			continue
		}

		local := decimal.Zero
		for _, p := range group {
			local = local.Add(p.Qty.Mul(p.Side.Sign()))
		}
		venue := held[sym]

		switch {
		case venue.IsZero():
			for _, p := range group {
				v.closeExternally(ctx, p, &res)
			}
		case !venue.Equal(local):
			trade := types.Trade{ID: group[0].TradeID, Symbol: sym}
			if v.flag(ctx, v.ledger, trade, "", types.AnomalyHoldingMismatch,
				fmt.Sprintf("venue holds %s, ledger holds %s", venue, local)) {
				res.Anomalies++
			}
		}
	}

	if err := v.reconcileStray(ctx, holdings, held, bySymbol, now, &res); err != nil {
		return res, err
	}
	return res, nil
}

// reconcileStray flags venue holdings in symbols the ledger has traded but
// no longer holds, such as the remainder after an undersized exit. Symbols
// the ledger never traded are not ours and are left alone.
func (v *Valuator) reconcileStray(ctx context.Context, holdings []types.Holding, held map[string]decimal.Decimal,
	bySymbol map[string][]types.Position, now time.Time, res *types.ValuationResult) error {
	var stray []string
	seen := make(map[string]bool)
	for _, h := range holdings {
		sym := types.NormalizeSymbol(h.Symbol)
		if seen[sym] || len(bySymbol[sym]) > 0 || held[sym].IsZero() {
			continue
		}
		seen[sym] = true
		stray = append(stray, sym)
	}
	if len(stray) == 0 {
		return nil
	}

	trades, err := v.ledger.ListTrades(ctx)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	for _, sym := range stray {
		var (
			last    types.Trade
			found   bool
			pending bool
		)
		for _, t := range trades {
			if types.NormalizeSymbol(t.Symbol) != sym {
				continue
			}
			if !t.Status.Terminal() {
				pending = true
			}
			if !found || t.UpdatedAt.After(last.UpdatedAt) {
				last, found = t, true
			}
		}
		switch {
		case !found, pending:
			continue
		case v.opts.ReconcileGrace > 0 && now.Sub(last.UpdatedAt) < v.opts.ReconcileGrace:
			logger.Debug(ctx, "Skipping reconciliation inside grace period", "symbol", sym)
			continue
		}
		if v.flag(ctx, v.ledger, last, "", types.AnomalyHoldingMismatch,
			fmt.Sprintf("venue holds %s, ledger holds 0", held[sym])) {
			res.Anomalies++
		}
	}
	return nil
}

// young reports whether any position in group opened within the grace
// period.
func (v *Valuator) young(group []types.Position, now time.Time) bool {
	if v.opts.ReconcileGrace <= 0 {
		return false
	}
	for _, p := range group {
		if now.Sub(p.CreatedAt) < v.opts.ReconcileGrace {
			return true
		}
	}
	return false
}

// closeExternally closes the trade behind pos after the venue stopped
// holding it, then cancels its remaining protective orders.
func (v *Valuator) closeExternally(ctx context.Context, pos types.Position, res *types.ValuationResult) {
	trade, err := v.ledger.GetTrade(ctx, pos.TradeID)
	if err != nil {
		res.Fail(pos.TradeID, err)
		logger.Warn(ctx, "Position references a missing trade", "trade_id", pos.TradeID, "error", err)
		return
	}
	v.refreshExits(ctx, trade.ID)
	exit, filled, err := v.ledger.LatestFilledExit(ctx, trade.ID)
	if err != nil {
		res.Fail(trade.ID, err)
		return
	}

	now := v.now()
	entry := trade.ActualEntry
	if !entry.IsPositive() {
		entry = pos.AvgEntry
	}
	c := types.TradeClose{At: now}
	qty := pos.Qty
	if filled {
		c.ExitPrice = exit.FilledAvgPrice
		c.Reason = exit.Role.ExitReason()
		c.ExitOrderID = exit.ID
		c.At = fillTime(types.OrderUpdate{FilledAt: exit.FilledAt}, now)
		if exit.FilledQty.IsPositive() {
			qty = exit.FilledQty
		}
	} else {
		c.ExitPrice = pos.CurrentPrice
		if !c.ExitPrice.IsPositive() {
			c.ExitPrice = pos.AvgEntry
		}
		c.Reason = types.ExitManual
	}
	c.PnL = types.RealizedPnL(trade.Side, entry, c.ExitPrice, qty)

	err = v.ledger.InTx(ctx, func(r interfaces.Records) error {
		if err := r.CloseTrade(ctx, trade.ID, c); err != nil {
			return err
		}
		if err := r.DeletePosition(ctx, trade.ID); err != nil && !isNotFound(err) {
			return err
		}
		return nil
	})
	switch {
	case isStale(err):
		logger.Debug(ctx, "Trade already closed", "trade_id", trade.ID)
		return
	case err != nil:
		res.Fail(trade.ID, err)
		logger.ErrorWithErr(ctx, "Failed to close externally exited trade", err, "trade_id", trade.ID)
		return
	}
	res.Reconciled++

	logger.Risk(ctx, trade.Symbol, "external_close",
		"trade_id", trade.ID,
		"exit_reason", c.Reason,
		"exit_price", c.ExitPrice.String(),
		"pnl", c.PnL.String(),
	)
	trade.Status = types.TradeClosed
	tradelog.Closed(trade, c)

	trade.ExitOrderID, trade.ExitReason = c.ExitOrderID, c.Reason
	v.cancelProtection(ctx, trade, res)
}

// refreshExits records venue fills on protective orders the monitor has
// not seen yet, so the close uses the real exit when there is one.
func (v *Valuator) refreshExits(ctx context.Context, tradeID string) {
	orders, err := v.ledger.OrdersForTrade(ctx, tradeID)
	if err != nil {
		return
	}
	for _, o := range orders {
		if !o.Role.IsExit() || o.Status.Terminal() || o.BrokerOrderID == "" {
			continue
		}
		u, err := v.brk.GetOrder(ctx, o.BrokerOrderID)
		if err != nil || u.Status != types.OrderFilled {
			continue
		}
		if err := v.ledger.ApplyOrderUpdate(ctx, o.ID, o.Status, u, v.now()); err != nil && !isStale(err) {
			logger.Warn(ctx, "Failed to record exit fill", "order_id", o.ID, "error", err)
		}
	}
}

// cancelProtection cancels the open protective orders of a closed trade.
func (v *Valuator) cancelProtection(ctx context.Context, trade types.Trade, res *types.ValuationResult) {
	orders, err := v.ledger.OrdersForTrade(ctx, trade.ID)
	if err != nil {
		res.Fail(trade.ID, err)
		return
	}
	for _, o := range orders {
		if !o.Role.IsExit() || o.Status.Terminal() || o.ID == trade.ExitOrderID {
			continue
		}
		err := v.brk.CancelOrder(ctx, o.BrokerOrderID)
		switch {
		case err == nil:
			flagged, err := v.bookCancelled(ctx, trade, o, types.AnomalyDoubleFill)
			if err != nil {
				res.Fail(o.ID, err)
			} else if flagged {
				res.Anomalies++
			}
		case errors.Is(err, types.ErrOrderNotFound):
			if err := v.ledger.MarkOrderCancelled(ctx, o.ID, v.now()); err != nil && !isStale(err) {
				res.Fail(o.ID, err)
			}
		case errors.Is(err, types.ErrNotCancelable):
			if u, gerr := v.brk.GetOrder(ctx, o.BrokerOrderID); gerr == nil {
				if err := v.ledger.ApplyOrderUpdate(ctx, o.ID, o.Status, u, v.now()); err != nil && !isStale(err) {
					res.Fail(o.ID, err)
				}
			}
			kind := types.AnomalyLateExitFill
			if trade.ExitReason == types.ExitTargetHit || trade.ExitReason == types.ExitStoppedOut {
				kind = types.AnomalyDoubleFill
			}
			if v.flag(ctx, v.ledger, trade, o.ID, kind,
				fmt.Sprintf("%s filled after trade closed (%s)", o.Role, trade.ExitReason)) {
				res.Anomalies++
			}
		default:
			res.Fail(o.ID, err)
			logger.Warn(ctx, "Protective cancel failed after external close",
				"trade_id", trade.ID,
				"order_id", o.ID,
				"error", err,
			)
		}
	}
}
