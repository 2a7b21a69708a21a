package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradeflow/internal/types"
)

const tradeCols = `id, decision_id, replaces_trade_id, symbol, side, style, pattern, status,
	planned_entry, planned_stop, planned_target, planned_qty,
	actual_entry, actual_qty, exit_price, pnl, exit_reason, exit_order_id, exit_at,
	days_open, last_review_at, created_at, updated_at`

func (r *records) InsertTrade(ctx context.Context, t types.Trade) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO trades (`+tradeCols+`) VALUES (`+placeholders(23)+`)`,
		t.ID, t.DecisionID, t.ReplacesTradeID, t.Symbol, string(t.Side), string(t.Style), t.Pattern, string(t.Status),
		t.PlannedEntry, t.PlannedStop, t.PlannedTarget, t.PlannedQty,
		t.ActualEntry, t.ActualQty, t.ExitPrice, t.PnL, string(t.ExitReason), t.ExitOrderID, nullTime(t.ExitAt),
		t.DaysOpen, nullTime(t.LastReviewAt), t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	return insertErr(err)
}

func (r *records) GetTrade(ctx context.Context, id string) (types.Trade, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+tradeCols+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Trade{}, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	return t, err
}

// ListTrades returns trades in creation order, optionally filtered by status.
func (r *records) ListTrades(ctx context.Context, statuses ...types.TradeStatus) ([]types.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// OpenTrade moves ORDERED -> POSITION.
func (r *records) OpenTrade(ctx context.Context, id string, entry, qty decimal.Decimal, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE trades SET status = ?, actual_entry = ?, actual_qty = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(types.TradePosition), entry, qty, at.UTC(), id, string(types.TradeOrdered))
	if err != nil {
		return err
	}
	return r.guarded(ctx, res, "trades", id)
}

// ResizeTrade records additional entry fills on an open trade.
func (r *records) ResizeTrade(ctx context.Context, id string, entry, qty decimal.Decimal, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE trades SET actual_entry = ?, actual_qty = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		entry, qty, at.UTC(), id, string(types.TradePosition))
	if err != nil {
		return err
	}
	return r.guarded(ctx, res, "trades", id)
}

// CloseTrade moves POSITION -> CLOSED.
func (r *records) CloseTrade(ctx context.Context, id string, c types.TradeClose) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE trades SET status = ?, exit_price = ?, pnl = ?, exit_reason = ?, exit_order_id = ?,
		 exit_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(types.TradeClosed), c.ExitPrice, c.PnL, string(c.Reason), c.ExitOrderID,
		c.At.UTC(), c.At.UTC(), id, string(types.TradePosition))
	if err != nil {
		return err
	}
	return r.guarded(ctx, res, "trades", id)
}

// CancelTrade moves ORDERED -> CANCELLED.
func (r *records) CancelTrade(ctx context.Context, id string, reason types.ExitReason, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE trades SET status = ?, exit_reason = ?, exit_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(types.TradeCancelled), string(reason), at.UTC(), at.UTC(), id, string(types.TradeOrdered))
	if err != nil {
		return err
	}
	return r.guarded(ctx, res, "trades", id)
}

// ReviewTrade bumps days_open on a trade that is still live.
func (r *records) ReviewTrade(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE trades SET days_open = days_open + 1, last_review_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		at.UTC(), at.UTC(), id, string(types.TradeOrdered), string(types.TradePosition))
	if err != nil {
		return err
	}
	return r.guarded(ctx, res, "trades", id)
}

func scanTrade(s scanner) (types.Trade, error) {
	var (
		t                                       types.Trade
		side, style, status, reason             string
		exitAt, lastReview, createdAt, updateAt sql.NullTime
	)
	err := s.Scan(&t.ID, &t.DecisionID, &t.ReplacesTradeID, &t.Symbol, &side, &style, &t.Pattern, &status,
		&t.PlannedEntry, &t.PlannedStop, &t.PlannedTarget, &t.PlannedQty,
		&t.ActualEntry, &t.ActualQty, &t.ExitPrice, &t.PnL, &reason, &t.ExitOrderID, &exitAt,
		&t.DaysOpen, &lastReview, &createdAt, &updateAt)
	if err != nil {
		return types.Trade{}, err
	}
	t.Side = types.Side(side)
	t.Style = types.TradeStyle(style)
	t.Status = types.TradeStatus(strings.ToUpper(status))
	t.ExitReason = types.ExitReason(reason)
	t.ExitAt = timeOf(exitAt)
	t.LastReviewAt = timeOf(lastReview)
	t.CreatedAt = timeOf(createdAt)
	t.UpdatedAt = timeOf(updateAt)
	return t, nil
}
