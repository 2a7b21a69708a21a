package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradeflow/internal/types"
)

const positionCols = `id, trade_id, symbol, side, qty, avg_entry, current_price, market_value, cost_basis,
	unrealized_pnl, stop_loss_order_id, take_profit_order_id, created_at, updated_at`

// InsertPosition fails with ErrDuplicate if the trade already has one.
func (r *records) InsertPosition(ctx context.Context, p types.Position) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO positions (`+positionCols+`) VALUES (`+placeholders(14)+`)`,
		p.ID, p.TradeID, p.Symbol, string(p.Side), p.Qty, p.AvgEntry, p.CurrentPrice, p.MarketValue,
		p.CostBasis, p.UnrealizedPnL, p.StopLossOrderID, p.TakeProfitOrderID,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return insertErr(err)
}

func (r *records) GetPositionByTrade(ctx context.Context, tradeID string) (types.Position, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+positionCols+` FROM positions WHERE trade_id = ?`, tradeID)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Position{}, fmt.Errorf("position for trade %s: %w", tradeID, ErrNotFound)
	}
	return p, err
}

func (r *records) ListPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+positionCols+` FROM positions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPosition stores a new valuation. ErrNotFound means the position was
// closed in the meantime.
func (r *records) MarkPosition(ctx context.Context, p types.Position) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE positions SET current_price = ?, market_value = ?, unrealized_pnl = ?, updated_at = ?
		 WHERE id = ?`,
		p.CurrentPrice, p.MarketValue, p.UnrealizedPnL, p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return err
	}
	return r.guarded(ctx, res, "positions", p.ID)
}

// ResizePosition stores a changed quantity and average after further entry
// fills.
func (r *records) ResizePosition(ctx context.Context, p types.Position) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE positions SET qty = ?, avg_entry = ?, cost_basis = ?, market_value = ?, unrealized_pnl = ?,
		 updated_at = ?
		 WHERE id = ?`,
		p.Qty, p.AvgEntry, p.CostBasis, p.MarketValue, p.UnrealizedPnL, p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return err
	}
	return r.guarded(ctx, res, "positions", p.ID)
}

// SetProtectiveOrders records the broker ids of the active stop-loss and
// take-profit orders.
func (r *records) SetProtectiveOrders(ctx context.Context, tradeID, stopLossID, takeProfitID string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE positions SET stop_loss_order_id = ?, take_profit_order_id = ?, updated_at = ?
		 WHERE trade_id = ?`,
		stopLossID, takeProfitID, at.UTC(), tradeID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("position for trade %s: %w", tradeID, ErrNotFound)
	}
	return nil
}

func (r *records) DeletePosition(ctx context.Context, tradeID string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM positions WHERE trade_id = ?`, tradeID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("position for trade %s: %w", tradeID, ErrNotFound)
	}
	return nil
}

func scanPosition(s scanner) (types.Position, error) {
	var (
		p                    types.Position
		side                 string
		createdAt, updatedAt sql.NullTime
	)
	err := s.Scan(&p.ID, &p.TradeID, &p.Symbol, &side, &p.Qty, &p.AvgEntry, &p.CurrentPrice, &p.MarketValue,
		&p.CostBasis, &p.UnrealizedPnL, &p.StopLossOrderID, &p.TakeProfitOrderID, &createdAt, &updatedAt)
	if err != nil {
		return types.Position{}, err
	}
	p.Side = types.Side(side)
	p.CreatedAt = timeOf(createdAt)
	p.UpdatedAt = timeOf(updatedAt)
	return p, nil
}
