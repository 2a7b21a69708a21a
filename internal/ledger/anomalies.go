package ledger

import (
	"context"
	"database/sql"

	"tradeflow/internal/types"
)

// FlagAnomaly queues a for manual review. The same (trade, order, kind) is
// recorded once; the bool reports whether a new row was written.
func (r *records) FlagAnomaly(ctx context.Context, a types.Anomaly) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO anomalies (id, trade_id, order_id, kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.TradeID, a.OrderID, string(a.Kind), a.Detail, a.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *records) ListAnomalies(ctx context.Context) ([]types.Anomaly, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, trade_id, order_id, kind, detail, created_at FROM anomalies ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Anomaly
	for rows.Next() {
		var (
			a         types.Anomaly
			kind      string
			createdAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.TradeID, &a.OrderID, &kind, &a.Detail, &createdAt); err != nil {
			return nil, err
		}
		a.Kind = types.AnomalyKind(kind)
		a.CreatedAt = timeOf(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
