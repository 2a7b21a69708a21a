package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradeflow/internal/types"
)

const decisionCols = `id, symbol, decided_at, action, payload, approved, executed, executed_at, trade_ref, order_ref, remarks`

func (r *records) InsertDecision(ctx context.Context, d types.Decision) error {
	kind, payload, err := types.EncodeAction(d.Action)
	if err != nil {
		return fmt.Errorf("decision %s: %w", d.ID, err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO decisions (`+decisionCols+`) VALUES (`+placeholders(11)+`)`,
		d.ID, types.NormalizeSymbol(d.Symbol), d.Timestamp.UTC(), string(kind), payload,
		boolInt(d.Approved), boolInt(d.Executed), nullTime(d.ExecutedAt),
		d.TradeRef, d.OrderRef, d.Remarks,
	)
	return insertErr(err)
}

func (r *records) GetDecision(ctx context.Context, id string) (types.Decision, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+decisionCols+` FROM decisions WHERE id = ?`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Decision{}, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	return d, err
}

// PendingDecisions returns approved, unexecuted decisions oldest first.
// A row whose action payload cannot be decoded is returned with a nil
// Action so the caller can retire it.
func (r *records) PendingDecisions(ctx context.Context) ([]types.Decision, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+decisionCols+` FROM decisions
		 WHERE approved = 1 AND executed = 0
		 ORDER BY decided_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDecisionExecuted flips executed false->true. It returns ErrStale if
// the decision was already executed.
func (r *records) MarkDecisionExecuted(ctx context.Context, id, remarks string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE decisions SET executed = 1, executed_at = ?, remarks = ?
		 WHERE id = ? AND executed = 0`,
		at.UTC(), remarks, id)
	if err != nil {
		return err
	}
	return r.guarded(ctx, res, "decisions", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(s scanner) (types.Decision, error) {
	var (
		d                  types.Decision
		kind, payload      string
		approved, executed int
		executedAt         sql.NullTime
	)
	if err := s.Scan(&d.ID, &d.Symbol, &d.Timestamp, &kind, &payload, &approved, &executed,
		&executedAt, &d.TradeRef, &d.OrderRef, &d.Remarks); err != nil {
		return types.Decision{}, err
	}
	d.Timestamp = d.Timestamp.UTC()
	d.Approved = approved == 1
	d.Executed = executed == 1
	d.ExecutedAt = timeOf(executedAt)

	action, err := types.DecodeAction(types.ActionKind(kind), payload)
	if err == nil {
		d.Action = action
	}
	return d, nil
}
