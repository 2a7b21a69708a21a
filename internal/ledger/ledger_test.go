package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/internal/interfaces"
	"tradeflow/internal/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

var t0 = time.Date(2025, 3, 4, 14, 45, 0, 0, time.UTC)

func sampleTrade(id string) types.Trade {
	return types.Trade{
		ID: id, DecisionID: "dec-" + id, Symbol: "AAPL", Side: types.SideBuy, Style: types.StyleSwing,
		Status:       types.TradeOrdered,
		PlannedEntry: d("150.25"), PlannedStop: d("144.90"), PlannedQty: d("10"),
		PlannedTarget: decimal.NewNullDecimal(d("160.10")),
		CreatedAt:     t0, UpdatedAt: t0,
	}
}

func TestDecisionRoundTripAndPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTest(t)

	plan := types.TradePlan{Side: types.SideBuy, Qty: d("10"), Kind: types.KindLimit,
		LimitPrice: d("150.25"), StopLoss: d("144.90"), Style: types.StyleSwing, TimeInForce: types.TIFGTC}
	require.NoError(t, l.InsertDecision(ctx, types.Decision{ID: "d2", Symbol: "msft:nasdaq", Timestamp: t0.Add(time.Minute),
		Action: types.NewTrade{Plan: plan}, Approved: true}))
	require.NoError(t, l.InsertDecision(ctx, types.Decision{ID: "d1", Symbol: "AAPL", Timestamp: t0,
		Action: types.NoAction{}, Approved: true, TradeRef: "t1"}))
	require.NoError(t, l.InsertDecision(ctx, types.Decision{ID: "d3", Symbol: "AAPL", Timestamp: t0,
		Action: types.Cancel{}, Approved: false}))

	pending, err := l.PendingDecisions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "d1", pending[0].ID)
	assert.Equal(t, "d2", pending[1].ID)
	assert.Equal(t, "MSFT", pending[1].Symbol)

	nt, ok := pending[1].Action.(types.NewTrade)
	require.True(t, ok)
	assert.True(t, nt.Plan.StopLoss.Equal(d("144.90")))

	require.NoError(t, l.MarkDecisionExecuted(ctx, "d1", "reviewed", t0))
	err = l.MarkDecisionExecuted(ctx, "d1", "again", t0)
	assert.True(t, errors.Is(err, ErrStale))

	got, err := l.GetDecision(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, got.Executed)
	assert.Equal(t, "reviewed", got.Remarks)
	assert.True(t, got.ExecutedAt.Equal(t0))

	_, err = l.GetDecision(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTradeTransitionsAreGuarded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTest(t)

	require.NoError(t, l.InsertTrade(ctx, sampleTrade("t1")))
	require.NoError(t, l.OpenTrade(ctx, "t1", d("150.52"), d("10"), t0))

	// Second open must not apply.
	err := l.OpenTrade(ctx, "t1", d("1"), d("1"), t0)
	assert.True(t, errors.Is(err, ErrStale))
	err = l.CancelTrade(ctx, "t1", types.ExitCancelled, t0)
	assert.True(t, errors.Is(err, ErrStale))

	require.NoError(t, l.CloseTrade(ctx, "t1", types.TradeClose{
		ExitPrice: d("160.10"), PnL: d("95.80"), Reason: types.ExitTargetHit, ExitOrderID: "o-tp", At: t0.Add(time.Hour),
	}))
	err = l.CloseTrade(ctx, "t1", types.TradeClose{ExitPrice: d("1"), PnL: d("1"), Reason: types.ExitStoppedOut, At: t0})
	assert.True(t, errors.Is(err, ErrStale))

	tr, err := l.GetTrade(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TradeClosed, tr.Status)
	assert.Equal(t, types.ExitTargetHit, tr.ExitReason)
	assert.True(t, tr.PnL.Equal(d("95.80")))
	assert.True(t, tr.ActualEntry.Equal(d("150.52")))
	assert.True(t, tr.PlannedTarget.Valid)
	assert.Equal(t, "o-tp", tr.ExitOrderID)

	err = l.ReviewTrade(ctx, "t1", t0)
	assert.True(t, errors.Is(err, ErrStale))
	err = l.OpenTrade(ctx, "nope", d("1"), d("1"), t0)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReviewTrade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTest(t)

	require.NoError(t, l.InsertTrade(ctx, sampleTrade("t1")))
	require.NoError(t, l.ReviewTrade(ctx, "t1", t0))
	require.NoError(t, l.ReviewTrade(ctx, "t1", t0.Add(24*time.Hour)))

	tr, err := l.GetTrade(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, tr.DaysOpen)
	assert.True(t, tr.LastReviewAt.Equal(t0.Add(24*time.Hour)))
}

func TestOrdersAndFilledExitLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTest(t)

	mk := func(id string, role types.OrderRole, status types.OrderStatus, filledAt time.Time) types.Order {
		return types.Order{ID: id, TradeID: "t1", BrokerOrderID: "b-" + id, Role: role, Side: types.SideSell,
			Kind: types.KindStop, TimeInForce: types.TIFGTC, Qty: d("10"), StopPrice: d("144.90"),
			Status: status, FilledAt: filledAt, FilledQty: d("0"), FilledAvgPrice: d("0"),
			CreatedAt: t0, UpdatedAt: t0}
	}
	require.NoError(t, l.InsertOrder(ctx, mk("e", types.RoleEntry, types.OrderFilled, t0)))
	require.NoError(t, l.InsertOrder(ctx, mk("sl", types.RoleStopLoss, types.OrderPending, time.Time{})))
	require.NoError(t, l.InsertOrder(ctx, mk("tp", types.RoleTakeProfit, types.OrderPending, time.Time{})))

	open, err := l.OpenOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	_, found, err := l.LatestFilledExit(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, found)

	upd := types.OrderUpdate{Status: types.OrderFilled, FilledQty: d("10"), FilledAvgPrice: d("160.10"), FilledAt: t0.Add(2 * time.Hour)}
	require.NoError(t, l.ApplyOrderUpdate(ctx, "tp", types.OrderPending, upd, t0))
	err = l.ApplyOrderUpdate(ctx, "tp", types.OrderPending, upd, t0)
	assert.True(t, errors.Is(err, ErrStale))

	require.NoError(t, l.MarkOrderCancelled(ctx, "sl", t0))
	err = l.MarkOrderCancelled(ctx, "tp", t0)
	assert.True(t, errors.Is(err, ErrStale), "filled order must not become cancelled")

	exit, found, err := l.LatestFilledExit(ctx, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tp", exit.ID)
	assert.True(t, exit.FilledAvgPrice.Equal(d("160.10")))

	byBroker, err := l.GetOrderByBrokerID(ctx, "b-sl")
	require.NoError(t, err)
	assert.Equal(t, types.OrderCancelled, byBroker.Status)
}

func TestPositionLifecycleAndTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTest(t)

	require.NoError(t, l.InsertTrade(ctx, sampleTrade("t1")))
	pos := types.OpenPosition(sampleTrade("t1"), d("5"), d("150.52"))
	pos.ID = "p1"
	pos.CreatedAt, pos.UpdatedAt = t0, t0

	require.NoError(t, l.InTx(ctx, func(r interfaces.Records) error {
		if err := r.OpenTrade(ctx, "t1", d("150.52"), d("5"), t0); err != nil {
			return err
		}
		return r.InsertPosition(ctx, pos)
	}))

	dup := pos
	dup.ID = "p2"
	err := l.InsertPosition(ctx, dup)
	assert.True(t, errors.Is(err, ErrDuplicate))

	// A failing transaction leaves nothing behind.
	boom := errors.New("boom")
	err = l.InTx(ctx, func(r interfaces.Records) error {
		if err := r.DeletePosition(ctx, "t1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := l.GetPositionByTrade(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.Qty.Equal(d("5")))
	assert.True(t, got.CostBasis.Equal(d("752.60")))

	require.NoError(t, l.SetProtectiveOrders(ctx, "t1", "b-sl", "b-tp", t0))
	marked := got.Mark(d("151"))
	marked.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, l.MarkPosition(ctx, marked))

	all, err := l.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b-sl", all[0].StopLossOrderID)
	assert.True(t, all[0].UnrealizedPnL.Equal(d("2.40")))

	require.NoError(t, l.DeletePosition(ctx, "t1"))
	assert.True(t, errors.Is(l.DeletePosition(ctx, "t1"), ErrNotFound))
	assert.True(t, errors.Is(l.MarkPosition(ctx, marked), ErrNotFound))
}

func TestFlagAnomalyDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := openTest(t)

	a := types.Anomaly{ID: "a1", TradeID: "t1", OrderID: "o1", Kind: types.AnomalyDoubleFill, Detail: "both filled", CreatedAt: t0}
	added, err := l.FlagAnomaly(ctx, a)
	require.NoError(t, err)
	assert.True(t, added)

	a.ID = "a2"
	added, err = l.FlagAnomaly(ctx, a)
	require.NoError(t, err)
	assert.False(t, added)

	list, err := l.ListAnomalies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, types.AnomalyDoubleFill, list[0].Kind)
}
