package engineobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/internal/engine"
	"tradeflow/internal/types"
)

type stubExecutor struct {
	res types.ExecResult
	err error
}

func (s stubExecutor) RunOnce(context.Context) (types.ExecResult, error) { return s.res, s.err }
func (s stubExecutor) Execute(context.Context, []types.Decision) types.ExecResult {
	return s.res
}

type stubMonitor struct{ res types.SyncResult }

func (s stubMonitor) RunOnce(context.Context) (types.SyncResult, error)      { return s.res, nil }
func (s stubMonitor) Sync(context.Context, []types.Order) types.SyncResult { return s.res }

type stubValuator struct{ err error }

func (s stubValuator) RunOnce(context.Context) (types.ValuationResult, error) {
	return types.ValuationResult{Valued: 2}, s.err
}
func (s stubValuator) Valuate(context.Context) (types.ValuationResult, error) {
	return types.ValuationResult{Valued: 2}, nil
}
func (s stubValuator) Reconcile(context.Context) (types.ValuationResult, error) {
	return types.ValuationResult{Reconciled: 1}, s.err
}

func TestWrappersPassResultsThrough(t *testing.T) {
	ctx := context.Background()

	res, err := WrapExecutor(stubExecutor{res: types.ExecResult{Processed: 3, Executed: 2}}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Executed)

	sync := WrapMonitor(stubMonitor{res: types.SyncResult{Exits: 1}}).Sync(ctx, nil)
	assert.Equal(t, 1, sync.Exits)

	val, err := WrapValuator(stubValuator{}).Valuate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, val.Valued)
}

func TestWrappersReturnErrors(t *testing.T) {
	ctx := context.Background()

	_, err := WrapExecutor(stubExecutor{err: engine.ErrBusy}).RunOnce(ctx)
	assert.ErrorIs(t, err, engine.ErrBusy)

	_, err = WrapValuator(stubValuator{err: assert.AnError}).Reconcile(ctx)
	assert.ErrorIs(t, err, assert.AnError)
}
