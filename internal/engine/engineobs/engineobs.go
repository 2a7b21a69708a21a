package engineobs

import (
	"context"
	"errors"
	"time"

	"tradeflow/internal/engine"
	"tradeflow/internal/interfaces"
	"tradeflow/internal/logger"
	"tradeflow/internal/trace"
	"tradeflow/internal/types"
)

type observableExecutor struct {
	exec interfaces.Executor
}

var _ interfaces.Executor = (*observableExecutor)(nil)

func WrapExecutor(exec interfaces.Executor) interfaces.Executor {
	return &observableExecutor{exec: exec}
}

func (oe *observableExecutor) RunOnce(ctx context.Context) (types.ExecResult, error) {
	ctx, span := trace.StartSpan(ctx, "executor.RunOnce")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Starting executor run")

	res, err := oe.exec.RunOnce(ctx)
	if err != nil {
		logRunError(ctx, "Executor run failed", err, start)
		return res, err
	}
	logExec(ctx, "Executor run completed", res, start)
	return res, nil
}

func (oe *observableExecutor) Execute(ctx context.Context, decisions []types.Decision) types.ExecResult {
	ctx, span := trace.StartSpan(ctx, "executor.Execute")
	defer span.End()

	start := time.Now()
	res := oe.exec.Execute(ctx, decisions)
	logExec(ctx, "Decisions executed", res, start)
	return res
}

func logExec(ctx context.Context, msg string, res types.ExecResult, start time.Time) {
	logger.InfoSkip(ctx, 2, msg,
		"processed", res.Processed,
		"executed", res.Executed,
		"rejected", res.Rejected,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

type observableMonitor struct {
	mon interfaces.OrderMonitor
}

var _ interfaces.OrderMonitor = (*observableMonitor)(nil)

func WrapMonitor(mon interfaces.OrderMonitor) interfaces.OrderMonitor {
	return &observableMonitor{mon: mon}
}

func (om *observableMonitor) RunOnce(ctx context.Context) (types.SyncResult, error) {
	ctx, span := trace.StartSpan(ctx, "monitor.RunOnce")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Starting order sync")

	res, err := om.mon.RunOnce(ctx)
	if err != nil {
		logRunError(ctx, "Order sync failed", err, start)
		return res, err
	}
	logSync(ctx, "Order sync completed", res, start)
	return res, nil
}

func (om *observableMonitor) Sync(ctx context.Context, openOrders []types.Order) types.SyncResult {
	ctx, span := trace.StartSpan(ctx, "monitor.Sync")
	defer span.End()

	start := time.Now()
	res := om.mon.Sync(ctx, openOrders)
	logSync(ctx, "Orders synced", res, start)
	return res
}

func logSync(ctx context.Context, msg string, res types.SyncResult, start time.Time) {
	logger.InfoSkip(ctx, 2, msg,
		"checked", res.Checked,
		"updated", res.Updated,
		"entries", res.Entries,
		"exits", res.Exits,
		"cancelled", res.Cancelled,
		"anomalies", res.Anomalies,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

type observableValuator struct {
	val interfaces.PositionValuator
}

var _ interfaces.PositionValuator = (*observableValuator)(nil)

func WrapValuator(val interfaces.PositionValuator) interfaces.PositionValuator {
	return &observableValuator{val: val}
}

func (ov *observableValuator) RunOnce(ctx context.Context) (types.ValuationResult, error) {
	ctx, span := trace.StartSpan(ctx, "valuator.RunOnce")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Starting position valuation")

	res, err := ov.val.RunOnce(ctx)
	if err != nil {
		logRunError(ctx, "Position valuation failed", err, start)
		return res, err
	}
	logValuation(ctx, "Position valuation completed", res, start)
	return res, nil
}

func (ov *observableValuator) Valuate(ctx context.Context) (types.ValuationResult, error) {
	ctx, span := trace.StartSpan(ctx, "valuator.Valuate")
	defer span.End()

	start := time.Now()
	res, err := ov.val.Valuate(ctx)
	if err != nil {
		logRunError(ctx, "Valuation failed", err, start)
		return res, err
	}
	logValuation(ctx, "Positions valued", res, start)
	return res, nil
}

func (ov *observableValuator) Reconcile(ctx context.Context) (types.ValuationResult, error) {
	ctx, span := trace.StartSpan(ctx, "valuator.Reconcile")
	defer span.End()

	start := time.Now()
	res, err := ov.val.Reconcile(ctx)
	if err != nil {
		logRunError(ctx, "Reconciliation failed", err, start)
		return res, err
	}
	logValuation(ctx, "Positions reconciled", res, start)
	return res, nil
}

func logValuation(ctx context.Context, msg string, res types.ValuationResult, start time.Time) {
	logger.InfoSkip(ctx, 2, msg,
		"valued", res.Valued,
		"skipped", res.Skipped,
		"reconciled", res.Reconciled,
		"anomalies", res.Anomalies,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// logRunError reports a whole-run failure. An overlapping run is expected
// under a slow venue and only logged as a warning.
func logRunError(ctx context.Context, msg string, err error, start time.Time) {
	if errors.Is(err, engine.ErrBusy) {
		logger.WarnSkip(ctx, 2, msg, "error", err)
		return
	}
	logger.ErrorWithErrSkip(ctx, 2, msg, err,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
