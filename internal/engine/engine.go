// Package engine runs the three order-lifecycle stages. The stages share
// nothing but the ledger: the executor turns decisions into entry orders,
// the monitor follows fills and manages protective orders, and the
// valuator marks positions and reconciles them against the venue.
package engine

import (
	"errors"
	"sync/atomic"
	"time"

	"tradeflow/internal/interfaces"
	"tradeflow/internal/types"
)

// ErrBusy is returned by RunOnce while a previous run of the same stage is
// still in progress.
var ErrBusy = errors.New("previous run still in progress")

type Options struct {
	// MaxParallel bounds concurrent per-trade broker work within one run.
	MaxParallel int
	// TargetStyles are the trade styles that carry a take-profit leg.
	TargetStyles []types.TradeStyle
	// ReconcileGrace shields freshly opened positions from reconciliation
	// while the venue's position endpoint catches up.
	ReconcileGrace time.Duration
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxParallel <= 0 {
		o.MaxParallel = 4
	}
	if o.TargetStyles == nil {
		o.TargetStyles = types.DefaultTargetStyles
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type core struct {
	brk    interfaces.Broker
	ledger interfaces.Ledger
	opts   Options
}

func newCore(brk interfaces.Broker, l interfaces.Ledger, opts Options) core {
	return core{brk: brk, ledger: l, opts: opts.withDefaults()}
}

func (c *core) now() time.Time { return c.opts.Now().UTC() }

// runGuard keeps invocations of one stage from overlapping.
type runGuard struct {
	busy atomic.Bool
}

func (g *runGuard) acquire() (release func(), err error) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return func() { g.busy.Store(false) }, nil
}
