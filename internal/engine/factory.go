package engine

import (
	"tradeflow/internal/interfaces"
	"tradeflow/internal/store"
)

// Stages bundles the three lifecycle stages over one broker and ledger.
type Stages struct {
	Executor *Executor
	Monitor  *Monitor
	Valuator *Valuator
}

func OptionsFromConfig(cfg *store.Config) Options {
	return Options{
		MaxParallel:    cfg.Engine.MaxParallel,
		TargetStyles:   cfg.TargetStyles(),
		ReconcileGrace: cfg.ReconcileGrace(),
	}
}

func New(cfg *store.Config, brk interfaces.Broker, l interfaces.Ledger) Stages {
	opts := OptionsFromConfig(cfg)
	return Stages{
		Executor: NewExecutor(brk, l, opts),
		Monitor:  NewMonitor(brk, l, opts),
		Valuator: NewValuator(brk, l, opts),
	}
}
