package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"tradeflow/internal/broker"
	"tradeflow/internal/broker/brokerobs"
	"tradeflow/internal/engine"
	"tradeflow/internal/engine/engineobs"
	"tradeflow/internal/eod"
	"tradeflow/internal/eod/eodobs"
	"tradeflow/internal/interfaces"
	"tradeflow/internal/ledger"
	"tradeflow/internal/logger"
	"tradeflow/internal/store"
	"tradeflow/internal/trace"
	"tradeflow/internal/tradelog"
)

const version = "0.3.0"

// initializeSystem loads .env and sets up logging and tracing.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(version); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

// app holds everything a command needs. close releases it.
type app struct {
	cfg      *store.Config
	loc      *time.Location
	ledger   *ledger.Ledger
	broker   interfaces.Broker
	journal  *tradelog.Journal
	reporter interfaces.SessionReporter

	executor interfaces.Executor
	monitor  interfaces.OrderMonitor
	valuator interfaces.PositionValuator
}

func loadConfig(ctx context.Context, path, dbPath string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

func bootstrap(ctx context.Context, configPath, dbPath string) (*app, error) {
	cfg, err := loadConfig(ctx, configPath, dbPath)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, err
	}

	l, err := ledger.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	brk, err := initializeBroker(ctx, cfg)
	if err != nil {
		_ = l.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		loc:     loc,
		ledger:  l,
		broker:  brk,
		journal: tradelog.Init(cfg.TradeLog.Dir, loc),
	}
	a.reporter = eodobs.Wrap(eod.New(l, cfg.TradeLog.Dir, loc))

	stages := engine.New(cfg, brk, l)
	a.executor = engineobs.WrapExecutor(stages.Executor)
	a.monitor = engineobs.WrapMonitor(stages.Monitor)
	a.valuator = engineobs.WrapValuator(stages.Valuator)

	logger.Info(ctx, "Tradeflow initialized",
		"mode", cfg.Mode,
		"broker", brk.Name(),
		"db", cfg.Database.Path,
		"timezone", cfg.Schedule.Timezone,
	)
	return a, nil
}

// initializeBroker builds the configured venue and wraps it with
// observability middleware.
func initializeBroker(ctx context.Context, cfg *store.Config) (interfaces.Broker, error) {
	brk, err := broker.New(broker.ParamsFromConfig(cfg, store.SecretsFromEnv()))
	if err != nil {
		return nil, fmt.Errorf("initialize broker: %w", err)
	}
	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders go to the in-memory paper venue")
	}
	return brokerobs.Wrap(brk, cfg.BrokerTimeout()), nil
}

func (a *app) close(ctx context.Context) {
	if err := a.journal.Close(); err != nil {
		logger.Warn(ctx, "Failed to close trade journal", "error", err)
	}
	if err := a.ledger.Close(); err != nil {
		logger.Warn(ctx, "Failed to close ledger", "error", err)
	}
	if err := trace.Shutdown(ctx); err != nil {
		logger.Warn(ctx, "Failed to flush traces", "error", err)
	}
}

// compressOldLogs gzips journal files past the configured retention.
func (a *app) compressOldLogs(ctx context.Context) {
	if err := a.journal.CompressOlder(a.cfg.TradeLog.RetentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
	}
}
