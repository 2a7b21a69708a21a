package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tradeflow/internal/logger"
	"tradeflow/internal/scheduler"
	"tradeflow/internal/store"
)

type rootFlags struct {
	configPath string
	dbPath     string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "tradeflow",
		Short: "Order lifecycle engine: executes decisions, follows fills and reconciles positions",
		Long: `Tradeflow turns approved trading decisions into broker orders and follows
them through their lifecycle.

  execute            submit entry orders for pending decisions
  monitor-orders     sync order status, place protective orders, close on exit fills
  monitor-positions  mark positions to market and reconcile with the venue
  run                run all three on the session schedule
  submit             queue decisions from a JSON file`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initializeSystem()
		},
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "config.yaml", "path to config.yaml")
	root.PersistentFlags().StringVar(&f.dbPath, "db", "", "ledger database path (overrides database.path)")

	root.AddCommand(
		newRunCmd(f),
		newOnceCmd(f, "execute", "Execute pending approved decisions once", func(ctx context.Context, a *app) (any, error) {
			return a.executor.RunOnce(ctx)
		}),
		newOnceCmd(f, "monitor-orders", "Sync open orders once", func(ctx context.Context, a *app) (any, error) {
			return a.monitor.RunOnce(ctx)
		}),
		newOnceCmd(f, "monitor-positions", "Value and reconcile open positions once", func(ctx context.Context, a *app) (any, error) {
			return a.valuator.RunOnce(ctx)
		}),
		newSubmitCmd(f),
		newReportCmd(f),
		newAnomaliesCmd(f),
		newVersionCmd(),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// newOnceCmd wraps a single stage run. The exit code is non-zero only when
// the run itself could not happen; per-item failures are in the printed
// result.
func newOnceCmd(f *rootFlags, use, short string, run func(context.Context, *app) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := bootstrap(ctx, f.configPath, f.dbPath)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			res, err := run(ctx, a)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the executor, order monitor and position monitor on schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := bootstrap(ctx, f.configPath, f.dbPath)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			a.compressOldLogs(ctx)

			sched, err := buildScheduler(a)
			if err != nil {
				return err
			}
			tick := time.Duration(a.cfg.Schedule.TickSeconds) * time.Second
			if err := sched.Run(ctx, tick); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info(context.Background(), "Shutdown complete")
			return nil
		},
	}
}

func buildScheduler(a *app) (*scheduler.Scheduler, error) {
	cal, err := scheduler.CalendarFromConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	s := a.cfg.Schedule
	clock := func(v string) time.Duration {
		d, _ := store.ParseClock(v)
		return d
	}

	// A late start catches up the executor only while the session is open.
	execWindow := clock(s.SessionClose) - clock(s.ExecutorAt)
	if execWindow <= 0 {
		execWindow = time.Hour
	}

	sched := scheduler.New(cal)
	sched.Add(scheduler.Job{
		Name:   "executor",
		At:     []time.Duration{clock(s.ExecutorAt)},
		Window: execWindow,
		Run: func(ctx context.Context) error {
			_, err := a.executor.RunOnce(ctx)
			return err
		},
	})
	sched.Add(scheduler.Job{
		Name:  "order-monitor",
		Every: time.Duration(s.OrderIntervalMinutes) * time.Minute,
		At:    []time.Duration{clock(s.OrderPostSessionAt)},
		Run: func(ctx context.Context) error {
			_, err := a.monitor.RunOnce(ctx)
			return err
		},
	})
	sched.Add(scheduler.Job{
		Name:  "position-monitor",
		Every: time.Duration(s.PositionIntervalMinutes) * time.Minute,
		At:    []time.Duration{clock(s.PositionPostSessionAt)},
		Run: func(ctx context.Context) error {
			_, err := a.valuator.RunOnce(ctx)
			return err
		},
	})
	sched.Add(scheduler.Job{
		Name: "session-report",
		At:   []time.Duration{clock(s.ReportAt)},
		Run: func(ctx context.Context) error {
			now := time.Now().In(a.loc)
			if ok, _ := a.reporter.ShouldRun(now); !ok {
				return nil
			}
			_, err := a.reporter.SummarizeDay(ctx, now)
			a.compressOldLogs(ctx)
			return err
		},
	})
	return sched, nil
}

func newReportCmd(f *rootFlags) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the end-of-session P&L summary CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := bootstrap(ctx, f.configPath, f.dbPath)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			day := time.Now().In(a.loc)
			if date != "" {
				day, err = time.ParseInLocation("2006-01-02", date, a.loc)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			path, err := a.reporter.SummarizeDay(ctx, day)
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Println("no trades closed on", day.Format("2006-01-02"))
				return nil
			}
			fmt.Println(path)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "session date YYYY-MM-DD (default today in the venue timezone)")
	return cmd
}

func newAnomaliesCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "anomalies",
		Short: "List the manual-review queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := bootstrap(ctx, f.configPath, f.dbPath)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			as, err := a.ledger.ListAnomalies(ctx)
			if err != nil {
				return err
			}
			for _, an := range as {
				fmt.Printf("%s  %-22s trade=%s order=%s  %s\n",
					an.CreatedAt.In(a.loc).Format(time.RFC3339), an.Kind, an.TradeID, an.OrderID, an.Detail)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tradeflow version %s\n", version)
		},
	}
}
