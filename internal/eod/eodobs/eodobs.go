package eodobs

import (
	"context"
	"time"

	"tradeflow/internal/interfaces"
	"tradeflow/internal/logger"
	"tradeflow/internal/trace"
)

type observableReporter struct {
	reporter interfaces.SessionReporter
}

var _ interfaces.SessionReporter = (*observableReporter)(nil)

func Wrap(reporter interfaces.SessionReporter) interfaces.SessionReporter {
	return &observableReporter{
		reporter: reporter,
	}
}

func (o *observableReporter) SummarizeDay(ctx context.Context, day time.Time) (string, error) {
	ctx, span := trace.StartSpan(ctx, "eod.SummarizeDay")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Starting EOD summary generation",
		"date", day.Format("2006-01-02"),
	)

	csvPath, err := o.reporter.SummarizeDay(ctx, day)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "EOD summary generation failed", err,
			"date", day.Format("2006-01-02"),
		)
		return "", err
	}

	if csvPath == "" {
		logger.InfoSkip(ctx, 1, "No closed trades for EOD summary",
			"date", day.Format("2006-01-02"),
		)
		return "", nil
	}

	logger.InfoSkip(ctx, 1, "EOD summary generated",
		"date", day.Format("2006-01-02"),
		"csv_path", csvPath,
	)
	return csvPath, nil
}

func (o *observableReporter) ShouldRun(day time.Time) (bool, string) {
	ctx, span := trace.StartSpan(context.Background(), "eod.ShouldRun")
	defer span.End()

	shouldRun, csvPath := o.reporter.ShouldRun(day)
	logger.DebugSkip(ctx, 1, "EOD check completed",
		"should_run", shouldRun,
		"csv_path", csvPath,
	)
	return shouldRun, csvPath
}
