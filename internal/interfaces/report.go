package interfaces

import (
	"context"
	"time"
)

// SessionReporter writes the realized-P&L summary of one venue day.
type SessionReporter interface {
	// SummarizeDay returns the path of the CSV written for day, or "" when
	// no trade closed that day.
	SummarizeDay(ctx context.Context, day time.Time) (string, error)
	// ShouldRun reports whether day's summary is still missing, with the
	// path it would be written to.
	ShouldRun(day time.Time) (bool, string)
}
