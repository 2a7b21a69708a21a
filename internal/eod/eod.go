// Package eod writes the end-of-session summary of closed trades.
package eod

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"tradeflow/internal/interfaces"
	"tradeflow/internal/types"
)

type aggRow struct {
	Symbol      string
	Trades      int
	Wins        int
	Losses      int
	Reasons     map[types.ExitReason]int
	RealizedPnL decimal.Decimal
}

type Summarizer struct {
	records interfaces.Records
	dir     string
	loc     *time.Location
}

var _ interfaces.SessionReporter = (*Summarizer)(nil)

// New returns a summarizer that writes <dir>/eod/<date>.csv, dating trades
// by their exit time in loc.
func New(records interfaces.Records, dir string, loc *time.Location) *Summarizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Summarizer{records: records, dir: dir, loc: loc}
}

func (s *Summarizer) csvPath(day time.Time) string {
	return filepath.Join(s.dir, "eod", day.In(s.loc).Format("2006-01-02")+".csv")
}

func (s *Summarizer) SummarizeDay(ctx context.Context, day time.Time) (string, error) {
	day = day.In(s.loc)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 0, 1)

	closed, err := s.records.ListTrades(ctx, types.TradeClosed)
	if err != nil {
		return "", fmt.Errorf("load closed trades: %w", err)
	}

	aggs := map[string]*aggRow{}
	for _, t := range closed {
		if t.ExitAt.Before(start) || !t.ExitAt.Before(end) {
			continue
		}
		row := aggs[t.Symbol]
		if row == nil {
			row = &aggRow{Symbol: t.Symbol, Reasons: map[types.ExitReason]int{}}
			aggs[t.Symbol] = row
		}
		row.Trades++
		switch {
		case t.PnL.IsPositive():
			row.Wins++
		case t.PnL.IsNegative():
			row.Losses++
		}
		row.Reasons[t.ExitReason]++
		row.RealizedPnL = row.RealizedPnL.Add(t.PnL)
	}
	if len(aggs) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := s.csvPath(day)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	werr := writeSummary(out, keys, aggs)
	if cerr := out.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", fmt.Errorf("write %s: %w", outPath, werr)
	}
	return outPath, nil
}

func writeSummary(out io.Writer, keys []string, aggs map[string]*aggRow) error {
	w := csv.NewWriter(out)
	headers := []string{"symbol", "trades", "wins", "losses", "target_hit", "stopped_out", "manual_exit", "realized_pnl"}
	if err := w.Write(headers); err != nil {
		return err
	}
	var (
		total  aggRow
		totals = map[types.ExitReason]int{}
	)
	total.RealizedPnL = decimal.Zero
	for _, k := range keys {
		r := aggs[k]
		rec := []string{
			r.Symbol,
			strconv.Itoa(r.Trades),
			strconv.Itoa(r.Wins),
			strconv.Itoa(r.Losses),
			strconv.Itoa(r.Reasons[types.ExitTargetHit]),
			strconv.Itoa(r.Reasons[types.ExitStoppedOut]),
			strconv.Itoa(r.Reasons[types.ExitManual]),
			r.RealizedPnL.StringFixed(2),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
		total.Trades += r.Trades
		total.Wins += r.Wins
		total.Losses += r.Losses
		for reason, n := range r.Reasons {
			totals[reason] += n
		}
		total.RealizedPnL = total.RealizedPnL.Add(r.RealizedPnL)
	}
	err := w.Write([]string{
		"TOTAL",
		strconv.Itoa(total.Trades),
		strconv.Itoa(total.Wins),
		strconv.Itoa(total.Losses),
		strconv.Itoa(totals[types.ExitTargetHit]),
		strconv.Itoa(totals[types.ExitStoppedOut]),
		strconv.Itoa(totals[types.ExitManual]),
		total.RealizedPnL.StringFixed(2),
	})
	if err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (s *Summarizer) ShouldRun(day time.Time) (bool, string) {
	outPath := s.csvPath(day)
	if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
		return true, outPath
	}
	return false, outPath
}
