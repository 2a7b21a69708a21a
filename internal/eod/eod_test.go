package eod

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/internal/interfaces"
	"tradeflow/internal/types"
)

type closedTrades struct {
	interfaces.Records
	trades []types.Trade
}

func (c closedTrades) ListTrades(_ context.Context, _ ...types.TradeStatus) ([]types.Trade, error) {
	return c.trades, nil
}

func closed(sym string, pnl string, reason types.ExitReason, at time.Time) types.Trade {
	return types.Trade{Symbol: sym, Status: types.TradeClosed, PnL: decimal.RequireFromString(pnl), ExitReason: reason, ExitAt: at}
}

func TestSummarizeDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	day := time.Date(2025, 3, 4, 18, 30, 0, 0, loc)
	dir := t.TempDir()

	recs := closedTrades{trades: []types.Trade{
		closed("MSFT", "95.80", types.ExitTargetHit, time.Date(2025, 3, 4, 11, 0, 0, 0, loc)),
		closed("AAPL", "-53.50", types.ExitStoppedOut, time.Date(2025, 3, 4, 10, 0, 0, 0, loc)),
		closed("AAPL", "18.50", types.ExitManual, time.Date(2025, 3, 4, 15, 0, 0, 0, loc)),
		// Previous day, excluded.
		closed("AAPL", "1000", types.ExitTargetHit, time.Date(2025, 3, 3, 15, 0, 0, 0, loc)),
	}}
	s := New(recs, dir, loc)

	ok, want := s.ShouldRun(day)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "eod", "2025-03-04.csv"), want)

	path, err := s.SummarizeDay(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, want, path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, []string{"AAPL", "2", "1", "1", "0", "1", "1", "-35.00"}, rows[1])
	assert.Equal(t, []string{"MSFT", "1", "1", "0", "1", "0", "0", "95.80"}, rows[2])
	assert.Equal(t, []string{"TOTAL", "3", "2", "1", "1", "1", "1", "60.80"}, rows[3])

	ok, _ = s.ShouldRun(day)
	assert.False(t, ok)
}

func TestSummarizeDayWithoutTrades(t *testing.T) {
	s := New(closedTrades{}, t.TempDir(), time.UTC)
	path, err := s.SummarizeDay(context.Background(), time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, path)
}

type brokenDisk struct{}

func (brokenDisk) Write([]byte) (int, error) { return 0, errors.New("no space left on device") }

func TestWriteSummaryReportsWriteErrors(t *testing.T) {
	aggs := map[string]*aggRow{
		"AAPL": {Symbol: "AAPL", Trades: 1, Losses: 1, Reasons: map[types.ExitReason]int{types.ExitStoppedOut: 1},
			RealizedPnL: decimal.RequireFromString("-53.50")},
	}
	err := writeSummary(brokenDisk{}, []string{"AAPL"}, aggs)
	assert.ErrorContains(t, err, "no space left")
}
