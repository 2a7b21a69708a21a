package tradelog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/internal/types"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := map[string]any{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestJournalWritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	j := New(dir, ny)
	now := time.Date(2025, 3, 4, 15, 0, 0, 0, ny)
	j.now = func() time.Time { return now }

	tr := types.Trade{ID: "t1", Symbol: "AAPL", Side: types.SideBuy,
		ActualEntry: decimal.RequireFromString("150.52"), ActualQty: decimal.NewFromInt(10)}
	require.NoError(t, j.Closed(tr, types.TradeClose{
		ExitPrice: decimal.RequireFromString("160.10"), PnL: decimal.RequireFromString("95.80"), Reason: types.ExitTargetHit,
	}))

	now = now.Add(24 * time.Hour)
	require.NoError(t, j.Execution(types.Decision{ID: "d1", Symbol: "MSFT", Action: types.Cancel{}}, "cancelled", "t2", "b2"))
	require.NoError(t, j.Close())

	first := readEntries(t, filepath.Join(dir, "2025-03-04.jsonl"))
	require.Len(t, first, 1)
	assert.Equal(t, "close", first[0]["event"])
	assert.Equal(t, "95.8", first[0]["pnl"])
	assert.Equal(t, "TARGET_HIT", first[0]["reason"])

	second := readEntries(t, filepath.Join(dir, "2025-03-05.jsonl"))
	require.Len(t, second, 1)
	assert.Equal(t, "CANCEL", second[0]["action"])
}

func TestPackageHelpersAreNoopsWithoutInit(t *testing.T) {
	defaultMu.Lock()
	defaultJ = nil
	defaultMu.Unlock()

	assert.NotPanics(t, func() {
		Fill(types.Order{ID: "o1"}, "AAPL")
		Anomaly(types.Anomaly{TradeID: "t1"}, "AAPL")
	})
}

func TestCompressOlder(t *testing.T) {
	dir := t.TempDir()
	j := New(dir, time.UTC)

	old := filepath.Join(dir, "2025-01-01.jsonl")
	fresh := filepath.Join(dir, "2025-03-04.jsonl")
	require.NoError(t, os.WriteFile(old, []byte(`{"event":"fill"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte(`{"event":"fill"}`+"\n"), 0o644))
	past := time.Now().AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(old, past, past))

	require.NoError(t, j.CompressOlder(30))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(old + ".gz")
	assert.NoError(t, err)
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
