package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/internal/types"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "mode: DRY_RUN\n" +
		"broker:\n  provider: PAPER\n" +
		"database:\n  path: " + filepath.Join(dir, "tf.db") + "\n" +
		"tradelog:\n  dir: " + filepath.Join(dir, "logs") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, dir
}

func TestDecisionInput(t *testing.T) {
	raw := `[
	  {"id": "d1", "symbol": "aapl:nasdaq", "action": "NEW_TRADE",
	   "plan": {"side": "buy", "qty": "10", "limit_price": "151", "stop_loss": "145", "trade_style": "swing"}},
	  {"symbol": "MSFT", "action": "CANCEL", "trade_ref": "t-9", "approved": false}
	]`
	var ins []decisionInput
	require.NoError(t, json.Unmarshal([]byte(raw), &ins))
	now := time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)

	d, err := ins[0].decision(now)
	require.NoError(t, err)
	assert.Equal(t, "d1", d.ID)
	assert.Equal(t, "AAPL", d.Symbol)
	assert.True(t, d.Approved)
	nt, ok := d.Action.(types.NewTrade)
	require.True(t, ok)
	assert.Equal(t, "10", nt.Plan.Qty.String())

	d, err = ins[1].decision(now)
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.Approved)
	assert.Equal(t, types.ActionCancel, d.Action.Kind())
	assert.Equal(t, "t-9", d.TradeRef)
}

func TestDecisionInputRejectsBadAction(t *testing.T) {
	_, err := decisionInput{Symbol: "AAPL", Action: "BUY_ALL"}.decision(time.Now())
	assert.Error(t, err)

	_, err = decisionInput{Symbol: "AAPL", Action: "NEW_TRADE"}.decision(time.Now())
	assert.Error(t, err)
}

func TestBootstrapPaperExecutes(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	ctx := context.Background()

	a, err := bootstrap(ctx, cfgPath, "")
	require.NoError(t, err)
	defer a.close(ctx)
	assert.Equal(t, "paper", a.broker.Name())

	in := decisionInput{
		ID:     "d1",
		Symbol: "AAPL",
		Action: "NEW_TRADE",
		Plan:   json.RawMessage(`{"side":"buy","qty":"5","limit_price":"100","stop_loss":"95"}`),
	}
	d, err := in.decision(time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, a.ledger.InsertDecision(ctx, d))

	res, err := a.executor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Executed)

	trades, err := a.ledger.ListTrades(ctx, types.TradeOrdered)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "AAPL", trades[0].Symbol)
}

func TestBootstrapDatabaseOverride(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	ctx := context.Background()
	override := filepath.Join(dir, "other.db")

	a, err := bootstrap(ctx, cfgPath, override)
	require.NoError(t, err)
	defer a.close(ctx)
	assert.Equal(t, override, a.cfg.Database.Path)
	assert.FileExists(t, override)
}

func TestBuildSchedulerRegistersJobs(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	ctx := context.Background()

	a, err := bootstrap(ctx, cfgPath, "")
	require.NoError(t, err)
	defer a.close(ctx)

	sched, err := buildScheduler(a)
	require.NoError(t, err)
	assert.NotNil(t, sched)
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "execute", "monitor-orders", "monitor-positions", "submit", "report", "anomalies", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
