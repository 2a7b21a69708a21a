package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/internal/types"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("mode: DRY_RUN\n"))
	require.NoError(t, err)

	assert.Equal(t, "PAPER", cfg.Broker.Provider)
	assert.Equal(t, 10*time.Second, cfg.BrokerTimeout())
	assert.Equal(t, 4, cfg.Engine.MaxParallel)
	assert.Equal(t, "America/New_York", cfg.Schedule.Timezone)
	assert.Equal(t, "09:45", cfg.Schedule.ExecutorAt)
	assert.Equal(t, 5, cfg.Schedule.OrderIntervalMinutes)
	assert.Equal(t, 10, cfg.Schedule.PositionIntervalMinutes)
	assert.Equal(t, []types.TradeStyle{types.StyleSwing, types.StyleMeanReversion}, cfg.TargetStyles())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
mode: LIVE
broker:
  provider: alpaca
  timeout_seconds: 5
  paper: true
database:
  path: /tmp/tf.db
engine:
  max_parallel: 8
  target_styles: [swing]
schedule:
  timezone: Asia/Kolkata
  trading_days: [Mon, Tue]
  session_open: "09:15"
  session_close: "15:30"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ALPACA", cfg.Broker.Provider)
	assert.True(t, cfg.Broker.Paper)
	assert.Equal(t, 8, cfg.Engine.MaxParallel)
	assert.Equal(t, []types.TradeStyle{types.StyleSwing}, cfg.TargetStyles())
	assert.Equal(t, []string{"Mon", "Tue"}, cfg.Schedule.TradingDays)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad mode":       "mode: PAPER_TRADING\n",
		"bad provider":   "broker:\n  provider: IBKR\n",
		"paper live":     "mode: LIVE\nbroker:\n  provider: PAPER\n",
		"bad timeout":    "broker:\n  timeout_seconds: 500\n",
		"bad clock":      "schedule:\n  executor_at: 9.45\n",
		"close before":   "schedule:\n  session_open: \"16:00\"\n  session_close: \"09:30\"\n",
		"bad day":        "schedule:\n  trading_days: [Funday]\n",
		"bad timezone":   "schedule:\n  timezone: Mars/Olympus\n",
		"negative grace": "engine:\n  reconcile_grace_seconds: -1\n",
		"bad quotes":     "broker:\n  quote_source: bloomberg\n",
	}
	for name, body := range cases {
		_, err := ParseConfig([]byte(body))
		assert.Error(t, err, name)
	}
}

func TestEnvOverridesDatabasePath(t *testing.T) {
	t.Setenv("TRADEFLOW_DB", "/var/lib/tradeflow/prod.db")
	cfg, err := ParseConfig([]byte("mode: DRY_RUN\n"))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tradeflow/prod.db", cfg.Database.Path)
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:45")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+45*time.Minute, d)

	_, err = ParseClock("25:00")
	assert.Error(t, err)
}
