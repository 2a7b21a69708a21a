package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, cfg LogConfig) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	cfg.Format = "json"
	require.NoError(t, InitWithConfig(cfg))
	t.Cleanup(func() { _ = InitWithConfig(LogConfig{Level: "INFO", Format: "json"}) })
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestLevelsAndDetailedLogging(t *testing.T) {
	buf := capture(t, LogConfig{Level: "INFO"})
	ctx := context.Background()

	Debug(ctx, "hidden")
	Info(ctx, "shown", "k", "v")
	ErrorWithErr(ctx, "failed", errors.New("boom"))

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "shown", got[0]["msg"])
	assert.Equal(t, "v", got[0]["k"])
	assert.Equal(t, "boom", got[1]["error"])

	buf = capture(t, LogConfig{Level: "INFO", DetailedLogging: true})
	DebugSkip(ctx, 0, "visible")
	got = lines(t, buf)
	require.Len(t, got, 1)
	src, ok := got[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, src["file"], "logger_test.go")
}

func TestDomainEvents(t *testing.T) {
	buf := capture(t, LogConfig{Level: "WARN"})
	ctx := context.Background()

	Risk(ctx, "AAPL", "double_fill", "trade_id", "t1")
	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "RISK", got[0]["type"])
	assert.Equal(t, "double_fill", got[0]["event_type"])
	assert.Equal(t, "t1", got[0]["trade_id"])
}

func TestOperationTimerWithoutTracing(t *testing.T) {
	buf := capture(t, LogConfig{Level: "INFO"})

	op := StartOperation(context.Background(), "monitor.Sync", "orders", 3)
	require.NotNil(t, op.Context())
	op.EndWithError(errors.New("db locked"))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "Operation failed", got[0]["msg"])
	assert.EqualValues(t, 3, got[0]["orders"])
}
