package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRealizedPnL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		side  Side
		entry string
		exit  string
		qty   string
		want  string
	}{
		{"long stopped out", SideBuy, "150.25", "144.90", "10", "-53.50"},
		{"long target hit", SideBuy, "150.52", "160.10", "10", "95.80"},
		{"short covered lower", SideSell, "150.25", "144.90", "10", "53.50"},
		{"short stopped higher", SideSell, "100.00", "104.10", "7", "-28.70"},
		{"flat", SideBuy, "10", "10", "3", "0"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := RealizedPnL(tc.side, d(tc.entry), d(tc.exit), d(tc.qty))
			assert.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestPositionMarkShort(t *testing.T) {
	t.Parallel()

	p := OpenPosition(Trade{ID: "t1", Symbol: "AAPL", Side: SideSell}, d("5"), d("200"))
	assert.True(t, p.CostBasis.Equal(d("1000")))
	assert.True(t, p.MarketValue.Equal(p.CostBasis))
	assert.True(t, p.CurrentPrice.Equal(d("200")))

	p = p.Mark(d("190.5"))
	assert.True(t, p.UnrealizedPnL.Equal(d("47.5")))
	assert.True(t, p.MarketValue.Equal(d("952.5")))
}

func TestQuoteMid(t *testing.T) {
	t.Parallel()

	mid, ok := Quote{Bid: d("99.90"), Ask: d("100.10")}.Mid()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("100")))

	mid, ok = Quote{Ask: d("101")}.Mid()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("101")))

	mid, ok = Quote{Bid: d("98")}.Mid()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("98")))

	_, ok = Quote{}.Mid()
	assert.False(t, ok)
}

func TestTradePlanValidate(t *testing.T) {
	t.Parallel()

	good := TradePlan{Side: SideBuy, Qty: d("10"), LimitPrice: d("150"), StopLoss: d("145"),
		TakeProfit: decimal.NewNullDecimal(d("160"))}.Normalize()
	require.NoError(t, good.Validate())
	assert.Equal(t, StyleSwing, good.Style)
	assert.Equal(t, TIFGTC, good.TimeInForce)
	assert.Equal(t, KindLimit, good.Kind)

	short := TradePlan{Side: SideSell, Qty: d("10"), LimitPrice: d("150"), StopLoss: d("155")}.Normalize()
	require.NoError(t, short.Validate())

	bad := []TradePlan{
		{Side: SideBuy, Qty: d("0"), LimitPrice: d("150"), StopLoss: d("145")},
		{Side: SideBuy, Qty: d("1"), LimitPrice: d("0"), StopLoss: d("145")},
		{Side: SideBuy, Qty: d("1"), LimitPrice: d("150")},
		{Side: SideBuy, Qty: d("1"), LimitPrice: d("150"), StopLoss: d("151")},
		{Side: SideSell, Qty: d("1"), LimitPrice: d("150"), StopLoss: d("149")},
		{Side: SideBuy, Qty: d("1"), LimitPrice: d("150"), StopLoss: d("145"), TakeProfit: decimal.NewNullDecimal(d("140"))},
		{Side: "hold", Qty: d("1"), LimitPrice: d("150"), StopLoss: d("145")},
	}
	for i, p := range bad {
		assert.Error(t, p.Normalize().Validate(), "case %d", i)
	}
}

func TestDecodeAction(t *testing.T) {
	t.Parallel()

	plan := TradePlan{Side: SideBuy, Qty: d("10"), Kind: KindLimit, LimitPrice: d("150.25"),
		StopLoss: d("144.90"), Style: StyleTrend, TimeInForce: TIFDay}
	kind, payload, err := EncodeAction(Amend{Plan: plan})
	require.NoError(t, err)
	assert.Equal(t, ActionAmend, kind)

	a, err := DecodeAction(kind, payload)
	require.NoError(t, err)
	amend, ok := a.(Amend)
	require.True(t, ok)
	assert.True(t, amend.Plan.LimitPrice.Equal(plan.LimitPrice))
	assert.False(t, amend.Plan.TakeProfit.Valid)

	_, err = DecodeAction(ActionNewTrade, "")
	assert.Error(t, err)
	_, err = DecodeAction("REVERSE", "")
	assert.Error(t, err)

	a, err = DecodeAction(ActionCancel, "")
	require.NoError(t, err)
	assert.Equal(t, ActionCancel, a.Kind())
}

func TestTradeHasTarget(t *testing.T) {
	t.Parallel()

	tr := Trade{Style: StyleSwing, PlannedTarget: decimal.NewNullDecimal(d("160"))}
	assert.True(t, tr.HasTarget(DefaultTargetStyles))

	tr.Style = StyleTrend
	assert.False(t, tr.HasTarget(DefaultTargetStyles))

	tr = Trade{Style: StyleMeanReversion}
	assert.False(t, tr.HasTarget(DefaultTargetStyles))
}

func TestRejectReason(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("submit: %w", Rejected("insufficient buying power"))
	assert.True(t, errors.Is(err, ErrRejected))
	reason, ok := RejectReason(err)
	require.True(t, ok)
	assert.Equal(t, "insufficient buying power", reason)

	_, ok = RejectReason(errors.New("timeout"))
	assert.False(t, ok)
}

func TestNormalizeSymbol(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AAPL", NormalizeSymbol("aapl:NASDAQ"))
	assert.Equal(t, "INFY", NormalizeSymbol(" INFY "))
}
