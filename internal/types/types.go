package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts buy/sell in any case plus the long/short aliases.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return SideBuy, true
	case "sell", "short":
		return SideSell, true
	}
	return "", false
}

// Opposite is the side that flattens a position opened on s.
func (s Side) Opposite() Side {
	if s == SideSell {
		return SideBuy
	}
	return SideSell
}

// Sign is +1 for long (buy-entry) trades and -1 for short (sell-entry) trades.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

type OrderKind string

const (
	KindLimit OrderKind = "limit"
	KindStop  OrderKind = "stop"
)

type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
	TIFOPG TimeInForce = "opg"
	TIFCLS TimeInForce = "cls"
)

// ParseTimeInForce normalizes s, falling back to gtc for anything unknown.
func ParseTimeInForce(s string) TimeInForce {
	switch tif := TimeInForce(strings.ToLower(strings.TrimSpace(s))); tif {
	case TIFDay, TIFGTC, TIFIOC, TIFFOK, TIFOPG, TIFCLS:
		return tif
	}
	return TIFGTC
}

type OrderRole string

const (
	RoleEntry      OrderRole = "ENTRY"
	RoleStopLoss   OrderRole = "STOP_LOSS"
	RoleTakeProfit OrderRole = "TAKE_PROFIT"
)

func (r OrderRole) IsExit() bool { return r == RoleStopLoss || r == RoleTakeProfit }

// ExitReason is the reason recorded when this role's fill closes a trade.
func (r OrderRole) ExitReason() ExitReason {
	if r == RoleTakeProfit {
		return ExitTargetHit
	}
	return ExitStoppedOut
}

type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

type TradeStatus string

const (
	TradeOrdered   TradeStatus = "ORDERED"
	TradePosition  TradeStatus = "POSITION"
	TradeClosed    TradeStatus = "CLOSED"
	TradeCancelled TradeStatus = "CANCELLED"
)

func (s TradeStatus) Terminal() bool { return s == TradeClosed || s == TradeCancelled }

type ExitReason string

const (
	ExitTargetHit  ExitReason = "TARGET_HIT"
	ExitStoppedOut ExitReason = "STOPPED_OUT"
	ExitManual     ExitReason = "MANUAL_EXIT"
	ExitCancelled  ExitReason = "CANCELLED"
	ExitAmended    ExitReason = "AMENDED"
)

type TradeStyle string

const (
	StyleSwing         TradeStyle = "SWING"
	StyleMeanReversion TradeStyle = "MEAN_REVERSION"
	StyleTrend         TradeStyle = "TREND"
	StyleDayTrade      TradeStyle = "DAYTRADE"
)

// DefaultTargetStyles are the styles that carry a fixed take-profit leg.
var DefaultTargetStyles = []TradeStyle{StyleSwing, StyleMeanReversion}

func ParseTradeStyle(s string) TradeStyle {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return StyleSwing
	}
	return TradeStyle(strings.ReplaceAll(s, "-", "_"))
}

// NormalizeSymbol upper-cases s and drops an exchange suffix ("AAPL:NASDAQ" -> "AAPL").
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	return strings.ToUpper(s)
}

type Trade struct {
	ID              string
	DecisionID      string
	ReplacesTradeID string
	Symbol          string
	Side            Side
	Style           TradeStyle
	Pattern         string
	Status          TradeStatus

	PlannedEntry  decimal.Decimal
	PlannedStop   decimal.Decimal
	PlannedTarget decimal.NullDecimal
	PlannedQty    decimal.Decimal

	ActualEntry decimal.Decimal
	ActualQty   decimal.Decimal
	ExitPrice   decimal.Decimal
	PnL         decimal.Decimal
	ExitReason  ExitReason
	ExitOrderID string
	ExitAt      time.Time

	DaysOpen     int
	LastReviewAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasTarget reports whether the trade gets a take-profit leg given the
// styles that use a fixed target.
func (t Trade) HasTarget(targetStyles []TradeStyle) bool {
	if !t.PlannedTarget.Valid || !t.PlannedTarget.Decimal.IsPositive() {
		return false
	}
	for _, s := range targetStyles {
		if s == t.Style {
			return true
		}
	}
	return false
}

// TradeClose carries the fields written when a trade transitions to CLOSED.
type TradeClose struct {
	ExitPrice   decimal.Decimal
	PnL         decimal.Decimal
	Reason      ExitReason
	ExitOrderID string
	At          time.Time
}

type Order struct {
	ID            string
	TradeID       string
	DecisionID    string
	BrokerOrderID string
	ClientOrderID string
	Role          OrderRole
	Side          Side
	Kind          OrderKind
	TimeInForce   TimeInForce
	Qty           decimal.Decimal
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	Status        OrderStatus

	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
	FilledAt       time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Changed reports whether u carries anything not yet recorded on o.
func (o Order) Changed(u OrderUpdate) bool {
	return o.Status != u.Status ||
		!o.FilledQty.Equal(u.FilledQty) ||
		!o.FilledAvgPrice.Equal(u.FilledAvgPrice) ||
		!o.FilledAt.Equal(u.FilledAt)
}

type Position struct {
	ID                string
	TradeID           string
	Symbol            string
	Side              Side
	Qty               decimal.Decimal
	AvgEntry          decimal.Decimal
	CurrentPrice      decimal.Decimal
	MarketValue       decimal.Decimal
	CostBasis         decimal.Decimal
	UnrealizedPnL     decimal.Decimal
	StopLossOrderID   string
	TakeProfitOrderID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type AnomalyKind string

const (
	AnomalyDoubleFill      AnomalyKind = "double_fill"
	AnomalyLateExitFill    AnomalyKind = "exit_fill_after_close"
	AnomalyUnprotected     AnomalyKind = "unprotected_position"
	AnomalyHoldingMismatch AnomalyKind = "holding_mismatch"
	AnomalyOrphanedOrder   AnomalyKind = "orphaned_order"
)

// Anomaly is an entry in the manual-review queue.
type Anomaly struct {
	ID        string
	TradeID   string
	OrderID   string
	Kind      AnomalyKind
	Detail    string
	CreatedAt time.Time
}
