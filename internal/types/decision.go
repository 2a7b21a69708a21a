package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ActionKind string

const (
	ActionNewTrade ActionKind = "NEW_TRADE"
	ActionCancel   ActionKind = "CANCEL"
	ActionAmend    ActionKind = "AMEND"
	ActionNoAction ActionKind = "NO_ACTION"
)

// Action is the tagged payload of a Decision. The concrete types are
// NewTrade, Cancel, Amend and NoAction.
type Action interface {
	Kind() ActionKind
	sealed()
}

type NewTrade struct{ Plan TradePlan }

type Cancel struct{}

type Amend struct{ Plan TradePlan }

type NoAction struct{}

func (NewTrade) Kind() ActionKind { return ActionNewTrade }
func (Cancel) Kind() ActionKind   { return ActionCancel }
func (Amend) Kind() ActionKind    { return ActionAmend }
func (NoAction) Kind() ActionKind { return ActionNoAction }

func (NewTrade) sealed() {}
func (Cancel) sealed()   {}
func (Amend) sealed()    {}
func (NoAction) sealed() {}

// TradePlan is the order plan carried by NEW_TRADE and AMEND.
type TradePlan struct {
	Side        Side                `json:"side"`
	Qty         decimal.Decimal     `json:"qty"`
	Kind        OrderKind           `json:"order_type"`
	LimitPrice  decimal.Decimal     `json:"limit_price"`
	StopLoss    decimal.Decimal     `json:"stop_loss"`
	TakeProfit  decimal.NullDecimal `json:"take_profit"`
	Style       TradeStyle          `json:"trade_style"`
	Pattern     string              `json:"pattern,omitempty"`
	TimeInForce TimeInForce         `json:"time_in_force"`
}

// Normalize fills defaults: limit entry, SWING style, gtc.
func (p TradePlan) Normalize() TradePlan {
	if p.Kind == "" {
		p.Kind = KindLimit
	}
	p.Style = ParseTradeStyle(string(p.Style))
	p.TimeInForce = ParseTimeInForce(string(p.TimeInForce))
	return p
}

// Validate checks the fields required to place the entry and its stop.
func (p TradePlan) Validate() error {
	if p.Side != SideBuy && p.Side != SideSell {
		return fmt.Errorf("invalid side %q", p.Side)
	}
	if !p.Qty.IsPositive() {
		return errors.New("qty must be positive")
	}
	if p.Kind != KindLimit {
		return fmt.Errorf("entry order type %q is not supported", p.Kind)
	}
	if !p.LimitPrice.IsPositive() {
		return errors.New("limit_price must be positive")
	}
	if !p.StopLoss.IsPositive() {
		return errors.New("stop_loss must be positive")
	}
	if p.Side == SideBuy && p.StopLoss.GreaterThanOrEqual(p.LimitPrice) {
		return fmt.Errorf("stop_loss %s must be below limit_price %s for a buy", p.StopLoss, p.LimitPrice)
	}
	if p.Side == SideSell && p.StopLoss.LessThanOrEqual(p.LimitPrice) {
		return fmt.Errorf("stop_loss %s must be above limit_price %s for a sell", p.StopLoss, p.LimitPrice)
	}
	if p.TakeProfit.Valid {
		tp := p.TakeProfit.Decimal
		if p.Side == SideBuy && tp.LessThanOrEqual(p.LimitPrice) {
			return fmt.Errorf("take_profit %s must be above limit_price %s for a buy", tp, p.LimitPrice)
		}
		if p.Side == SideSell && tp.GreaterThanOrEqual(p.LimitPrice) {
			return fmt.Errorf("take_profit %s must be below limit_price %s for a sell", tp, p.LimitPrice)
		}
	}
	return nil
}

// Decision is an approved instruction produced upstream.
type Decision struct {
	ID         string
	Symbol     string
	Timestamp  time.Time
	Action     Action
	Approved   bool
	Executed   bool
	ExecutedAt time.Time
	// TradeRef and OrderRef point at the trade/order a CANCEL, AMEND or
	// NO_ACTION refers to. OrderRef is a broker order id.
	TradeRef string
	OrderRef string
	Remarks  string
}

// EncodeAction splits a into its discriminator and JSON payload. Actions
// without a payload encode to an empty string.
func EncodeAction(a Action) (ActionKind, string, error) {
	switch v := a.(type) {
	case NewTrade:
		b, err := json.Marshal(v.Plan)
		return ActionNewTrade, string(b), err
	case Amend:
		b, err := json.Marshal(v.Plan)
		return ActionAmend, string(b), err
	case Cancel:
		return ActionCancel, "", nil
	case NoAction:
		return ActionNoAction, "", nil
	case nil:
		return "", "", errors.New("nil action")
	default:
		return "", "", fmt.Errorf("unknown action %T", a)
	}
}

// DecodeAction rebuilds an Action from its discriminator and payload.
func DecodeAction(kind ActionKind, payload string) (Action, error) {
	switch kind {
	case ActionNewTrade, ActionAmend:
		var plan TradePlan
		if payload == "" {
			return nil, fmt.Errorf("%s decision has no plan", kind)
		}
		if err := json.Unmarshal([]byte(payload), &plan); err != nil {
			return nil, fmt.Errorf("decode %s plan: %w", kind, err)
		}
		if kind == ActionAmend {
			return Amend{Plan: plan}, nil
		}
		return NewTrade{Plan: plan}, nil
	case ActionCancel:
		return Cancel{}, nil
	case ActionNoAction:
		return NoAction{}, nil
	}
	return nil, fmt.Errorf("unknown action %q", kind)
}
