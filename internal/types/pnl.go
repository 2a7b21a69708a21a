package types

import "github.com/shopspring/decimal"

// RealizedPnL is (exit - entry) * qty, negated for short trades.
func RealizedPnL(side Side, entry, exit, qty decimal.Decimal) decimal.Decimal {
	return exit.Sub(entry).Mul(qty).Mul(side.Sign())
}

// Mark revalues p at price.
func (p Position) Mark(price decimal.Decimal) Position {
	p.CurrentPrice = price
	p.MarketValue = price.Mul(p.Qty)
	p.UnrealizedPnL = RealizedPnL(p.Side, p.AvgEntry, price, p.Qty)
	return p
}

// OpenPosition builds the position created by an entry fill.
func OpenPosition(t Trade, qty, avg decimal.Decimal) Position {
	cost := qty.Mul(avg)
	return Position{
		TradeID:       t.ID,
		Symbol:        t.Symbol,
		Side:          t.Side,
		Qty:           qty,
		AvgEntry:      avg,
		CurrentPrice:  avg,
		MarketValue:   cost,
		CostBasis:     cost,
		UnrealizedPnL: decimal.Zero,
	}
}
