// Package yahoo prices symbols from Yahoo Finance. It backs the paper
// venue when no broker credentials are configured.
package yahoo

import (
	"context"
	"fmt"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"tradeflow/internal/interfaces"
	"tradeflow/internal/types"
)

// Source is a QuoteSource over the Yahoo quote endpoint.
type Source struct {
	fetch  func(symbol string) (*finance.Quote, error)
	suffix string
	now    func() time.Time
}

var _ interfaces.QuoteSource = (*Source)(nil)

type Option func(*Source)

// WithSuffix appends a Yahoo exchange suffix, e.g. ".NS" for NSE symbols.
func WithSuffix(suffix string) Option {
	return func(s *Source) { s.suffix = suffix }
}

func withFetcher(fetch func(string) (*finance.Quote, error)) Option {
	return func(s *Source) { s.fetch = fetch }
}

func New(opts ...Option) *Source {
	s := &Source{fetch: quote.Get, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetLatestQuote returns the current bid/ask. Outside market hours Yahoo
// reports zero bid and ask; the last trade price is used for both then.
func (s *Source) GetLatestQuote(ctx context.Context, symbol string) (types.Quote, error) {
	if err := ctx.Err(); err != nil {
		return types.Quote{}, err
	}
	q, err := s.fetch(symbol + s.suffix)
	if err != nil {
		return types.Quote{}, fmt.Errorf("yahoo quote %s: %w", symbol, err)
	}
	if q == nil {
		return types.Quote{}, fmt.Errorf("%s: %w", symbol, types.ErrNoQuote)
	}

	out := types.Quote{
		Symbol: symbol,
		Bid:    decimal.NewFromFloat(q.Bid),
		Ask:    decimal.NewFromFloat(q.Ask),
		At:     s.now().UTC(),
	}
	if q.RegularMarketTime > 0 {
		out.At = time.Unix(int64(q.RegularMarketTime), 0).UTC()
	}
	if !out.Bid.IsPositive() && !out.Ask.IsPositive() {
		if q.RegularMarketPrice <= 0 {
			return types.Quote{}, fmt.Errorf("%s: %w", symbol, types.ErrNoQuote)
		}
		last := decimal.NewFromFloat(q.RegularMarketPrice)
		out.Bid, out.Ask = last, last
	}
	return out, nil
}
