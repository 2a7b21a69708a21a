package broker

import (
	"fmt"
	"time"

	"tradeflow/internal/broker/alpaca"
	"tradeflow/internal/broker/paper"
	"tradeflow/internal/broker/yahoo"
	"tradeflow/internal/broker/zerodha"
	"tradeflow/internal/interfaces"
	"tradeflow/internal/store"
)

type Params struct {
	Mode        string
	Provider    string
	Paper       bool
	BaseURL     string
	DataURL     string
	Exchange    string
	Product     string
	QuoteSource string
	QuoteSuffix string
	Timeout     time.Duration
	Secrets     store.Secrets
}

// ParamsFromConfig maps the broker section of cfg onto factory params.
func ParamsFromConfig(cfg *store.Config, secrets store.Secrets) Params {
	return Params{
		Mode:        cfg.Mode,
		Provider:    cfg.Broker.Provider,
		Paper:       cfg.Broker.Paper,
		BaseURL:     cfg.Broker.BaseURL,
		DataURL:     cfg.Broker.DataURL,
		Exchange:    cfg.Broker.Exchange,
		Product:     cfg.Broker.Product,
		QuoteSource: cfg.Broker.QuoteSource,
		QuoteSuffix: cfg.Broker.QuoteSuffix,
		Timeout:     cfg.BrokerTimeout(),
		Secrets:     secrets,
	}
}

// New selects the venue gateway. DRY_RUN always routes orders to the
// in-memory venue, priced from the configured provider when credentials
// are present and from quote_source otherwise.
func New(p Params) (interfaces.Broker, error) {
	if p.Mode == "DRY_RUN" || p.Provider == "PAPER" {
		var opts []paper.Option
		if src := quoteSource(p); src != nil {
			opts = append(opts, paper.WithQuoteSource(src))
		}
		return paper.New(opts...), nil
	}
	return live(p)
}

func quoteSource(p Params) interfaces.QuoteSource {
	if p.Provider != "PAPER" {
		if src, err := live(p); err == nil {
			return src
		}
	}
	if p.QuoteSource == "YAHOO" {
		return yahoo.New(yahoo.WithSuffix(p.QuoteSuffix))
	}
	return nil
}

func live(p Params) (interfaces.Broker, error) {
	switch p.Provider {
	case "ALPACA":
		base := p.BaseURL
		if base == "" {
			base = alpaca.LiveBaseURL
			if p.Paper {
				base = alpaca.PaperBaseURL
			}
		}
		c, err := alpaca.New(alpaca.Params{
			APIKey:    p.Secrets.AlpacaKey,
			APISecret: p.Secrets.AlpacaSecret,
			BaseURL:   base,
			DataURL:   p.DataURL,
			Timeout:   p.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "ZERODHA":
		z, err := zerodha.New(zerodha.Params{
			APIKey:      p.Secrets.KiteAPIKey,
			AccessToken: p.Secrets.KiteToken,
			Exchange:    p.Exchange,
			Product:     p.Product,
			BaseURL:     p.BaseURL,
			Timeout:     p.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return z, nil
	}
	return nil, fmt.Errorf("unknown broker provider %q", p.Provider)
}
