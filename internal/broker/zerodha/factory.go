package zerodha

import (
	"errors"
	"net/http"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

type Params struct {
	APIKey      string
	AccessToken string
	Exchange    string
	Product     string
	BaseURL     string
	Timeout     time.Duration
}

// New builds a gateway backed by the Kite Connect REST client.
func New(p Params) (*Zerodha, error) {
	if p.APIKey == "" || p.AccessToken == "" {
		return nil, errors.New("zerodha: missing API key/access token")
	}

	kc := kiteconnect.New(p.APIKey)
	kc.SetAccessToken(p.AccessToken)
	if p.BaseURL != "" {
		kc.SetBaseURI(p.BaseURL)
	}
	if p.Timeout > 0 {
		kc.SetHTTPClient(&http.Client{Timeout: p.Timeout})
	}

	return newWithClient(kc, p), nil
}

func newWithClient(kc kiteAPI, p Params) *Zerodha {
	if p.Exchange == "" {
		p.Exchange = "NSE"
	}
	if p.Product == "" {
		p.Product = kiteconnect.ProductCNC
	}
	return &Zerodha{kc: kc, p: p}
}
