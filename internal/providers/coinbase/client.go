// Package coinbase reads public spot prices.
package coinbase

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MoseikiApp/peasy-ai/internal/cache"
	"github.com/MoseikiApp/peasy-ai/internal/config"
	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/httpx"
	"github.com/MoseikiApp/peasy-ai/internal/registry"
)

type Client struct {
	http    *httpx.Client
	cache   cache.Backend
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

type Rate struct {
	Base      string          `json:"base"`
	Quote     string          `json:"quote"`
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
}

func New(httpClient *httpx.Client, settings config.RateSettings, backend cache.Backend, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		http:    httpClient.WithLogger(logger.Named("coinbase")),
		cache:   backend,
		baseURL: strings.TrimRight(settings.BaseURL, "/"),
		ttl:     settings.TTL,
		now:     time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = registry.CoinbaseURL
	}
	if c.ttl <= 0 {
		c.ttl = time.Minute
	}
	return c
}

type spotResponse struct {
	Data struct {
		Base     string `json:"base"`
		Currency string `json:"currency"`
		Amount   string `json:"amount"`
	} `json:"data"`
}

// Spot returns how many units of quote one unit of base buys.
func (c *Client) Spot(ctx context.Context, base, quote string) (Rate, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == "" || quote == "" {
		return Rate{}, clierr.New(clierr.CodeUsage, "both currencies are required")
	}
	pair := base + "-" + quote
	return cache.Remember(ctx, c.cache, "coinbase:spot:"+pair, c.ttl, func(ctx context.Context) (Rate, error) {
		var resp spotResponse
		endpoint := c.baseURL + "/prices/" + url.PathEscape(pair) + "/spot"
		if _, err := httpx.GetJSON(ctx, c.http, endpoint, nil, nil, &resp); err != nil {
			return Rate{}, clierr.Wrap(codeOf(err), "fetch coinbase spot "+pair, err)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(resp.Data.Amount))
		if err != nil {
			return Rate{}, clierr.Wrap(clierr.CodeUnavailable, "parse coinbase spot "+pair, err)
		}
		return Rate{Base: base, Quote: quote, Rate: amount, FetchedAt: c.now().UTC()}, nil
	})
}

func codeOf(err error) clierr.Code {
	if ce, ok := clierr.As(err); ok {
		return ce.Code
	}
	return clierr.CodeUnavailable
}
