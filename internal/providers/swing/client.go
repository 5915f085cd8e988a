// Package swing talks to the Swing cross-chain aggregator: project chain and
// token lists, quotes, allowance checks and prepared approve/send calls.
package swing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MoseikiApp/peasy-ai/internal/cache"
	"github.com/MoseikiApp/peasy-ai/internal/config"
	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/httpx"
	"github.com/MoseikiApp/peasy-ai/internal/registry"
)

type Client struct {
	http        *httpx.Client
	cache       cache.Backend
	apiKey      string
	projectID   string
	baseURL     string
	platformURL string
	listTTL     time.Duration
	maxSlippage string
	logger      *zap.Logger
}

func New(httpClient *httpx.Client, settings config.SwingSettings, backend cache.Backend, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		http:        httpClient.WithLogger(logger.Named("swing")),
		cache:       backend,
		apiKey:      settings.APIKey,
		projectID:   settings.ProjectID,
		baseURL:     strings.TrimRight(settings.BaseURL, "/"),
		platformURL: strings.TrimRight(settings.PlatformURL, "/"),
		listTTL:     settings.ListTTL,
		maxSlippage: "0.10",
		logger:      logger.Named("swing"),
	}
	if c.projectID == "" {
		c.projectID = "peasy"
	}
	if c.baseURL == "" {
		c.baseURL = registry.SwingTransferURL
	}
	if c.platformURL == "" {
		c.platformURL = registry.SwingPlatformURL
	}
	if c.listTTL <= 0 {
		c.listTTL = 10 * time.Minute
	}
	return c
}

// WithMaxSlippage overrides the maxSlippage fraction sent with quotes.
func (c *Client) WithMaxSlippage(v string) *Client {
	if strings.TrimSpace(v) == "" {
		return c
	}
	cp := *c
	cp.maxSlippage = strings.TrimSpace(v)
	return &cp
}

func (c *Client) ProjectID() string { return c.projectID }

func (c *Client) headers() map[string]string {
	h := map[string]string{}
	if c.apiKey != "" {
		h["Authorization"] = "Bearer " + c.apiKey
	}
	return h
}

func (c *Client) Chains(ctx context.Context) ([]Chain, error) {
	key := "swing:chains:" + c.projectID
	return cache.Remember(ctx, c.cache, key, c.listTTL, func(ctx context.Context) ([]Chain, error) {
		var out []Chain
		endpoint := c.platformURL + "/projects/" + url.PathEscape(c.projectID) + "/chains"
		if _, err := httpx.GetJSON(ctx, c.http, endpoint, nil, nil, &out); err != nil {
			return nil, wrap("fetch swing chains", err)
		}
		return out, nil
	})
}

// Chain resolves a chain by slug, case-insensitively.
func (c *Client) Chain(ctx context.Context, slug string) (Chain, error) {
	chains, err := c.Chains(ctx)
	if err != nil {
		return Chain{}, err
	}
	want := strings.ToLower(strings.TrimSpace(slug))
	for _, ch := range chains {
		if strings.ToLower(ch.Slug) == want {
			return ch, nil
		}
	}
	return Chain{}, clierr.New(clierr.CodeUnsupported, "swing does not support chain "+slug)
}

// Tokens lists the project tokens on chainSlug.
func (c *Client) Tokens(ctx context.Context, chainSlug string) ([]Token, error) {
	key := "swing:tokens:" + c.projectID
	all, err := cache.Remember(ctx, c.cache, key, c.listTTL, func(ctx context.Context) ([]Token, error) {
		var out []Token
		endpoint := c.platformURL + "/projects/" + url.PathEscape(c.projectID) + "/tokens"
		if _, err := httpx.GetJSON(ctx, c.http, endpoint, nil, nil, &out); err != nil {
			return nil, wrap("fetch swing tokens", err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimSpace(chainSlug))
	out := make([]Token, 0, len(all))
	for _, t := range all {
		if strings.ToLower(t.Chain) == want {
			out = append(out, t)
		}
	}
	return out, nil
}

// Token finds symbol on chainSlug. The second result is false when Swing does
// not list it.
func (c *Client) Token(ctx context.Context, chainSlug, symbol string) (Token, bool, error) {
	tokens, err := c.Tokens(ctx, chainSlug)
	if err != nil {
		return Token{}, false, err
	}
	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, strings.TrimSpace(symbol)) {
			return t, true, nil
		}
	}
	return Token{}, false, nil
}

type QuoteRequest struct {
	Chain      string
	From       Token
	To         Token
	Wallet     string
	AmountBase string
}

func (c *Client) Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error) {
	q := url.Values{}
	q.Set("fromChain", req.Chain)
	q.Set("fromTokenAddress", req.From.Address)
	q.Set("fromUserAddress", req.Wallet)
	q.Set("tokenSymbol", req.From.Symbol)
	q.Set("toTokenAddress", req.To.Address)
	q.Set("toChain", req.Chain)
	q.Set("tokenAmount", req.AmountBase)
	q.Set("toTokenSymbol", req.To.Symbol)
	q.Set("toUserAddress", req.Wallet)
	q.Set("projectId", c.projectID)
	q.Set("gasless", "true")
	q.Set("maxSlippage", c.maxSlippage)

	var out QuoteResponse
	if _, err := httpx.GetJSON(ctx, c.http, c.baseURL+"/quote", q, c.headers(), &out); err != nil {
		return QuoteResponse{}, wrap("swing quote", err)
	}
	c.logger.Debug("quote received", zap.String("from", req.From.Symbol), zap.String("to", req.To.Symbol), zap.Int("routes", len(out.Routes)))
	return out, nil
}

type AllowanceRequest struct {
	Chain  string
	From   Token
	To     Token
	Bridge string
	Wallet string
}

// Allowance returns the raw allowance as a decimal string.
func (c *Client) Allowance(ctx context.Context, req AllowanceRequest) (string, error) {
	q := c.allowanceQuery(req)
	var out struct {
		Allowance Quantity `json:"allowance"`
	}
	if _, err := httpx.GetJSON(ctx, c.http, c.baseURL+"/allowance", q, c.headers(), &out); err != nil {
		return "", wrap("swing allowance", err)
	}
	if out.Allowance.Int == nil {
		return "0", nil
	}
	return out.Allowance.String(), nil
}

type ApproveRequest struct {
	AllowanceRequest
	AmountBase string
}

func (c *Client) Approve(ctx context.Context, req ApproveRequest) (ApproveResponse, error) {
	q := c.allowanceQuery(req.AllowanceRequest)
	q.Set("tokenAmount", req.AmountBase)
	var out ApproveResponse
	if _, err := httpx.GetJSON(ctx, c.http, c.baseURL+"/approve", q, c.headers(), &out); err != nil {
		return ApproveResponse{}, wrap("swing approve", err)
	}
	if len(out.Tx) == 0 {
		return ApproveResponse{}, clierr.New(clierr.CodeUnavailable, "swing approve returned no transaction")
	}
	return out, nil
}

func (c *Client) allowanceQuery(req AllowanceRequest) url.Values {
	q := url.Values{}
	q.Set("fromChain", req.Chain)
	q.Set("tokenSymbol", req.From.Symbol)
	q.Set("tokenAddress", req.From.Address)
	q.Set("bridge", req.Bridge)
	q.Set("fromAddress", req.Wallet)
	q.Set("toChain", req.Chain)
	q.Set("toTokenSymbol", req.To.Symbol)
	q.Set("toTokenAddress", req.To.Address)
	q.Set("projectId", c.projectID)
	return q
}

type SendRequest struct {
	Chain      string
	From       Token
	To         Token
	Wallet     string
	AmountBase string
	Route      Route
}

func (c *Client) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	payload := map[string]any{
		"fromChain":        req.Chain,
		"tokenSymbol":      req.From.Symbol,
		"fromTokenAddress": req.From.Address,
		"fromUserAddress":  req.Wallet,
		"toChain":          req.Chain,
		"toTokenSymbol":    req.To.Symbol,
		"toTokenAddress":   req.To.Address,
		"toUserAddress":    req.Wallet,
		"tokenAmount":      req.AmountBase,
		"projectId":        c.projectID,
		"route":            req.Route.Steps,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResponse{}, clierr.Wrap(clierr.CodeInternal, "encode swing send payload", err)
	}
	var raw struct {
		Tx json.RawMessage `json:"tx"`
	}
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/send", body, c.headers(), &raw); err != nil {
		return SendResponse{}, wrap("swing send", err)
	}
	if len(raw.Tx) == 0 || string(raw.Tx) == "null" {
		return SendResponse{}, clierr.New(clierr.CodeUnavailable, "swing send returned no transaction")
	}
	out := SendResponse{RawTx: raw.Tx}
	if err := json.Unmarshal(raw.Tx, &out.Tx); err != nil {
		return SendResponse{}, clierr.Wrap(clierr.CodeUnavailable, "decode swing send transaction", err)
	}
	return out, nil
}

// wrap keeps the transport error code and exposes Swing's error payload in
// the chain.
func wrap(op string, err error) error {
	code := clierr.CodeUnavailable
	if ce, ok := clierr.As(err); ok {
		code = ce.Code
	}
	apiErr := decodeAPIError(err)
	if ae, ok := apiErr.(*APIError); ok {
		msg := op + " failed"
		if ae.Message != "" {
			msg += ": " + ae.Message
		}
		return clierr.Wrap(code, msg, ae)
	}
	return clierr.Wrap(code, op+" failed", err)
}
