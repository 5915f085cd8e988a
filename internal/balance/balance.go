// Package balance reads wallet holdings for the configured chain and prices
// them in USD.
package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MoseikiApp/peasy-ai/internal/chain"
	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/providers/coinbase"
)

// Reader is satisfied by *chain.Client.
type Reader interface {
	NativeBalance(ctx context.Context, owner common.Address, block *big.Int) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenMetadata(ctx context.Context, token common.Address) (chain.TokenMeta, error)
}

type Prices interface {
	Spot(ctx context.Context, base, quote string) (coinbase.Rate, error)
}

type Balance struct {
	Token  id.Token         `json:"token"`
	Raw    string           `json:"raw"`
	Amount decimal.Decimal  `json:"amount"`
	USD    *decimal.Decimal `json:"usd,omitempty"`
}

type Portfolio struct {
	Wallet   string          `json:"wallet"`
	Balances []Balance       `json:"balances"`
	TotalUSD decimal.Decimal `json:"total_usd"`
}

type Service struct {
	chain  Reader
	prices Prices
	net    id.Chain
	logger *zap.Logger
}

func New(r Reader, prices Prices, net id.Chain, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{chain: r, prices: prices, net: net, logger: logger.Named("balance")}
}

// Resolve turns a symbol, address or CAIP-19 id into a token with decimals.
func (s *Service) Resolve(ctx context.Context, currency string) (id.Token, error) {
	tok, err := id.ParseToken(currency, s.net)
	if err != nil {
		return id.Token{}, err
	}
	if tok.IsNative() || tok.Decimals > 0 {
		return tok, nil
	}
	meta, err := s.chain.TokenMetadata(ctx, common.HexToAddress(tok.Address))
	if err != nil {
		return id.Token{}, err
	}
	tok.Decimals = meta.Decimals
	if tok.Symbol == "" {
		tok.Symbol = meta.Symbol
	}
	return tok, nil
}

func (s *Service) Balance(ctx context.Context, wallet common.Address, currency string) (Balance, error) {
	tok, err := s.Resolve(ctx, currency)
	if err != nil {
		return Balance{}, err
	}
	return s.read(ctx, wallet, tok)
}

func (s *Service) read(ctx context.Context, wallet common.Address, tok id.Token) (Balance, error) {
	var (
		raw *big.Int
		err error
	)
	if tok.IsNative() {
		raw, err = s.chain.NativeBalance(ctx, wallet, nil)
	} else {
		raw, err = s.chain.TokenBalance(ctx, common.HexToAddress(tok.Address), wallet)
	}
	if err != nil {
		return Balance{}, err
	}
	return Balance{Token: tok, Raw: raw.String(), Amount: id.FromBaseUnits(raw, tok.Decimals)}, nil
}

// All returns the non-zero balances of every registry token on the chain,
// native asset first.
func (s *Service) All(ctx context.Context, wallet common.Address) ([]Balance, error) {
	tokens := id.Tokens(s.net.CAIP2)
	if len(tokens) == 0 {
		return nil, clierr.New(clierr.CodeUnsupported, "no known tokens for chain "+s.net.Slug)
	}
	found := make([]Balance, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, tok := range tokens {
		g.Go(func() error {
			b, err := s.read(gctx, wallet, tok)
			if err != nil {
				return fmt.Errorf("%s balance: %w", tok.Symbol, err)
			}
			found[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(found))
	for _, b := range found {
		if b.Amount.Sign() > 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

// AllWithUSD prices every non-zero balance. Stablecoins count as 1 USD; a
// token without a spot price is listed but left out of the total.
func (s *Service) AllWithUSD(ctx context.Context, wallet common.Address) (Portfolio, error) {
	balances, err := s.All(ctx, wallet)
	if err != nil {
		return Portfolio{}, err
	}
	p := Portfolio{Wallet: wallet.Hex(), Balances: balances, TotalUSD: decimal.Zero}
	for i := range p.Balances {
		b := &p.Balances[i]
		price := decimal.NewFromInt(1)
		if !id.IsStable(b.Token.Symbol) {
			if s.prices == nil {
				continue
			}
			rate, err := s.prices.Spot(ctx, b.Token.Symbol, "USD")
			if err != nil {
				s.logger.Warn("no usd price", zap.String("symbol", b.Token.Symbol), zap.Error(err))
				continue
			}
			price = rate.Rate
		}
		usd := b.Amount.Mul(price).Round(2)
		b.USD = &usd
		p.TotalUSD = p.TotalUSD.Add(usd)
	}
	return p, nil
}

// Lines renders balances one per line, with USD values when known.
func Lines(balances []Balance) string {
	if len(balances) == 0 {
		return "No balances found."
	}
	lines := make([]string, 0, len(balances))
	for _, b := range balances {
		line := fmt.Sprintf("%s: %s", b.Token.Symbol, b.Amount)
		if b.USD != nil {
			line += fmt.Sprintf(" (%s USD)", b.USD.StringFixed(2))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\r\n")
}
