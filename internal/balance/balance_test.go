package balance

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/MoseikiApp/peasy-ai/internal/chain"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/providers/coinbase"
)

type fakeReader struct {
	mu     sync.Mutex
	native *big.Int
	tokens map[common.Address]*big.Int
	meta   map[common.Address]chain.TokenMeta
	err    error
	calls  int
}

func (f *fakeReader) NativeBalance(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.native == nil {
		return big.NewInt(0), nil
	}
	return f.native, nil
}

func (f *fakeReader) TokenBalance(_ context.Context, token, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.tokens[token]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeReader) TokenMetadata(_ context.Context, token common.Address) (chain.TokenMeta, error) {
	m, ok := f.meta[token]
	if !ok {
		return chain.TokenMeta{}, errors.New("not an erc20")
	}
	return m, nil
}

type fakePrices map[string]string

func (f fakePrices) Spot(_ context.Context, base, quote string) (coinbase.Rate, error) {
	v, ok := f[base]
	if !ok {
		return coinbase.Rate{}, errors.New("unknown pair")
	}
	return coinbase.Rate{Base: base, Quote: quote, Rate: decimal.RequireFromString(v), FetchedAt: time.Now()}, nil
}

func base(t *testing.T) id.Chain {
	t.Helper()
	c, err := id.ParseChain("base")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func addr(t *testing.T, net id.Chain, symbol string) common.Address {
	t.Helper()
	tok, ok := id.KnownToken(net.CAIP2, symbol)
	if !ok {
		t.Fatalf("no %s on %s", symbol, net.Slug)
	}
	return common.HexToAddress(tok.Address)
}

var wallet = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func TestBalanceResolvesSymbol(t *testing.T) {
	net := base(t)
	r := &fakeReader{tokens: map[common.Address]*big.Int{addr(t, net, "USDC"): big.NewInt(12_500_000)}}
	svc := New(r, nil, net, nil)

	b, err := svc.Balance(context.Background(), wallet, "usdc")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if b.Token.Symbol != "USDC" || b.Amount.String() != "12.5" || b.Raw != "12500000" {
		t.Fatalf("unexpected balance %+v", b)
	}
}

func TestBalanceUnknownAddressUsesMetadata(t *testing.T) {
	net := base(t)
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	r := &fakeReader{
		tokens: map[common.Address]*big.Int{token: big.NewInt(3000)},
		meta:   map[common.Address]chain.TokenMeta{token: {Symbol: "FOO", Decimals: 3}},
	}
	svc := New(r, nil, net, nil)

	b, err := svc.Balance(context.Background(), wallet, token.Hex())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if b.Token.Symbol != "FOO" || b.Token.Decimals != 3 || b.Amount.String() != "3" {
		t.Fatalf("unexpected balance %+v", b)
	}
}

func TestAllSkipsZeroBalances(t *testing.T) {
	net := base(t)
	r := &fakeReader{
		native: new(big.Int).Mul(big.NewInt(2), big.NewInt(1e17)),
		tokens: map[common.Address]*big.Int{addr(t, net, "BRETT"): new(big.Int).Mul(big.NewInt(40), big.NewInt(1e18))},
	}
	svc := New(r, nil, net, nil)

	got, err := svc.All(context.Background(), wallet)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 balances, got %+v", got)
	}
	if got[0].Token.Symbol != "ETH" || got[0].Amount.String() != "0.2" {
		t.Fatalf("native should come first, got %+v", got[0])
	}
	if got[1].Token.Symbol != "BRETT" || got[1].Amount.String() != "40" {
		t.Fatalf("unexpected token balance %+v", got[1])
	}
	if r.calls != len(id.Tokens(net.CAIP2)) {
		t.Fatalf("expected one read per registry token, got %d", r.calls)
	}
}

func TestAllPropagatesReadError(t *testing.T) {
	net := base(t)
	svc := New(&fakeReader{err: errors.New("rpc down")}, nil, net, nil)
	if _, err := svc.All(context.Background(), wallet); err == nil || !strings.Contains(err.Error(), "rpc down") {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

func TestAllWithUSDPricesAndTotals(t *testing.T) {
	net := base(t)
	r := &fakeReader{
		native: big.NewInt(1e18),
		tokens: map[common.Address]*big.Int{
			addr(t, net, "USDC"):  big.NewInt(10_000_000),
			addr(t, net, "BRETT"): big.NewInt(1e18),
			addr(t, net, "DEGEN"): big.NewInt(1e18),
		},
	}
	prices := fakePrices{"ETH": "2500", "BRETT": "0.123"}
	svc := New(r, prices, net, nil)

	p, err := svc.AllWithUSD(context.Background(), wallet)
	if err != nil {
		t.Fatalf("AllWithUSD: %v", err)
	}
	if len(p.Balances) != 4 {
		t.Fatalf("expected 4 balances, got %d", len(p.Balances))
	}
	if p.TotalUSD.String() != "2510.12" {
		t.Fatalf("unexpected total %s", p.TotalUSD)
	}
	for _, b := range p.Balances {
		if b.Token.Symbol == "DEGEN" && b.USD != nil {
			t.Fatalf("unpriced token should have no usd value")
		}
		if b.Token.Symbol == "USDC" && (b.USD == nil || b.USD.String() != "10") {
			t.Fatalf("stable should be priced at 1, got %+v", b.USD)
		}
	}
	text := Lines(p.Balances)
	if !strings.Contains(text, "ETH: 1 (2500.00 USD)") || !strings.Contains(text, "DEGEN: 1\r\n") && !strings.HasSuffix(text, "DEGEN: 1") {
		t.Fatalf("unexpected lines %q", text)
	}
}
