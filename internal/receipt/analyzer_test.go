package receipt

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/MoseikiApp/peasy-ai/internal/chain"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/registry"
)

var (
	usdc   = id.Token{Chain: "eip155:8453", Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6}
	brett  = id.Token{Chain: "eip155:8453", Symbol: "BRETT", Address: "0x532f27101965dd16442E59d40670FaF5eBB142E4", Decimals: 18}
	eth    = id.Token{Chain: "eip155:8453", Symbol: "ETH", Address: id.NativeSentinel, Decimals: 18}
	router = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type fakeChain struct {
	tx       *types.Transaction
	receipt  *types.Receipt
	trace    *chain.CallFrame
	traceErr error
	balances map[int64]*big.Int
	traces   atomic.Int32
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(8453), nil }

func (f *fakeChain) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	if f.tx == nil {
		return nil, false, errors.New("not found")
	}
	return f.tx, false, nil
}

func (f *fakeChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, nil
}

func (f *fakeChain) BalanceAt(_ context.Context, _ common.Address, block *big.Int) (*big.Int, error) {
	if v, ok := f.balances[block.Int64()]; ok {
		return v, nil
	}
	return nil, errors.New("no balance")
}

func (f *fakeChain) TraceCalls(context.Context, common.Hash) (*chain.CallFrame, error) {
	f.traces.Add(1)
	if f.traceErr != nil {
		return nil, f.traceErr
	}
	return f.trace, nil
}

func signedTx(t *testing.T, value *big.Int) (*types.Transaction, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(8453),
		Nonce:     1,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       400000,
		To:        &router,
		Value:     value,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(8453)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed, crypto.PubkeyToAddress(key.PublicKey)
}

func transferLog(t *testing.T, token string, from, to common.Address, value *big.Int) *types.Log {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20ABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return &types.Log{
		Address: common.HexToAddress(token),
		Topics:  []common.Hash{parsed.Events["Transfer"].ID, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:    common.LeftPadBytes(value.Bytes(), 32),
	}
}

func baseReceipt(logs ...*types.Log) *types.Receipt {
	return &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		GasUsed:           100000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
		BlockNumber:       big.NewInt(100),
		Logs:              logs,
	}
}

func TestExtractERC20Legs(t *testing.T) {
	tx, wallet := signedTx(t, big.NewInt(0))
	rcpt := baseReceipt(
		transferLog(t, usdc.Address, wallet, router, big.NewInt(1_000_000)),
		transferLog(t, brett.Address, router, wallet, new(big.Int).Mul(big.NewInt(25), big.NewInt(1e17))),
		transferLog(t, brett.Address, router, common.HexToAddress("0x1"), big.NewInt(7)),
	)
	a, err := New(&fakeChain{tx: tx, receipt: rcpt}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got, err := a.Extract(context.Background(), tx, rcpt, wallet, usdc, brett)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.Sent.String() != "1" || got.Received.String() != "2.5" {
		t.Fatalf("unexpected amounts sent=%s received=%s", got.Sent, got.Received)
	}
	if got.Rate == nil || got.Rate.String() != "2.5" {
		t.Fatalf("unexpected rate %v", got.Rate)
	}
	if got.GasFee.String() != "0.0001" {
		t.Fatalf("unexpected gas fee %s", got.GasFee)
	}

	again, err := a.ExtractByHash(context.Background(), tx.Hash(), usdc, brett)
	if err != nil {
		t.Fatalf("ExtractByHash failed: %v", err)
	}
	if !again.Sent.Equal(got.Sent) || !again.Received.Equal(got.Received) || !again.GasFee.Equal(got.GasFee) || again.Rate.String() != got.Rate.String() {
		t.Fatalf("repeat extraction differs: %+v vs %+v", again, got)
	}
}

func TestExtractNativeSentUsesTxValue(t *testing.T) {
	value := big.NewInt(5e15)
	tx, wallet := signedTx(t, value)
	rcpt := baseReceipt(transferLog(t, usdc.Address, router, wallet, big.NewInt(12_500_000)))
	a, _ := New(&fakeChain{tx: tx, receipt: rcpt}, nil)

	got, err := a.Extract(context.Background(), tx, rcpt, wallet, eth, usdc)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.Sent.String() != "0.005" || got.Received.String() != "12.5" {
		t.Fatalf("unexpected amounts sent=%s received=%s", got.Sent, got.Received)
	}
}

func TestNativeReceivedStrategyOrder(t *testing.T) {
	tx, wallet := signedTx(t, big.NewInt(0))
	oneEth := big.NewInt(1e18)
	gas := new(big.Int).Mul(big.NewInt(100000), big.NewInt(1_000_000_000))

	events, err := NewEventStrategy()
	if err != nil {
		t.Fatalf("NewEventStrategy failed: %v", err)
	}
	withdrawal := events.abi.Events["EthWithdrawn"]
	payout := &types.Log{
		Address: router,
		Topics:  []common.Hash{withdrawal.ID, common.BytesToHash(wallet.Bytes())},
		Data:    common.LeftPadBytes(big.NewInt(3e17).Bytes(), 32),
	}

	tests := []struct {
		name     string
		fc       *fakeChain
		logs     []*types.Log
		want     string
		strategy string
	}{
		{
			name: "trace",
			fc: &fakeChain{trace: &chain.CallFrame{Type: "CALL", Calls: []chain.CallFrame{
				{Type: "CALL", To: &router, Value: (*hexutil.Big)(big.NewInt(0)), Calls: []chain.CallFrame{
					{Type: "CALL", To: &wallet, Value: (*hexutil.Big)(oneEth)},
				}},
			}}},
			logs:     []*types.Log{payout},
			want:     "1",
			strategy: "trace",
		},
		{
			name:     "events when trace unsupported",
			fc:       &fakeChain{traceErr: errors.New("method not found")},
			logs:     []*types.Log{payout},
			want:     "0.3",
			strategy: "events",
		},
		{
			name: "balance diff adds gas back",
			fc: &fakeChain{traceErr: errors.New("method not found"), balances: map[int64]*big.Int{
				99:  big.NewInt(1e18),
				100: new(big.Int).Sub(big.NewInt(2e18), gas),
			}},
			want:     "1",
			strategy: "balance_diff",
		},
		{
			name: "negative diff is ignored",
			fc: &fakeChain{traceErr: errors.New("method not found"), balances: map[int64]*big.Int{
				99:  big.NewInt(2e18),
				100: big.NewInt(1e18),
			}},
			want: "0",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rcpt := baseReceipt(append([]*types.Log{transferLog(t, usdc.Address, wallet, router, big.NewInt(2_000_000))}, tc.logs...)...)
			a, err := New(tc.fc, nil)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			got, err := a.Extract(context.Background(), tx, rcpt, wallet, usdc, eth)
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if got.Received.String() != tc.want || got.NativeStrategy != tc.strategy {
				t.Fatalf("got received=%s strategy=%q, want %s %q", got.Received, got.NativeStrategy, tc.want, tc.strategy)
			}
		})
	}
}

func TestRateUnknownWhenNothingSent(t *testing.T) {
	tx, wallet := signedTx(t, big.NewInt(0))
	rcpt := baseReceipt()
	a, _ := New(&fakeChain{}, nil)
	got, err := a.Extract(context.Background(), tx, rcpt, wallet, usdc, brett)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.Rate != nil {
		t.Fatalf("expected unknown rate, got %s", got.Rate)
	}
}

func TestExtractByHashUnknownTx(t *testing.T) {
	a, _ := New(&fakeChain{}, nil)
	if _, err := a.ExtractByHash(context.Background(), common.HexToHash("0x1"), usdc, brett); err == nil {
		t.Fatal("expected error for unknown transaction")
	}
}
