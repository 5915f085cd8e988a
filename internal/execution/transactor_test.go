package execution

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/execution/signer"
)

const testKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

type fakeBackend struct {
	mu           sync.Mutex
	pendingNonce uint64
	estimate     uint64
	estimateErr  error
	tip          *big.Int
	baseFee      *big.Int
	sendErr      error
	sent         []*types.Transaction
	receipts     map[common.Hash]*types.Receipt
	estimates    int
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(8453), nil }

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.pendingNonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tip, nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimates++
	return f.estimate, f.estimateErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func newTestSigner(t *testing.T) signer.Signer {
	t.Helper()
	s, err := signer.NewLocalSigner(testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return s
}

func TestSubmitAppliesFloorsAndExplicitNonce(t *testing.T) {
	backend := &fakeBackend{tip: big.NewInt(100), baseFee: big.NewInt(50)}
	tr := NewTransactor(backend, Options{PollInterval: time.Millisecond}, nil)
	nonce := uint64(9)
	tx, err := tr.Submit(context.Background(), newTestSigner(t), TxRequest{
		To:           common.HexToAddress("0x01"),
		Gas:          250_000,
		Nonce:        &nonce,
		MinGas:       400_000,
		MinGasFeeCap: big.NewInt(1_000_000_000),
		MinGasTipCap: big.NewInt(1_000_000_000),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if tx.Gas() != 400_000 {
		t.Fatalf("expected gas floor, got %d", tx.Gas())
	}
	// fee cap is 2*base+tip = 1_000_000_100, above the floor.
	if tx.GasTipCap().Int64() != 1_000_000_000 || tx.GasFeeCap().Int64() != 1_000_000_100 {
		t.Fatalf("expected fee floors, got tip=%s cap=%s", tx.GasTipCap(), tx.GasFeeCap())
	}
	if tx.Nonce() != 9 {
		t.Fatalf("expected explicit nonce, got %d", tx.Nonce())
	}
	if backend.estimates != 0 {
		t.Fatal("explicit gas must skip estimation")
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(backend.sent))
	}
}

func TestSubmitKeepsHigherProvidedValues(t *testing.T) {
	backend := &fakeBackend{pendingNonce: 4}
	tr := NewTransactor(backend, DefaultOptions(), nil)
	tx, err := tr.Submit(context.Background(), newTestSigner(t), TxRequest{
		To:           common.HexToAddress("0x01"),
		Gas:          900_000,
		GasFeeCap:    big.NewInt(5_000_000_000),
		GasTipCap:    big.NewInt(3_000_000_000),
		MinGas:       400_000,
		MinGasFeeCap: big.NewInt(1_000_000_000),
		MinGasTipCap: big.NewInt(1_000_000_000),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if tx.Gas() != 900_000 || tx.GasFeeCap().Int64() != 5_000_000_000 || tx.GasTipCap().Int64() != 3_000_000_000 {
		t.Fatalf("provided values should win over floors: gas=%d cap=%s tip=%s", tx.Gas(), tx.GasFeeCap(), tx.GasTipCap())
	}
	if tx.Nonce() != 4 {
		t.Fatalf("expected pending nonce, got %d", tx.Nonce())
	}
}

func TestSubmitEstimatesWithMultiplier(t *testing.T) {
	backend := &fakeBackend{estimate: 100_000, tip: big.NewInt(1), baseFee: big.NewInt(1)}
	tr := NewTransactor(backend, Options{GasMultiplier: 1.5}, nil)
	tx, err := tr.Submit(context.Background(), newTestSigner(t), TxRequest{To: common.HexToAddress("0x01")})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if tx.Gas() != 150_000 {
		t.Fatalf("expected multiplied estimate, got %d", tx.Gas())
	}
	if tx.GasFeeCap().Int64() != 3 {
		t.Fatalf("expected 2*base+tip fee cap, got %s", tx.GasFeeCap())
	}
}

func TestSubmitBroadcastErrorKeepsNodeMessage(t *testing.T) {
	backend := &fakeBackend{tip: big.NewInt(1), baseFee: big.NewInt(1), sendErr: errors.New("insufficient funds for gas * price + value")}
	tr := NewTransactor(backend, DefaultOptions(), nil)
	_, err := tr.Submit(context.Background(), newTestSigner(t), TxRequest{To: common.HexToAddress("0x01"), Gas: 21_000})
	if err == nil {
		t.Fatal("expected broadcast error")
	}
	if !IsInsufficientFunds(err) {
		t.Fatalf("expected insufficient funds classification, got %v", err)
	}
}

func TestSubmitRequiresSigner(t *testing.T) {
	tr := NewTransactor(&fakeBackend{}, DefaultOptions(), nil)
	_, err := tr.Submit(context.Background(), nil, TxRequest{})
	if !clierr.Is(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestWaitMinedReturnsReceipt(t *testing.T) {
	hash := common.HexToHash("0xaa")
	backend := &fakeBackend{receipts: map[common.Hash]*types.Receipt{hash: {Status: types.ReceiptStatusFailed}}}
	tr := NewTransactor(backend, Options{PollInterval: time.Millisecond}, nil)
	r, err := tr.WaitMined(context.Background(), hash, time.Second)
	if err != nil {
		t.Fatalf("WaitMined failed: %v", err)
	}
	if r.Status != types.ReceiptStatusFailed {
		t.Fatal("reverted receipts are returned to the caller")
	}
}

func TestWaitMinedTimesOut(t *testing.T) {
	tr := NewTransactor(&fakeBackend{}, Options{PollInterval: 5 * time.Millisecond}, nil)
	_, err := tr.WaitMined(context.Background(), common.HexToHash("0xbb"), 30*time.Millisecond)
	if !clierr.Is(err, clierr.CodeActionTimeout) {
		t.Fatalf("expected timeout code, got %v", err)
	}
}

func TestWaitMinedCallerCancellationIsNotTimeout(t *testing.T) {
	tr := NewTransactor(&fakeBackend{}, Options{PollInterval: 5 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.WaitMined(ctx, common.HexToHash("0xbb"), time.Second)
	if clierr.Is(err, clierr.CodeActionTimeout) || err == nil {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}
