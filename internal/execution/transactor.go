package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/execution/signer"
)

// Backend is the slice of an EVM client the transactor needs. *chain.Client
// satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// TxRequest describes one dynamic-fee transaction. Zero gas and nil fees are
// filled from the node; the Min* floors raise whatever was chosen.
type TxRequest struct {
	To        common.Address
	Value     *big.Int
	Data      []byte
	Gas       uint64
	GasFeeCap *big.Int
	GasTipCap *big.Int
	Nonce     *uint64

	MinGas       uint64
	MinGasFeeCap *big.Int
	MinGasTipCap *big.Int
}

type Options struct {
	PollInterval  time.Duration
	GasMultiplier float64
}

func DefaultOptions() Options {
	return Options{
		PollInterval:  2 * time.Second,
		GasMultiplier: 1.2,
	}
}

// Transactor builds, signs, broadcasts and confirms transactions. It never
// resubmits: a broadcast transaction is either confirmed, reverted or timed out.
type Transactor struct {
	backend Backend
	opts    Options
	logger  *zap.Logger
}

func NewTransactor(backend Backend, opts Options, logger *zap.Logger) *Transactor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transactor{backend: backend, opts: opts, logger: logger.Named("tx")}
}

// Submit signs req with txSigner and broadcasts it.
func (t *Transactor) Submit(ctx context.Context, txSigner signer.Signer, req TxRequest) (*types.Transaction, error) {
	if txSigner == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing signer")
	}
	chainID, err := t.backend.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	tx, err := t.build(ctx, chainID, txSigner.Address(), req)
	if err != nil {
		return nil, err
	}
	signed, err := txSigner.SignTx(chainID, tx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, wrapEVMExecutionError(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	t.logger.Info("transaction broadcast",
		zap.String("hash", signed.Hash().Hex()),
		zap.String("from", txSigner.Address().Hex()),
		zap.String("to", req.To.Hex()),
		zap.Uint64("nonce", signed.Nonce()),
		zap.Uint64("gas", signed.Gas()),
	)
	return signed, nil
}

func (t *Transactor) build(ctx context.Context, chainID *big.Int, from common.Address, req TxRequest) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To

	gas := req.Gas
	if gas == 0 {
		estimated, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: req.Data})
		if err != nil {
			return nil, wrapEVMExecutionError(clierr.CodeActionSim, "estimate gas", err)
		}
		gas = uint64(float64(estimated) * t.opts.GasMultiplier)
	}
	if gas < req.MinGas {
		gas = req.MinGas
	}

	tipCap := req.GasTipCap
	if tipCap == nil {
		suggested, err := t.backend.SuggestGasTipCap(ctx)
		if err != nil {
			suggested = big.NewInt(2_000_000_000)
		}
		tipCap = suggested
	}
	tipCap = maxBig(tipCap, req.MinGasTipCap)

	feeCap := req.GasFeeCap
	if feeCap == nil {
		header, err := t.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
		}
		baseFee := header.BaseFee
		if baseFee == nil {
			baseFee = big.NewInt(1_000_000_000)
		}
		feeCap = new(big.Int).Mul(baseFee, big.NewInt(2))
		feeCap.Add(feeCap, tipCap)
	}
	feeCap = maxBig(feeCap, req.MinGasFeeCap)
	if feeCap.Cmp(tipCap) < 0 {
		feeCap = new(big.Int).Set(tipCap)
	}

	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else {
		n, err := t.backend.PendingNonceAt(ctx, from)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
		}
		nonce = n
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	}), nil
}

// WaitMined polls for the receipt until it appears or timeout elapses. A
// timeout returns CodeActionTimeout; a reverted receipt is returned as is.
func (t *Transactor) WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := t.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			t.logger.Debug("receipt poll failed", zap.String("hash", hash.Hex()), zap.Error(err))
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, clierr.Wrap(clierr.CodeInternal, "wait cancelled", ctx.Err())
			}
			return nil, clierr.Wrap(clierr.CodeActionTimeout, fmt.Sprintf("timed out waiting for receipt of %s", hash.Hex()), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func maxBig(v, floor *big.Int) *big.Int {
	if floor != nil && (v == nil || v.Cmp(floor) < 0) {
		return new(big.Int).Set(floor)
	}
	return v
}
