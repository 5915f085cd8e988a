// Package nonceguard clears a wallet's stuck transactions before new work
// and serializes transaction-producing operations per wallet.
package nonceguard

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/execution"
	"github.com/MoseikiApp/peasy-ai/internal/execution/signer"
	"github.com/MoseikiApp/peasy-ai/internal/metrics"
)

type NonceReader interface {
	Nonces(ctx context.Context, account common.Address) (latest, pending uint64, err error)
}

type Submitter interface {
	Submit(ctx context.Context, s signer.Signer, req execution.TxRequest) (*types.Transaction, error)
}

type Cancellation struct {
	Nonce  uint64 `json:"nonce"`
	TxHash string `json:"cancel_tx_hash,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Result struct {
	Latest       uint64         `json:"latest_nonce"`
	Pending      uint64         `json:"pending_nonce"`
	PendingCount uint64         `json:"pending_count"`
	Cancelled    []Cancellation `json:"cancelled"`
}

type Guard struct {
	nonces      NonceReader
	tx          Submitter
	maxFee      *big.Int
	priorityFee *big.Int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// New builds a guard. Zero fees fall back to 3 gwei max and 2 gwei priority.
func New(nonces NonceReader, tx Submitter, maxFee, priorityFee *big.Int, m *metrics.Metrics, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxFee == nil || maxFee.Sign() <= 0 {
		maxFee = big.NewInt(3_000_000_000)
	}
	if priorityFee == nil || priorityFee.Sign() <= 0 {
		priorityFee = big.NewInt(2_000_000_000)
	}
	return &Guard{nonces: nonces, tx: tx, maxFee: maxFee, priorityFee: priorityFee, metrics: m, logger: logger.Named("nonceguard")}
}

// CancelPending replaces every transaction between the latest and pending
// nonce with a zero-value self-transfer. Replacements are broadcast, not
// awaited. A failed replacement is recorded and the loop moves on.
func (g *Guard) CancelPending(ctx context.Context, s signer.Signer) (Result, error) {
	if s == nil {
		return Result{}, clierr.New(clierr.CodeSigner, "missing signer")
	}
	wallet := s.Address()
	latest, pending, err := g.nonces.Nonces(ctx, wallet)
	if err != nil {
		return Result{}, clierr.Wrap(clierr.CodeUnavailable, "read nonces", err)
	}
	res := Result{Latest: latest, Pending: pending, Cancelled: []Cancellation{}}
	if pending <= latest {
		return res, nil
	}
	res.PendingCount = pending - latest
	g.logger.Info("cancelling pending transactions", zap.String("wallet", wallet.Hex()), zap.Uint64("count", res.PendingCount))

	for nonce := latest; nonce < pending; nonce++ {
		n := nonce
		tx, err := g.tx.Submit(ctx, s, execution.TxRequest{
			To:        wallet,
			Value:     new(big.Int),
			Gas:       21000,
			GasFeeCap: g.maxFee,
			GasTipCap: g.priorityFee,
			Nonce:     &n,
		})
		if err != nil {
			g.metrics.NonceCancelled(false)
			g.logger.Warn("cancel transaction failed", zap.Uint64("nonce", n), zap.Error(err))
			res.Cancelled = append(res.Cancelled, Cancellation{Nonce: n, Error: err.Error()})
			continue
		}
		g.metrics.NonceCancelled(true)
		res.Cancelled = append(res.Cancelled, Cancellation{Nonce: n, TxHash: tx.Hash().Hex()})
	}
	return res, nil
}

// Locker hands out one mutex per (chain, wallet).
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocker() *Locker {
	return &Locker{locks: map[string]*sync.Mutex{}}
}

// Lock blocks until the wallet is free and returns its unlock func.
func (l *Locker) Lock(chainID *big.Int, wallet common.Address) func() {
	key := wallet.Hex()
	if chainID != nil {
		key = chainID.String() + ":" + key
	}
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
