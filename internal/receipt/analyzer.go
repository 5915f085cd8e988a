// Package receipt derives the amounts a swap actually moved from its mined
// receipt and the surrounding chain state.
package receipt

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MoseikiApp/peasy-ai/internal/chain"
	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/registry"
)

// Chain is the read access the analyzer needs. *chain.Client satisfies it.
type Chain interface {
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error)
	TraceCalls(ctx context.Context, hash common.Hash) (*chain.CallFrame, error)
}

// Amounts is what a mined swap actually did for the wallet.
type Amounts struct {
	SentRaw        *big.Int
	ReceivedRaw    *big.Int
	Sent           decimal.Decimal
	Received       decimal.Decimal
	GasFeeRaw      *big.Int
	GasFee         decimal.Decimal
	Rate           *decimal.Decimal
	NativeStrategy string
}

type Analyzer struct {
	chain      Chain
	strategies []NativeStrategy
	transfer   abi.Event
	logger     *zap.Logger
}

// New builds an analyzer with the default native-received strategies: call
// trace, payout events, then balance difference.
func New(c Chain, logger *zap.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	erc20, err := abi.JSON(strings.NewReader(registry.ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	events, err := NewEventStrategy()
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		chain:      c,
		strategies: []NativeStrategy{TraceStrategy{Chain: c}, events, BalanceDiffStrategy{Chain: c}},
		transfer:   erc20.Events["Transfer"],
		logger:     logger.Named("receipt"),
	}, nil
}

// Extract analyses a mined transaction sent by wallet.
func (a *Analyzer) Extract(ctx context.Context, tx *types.Transaction, rcpt *types.Receipt, wallet common.Address, in, out id.Token) (Amounts, error) {
	if tx == nil || rcpt == nil {
		return Amounts{}, clierr.New(clierr.CodeUsage, "transaction and receipt are required")
	}
	gasFee := GasFee(tx, rcpt)
	sent := new(big.Int)
	received := new(big.Int)

	if isNative(in) {
		sent.Add(sent, tx.Value())
	}
	for _, lg := range rcpt.Logs {
		from, to, value, ok := a.decodeTransfer(lg)
		if !ok {
			continue
		}
		if !isNative(in) && strings.EqualFold(lg.Address.Hex(), in.Address) && from == wallet {
			sent.Add(sent, value)
		}
		if !isNative(out) && strings.EqualFold(lg.Address.Hex(), out.Address) && to == wallet {
			received.Add(received, value)
		}
	}

	strategy := ""
	if isNative(out) {
		input := Input{Tx: tx, Receipt: rcpt, Wallet: wallet, GasFee: gasFee}
		for _, s := range a.strategies {
			v, ok := s.TryExtract(ctx, input)
			if !ok {
				continue
			}
			received.Add(received, v)
			strategy = s.Name()
			break
		}
		if strategy == "" {
			a.logger.Warn("native amount received not found", zap.String("hash", tx.Hash().Hex()))
		}
	}

	res := Amounts{
		SentRaw:        sent,
		ReceivedRaw:    received,
		Sent:           id.FromBaseUnits(sent, in.Decimals),
		Received:       id.FromBaseUnits(received, out.Decimals),
		GasFeeRaw:      gasFee,
		GasFee:         id.FromBaseUnits(gasFee, 18),
		NativeStrategy: strategy,
	}
	if !res.Sent.IsZero() {
		rate := res.Received.DivRound(res.Sent, 18)
		res.Rate = &rate
	}
	return res, nil
}

// ExtractByHash loads the transaction and receipt and recovers the sender
// from the signature.
func (a *Analyzer) ExtractByHash(ctx context.Context, hash common.Hash, in, out id.Token) (Amounts, error) {
	tx, pending, err := a.chain.TransactionByHash(ctx, hash)
	if err != nil {
		return Amounts{}, clierr.Wrap(clierr.CodeNotFound, "load transaction "+hash.Hex(), err)
	}
	if pending {
		return Amounts{}, clierr.New(clierr.CodeStale, "transaction "+hash.Hex()+" is still pending")
	}
	rcpt, err := a.chain.TransactionReceipt(ctx, hash)
	if err != nil || rcpt == nil {
		return Amounts{}, clierr.Wrap(clierr.CodeNotFound, "load receipt "+hash.Hex(), err)
	}
	chainID, err := a.chain.ChainID(ctx)
	if err != nil {
		return Amounts{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return Amounts{}, clierr.Wrap(clierr.CodeInternal, "recover sender", err)
	}
	return a.Extract(ctx, tx, rcpt, from, in, out)
}

func (a *Analyzer) decodeTransfer(lg *types.Log) (from, to common.Address, value *big.Int, ok bool) {
	if lg == nil || len(lg.Topics) != 3 || lg.Topics[0] != a.transfer.ID {
		return common.Address{}, common.Address{}, nil, false
	}
	return common.BytesToAddress(lg.Topics[1].Bytes()), common.BytesToAddress(lg.Topics[2].Bytes()), new(big.Int).SetBytes(lg.Data), true
}

// GasFee is gasUsed times the effective gas price.
func GasFee(tx *types.Transaction, rcpt *types.Receipt) *big.Int {
	price := rcpt.EffectiveGasPrice
	if price == nil || price.Sign() == 0 {
		price = tx.GasPrice()
	}
	if price == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(rcpt.GasUsed), price)
}

func isNative(t id.Token) bool {
	return t.IsNative() || strings.EqualFold(t.Symbol, "ETH")
}
