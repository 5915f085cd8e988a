package receipt

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/MoseikiApp/peasy-ai/internal/chain"
	"github.com/MoseikiApp/peasy-ai/internal/registry"
)

type Input struct {
	Tx      *types.Transaction
	Receipt *types.Receipt
	Wallet  common.Address
	GasFee  *big.Int
}

// NativeStrategy finds the native amount paid to the wallet. ok is false when
// the strategy cannot tell, so the next one is tried.
type NativeStrategy interface {
	Name() string
	TryExtract(ctx context.Context, in Input) (*big.Int, bool)
}

type Tracer interface {
	TraceCalls(ctx context.Context, hash common.Hash) (*chain.CallFrame, error)
}

// TraceStrategy sums value-bearing internal CALLs to the wallet.
type TraceStrategy struct {
	Chain Tracer
}

func (TraceStrategy) Name() string { return "trace" }

func (s TraceStrategy) TryExtract(ctx context.Context, in Input) (*big.Int, bool) {
	frame, err := s.Chain.TraceCalls(ctx, in.Tx.Hash())
	if err != nil || frame == nil {
		return nil, false
	}
	total := new(big.Int)
	sumCalls(frame.Calls, in.Wallet, total)
	return total, total.Sign() > 0
}

func sumCalls(calls []chain.CallFrame, wallet common.Address, total *big.Int) {
	for _, c := range calls {
		if strings.EqualFold(c.Type, "CALL") && c.Error == "" && c.Value != nil && c.Value.ToInt().Sign() > 0 && c.To != nil && *c.To == wallet {
			total.Add(total, c.Value.ToInt())
		}
		if len(c.Calls) > 0 {
			sumCalls(c.Calls, wallet, total)
		}
	}
}

// EventStrategy reads payout events that name the wallet as recipient.
type EventStrategy struct {
	abi abi.ABI
}

func NewEventStrategy() (EventStrategy, error) {
	parsed, err := abi.JSON(strings.NewReader(registry.NativePayoutEventsABI))
	if err != nil {
		return EventStrategy{}, fmt.Errorf("parse payout events abi: %w", err)
	}
	return EventStrategy{abi: parsed}, nil
}

func (EventStrategy) Name() string { return "events" }

func (s EventStrategy) TryExtract(_ context.Context, in Input) (*big.Int, bool) {
	total := new(big.Int)
	for _, lg := range in.Receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 {
			continue
		}
		ev, err := s.abi.EventByID(lg.Topics[0])
		if err != nil {
			continue
		}
		to, ok := indexedAddress(ev, lg, "to")
		if !ok || to != in.Wallet {
			continue
		}
		// Swap names the recipient but not which side is native.
		if !hasArg(ev.Inputs.NonIndexed(), "amount") {
			continue
		}
		values := map[string]any{}
		if err := s.abi.UnpackIntoMap(values, ev.Name, lg.Data); err != nil {
			continue
		}
		if amount, ok := values["amount"].(*big.Int); ok && amount.Sign() > 0 {
			total.Add(total, amount)
		}
	}
	return total, total.Sign() > 0
}

func hasArg(args abi.Arguments, name string) bool {
	for _, a := range args {
		if a.Name == name {
			return true
		}
	}
	return false
}

func indexedAddress(ev *abi.Event, lg *types.Log, name string) (common.Address, bool) {
	topic := 1
	for _, arg := range ev.Inputs {
		if !arg.Indexed {
			continue
		}
		if arg.Name == name {
			if topic >= len(lg.Topics) {
				return common.Address{}, false
			}
			return common.BytesToAddress(lg.Topics[topic].Bytes()), true
		}
		topic++
	}
	return common.Address{}, false
}

type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error)
}

// BalanceDiffStrategy compares the wallet balance around the mining block
// and adds back the gas fee. Only a positive result counts.
type BalanceDiffStrategy struct {
	Chain BalanceReader
}

func (BalanceDiffStrategy) Name() string { return "balance_diff" }

func (s BalanceDiffStrategy) TryExtract(ctx context.Context, in Input) (*big.Int, bool) {
	if in.Receipt.BlockNumber == nil || in.Receipt.BlockNumber.Sign() <= 0 {
		return nil, false
	}
	block := in.Receipt.BlockNumber
	prev := new(big.Int).Sub(block, big.NewInt(1))
	after, err := s.Chain.BalanceAt(ctx, in.Wallet, block)
	if err != nil {
		return nil, false
	}
	before, err := s.Chain.BalanceAt(ctx, in.Wallet, prev)
	if err != nil {
		return nil, false
	}
	diff := new(big.Int).Sub(after, before)
	if in.GasFee != nil {
		diff.Add(diff, in.GasFee)
	}
	return diff, diff.Sign() > 0
}
