package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/execution/signer"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/notify"
	"github.com/MoseikiApp/peasy-ai/internal/swap"
)

// swapFailure maps a failed swap to the exit code of its class.
func swapFailure(res swap.Result) error {
	reason := res.Reason
	if reason == "" {
		reason = "swap failed"
	}
	switch res.Class {
	case swap.ClassPrecondition, swap.ClassNoRoute, swap.ClassRateMoved, swap.ClassRouteTooLong,
		swap.ClassInsufficientFunds, swap.ClassHighSlippage:
		return clierr.New(clierr.CodeActionPlan, reason)
	case swap.ClassReverted:
		return clierr.New(clierr.CodeActionSim, reason)
	case swap.ClassTimeout:
		return clierr.New(clierr.CodeActionTimeout, reason)
	default:
		return clierr.New(clierr.CodeInternal, reason)
	}
}

// progressSink streams progress lines to stderr in order.
func (s *runtimeState) progressSink(ctx context.Context) *notify.Sink {
	sink := notify.NewSink(s.settings.Server.NotifyBuffer, func(_ context.Context, msg string) error {
		_, err := fmt.Fprintln(s.runner.stderr, msg)
		return err
	}, s.engine.metrics, s.logger)
	go sink.Run(ctx)
	return sink
}

type swapFlags struct {
	user, wallet string
	from, to     string
	amount       string
	slippage     string
	rate         string
	progress     bool
}

func (f *swapFlags) bind(cmd *cobra.Command, execute bool) {
	cmd.Flags().StringVar(&f.user, "user", "", "User id owning the wallet")
	cmd.Flags().StringVar(&f.wallet, "wallet", "", "Wallet address (overrides --user)")
	cmd.Flags().StringVar(&f.from, "from", "", "Token to sell")
	cmd.Flags().StringVar(&f.to, "to", "", "Token to buy")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Amount to sell in decimal units")
	cmd.Flags().StringVar(&f.slippage, "slippage", "", "Maximum slippage percent")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	if execute {
		cmd.Flags().StringVar(&f.rate, "rate", "", "Rate approved from the quote")
		cmd.Flags().BoolVar(&f.progress, "progress", true, "Print progress lines to stderr")
		_ = cmd.MarkFlagRequired("rate")
	}
}

func (s *runtimeState) swapRequest(ctx context.Context, f *swapFlags, quoteOnly bool) (swap.Request, error) {
	addr, err := s.walletAddress(ctx, f.user, f.wallet)
	if err != nil {
		return swap.Request{}, err
	}
	amount, err := id.ParseAmount(f.amount)
	if err != nil {
		return swap.Request{}, err
	}
	req := swap.Request{
		UserID:    f.user,
		Wallet:    addr.Hex(),
		Chain:     s.settings.Chain.Slug,
		TokenIn:   strings.ToUpper(strings.TrimSpace(f.from)),
		TokenOut:  strings.ToUpper(strings.TrimSpace(f.to)),
		Amount:    amount,
		QuoteOnly: quoteOnly,
	}
	if f.slippage != "" {
		v, err := decimal.NewFromString(strings.TrimSpace(f.slippage))
		if err != nil || !v.IsPositive() {
			return swap.Request{}, clierr.New(clierr.CodeUsage, "invalid --slippage: "+f.slippage)
		}
		req.MaxSlippagePercent = v
	}
	if !quoteOnly {
		v, err := decimal.NewFromString(strings.TrimSpace(f.rate))
		if err != nil || !v.IsPositive() {
			return swap.Request{}, clierr.New(clierr.CodeUsage, "Invalid approved rate: "+f.rate)
		}
		req.ApprovedRate = &v
	}
	return req, nil
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	root := &cobra.Command{Use: "swap", Short: "Token swap commands"}

	var qf swapFlags
	quote := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(true)
			defer cancel()
			req, err := s.swapRequest(ctx, &qf, true)
			if err != nil {
				return err
			}
			o, err := s.engine.Swaps(ctx)
			if err != nil {
				return err
			}
			res := o.Swap(ctx, req, nil)
			if !res.Success {
				return s.emitOutcome(trimRootPath(cmd.CommandPath()), res, swapFailure(res))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res)
		},
	}
	qf.bind(quote, false)

	var rf swapFlags
	run := &cobra.Command{
		Use:   "run",
		Short: "Execute a swap at an approved rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(false)
			defer cancel()
			req, err := s.swapRequest(ctx, &rf, false)
			if err != nil {
				return err
			}
			o, err := s.engine.Swaps(ctx)
			if err != nil {
				return err
			}
			var emit notify.Emitter = notify.Nop{}
			if rf.progress {
				sink := s.progressSink(ctx)
				defer sink.Close()
				emit = sink
			}
			res := o.Swap(ctx, req, emit)
			if !res.Success {
				return s.emitOutcome(trimRootPath(cmd.CommandPath()), res, swapFailure(res))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res)
		},
	}
	rf.bind(run, true)

	var txHash, from, to string
	rcpt := &cobra.Command{
		Use:   "receipt",
		Short: "Extract the amounts a mined swap actually moved",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(true)
			defer cancel()
			if !strings.HasPrefix(txHash, "0x") || len(txHash) != 66 {
				return clierr.New(clierr.CodeUsage, "invalid transaction hash: "+txHash)
			}
			b, err := s.engine.Balances(ctx)
			if err != nil {
				return err
			}
			in, err := b.Resolve(ctx, from)
			if err != nil {
				return err
			}
			out, err := b.Resolve(ctx, to)
			if err != nil {
				return err
			}
			a, err := s.engine.Analyzer(ctx)
			if err != nil {
				return err
			}
			amounts, err := a.ExtractByHash(ctx, common.HexToHash(txHash), in, out)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), receiptView{
				TxHash:         txHash,
				TokenIn:        in,
				TokenOut:       out,
				Sent:           amounts.Sent,
				Received:       amounts.Received,
				GasFee:         amounts.GasFee,
				Rate:           amounts.Rate,
				NativeStrategy: amounts.NativeStrategy,
			})
		},
	}
	rcpt.Flags().StringVar(&txHash, "tx", "", "Swap transaction hash")
	rcpt.Flags().StringVar(&from, "from", "", "Token sold")
	rcpt.Flags().StringVar(&to, "to", "", "Token bought")
	_ = rcpt.MarkFlagRequired("tx")
	_ = rcpt.MarkFlagRequired("from")
	_ = rcpt.MarkFlagRequired("to")

	var recordID string
	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve the outcome of a swap whose confirmation timed out",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(true)
			defer cancel()
			o, err := s.engine.Swaps(ctx)
			if err != nil {
				return err
			}
			res, err := o.Reconcile(ctx, recordID)
			if err != nil {
				return err
			}
			if !res.Success {
				return s.emitOutcome(trimRootPath(cmd.CommandPath()), res, swapFailure(res))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res)
		},
	}
	reconcile.Flags().StringVar(&recordID, "record", "", "Swap record id")
	_ = reconcile.MarkFlagRequired("record")

	root.AddCommand(quote, run, rcpt, reconcile)
	return root
}

type receiptView struct {
	TxHash         string           `json:"tx_hash"`
	TokenIn        id.Token         `json:"token_in"`
	TokenOut       id.Token         `json:"token_out"`
	Sent           decimal.Decimal  `json:"sent"`
	Received       decimal.Decimal  `json:"received"`
	GasFee         decimal.Decimal  `json:"gas_fee_native"`
	Rate           *decimal.Decimal `json:"rate,omitempty"`
	NativeStrategy string           `json:"native_strategy,omitempty"`
}

func (s *runtimeState) newNonceCommand() *cobra.Command {
	root := &cobra.Command{Use: "nonce", Short: "Pending transaction commands"}
	var user, wallet string
	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Replace every pending transaction of a wallet with a zero-value self-transfer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(true)
			defer cancel()
			addr, err := s.walletAddress(ctx, user, wallet)
			if err != nil {
				return err
			}
			v, err := s.engine.Vault(ctx)
			if err != nil {
				return err
			}
			sg, err := v.ResolveSigner(ctx, addr)
			if err != nil {
				return err
			}
			defer signer.Release(sg)
			g, err := s.engine.Guard(ctx)
			if err != nil {
				return err
			}
			unlock := s.engine.locker.Lock(big.NewInt(s.settings.Chain.ChainID), addr)
			defer unlock()
			res, err := g.CancelPending(ctx, sg)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res)
		},
	}
	cancelCmd.Flags().StringVar(&user, "user", "", "User id owning the wallet")
	cancelCmd.Flags().StringVar(&wallet, "wallet", "", "Wallet address (overrides --user)")
	root.AddCommand(cancelCmd)
	return root
}
