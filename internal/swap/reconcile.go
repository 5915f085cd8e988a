package swap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/notify"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
)

// Reconcile looks up the eventual outcome of a submitted swap, typically one
// whose confirmation timed out. The original record is left untouched; the
// outcome is written to a new CRYPTO_SWAP_RECONCILE_SWING record.
func (o *Orchestrator) Reconcile(ctx context.Context, recordID string) (Result, error) {
	if o.deps.Records == nil {
		return Result{}, clierr.New(clierr.CodeUsage, "reconcile requires a record store")
	}
	rec, err := o.deps.Records.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, clierr.Wrap(clierr.CodeNotFound, "swap record "+recordID, err)
		}
		return Result{}, clierr.Wrap(clierr.CodeUnavailable, "load swap record", err)
	}
	if rec.ActionType != storage.ActionSwap {
		return Result{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("record %s is a %s, not a swap", rec.ID, rec.ActionType))
	}
	var prior Result
	if len(rec.ResultData) > 0 {
		if err := json.Unmarshal(rec.ResultData, &prior); err != nil {
			return Result{}, clierr.Wrap(clierr.CodeInternal, "decode swap record result", err)
		}
	}
	if prior.TxHash == "" {
		return Result{}, clierr.New(clierr.CodeUsage, "swap record "+rec.ID+" has no submitted transaction")
	}

	hash := common.HexToHash(prior.TxHash)
	rcpt, err := o.deps.Chain.Receipt(ctx, hash)
	if err != nil {
		return Result{}, err
	}
	if rcpt == nil {
		return Result{}, clierr.New(clierr.CodeStale, "transaction "+prior.TxHash+" is not mined yet")
	}

	r := &run{
		o:      o,
		emit:   notify.Nop{},
		quiet:  true,
		logger: o.logger.With(zap.String("record", rec.ID), zap.String("tx", prior.TxHash)),
		res: Result{
			Chain:          prior.Chain,
			Wallet:         prior.Wallet,
			TxHash:         prior.TxHash,
			ExplorerURL:    prior.ExplorerURL,
			TokenIn:        prior.TokenIn,
			TokenOut:       prior.TokenOut,
			AmountSent:     prior.AmountSent,
			AmountReceived: prior.AmountReceived,
			QuotedRate:     prior.QuotedRate,
			TotalFeeUSD:    prior.TotalFeeUSD,
			ActionLog:      []string{},
		},
	}
	r.log(fmt.Sprintf("Reconciling record %s (previous status %s, class %s)", rec.ID, rec.Status, prior.Class), false)

	out := &storage.Record{
		AccountID:    rec.AccountID,
		ActionType:   storage.ActionSwapReconcile,
		Input:        storage.Leg{Currency: rec.Input.Currency, Network: rec.Input.Network, Wallet: rec.Input.Wallet},
		Output:       storage.Leg{Currency: rec.Output.Currency, Network: rec.Output.Network, Wallet: rec.Output.Wallet},
		ApprovalType: rec.ApprovalType,
	}
	if err := o.deps.Records.CreateRecord(ctx, out); err != nil {
		o.deps.Metrics.AuditWriteFailed()
		o.logger.Error("create reconcile record failed", zap.Error(err))
		out = nil
	} else {
		r.res.RecordID = out.ID
	}

	var res Result
	if rcpt.Status != types.ReceiptStatusSuccessful {
		r.log("Swap transaction reverted on chain", false)
		res = r.fail(ClassReverted, msgReverted)
	} else {
		r.step = "Reading swap receipt"
		amounts, err := o.deps.Analyzer.ExtractByHash(ctx, hash, prior.TokenIn, prior.TokenOut)
		if err != nil {
			r.log("Error getting swap details from tx: "+err.Error(), false)
		} else {
			r.res.ActualAmountSent = amounts.Sent
			r.res.ActualAmountReceived = amounts.Received
			r.res.ActualRate = amounts.Rate
			r.res.GasFeeNative = amounts.GasFee
		}
		r.res.Success = true
		r.res.Class = ClassSuccess
		r.res.Message = successMessage(r.res)
		r.log(fmt.Sprintf("Swap confirmed in block %v", rcpt.BlockNumber), false)
		res = r.res
	}

	if out != nil {
		outcome := storage.Outcome{Status: storage.StatusFailed, ResultData: res, UserMessage: res.Reason}
		if res.Success {
			outcome.Status = storage.StatusSuccess
			outcome.UserMessage = res.Message
		}
		if _, err := o.deps.Records.CompleteRecord(ctx, out.ID, outcome); err != nil {
			o.deps.Metrics.AuditWriteFailed()
			o.logger.Error("complete reconcile record failed", zap.String("record", out.ID), zap.Error(err))
		}
	}
	return res, nil
}
