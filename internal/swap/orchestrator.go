// Package swap runs a token swap end to end: quote, allowance, approval,
// submission, confirmation, receipt analysis and commission, with an audit
// record and an ordered action log.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MoseikiApp/peasy-ai/internal/commission"
	"github.com/MoseikiApp/peasy-ai/internal/config"
	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/execution"
	"github.com/MoseikiApp/peasy-ai/internal/execution/signer"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/logging"
	"github.com/MoseikiApp/peasy-ai/internal/metrics"
	"github.com/MoseikiApp/peasy-ai/internal/nonceguard"
	"github.com/MoseikiApp/peasy-ai/internal/notify"
	"github.com/MoseikiApp/peasy-ai/internal/providers/swing"
	"github.com/MoseikiApp/peasy-ai/internal/receipt"
	"github.com/MoseikiApp/peasy-ai/internal/registry"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
)

// Aggregator is the Swing surface the orchestrator uses. *swing.Client
// satisfies it.
type Aggregator interface {
	Chain(ctx context.Context, slug string) (swing.Chain, error)
	Token(ctx context.Context, chainSlug, symbol string) (swing.Token, bool, error)
	Quote(ctx context.Context, req swing.QuoteRequest) (swing.QuoteResponse, error)
	Allowance(ctx context.Context, req swing.AllowanceRequest) (string, error)
	Approve(ctx context.Context, req swing.ApproveRequest) (swing.ApproveResponse, error)
	Send(ctx context.Context, req swing.SendRequest) (swing.SendResponse, error)
}

// ChainReader is satisfied by *chain.Client.
type ChainReader interface {
	NativeBalance(ctx context.Context, owner common.Address, block *big.Int) (*big.Int, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Submitter is satisfied by *execution.Transactor.
type Submitter interface {
	Submit(ctx context.Context, s signer.Signer, req execution.TxRequest) (*types.Transaction, error)
	WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

type Analyzer interface {
	Extract(ctx context.Context, tx *types.Transaction, rcpt *types.Receipt, wallet common.Address, in, out id.Token) (receipt.Amounts, error)
	ExtractByHash(ctx context.Context, hash common.Hash, in, out id.Token) (receipt.Amounts, error)
}

type Commission interface {
	Collect(ctx context.Context, s signer.Signer) commission.Result
}

type Canceller interface {
	CancelPending(ctx context.Context, s signer.Signer) (nonceguard.Result, error)
}

// Signers resolves a wallet address to its signing key. *vault.Vault
// satisfies it.
type Signers interface {
	ResolveSigner(ctx context.Context, address common.Address) (signer.Signer, error)
}

// Deps are the collaborators of an Orchestrator. Commission, Nonces, Locker,
// Metrics and Logger are optional.
type Deps struct {
	Aggregator Aggregator
	Chain      ChainReader
	Tx         Submitter
	Analyzer   Analyzer
	Commission Commission
	Nonces     Canceller
	Signers    Signers
	Records    storage.RecordStore
	Locker     *nonceguard.Locker
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type Orchestrator struct {
	deps     Deps
	settings config.SwapSettings
	chain    config.ChainSettings
	minFee   *big.Int
	minTip   *big.Int
	logger   *zap.Logger
}

func New(deps Deps, settings config.SwapSettings, chain config.ChainSettings) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = nonceguard.NewLocker()
	}
	if settings.ConfirmTimeout <= 0 {
		settings.ConfirmTimeout = 30 * time.Second
	}
	if settings.DefaultSlippagePct.Sign() <= 0 {
		settings.DefaultSlippagePct = decimal.NewFromInt(1)
	}
	if chain.Slug == "" {
		chain.Slug = "base"
	}
	return &Orchestrator{
		deps:     deps,
		settings: settings,
		chain:    chain,
		minFee:   gweiToWei(settings.MaxFeeFloorGwei),
		minTip:   gweiToWei(settings.PriorityFeeFloorGwei),
		logger:   logger.Named("swap"),
	}
}

// compactSize is the length of raw with insignificant whitespace removed.
func compactSize(raw json.RawMessage) int {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return len(raw)
	}
	return buf.Len()
}

func gweiToWei(v decimal.Decimal) *big.Int {
	if v.Sign() <= 0 {
		return nil
	}
	return v.Shift(9).Round(0).BigInt()
}

// run is the state of one Swap call.
type run struct {
	o      *Orchestrator
	emit   notify.Emitter
	quiet  bool
	step   string
	res    Result
	logger *zap.Logger
}

// log appends to the action log. Notifying steps also reach the user.
func (r *run) log(msg string, notifyUser bool) {
	r.res.ActionLog = append(r.res.ActionLog, msg)
	r.logger.Info(msg)
	if notifyUser && !r.quiet {
		r.notify(msg)
	}
}

// notify delivers msg to the emitter. A panicking emitter is logged and
// otherwise ignored.
func (r *run) notify(msg string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("notification emitter panicked", zap.Any("panic", p), zap.String("message", msg))
		}
	}()
	r.emit.Emit(msg)
}

// enter starts a named step; failures are reported against it.
func (r *run) enter(step string) {
	r.step = step
	r.log(step, true)
}

func (r *run) fail(class Class, reason string) Result {
	r.res.Success = false
	r.res.Class = class
	r.res.Reason = reason
	r.log("Swap failed: "+strings.ReplaceAll(reason, "\n", " "), false)
	return r.res
}

func (r *run) failErr(err error) Result {
	r.log(fmt.Sprintf("Error in step %q: %v", r.step, err), false)
	class, reason := classify(r.step, err)
	return r.fail(class, reason)
}

// Swap quotes or executes req. It never returns an error: every outcome is a
// Result. emit may be nil.
func (o *Orchestrator) Swap(ctx context.Context, req Request, emit notify.Emitter) (result Result) {
	if emit == nil {
		emit = notify.Nop{}
	}
	started := time.Now()
	req.TokenIn = strings.ToUpper(strings.TrimSpace(req.TokenIn))
	req.TokenOut = strings.ToUpper(strings.TrimSpace(req.TokenOut))
	req.Chain = strings.ToLower(strings.TrimSpace(req.Chain))
	if req.Chain == "" {
		req.Chain = o.chain.Slug
	}
	if req.MaxSlippagePercent.Sign() <= 0 {
		req.MaxSlippagePercent = o.settings.DefaultSlippagePct
	}
	mode := "execute"
	if req.QuoteOnly {
		mode = "quote"
	}
	r := &run{
		o:      o,
		emit:   emit,
		quiet:  req.QuoteOnly,
		logger: o.logger.With(logging.Wallet(req.Wallet), zap.String("mode", mode)),
		res: Result{
			Chain:     req.Chain,
			Wallet:    req.Wallet,
			TokenIn:   id.Token{Chain: req.Chain, Symbol: req.TokenIn},
			TokenOut:  id.Token{Chain: req.Chain, Symbol: req.TokenOut},
			ActionLog: []string{},
		},
	}
	defer func() {
		o.deps.Metrics.ObserveSwap(mode, string(result.Class), time.Since(started))
	}()

	if res, ok := o.precheck(ctx, r, req); !ok {
		return res
	}
	wallet := common.HexToAddress(req.Wallet)

	rec := o.openRecord(ctx, r, req)
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("swap panicked", zap.Any("panic", p), zap.Stack("stack"))
			result = r.fail(ClassInternal, fmt.Sprintf(msgUnknown, r.step))
		}
		o.closeRecord(ctx, rec, req, result)
	}()

	if req.QuoteOnly {
		return o.execute(ctx, r, req, wallet, nil)
	}

	unlock := o.deps.Locker.Lock(big.NewInt(o.chain.ChainID), wallet)
	defer unlock()

	r.log("Starting swap - this may take a while. I will keep you updated.", true)
	r.enter("Preparing wallet")
	s, err := o.deps.Signers.ResolveSigner(ctx, wallet)
	if err != nil {
		r.log("Could not resolve wallet signer: "+err.Error(), false)
		return r.fail(ClassInternal, fmt.Sprintf(msgUnknown, r.step))
	}
	defer signer.Release(s)

	r.enter("Cancelling pending transactions")
	if o.deps.Nonces != nil {
		cancelled, err := o.deps.Nonces.CancelPending(ctx, s)
		if err != nil {
			r.log("Could not check pending transactions: "+err.Error(), false)
		} else if cancelled.PendingCount > 0 {
			for _, c := range cancelled.Cancelled {
				if c.Error != "" {
					r.log(fmt.Sprintf("Cancel of nonce %d failed: %s", c.Nonce, c.Error), false)
					continue
				}
				r.log(fmt.Sprintf("Cancelled nonce %d with %s", c.Nonce, c.TxHash), false)
			}
		}
	}
	return o.execute(ctx, r, req, wallet, s)
}

// precheck validates the request and the gas reserve before anything else
// touches the network or the audit trail.
func (o *Orchestrator) precheck(ctx context.Context, r *run, req Request) (Result, bool) {
	r.step = "Checking wallet"
	switch {
	case !common.IsHexAddress(req.Wallet):
		return r.fail(ClassPrecondition, "Invalid wallet address: "+req.Wallet), false
	case req.TokenIn == "" || req.TokenOut == "":
		return r.fail(ClassPrecondition, "Both currencies are required for a swap."), false
	case req.TokenIn == req.TokenOut:
		return r.fail(ClassPrecondition, "Cannot swap "+req.TokenIn+" to itself."), false
	case req.Amount.Sign() <= 0:
		return r.fail(ClassPrecondition, "Swap amount must be greater than zero."), false
	}
	balance, err := o.deps.Chain.NativeBalance(ctx, common.HexToAddress(req.Wallet), nil)
	if err != nil {
		return r.failErr(err), false
	}
	native := id.FromBaseUnits(balance, 18)
	if native.LessThan(o.settings.MinGasReserve) {
		r.log("Native balance "+native.String()+" below reserve "+o.settings.MinGasReserve.String(), false)
		return r.fail(ClassPrecondition, insufficientNativeReason(o.settings.MinGasReserve)), false
	}
	return Result{}, true
}

// execute runs the aggregator steps. s is nil for quotes.
func (o *Orchestrator) execute(ctx context.Context, r *run, req Request, wallet common.Address, s signer.Signer) Result {
	agg := o.deps.Aggregator

	r.enter("Getting tokens in and out from chain")
	if _, err := agg.Chain(ctx, req.Chain); err != nil {
		return r.failErr(err)
	}
	from, okIn, err := agg.Token(ctx, req.Chain, req.TokenIn)
	if err != nil {
		return r.failErr(err)
	}
	to, okOut, err := agg.Token(ctx, req.Chain, req.TokenOut)
	if err != nil {
		return r.failErr(err)
	}
	if !okIn || !okOut {
		r.log(fmt.Sprintf("Token not supported on %s: %s=%t %s=%t", req.Chain, req.TokenIn, okIn, req.TokenOut, okOut), false)
		return r.fail(ClassNoRoute, noRouteReason(req.TokenIn, req.TokenOut))
	}
	in, out := toToken(req.Chain, from), toToken(req.Chain, to)
	r.res.TokenIn, r.res.TokenOut = in, out

	r.enter("Getting amount from token amount")
	raw := id.ToBaseUnits(req.Amount, in.Decimals)
	if raw.Sign() <= 0 {
		return r.fail(ClassPrecondition, "Swap amount is below the smallest unit of "+in.Symbol+".")
	}
	r.res.AmountSent = req.Amount

	r.enter("Getting quote for swap")
	quote, err := agg.Quote(ctx, swing.QuoteRequest{
		Chain:      req.Chain,
		From:       from,
		To:         to,
		Wallet:     wallet.Hex(),
		AmountBase: raw.String(),
	})
	if err != nil {
		return r.failErr(err)
	}
	if len(quote.Routes) == 0 {
		return r.fail(ClassNoRoute, noRouteReason(in.Symbol, out.Symbol))
	}
	routes := append([]swing.Route(nil), quote.Routes...)
	sort.SliceStable(routes, func(i, j int) bool { return routes[i].HopCount() < routes[j].HopCount() })
	best := routes[0]

	amountOut, err := routeAmount(best, out.Decimals)
	if err != nil {
		return r.failErr(err)
	}
	r.res.AmountReceived = amountOut
	r.res.TotalFeeUSD = best.TotalFeeUSD()
	r.res.QuotedRate = amountOut.DivRound(req.Amount, 18)
	r.res.Quotes = summarize(routes, out.Decimals)
	r.log(fmt.Sprintf("Best quote: %s %s for %s %s", amountOut, out.Symbol, req.Amount, in.Symbol), false)
	r.log(fmt.Sprintf("Route: %s (%d hops)", r.res.Quotes[0], best.HopCount()), false)
	bridge := best.Bridge()
	r.log("Bridge: "+bridge, false)

	if req.QuoteOnly {
		r.res.Success = true
		r.res.Class = ClassSuccess
		r.res.Message = quoteMessage(r.res)
		return r.res
	}

	if req.ApprovedRate != nil {
		limit := req.ApprovedRate.Mul(decimal.NewFromInt(1).Add(req.MaxSlippagePercent.Div(decimal.NewFromInt(100))))
		if r.res.QuotedRate.GreaterThan(limit) {
			r.log(fmt.Sprintf("Rate %s exceeds approved %s by more than %s%%", r.res.QuotedRate, req.ApprovedRate, req.MaxSlippagePercent), false)
			return r.fail(ClassRateMoved, fmt.Sprintf(msgRateMoved, req.MaxSlippagePercent, r.res.QuotedRate))
		}
	}

	allowanceReq := swing.AllowanceRequest{Chain: req.Chain, From: from, To: to, Bridge: bridge, Wallet: wallet.Hex()}
	if !isNative(in) {
		if res, ok := o.ensureAllowance(ctx, r, s, allowanceReq, raw); !ok {
			return res
		}
	}

	r.enter("Preparing data for swap")
	sent, err := agg.Send(ctx, swing.SendRequest{
		Chain:      req.Chain,
		From:       from,
		To:         to,
		Wallet:     wallet.Hex(),
		AmountBase: raw.String(),
		Route:      best,
	})
	if err != nil {
		return r.failErr(err)
	}
	size := compactSize(sent.RawTx)
	r.log(fmt.Sprintf("Call data: %d bytes", size), false)
	if !isNative(in) && !isNative(out) && o.settings.MaxCallDataLength > 0 && size > o.settings.MaxCallDataLength {
		r.log("Swap route is too long - cancelling transaction", false)
		return r.fail(ClassRouteTooLong, msgRouteTooLong)
	}
	txReq, err := o.txRequest(r, sent.Tx)
	if err != nil {
		return r.failErr(err)
	}

	r.enter("Sending swap transaction")
	tx, err := o.deps.Tx.Submit(ctx, s, txReq)
	if err != nil {
		return r.failErr(err)
	}
	hash := tx.Hash().Hex()
	r.res.TxHash = hash
	r.res.ExplorerURL = registry.ExplorerTxURL(o.chain.ExplorerURL, o.chain.ChainID, hash)

	r.enter("Waiting for transaction to be mined. This will take max 1 minute. Tx: " + hash)
	rcpt, err := o.deps.Tx.WaitMined(ctx, tx.Hash(), o.settings.ConfirmTimeout)
	if err != nil {
		if clierr.Is(err, clierr.CodeActionTimeout) {
			return r.fail(ClassTimeout, fmt.Sprintf(msgTimeout, r.res.ExplorerURL))
		}
		if ctx.Err() != nil {
			r.log("Confirmation wait cancelled: "+err.Error(), false)
			return r.fail(ClassInternal, fmt.Sprintf(msgUnknown, r.step))
		}
		return r.failErr(err)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		r.log("Swap transaction reverted: "+hash, false)
		return r.fail(ClassReverted, msgReverted)
	}
	return o.settle(ctx, r, req, s, wallet, tx, rcpt)
}

func (o *Orchestrator) ensureAllowance(ctx context.Context, r *run, s signer.Signer, req swing.AllowanceRequest, raw *big.Int) (Result, bool) {
	agg := o.deps.Aggregator
	r.enter("Getting allowance for swap")
	allowance, err := agg.Allowance(ctx, req)
	if err != nil {
		return r.failErr(err), false
	}
	r.log("Allowance: "+allowance, false)
	current, ok := new(big.Int).SetString(allowance, 10)
	if ok && current.Cmp(raw) >= 0 {
		return Result{}, true
	}

	r.enter("Getting approval call data for swap")
	approval, err := agg.Approve(ctx, swing.ApproveRequest{AllowanceRequest: req, AmountBase: raw.String()})
	if err != nil {
		return r.failErr(err), false
	}
	if len(approval.Tx) == 0 {
		return r.failErr(clierr.New(clierr.CodeUnavailable, "swing approve returned no transaction")), false
	}

	r.enter("Approving swap")
	txReq, err := o.txRequest(r, approval.Tx[0])
	if err != nil {
		return r.failErr(err), false
	}
	tx, err := o.deps.Tx.Submit(ctx, s, txReq)
	if err != nil {
		return r.failErr(err), false
	}
	r.log("Approval transaction sent: "+tx.Hash().Hex(), false)
	rcpt, err := o.deps.Tx.WaitMined(ctx, tx.Hash(), o.settings.ConfirmTimeout)
	if err != nil {
		if clierr.Is(err, clierr.CodeActionTimeout) {
			url := registry.ExplorerTxURL(o.chain.ExplorerURL, o.chain.ChainID, tx.Hash().Hex())
			return r.fail(ClassTimeout, fmt.Sprintf(msgTimeout, url)), false
		}
		return r.failErr(err), false
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		r.log("Approval transaction reverted: "+tx.Hash().Hex(), false)
		return r.fail(ClassReverted, msgReverted), false
	}
	return Result{}, true
}

// txRequest converts aggregator call-data, raising gas and fees to the
// configured floors without lowering higher aggregator values.
func (o *Orchestrator) txRequest(r *run, data swing.TxData) (execution.TxRequest, error) {
	to, err := data.ToAddress()
	if err != nil {
		return execution.TxRequest{}, clierr.Wrap(clierr.CodeActionPlan, "swing transaction target", err)
	}
	calldata, err := data.Calldata()
	if err != nil {
		return execution.TxRequest{}, clierr.Wrap(clierr.CodeActionPlan, "swing transaction data", err)
	}
	req := execution.TxRequest{
		To:           to,
		Value:        data.Value.Int,
		Data:         calldata,
		GasFeeCap:    data.MaxFeePerGas.Int,
		GasTipCap:    data.MaxPriorityFeePerGas.Int,
		MinGas:       o.settings.GasLimitFloor,
		MinGasFeeCap: o.minFee,
		MinGasTipCap: o.minTip,
	}
	if req.GasFeeCap == nil && data.GasPrice.Int != nil {
		req.GasFeeCap = data.GasPrice.Int
	}
	if limit := data.Limit(); limit != nil && limit.IsUint64() {
		req.Gas = limit.Uint64()
		if req.Gas > o.settings.GasLimitFloor {
			r.log(fmt.Sprintf("Using Swing-provided gas limit: %d", req.Gas), false)
		}
	}
	return req, nil
}

// settle runs receipt analysis and commission collection for a confirmed
// swap. Neither can turn the swap into a failure.
func (o *Orchestrator) settle(ctx context.Context, r *run, req Request, s signer.Signer, wallet common.Address, tx *types.Transaction, rcpt *types.Receipt) Result {
	var (
		wg   sync.WaitGroup
		paid commission.Result
	)
	if o.deps.Commission != nil {
		r.log("Sending commission to company wallet", false)
		wg.Add(1)
		go func() {
			defer wg.Done()
			paid = o.deps.Commission.Collect(ctx, s)
		}()
	}

	in, out := r.res.TokenIn, r.res.TokenOut
	amounts, err := o.deps.Analyzer.Extract(ctx, tx, rcpt, wallet, in, out)
	if err == nil && (amounts.Sent.IsZero() || amounts.Received.IsZero()) {
		if again, againErr := o.deps.Analyzer.ExtractByHash(ctx, tx.Hash(), in, out); againErr == nil {
			amounts = again
		}
	}
	if err != nil {
		r.log("Error getting swap details from tx: "+err.Error(), false)
		r.res.ActualAmountSent = req.Amount
		r.res.ActualAmountReceived = decimal.Zero
		r.res.GasFeeNative = id.FromBaseUnits(receipt.GasFee(tx, rcpt), 18)
	} else {
		r.res.ActualAmountSent = amounts.Sent
		r.res.ActualAmountReceived = amounts.Received
		r.res.ActualRate = amounts.Rate
		r.res.GasFeeNative = amounts.GasFee
	}

	wg.Wait()
	r.res.CommissionPaidNative = decimal.Zero
	if o.deps.Commission != nil {
		r.res.CommissionWallet = paid.Destination
		r.res.CommissionTxHash = paid.TxHash
		if paid.TxHash != "" {
			r.log("Commission transaction sent: "+paid.TxHash, false)
		}
		if paid.Err != nil {
			r.log("Commission transaction failed: "+paid.Err.Error(), false)
		} else {
			r.res.CommissionPaidNative = paid.AmountPaidNative
		}
		if paid.TxHash != "" {
			status := "SUCCESS"
			if paid.Err != nil {
				status = "FAILED"
			}
			r.log(fmt.Sprintf("Commission tx hash: %s, Status: %s", paid.TxHash, status), false)
		}
	}

	r.res.Success = true
	r.res.Class = ClassSuccess
	r.res.Message = successMessage(r.res)
	r.log("Swap confirmed: "+r.res.TxHash, false)
	return r.res
}

func (o *Orchestrator) openRecord(ctx context.Context, r *run, req Request) *storage.Record {
	if o.deps.Records == nil {
		return nil
	}
	action := storage.ActionSwap
	if req.QuoteOnly {
		action = storage.ActionSwapQuote
	}
	rec := &storage.Record{
		AccountID:    req.UserID,
		ActionType:   action,
		Input:        storage.Leg{Currency: req.TokenIn, Network: req.Chain, Wallet: req.Wallet},
		Output:       storage.Leg{Currency: req.TokenOut, Network: req.Chain, Wallet: req.Wallet},
		ApprovalType: "chat",
	}
	if err := o.deps.Records.CreateRecord(context.WithoutCancel(ctx), rec); err != nil {
		o.deps.Metrics.AuditWriteFailed()
		o.logger.Error("create swap record failed", zap.Error(err))
		return nil
	}
	r.res.RecordID = rec.ID
	return rec
}

func (o *Orchestrator) closeRecord(ctx context.Context, rec *storage.Record, req Request, res Result) {
	if rec == nil {
		return
	}
	out := storage.Outcome{Status: storage.StatusFailed, ResultData: res, UserMessage: res.Reason}
	switch {
	case res.Success && req.QuoteOnly:
		out.Status = storage.StatusSuccess
		out.UserMessage = res.Message
	case res.Success:
		out.Status = storage.StatusSuccess
		out.UserMessage = fmt.Sprintf("Successfully initiated swap from %s to %s. Transaction hash: %s", req.TokenIn, req.TokenOut, res.TxHash)
		out.CommissionAmount = decimal.NewNullDecimal(res.CommissionPaidNative)
		out.CommissionWallet = res.CommissionWallet
	case res.Class == ClassInternal:
		out.Status = storage.StatusError
		out.UserMessage = fmt.Sprintf("Failed to swap from %s to %s: %s", req.TokenIn, req.TokenOut, res.Reason)
	}
	if _, err := o.deps.Records.CompleteRecord(context.WithoutCancel(ctx), rec.ID, out); err != nil {
		o.deps.Metrics.AuditWriteFailed()
		o.logger.Error("complete swap record failed", zap.String("record", rec.ID), zap.Error(err))
	}
}

func toToken(chain string, t swing.Token) id.Token {
	return id.Token{Chain: chain, Symbol: strings.ToUpper(t.Symbol), Address: t.Address, Decimals: int(t.Decimals)}
}

func isNative(t id.Token) bool {
	return t.IsNative() || strings.EqualFold(t.Symbol, "ETH")
}

// routeAmount is the route's output in token units. A route may state its
// own decimals.
func routeAmount(route swing.Route, decimals int) (decimal.Decimal, error) {
	raw, ok := new(big.Int).SetString(strings.TrimSpace(route.Quote.Amount), 10)
	if !ok {
		return decimal.Zero, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("swing quote amount %q is not an integer", route.Quote.Amount))
	}
	if route.Quote.Decimals > 0 {
		decimals = int(route.Quote.Decimals)
	}
	return id.FromBaseUnits(raw, decimals), nil
}

func summarize(routes []swing.Route, decimals int) []QuoteSummary {
	n := len(routes)
	if n > 3 {
		n = 3
	}
	out := make([]QuoteSummary, 0, n)
	for i, route := range routes[:n] {
		amount, _ := routeAmount(route, decimals)
		integration := route.Quote.Integration
		if integration == "" {
			integration = route.Bridge()
		}
		out = append(out, QuoteSummary{
			Rank:        i + 1,
			Integration: integration,
			Hops:        route.HopCount(),
			AmountOut:   amount,
			FeeUSD:      route.TotalFeeUSD(),
		})
	}
	return out
}

func quoteMessage(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Swap %s %s to %s on %s\n", res.AmountSent, res.TokenIn.Symbol, res.TokenOut.Symbol, res.Chain)
	fmt.Fprintf(&b, "You will receive approximately %s %s\n", res.AmountReceived, res.TokenOut.Symbol)
	fmt.Fprintf(&b, "Rate: %s\n", res.QuotedRate)
	fmt.Fprintf(&b, "Total fees: %s USD\n", res.TotalFeeUSD)
	b.WriteString("Best routes:")
	for _, q := range res.Quotes {
		fmt.Fprintf(&b, "\n%d. %s", q.Rank, q)
	}
	return b.String()
}

func successMessage(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Swapped %s %s for %s %s.\n", res.ActualAmountSent, res.TokenIn.Symbol, res.ActualAmountReceived, res.TokenOut.Symbol)
	fmt.Fprintf(&b, "Transaction: %s\n", res.ExplorerURL)
	fmt.Fprintf(&b, "Gas fee: %s ETH", res.GasFeeNative)
	if res.CommissionPaidNative.Sign() > 0 {
		fmt.Fprintf(&b, "\nCommission: %s ETH", res.CommissionPaidNative)
	}
	return b.String()
}
