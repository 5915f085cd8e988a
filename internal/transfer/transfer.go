// Package transfer sends native ETH or ERC20 tokens from a custodial wallet.
package transfer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MoseikiApp/peasy-ai/internal/balance"
	"github.com/MoseikiApp/peasy-ai/internal/config"
	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/execution"
	"github.com/MoseikiApp/peasy-ai/internal/execution/signer"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/logging"
	"github.com/MoseikiApp/peasy-ai/internal/metrics"
	"github.com/MoseikiApp/peasy-ai/internal/nonceguard"
	"github.com/MoseikiApp/peasy-ai/internal/registry"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
)

// ApprovalAuto marks sends approved inside the chat flow.
const ApprovalAuto = "AUTO"

// Balances is satisfied by *balance.Service.
type Balances interface {
	Resolve(ctx context.Context, currency string) (id.Token, error)
	Balance(ctx context.Context, wallet common.Address, currency string) (balance.Balance, error)
}

type Submitter interface {
	Submit(ctx context.Context, s signer.Signer, req execution.TxRequest) (*types.Transaction, error)
	WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

type Signers interface {
	ResolveSigner(ctx context.Context, address common.Address) (signer.Signer, error)
}

type Deps struct {
	Balances Balances
	Tx       Submitter
	Signers  Signers
	Records  storage.RecordStore
	Locker   *nonceguard.Locker
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type Request struct {
	UserID   string
	From     string
	To       string
	Amount   decimal.Decimal
	Currency string
}

type Result struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	RecordID     string          `json:"record_id,omitempty"`
	Token        id.Token        `json:"token"`
	Amount       decimal.Decimal `json:"amount"`
	From         string          `json:"from"`
	To           string          `json:"to"`
	TxHash       string          `json:"tx_hash,omitempty"`
	ExplorerURL  string          `json:"explorer_url,omitempty"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

type Service struct {
	deps    Deps
	chain   config.ChainSettings
	timeout time.Duration
	erc20   abi.ABI
	logger  *zap.Logger
}

func New(deps Deps, chain config.ChainSettings, confirmTimeout time.Duration) (*Service, error) {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20ABI))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse erc20 abi", err)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = nonceguard.NewLocker()
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 30 * time.Second
	}
	return &Service{deps: deps, chain: chain, timeout: confirmTimeout, erc20: parsed, logger: deps.Logger.Named("transfer")}, nil
}

// check validates req and returns the token and the sender's balance. A
// short balance is reported as a user-facing CodeUsage error.
func (s *Service) check(ctx context.Context, req Request) (id.Token, balance.Balance, error) {
	if !id.IsAddress(req.From) {
		return id.Token{}, balance.Balance{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("Invalid Ethereum address format for \"from\" address: %s", req.From))
	}
	if !id.IsAddress(req.To) {
		return id.Token{}, balance.Balance{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("Invalid Ethereum address format for \"to\" address: %s", req.To))
	}
	if req.Amount.Sign() <= 0 {
		return id.Token{}, balance.Balance{}, clierr.New(clierr.CodeUsage, "Amount must be greater than zero")
	}
	tok, err := s.deps.Balances.Resolve(ctx, req.Currency)
	if err != nil {
		return id.Token{}, balance.Balance{}, err
	}
	bal, err := s.deps.Balances.Balance(ctx, common.HexToAddress(req.From), req.Currency)
	if err != nil {
		return id.Token{}, balance.Balance{}, clierr.Wrap(clierr.CodeUnavailable, "read balance", err)
	}
	if bal.Amount.LessThan(req.Amount) {
		return tok, bal, clierr.New(clierr.CodeUsage, fmt.Sprintf("You don't have enough %s in your wallet. Your balance is %s.", tok.Symbol, bal.Amount))
	}
	return tok, bal, nil
}

// Approval composes the confirmation prompt shown before a send.
func (s *Service) Approval(ctx context.Context, req Request) (string, error) {
	tok, bal, err := s.check(ctx, req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Do you approve sending of %s %s to address %s?\n\nYour current balance:\n %s %s",
		req.Amount, tok.Symbol, req.To, bal.Amount, tok.Symbol), nil
}

// Send transfers req.Amount and waits for the receipt. Validation failures
// return an error and leave no record; failures after the record is opened
// complete it as ERROR.
func (s *Service) Send(ctx context.Context, req Request) (Result, error) {
	tok, before, err := s.check(ctx, req)
	if err != nil {
		return Result{}, err
	}
	from := common.HexToAddress(req.From)
	to := common.HexToAddress(req.To)
	kind, action := "erc20", storage.ActionCryptoTransfer
	if tok.IsNative() {
		kind, action = "native", storage.ActionNativeTransfer
	}
	logger := s.logger.With(logging.Wallet(req.From), zap.String("kind", kind), zap.String("token", tok.Symbol))

	unlock := s.deps.Locker.Lock(big.NewInt(s.chain.ChainID), from)
	defer unlock()

	res := Result{Token: tok, Amount: req.Amount, From: from.Hex(), To: to.Hex()}
	rec := &storage.Record{
		AccountID:  req.UserID,
		ActionType: action,
		Input: storage.Leg{
			Currency:      tok.Symbol,
			Network:       s.chain.Slug,
			Wallet:        from.Hex(),
			BalanceBefore: decimal.NewNullDecimal(before.Amount),
		},
		Output:       storage.Leg{Currency: tok.Symbol, Network: s.chain.Slug, Wallet: to.Hex()},
		ApprovalType: ApprovalAuto,
		UserMessage:  fmt.Sprintf("Processing your transfer of %s %s...", req.Amount, tok.Symbol),
	}
	if s.deps.Records != nil {
		if err := s.deps.Records.CreateRecord(context.WithoutCancel(ctx), rec); err != nil {
			s.deps.Metrics.AuditWriteFailed()
			logger.Error("create transfer record failed", zap.Error(err))
			rec = nil
		} else {
			res.RecordID = rec.ID
		}
	}

	hash, err := s.submit(ctx, from, to, tok, req.Amount)
	res.TxHash = hash
	if hash != "" {
		res.ExplorerURL = registry.ExplorerTxURL(s.chain.ExplorerURL, s.chain.ChainID, hash)
	}
	if err != nil {
		res.Message = fmt.Sprintf("Failed to send %s %s: %v", req.Amount, tok.Symbol, err)
		logger.Warn("transfer failed", zap.String("tx", hash), zap.Error(err))
		s.complete(ctx, rec, storage.Outcome{Status: storage.StatusError, ResultData: res, UserMessage: res.Message})
		s.deps.Metrics.ObserveTransfer(kind, "error")
		return res, err
	}

	out := storage.Outcome{Status: storage.StatusSuccess}
	if after, err := s.deps.Balances.Balance(ctx, from, req.Currency); err == nil {
		res.BalanceAfter = after.Amount
		out.InputBalanceAfter = decimal.NewNullDecimal(after.Amount)
	} else {
		logger.Warn("read balance after transfer", zap.Error(err))
	}
	if recv, err := s.deps.Balances.Balance(ctx, to, req.Currency); err == nil {
		out.OutputBalanceAfter = decimal.NewNullDecimal(recv.Amount)
	}
	res.Success = true
	res.Message = fmt.Sprintf("Successfully sent %s %s to %s. Transaction hash: %s\n\nYour current balance:\n %s %s",
		req.Amount, tok.Symbol, to.Hex(), hash, res.BalanceAfter, tok.Symbol)
	out.ResultData = res
	out.UserMessage = res.Message
	s.complete(ctx, rec, out)
	s.deps.Metrics.ObserveTransfer(kind, "success")
	logger.Info("transfer confirmed", zap.String("tx", hash))
	return res, nil
}

func (s *Service) submit(ctx context.Context, from, to common.Address, tok id.Token, amount decimal.Decimal) (string, error) {
	sg, err := s.deps.Signers.ResolveSigner(ctx, from)
	if err != nil {
		return "", err
	}
	defer signer.Release(sg)
	raw, err := id.ExactBaseUnits(amount, tok.Decimals)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, "amount", err)
	}
	txReq := execution.TxRequest{To: to, Value: raw}
	if !tok.IsNative() {
		data, err := s.erc20.Pack("transfer", to, raw)
		if err != nil {
			return "", clierr.Wrap(clierr.CodeInternal, "encode transfer", err)
		}
		txReq = execution.TxRequest{To: common.HexToAddress(tok.Address), Value: big.NewInt(0), Data: data}
	}
	tx, err := s.deps.Tx.Submit(ctx, sg, txReq)
	if err != nil {
		return "", err
	}
	hash := tx.Hash().Hex()
	rcpt, err := s.deps.Tx.WaitMined(ctx, tx.Hash(), s.timeout)
	if err != nil {
		return hash, err
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return hash, clierr.New(clierr.CodeActionSim, "transaction "+hash+" reverted")
	}
	return hash, nil
}

func (s *Service) complete(ctx context.Context, rec *storage.Record, out storage.Outcome) {
	if rec == nil || s.deps.Records == nil {
		return
	}
	if _, err := s.deps.Records.CompleteRecord(context.WithoutCancel(ctx), rec.ID, out); err != nil {
		s.deps.Metrics.AuditWriteFailed()
		s.logger.Error("complete transfer record failed", zap.String("record", rec.ID), zap.Error(err))
	}
}
