// Package commission charges the platform fee for a successful swap as a
// separate native transfer.
package commission

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MoseikiApp/peasy-ai/internal/config"
	"github.com/MoseikiApp/peasy-ai/internal/execution"
	"github.com/MoseikiApp/peasy-ai/internal/execution/signer"
	"github.com/MoseikiApp/peasy-ai/internal/id"
	"github.com/MoseikiApp/peasy-ai/internal/metrics"
	"github.com/MoseikiApp/peasy-ai/internal/providers/coinbase"
)

type RateSource interface {
	Spot(ctx context.Context, base, quote string) (coinbase.Rate, error)
}

type Submitter interface {
	Submit(ctx context.Context, s signer.Signer, req execution.TxRequest) (*types.Transaction, error)
	WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

type Amount struct {
	Native  decimal.Decimal
	Wei     *big.Int
	RateUSD decimal.Decimal
}

// Result of one collection. A failed collection has a zero amount and Err set.
type Result struct {
	AmountPaidNative decimal.Decimal
	Destination      string
	TxHash           string
	Err              error
}

type Collector struct {
	rates    RateSource
	tx       Submitter
	settings config.CommissionSettings
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func New(rates RateSource, tx Submitter, settings config.CommissionSettings, m *metrics.Metrics, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Memo == "" {
		settings.Memo = "Peasy - Swap Commission"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = time.Minute
	}
	return &Collector{rates: rates, tx: tx, settings: settings, metrics: m, logger: logger.Named("commission")}
}

func (c *Collector) Destination() string { return c.settings.Wallet }

// Quote prices the commission in native units from the ETH-USD spot rate.
func (c *Collector) Quote(ctx context.Context) Amount {
	rate := c.settings.DefaultRate
	if c.rates != nil {
		spot, err := c.rates.Spot(ctx, "ETH", "USD")
		if err != nil {
			c.logger.Warn("spot rate unavailable, using default", zap.String("default_rate", rate.String()), zap.Error(err))
		} else {
			rate = spot.Rate
		}
	}
	native := NativeFee(c.settings.TargetUSD, rate, c.settings.MinNative, c.settings.MaxNative)
	return Amount{Native: native, Wei: id.ToBaseUnits(native, 18), RateUSD: rate}
}

// NativeFee converts targetUSD at rate and clamps it to [min, max]. A
// non-positive rate charges max.
func NativeFee(targetUSD, rate, min, max decimal.Decimal) decimal.Decimal {
	if rate.Sign() <= 0 {
		return max
	}
	native := targetUSD.DivRound(rate, 18)
	if native.LessThan(min) {
		return min
	}
	if native.GreaterThan(max) {
		return max
	}
	return native
}

// Collect sends the commission from the signer's wallet and waits for its
// own receipt. Failures never propagate: they come back in Result.Err.
func (c *Collector) Collect(ctx context.Context, s signer.Signer) Result {
	res := Result{AmountPaidNative: decimal.Zero, Destination: c.settings.Wallet}
	fail := func(err error) Result {
		res.AmountPaidNative = decimal.Zero
		res.Err = err
		c.metrics.CommissionFailed()
		c.logger.Warn("commission failed", zap.String("tx", res.TxHash), zap.Error(err))
		return res
	}
	if !common.IsHexAddress(c.settings.Wallet) {
		return fail(errors.New("commission wallet is not configured"))
	}
	amount := c.Quote(ctx)
	if amount.Wei.Sign() <= 0 {
		return fail(errors.New("commission amount is zero"))
	}
	tx, err := c.tx.Submit(ctx, s, execution.TxRequest{
		To:    common.HexToAddress(c.settings.Wallet),
		Value: amount.Wei,
		Data:  []byte(c.settings.Memo),
	})
	if err != nil {
		return fail(err)
	}
	res.TxHash = tx.Hash().Hex()
	rcpt, err := c.tx.WaitMined(ctx, tx.Hash(), c.settings.Timeout)
	if err != nil {
		return fail(err)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return fail(fmt.Errorf("commission transaction %s reverted", res.TxHash))
	}
	res.AmountPaidNative = amount.Native
	paid, _ := amount.Native.Float64()
	c.metrics.CommissionPaid(paid)
	c.logger.Info("commission collected", zap.String("tx", res.TxHash), zap.String("amount", amount.Native.String()))
	return res
}
