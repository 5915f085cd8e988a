package swap

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/execution"
	"github.com/MoseikiApp/peasy-ai/internal/providers/swing"
)

const (
	msgInsufficientNative = "You don't have sufficient ETH. Please add at least %s ETH to your wallet to pay for potential gas and swap fees."
	msgNoRoute            = "No swap routes found/available for the pair %s to %s at the moment.\nPlease try again later or use ETH as an intermediate currency."
	msgRateMoved          = "The swap cancelled because the rate has changed more than %s%% from the rate you approved. The new swap rate was %s. Please try again."
	msgRouteTooLong       = "Swap route is too long - it will become too expensive to execute. Please try converting to ETH first."
	msgInsufficientFunds  = "Insufficient funds. Please add more funds to your wallet and try again."
	msgHighSlippage       = "Market price moved too much and the slippage became too high. Please try again by getting a new quote."
	msgReverted           = "An error occurred while executing the transaction and transaction was reverted.\nThis might happen when currency pair is not very common or when market is not very liquid.\nTry converting to ETH first."
	msgTimeout            = "Transaction confirmation timed out. The transaction may still complete. Check it on the explorer: %s"
	msgUnknown            = "Ops! Error occurred in step: %s. Please check your wallet balance and try again."
)

func insufficientNativeReason(reserve decimal.Decimal) string {
	return fmt.Sprintf(msgInsufficientNative, reserve.String())
}

func noRouteReason(in, out string) string {
	return fmt.Sprintf(msgNoRoute, in, out)
}

// classify maps an error raised during step into a failure class and the
// message shown to the user.
func classify(step string, err error) (Class, string) {
	switch {
	case err == nil:
		return ClassUnknown, fmt.Sprintf(msgUnknown, step)
	case swing.IsInsufficientFunds(err) || execution.IsInsufficientFunds(err):
		return ClassInsufficientFunds, withDetails(msgInsufficientFunds, details(err))
	case swing.IsHighSlippage(err):
		return ClassHighSlippage, msgHighSlippage
	case execution.IsReverted(err):
		return ClassReverted, msgReverted
	case clierr.Is(err, clierr.CodeSigner):
		return ClassInternal, withDetails(fmt.Sprintf(msgUnknown, step), err.Error())
	}
	return ClassUnknown, withDetails(fmt.Sprintf(msgUnknown, step), details(err))
}

func details(err error) string {
	if d := swing.Details(err); d != "" {
		return d
	}
	if r := execution.RevertReason(err); r != "" {
		return r
	}
	return err.Error()
}

func withDetails(msg, d string) string {
	if strings.TrimSpace(d) == "" {
		return msg
	}
	return msg + "\nDetails: " + d
}
