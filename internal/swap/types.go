package swap

import (
	"github.com/shopspring/decimal"

	"github.com/MoseikiApp/peasy-ai/internal/id"
)

// Class is the failure taxonomy of a swap. Successful results carry
// ClassSuccess.
type Class string

const (
	ClassSuccess           Class = "success"
	ClassPrecondition      Class = "precondition"
	ClassNoRoute           Class = "no_route"
	ClassRateMoved         Class = "rate_moved"
	ClassRouteTooLong      Class = "route_too_long"
	ClassInsufficientFunds Class = "insufficient_funds"
	ClassHighSlippage      Class = "high_slippage"
	ClassReverted          Class = "reverted"
	ClassTimeout           Class = "timeout"
	ClassUnknown           Class = "unknown"
	ClassInternal          Class = "internal"
)

// Request asks for a quote (QuoteOnly) or an executed swap on one chain.
type Request struct {
	UserID             string
	Wallet             string
	Chain              string
	TokenIn            string
	TokenOut           string
	Amount             decimal.Decimal
	QuoteOnly          bool
	ApprovedRate       *decimal.Decimal
	MaxSlippagePercent decimal.Decimal
}

// QuoteSummary describes one of the best routes offered by the aggregator.
type QuoteSummary struct {
	Rank        int             `json:"rank"`
	Integration string          `json:"integration"`
	Hops        int             `json:"hops"`
	AmountOut   decimal.Decimal `json:"amount_out"`
	FeeUSD      decimal.Decimal `json:"fee_usd"`
}

func (q QuoteSummary) String() string {
	return q.Integration + " (Fee: " + q.FeeUSD.String() + " USD)"
}

// Result is the outcome of a swap or quote. Success discriminates: failures
// carry Class and Reason, successes carry the amounts.
type Result struct {
	Success     bool   `json:"success"`
	Class       Class  `json:"class"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
	RecordID    string `json:"record_id,omitempty"`
	Chain       string `json:"chain"`
	Wallet      string `json:"wallet"`
	TxHash      string `json:"tx_hash,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`

	TokenIn  id.Token `json:"token_in"`
	TokenOut id.Token `json:"token_out"`

	AmountSent           decimal.Decimal  `json:"amount_sent"`
	AmountReceived       decimal.Decimal  `json:"amount_received"`
	ActualAmountSent     decimal.Decimal  `json:"actual_amount_sent"`
	ActualAmountReceived decimal.Decimal  `json:"actual_amount_received"`
	ActualRate           *decimal.Decimal `json:"actual_rate,omitempty"`
	QuotedRate           decimal.Decimal  `json:"quoted_rate"`
	TotalFeeUSD          decimal.Decimal  `json:"total_fee_usd"`
	GasFeeNative         decimal.Decimal  `json:"gas_fee_native"`
	CommissionPaidNative decimal.Decimal  `json:"commission_paid_native"`
	CommissionWallet     string           `json:"commission_wallet,omitempty"`
	CommissionTxHash     string           `json:"commission_tx_hash,omitempty"`
	Quotes               []QuoteSummary   `json:"quotes,omitempty"`

	ActionLog []string `json:"action_log"`
}
