package swing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

type Chain struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	NativeToken struct {
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"nativeToken"`
}

type Token struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
	Chain    string `json:"chain"`
}

// Fee is one quote fee line. Swing sends amountUSD as either a string or a
// number.
type Fee struct {
	Type      string `json:"type"`
	AmountUSD USD    `json:"amountUSD"`
}

type RouteQuote struct {
	Amount      string `json:"amount"`
	Decimals    int32  `json:"decimals"`
	Integration string `json:"integration"`
	Fees        []Fee  `json:"fees"`
}

// Route is one aggregator route. Steps is kept raw because /send expects it
// back unchanged.
type Route struct {
	Quote        RouteQuote                 `json:"quote"`
	Steps        json.RawMessage            `json:"route"`
	Distribution map[string]json.RawMessage `json:"distribution"`
}

type routeStep struct {
	Bridge string `json:"bridge"`
}

// HopCount ranks routes: the number of distribution entries, falling back to
// the step count.
func (r Route) HopCount() int {
	if len(r.Distribution) > 0 {
		return len(r.Distribution)
	}
	var steps []json.RawMessage
	if err := json.Unmarshal(r.Steps, &steps); err != nil {
		return 0
	}
	return len(steps)
}

// Bridge is the integration of the first step, used for allowance and approve.
func (r Route) Bridge() string {
	var steps []routeStep
	if err := json.Unmarshal(r.Steps, &steps); err != nil || len(steps) == 0 {
		return r.Quote.Integration
	}
	if steps[0].Bridge == "" {
		return r.Quote.Integration
	}
	return steps[0].Bridge
}

// TotalFeeUSD sums every fee line of the quote.
func (r Route) TotalFeeUSD() decimal.Decimal {
	total := decimal.Zero
	for _, f := range r.Quote.Fees {
		total = total.Add(f.AmountUSD.Decimal)
	}
	return total
}

type QuoteResponse struct {
	Routes []Route `json:"routes"`
}

// TxData is a transaction prepared by Swing.
type TxData struct {
	From                 string   `json:"from,omitempty"`
	To                   string   `json:"to"`
	Data                 string   `json:"data"`
	Value                Quantity `json:"value"`
	Gas                  Quantity `json:"gas"`
	GasLimit             Quantity `json:"gasLimit"`
	GasPrice             Quantity `json:"gasPrice"`
	MaxFeePerGas         Quantity `json:"maxFeePerGas"`
	MaxPriorityFeePerGas Quantity `json:"maxPriorityFeePerGas"`
}

// Limit is gasLimit, or gas when only that is set.
func (t TxData) Limit() *big.Int {
	if t.GasLimit.Int != nil {
		return t.GasLimit.Int
	}
	return t.Gas.Int
}

func (t TxData) ToAddress() (common.Address, error) {
	if !common.IsHexAddress(t.To) {
		return common.Address{}, fmt.Errorf("invalid tx target %q", t.To)
	}
	return common.HexToAddress(t.To), nil
}

func (t TxData) Calldata() ([]byte, error) {
	if strings.TrimSpace(t.Data) == "" || t.Data == "0x" {
		return nil, nil
	}
	return hexutil.Decode(t.Data)
}

type ApproveResponse struct {
	Tx []TxData `json:"tx"`
}

// SendResponse carries the swap transaction. RawTx is the undecoded tx
// object, whose size bounds how expensive a route is to execute.
type SendResponse struct {
	Tx    TxData          `json:"tx"`
	RawTx json.RawMessage `json:"-"`
}

// Quantity decodes hex strings, decimal strings and JSON numbers. A missing
// or empty value leaves Int nil.
type Quantity struct {
	*big.Int
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		q.Int = nil
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	if raw == "" {
		q.Int = nil
		return nil
	}
	v, ok := parseQuantity(raw)
	if !ok {
		return fmt.Errorf("invalid quantity %q", raw)
	}
	q.Int = v
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if q.Int == nil {
		return []byte("null"), nil
	}
	return json.Marshal(q.Int.String())
}

func parseQuantity(raw string) (*big.Int, bool) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		if len(raw) == 2 {
			return new(big.Int), true
		}
		return new(big.Int).SetString(raw[2:], 16)
	}
	if d, err := decimal.NewFromString(raw); err == nil {
		return d.Truncate(0).BigInt(), true
	}
	return nil, false
}

// USD accepts quoted and bare decimals; empty values decode as zero.
type USD struct {
	decimal.Decimal
}

func (u *USD) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		u.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid usd amount %q", raw)
	}
	u.Decimal = d
	return nil
}

func (u USD) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Decimal.String())
}
