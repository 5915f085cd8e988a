package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/shopspring/decimal"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseAmount parses a positive human amount such as "1.25".
func ParseAmount(input string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return decimal.Zero, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if !decimalPattern.MatchString(raw) {
		return decimal.Zero, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount must be in decimal form like 1.23, got %q", input))
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeUsage, "invalid amount", err)
	}
	if !d.IsPositive() {
		return decimal.Zero, clierr.New(clierr.CodeUsage, "amount must be greater than zero")
	}
	return d, nil
}

// ToBaseUnits scales a human amount to integer base units, rounding half away
// from zero when the amount carries more precision than the token.
func ToBaseUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).Round(0).BigInt()
}

// ExactBaseUnits is ToBaseUnits without rounding: extra precision is an error.
func ExactBaseUnits(amount decimal.Decimal, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	if amount.IsNegative() {
		return nil, clierr.New(clierr.CodeUsage, "amount must be non-negative")
	}
	base, err := decimalToBaseUnits(normalizeDecimal(amount.String()), decimals)
	if err != nil {
		return nil, err
	}
	n, _ := new(big.Int).SetString(base, 10)
	return n, nil
}

// FromBaseUnits converts integer base units back to a human amount.
func FromBaseUnits(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

func decimalToBaseUnits(decimal string, decimals int) (string, error) {
	parts := strings.SplitN(decimal, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}

	fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return "0", nil
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return combined, nil
}

func normalizeDecimal(v string) string {
	if !strings.Contains(v, ".") {
		out := strings.TrimLeft(v, "0")
		if out == "" {
			return "0"
		}
		return out
	}
	parts := strings.SplitN(v, ".", 2)
	intPart := strings.TrimLeft(parts[0], "0")
	if intPart == "" {
		intPart = "0"
	}
	fracPart := strings.TrimRight(parts[1], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
