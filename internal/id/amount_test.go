package id

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestToBaseUnitsRoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int
		want     string
	}{
		{"1", 6, "1000000"},
		{"1.25", 6, "1250000"},
		{"0.0000005", 6, "1"},
		{"0.0000004", 6, "0"},
		{"2.5", 0, "3"},
		{"0.1", 18, "100000000000000000"},
	}
	for _, tc := range cases {
		got := ToBaseUnits(decimal.RequireFromString(tc.amount), tc.decimals)
		if got.String() != tc.want {
			t.Fatalf("ToBaseUnits(%s, %d) = %s, want %s", tc.amount, tc.decimals, got, tc.want)
		}
	}
}

func TestExactBaseUnitsRejectsExtraPrecision(t *testing.T) {
	if _, err := ExactBaseUnits(decimal.RequireFromString("1.1234567"), 6); err == nil {
		t.Fatal("expected precision error")
	}
	got, err := ExactBaseUnits(decimal.RequireFromString("1.25"), 6)
	if err != nil {
		t.Fatalf("ExactBaseUnits failed: %v", err)
	}
	if got.String() != "1250000" {
		t.Fatalf("unexpected base units %s", got)
	}
}

func TestFromBaseUnits(t *testing.T) {
	got := FromBaseUnits(big.NewInt(1500000), 6)
	if !got.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected amount %s", got)
	}
	if !FromBaseUnits(nil, 18).IsZero() {
		t.Fatal("nil base units should be zero")
	}
}

func TestParseAmountValidation(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0", "1e5"} {
		if _, err := ParseAmount(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
	d, err := ParseAmount(" 0.5 ")
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if d.String() != "0.5" {
		t.Fatalf("unexpected amount %s", d)
	}
}
