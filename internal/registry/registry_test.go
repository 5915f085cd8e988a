package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestABIConstantsParse(t *testing.T) {
	for _, raw := range []string{ERC20ABI, NativePayoutEventsABI} {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			t.Fatalf("failed to parse abi json: %v", err)
		}
		if len(parsed.Methods)+len(parsed.Events) == 0 {
			t.Fatal("expected abi entries")
		}
	}
	erc20, _ := abi.JSON(strings.NewReader(ERC20ABI))
	// keccak256("Transfer(address,address,uint256)")
	if got := erc20.Events["Transfer"].ID.Hex(); got != "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef" {
		t.Fatalf("unexpected Transfer topic %s", got)
	}
}

func TestDefaultRPCURL(t *testing.T) {
	if rpc, ok := DefaultRPCURL(8453); !ok || rpc != "https://mainnet.base.org" {
		t.Fatalf("expected base rpc default, got ok=%v rpc=%q", ok, rpc)
	}
	if _, err := ResolveRPCURL("", 999999); err == nil {
		t.Fatal("expected error for unknown chain without override")
	}
	if got, _ := ResolveRPCURL(" http://localhost:8545 ", 999999); got != "http://localhost:8545" {
		t.Fatalf("unexpected override %q", got)
	}
}

func TestExplorerTxURL(t *testing.T) {
	if got := ExplorerTxURL("", 8453, "0xabc"); got != "https://basescan.org/tx/0xabc" {
		t.Fatalf("unexpected explorer url %q", got)
	}
	if got := ExplorerTxURL("https://custom.scan/", 8453, "0xabc"); got != "https://custom.scan/tx/0xabc" {
		t.Fatalf("unexpected override url %q", got)
	}
}

func TestIsAllowedProviderURL(t *testing.T) {
	cases := []struct {
		provider string
		endpoint string
		want     bool
	}{
		{"swing", "", true},
		{"swing", "https://swap.prod.swing.xyz/v0/transfer", true},
		{"swing", "http://127.0.0.1:9999/v0/transfer", true},
		{"swing", "http://swap.prod.swing.xyz/v0/transfer", false},
		{"swing", "https://evil.example/v0/transfer", false},
		{"coinbase", "https://api.coinbase.com/v2", true},
		{"unknown", "https://api.coinbase.com/v2", false},
	}
	for _, tc := range cases {
		if got := IsAllowedProviderURL(tc.provider, tc.endpoint); got != tc.want {
			t.Fatalf("IsAllowedProviderURL(%q, %q) = %v, want %v", tc.provider, tc.endpoint, got, tc.want)
		}
	}
}
