package policy

import (
	"testing"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
)

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "swap run"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"swap  Quote"}, "swap quote"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	if err := CheckCommandAllowed([]string{"contacts"}, "contacts add"); err != nil {
		t.Fatalf("expected subcommand to be allowed: %v", err)
	}
	err := CheckCommandAllowed([]string{"swap quote", "wallet"}, "swap run")
	if !clierr.Is(err, clierr.CodeBlocked) {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if err := CheckCommandAllowed([]string{"wallet"}, "walletx"); err == nil {
		t.Fatal("prefix must stop at a word boundary")
	}
}
