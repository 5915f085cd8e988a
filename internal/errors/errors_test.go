package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCodeAndIs(t *testing.T) {
	base := New(CodeActionTimeout, "swap confirmation timed out")
	wrapped := fmt.Errorf("swap run: %w", base)
	if got := ExitCode(wrapped); got != 23 {
		t.Fatalf("expected exit 23, got %d", got)
	}
	if !Is(wrapped, CodeActionTimeout) || Is(wrapped, CodeUsage) {
		t.Fatal("Is must match the carried code only")
	}
	if ExitCode(errors.New("plain")) != int(CodeInternal) {
		t.Fatal("untyped errors map to internal")
	}
	if ExitCode(nil) != 0 {
		t.Fatal("nil maps to success")
	}
}

func TestUserMessage(t *testing.T) {
	err := Wrap(CodeUsage, "You don't have enough USDC in your wallet.", errors.New("balance 1 < 5"))
	if err.Error() != "You don't have enough USDC in your wallet.: balance 1 < 5" {
		t.Fatalf("unexpected Error(): %q", err.Error())
	}
	if got := UserMessage(fmt.Errorf("send: %w", err)); got != "You don't have enough USDC in your wallet." {
		t.Fatalf("unexpected user message: %q", got)
	}
	if got := UserMessage(errors.New("rpc down")); got != "rpc down" {
		t.Fatalf("unexpected user message: %q", got)
	}
}
