package app

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/swap"
)

func isolate(t *testing.T) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	t.Setenv("PEASY_STORE_PATH", filepath.Join(tmp, "peasy.db"))
	t.Setenv("PEASY_STORE_LOCK_PATH", filepath.Join(tmp, "peasy.lock"))
	t.Setenv("PEASY_STORE_DRIVER", "sqlite")
	t.Setenv("PEASY_REDIS_ADDR", "")
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := NewRunnerWithWriters(&stdout, &stderr).Run(args)
	return code, stdout.String(), stderr.String()
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("peasy swap quote"); got != "swap quote" {
		t.Fatalf("unexpected trim result: %s", got)
	}
	if got := trimRootPath("peasy"); got != "peasy" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestRunnerChainsList(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "chains", "list", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var out []map[string]any
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout)
	}
	found := false
	for _, c := range out {
		if c["slug"] == "base" && c["default"] == true {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected base as default chain, got %s", stdout)
	}
}

func TestRunnerTokensListSelect(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "tokens", "list", "--results-only", "--select", "symbol")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var out []map[string]any
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout)
	}
	if len(out) == 0 || out[0]["symbol"] != "ETH" {
		t.Fatalf("expected native token first, got %s", stdout)
	}
	if _, ok := out[0]["address"]; ok {
		t.Fatalf("field projection failed: %s", stdout)
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, "chains", "list", "--enable-commands", "swap quote", "--results-only")
	if code != 16 {
		t.Fatalf("expected exit 16, got %d stderr=%s", code, stderr)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(stderr), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, stderr)
	}
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
}

func TestRunnerUsageErrors(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, "swap", "quote", "--from", "ETH")
	if code != 2 {
		t.Fatalf("expected exit 2 for missing flags, got %d stderr=%s", code, stderr)
	}
	code, _, stderr = run(t, "wallet", "balance", "--currency", "ETH", "--wallet", "0x123")
	if code != 2 || !strings.Contains(stderr, "Invalid Ethereum address format") {
		t.Fatalf("expected invalid address usage error, got %d stderr=%s", code, stderr)
	}
}

func TestRunnerActionsCatalog(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "actions", "get", "swapCrypto", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var info map[string]any
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout)
	}
	if info["required"].(float64) != 5 {
		t.Fatalf("unexpected info: %s", stdout)
	}

	code, _, _ = run(t, "actions", "get", "mint")
	if code != 24 {
		t.Fatalf("expected not found exit 24, got %d", code)
	}
}

func TestRunnerContactsRoundTrip(t *testing.T) {
	isolate(t)
	addr := "0x1111111111111111111111111111111111111111"
	if code, _, stderr := run(t, "contacts", "add", "--user", "u1", "--name", "Alice", "--wallet", addr, "--telegram", "@alice"); code != 0 {
		t.Fatalf("add failed: %d %s", code, stderr)
	}
	if code, _, _ := run(t, "contacts", "add", "--user", "u1", "--name", "alice", "--wallet", addr); code != 25 {
		t.Fatalf("expected conflict exit 25, got %d", code)
	}
	code, stdout, stderr := run(t, "contacts", "find", "--user", "u1", "--name", "ali", "--results-only")
	if code != 0 || !strings.Contains(stdout, addr) {
		t.Fatalf("find failed: %d %s %s", code, stdout, stderr)
	}
	if code, _, stderr := run(t, "contacts", "remove", "--user", "u1", "--name", "Alice"); code != 0 {
		t.Fatalf("remove failed: %d %s", code, stderr)
	}
	code, stdout, _ = run(t, "contacts", "list", "--user", "u1", "--results-only")
	if code != 0 || strings.TrimSpace(stdout) != "[]" {
		t.Fatalf("expected empty list, got %d %s", code, stdout)
	}
}

func TestSwapFailureExitCodes(t *testing.T) {
	cases := map[swap.Class]int{
		swap.ClassNoRoute:      21,
		swap.ClassHighSlippage: 21,
		swap.ClassReverted:     22,
		swap.ClassTimeout:      23,
		swap.ClassInternal:     1,
	}
	for class, want := range cases {
		err := swapFailure(swap.Result{Class: class, Reason: "x"})
		if got := clierr.ExitCode(err); got != want {
			t.Fatalf("%s: expected exit %d, got %d", class, want, got)
		}
	}
}
