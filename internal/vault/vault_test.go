package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc, err := EncodeSecret(testKey, "pepper")
	if err != nil {
		t.Fatalf("EncodeSecret failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		t.Fatalf("expected base64 output: %v", err)
	}
	if parts := strings.Split(string(raw), ":"); len(parts) != 2 || len(parts[0]) != 32 {
		t.Fatalf("unexpected layout %q", raw)
	}

	got, err := DecodeSecret(enc, "pepper")
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	if got != testKey {
		t.Fatalf("round trip mismatch: %q", got)
	}

	again, _ := EncodeSecret(testKey, "pepper")
	if again == enc {
		t.Fatal("expected a fresh iv per encryption")
	}
}

func TestRoundTripAnyKeyAndSalt(t *testing.T) {
	salts := []string{"x", strings.Repeat("long-salt-", 40), "sél-盐-🔑", "pepper"}
	for i := 0; i < 32; i++ {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			t.Fatalf("rand: %v", err)
		}
		if i%4 == 0 {
			key[0], key[1] = 0, 0
		}
		secret := hex.EncodeToString(key)
		salt := salts[i%len(salts)]

		enc, err := EncodeSecret(secret, salt)
		if err != nil {
			t.Fatalf("EncodeSecret(%s, %q) failed: %v", secret, salt, err)
		}
		got, err := DecodeSecret(enc, salt)
		if err != nil || got != secret {
			t.Fatalf("round trip failed for %s / %q: %q %v", secret, salt, got, err)
		}
	}
}

func TestDecodeKnownVector(t *testing.T) {
	// openssl enc -aes-256-cbc, key sha256("pepper"), iv 000102..0f.
	const enc = "MDAwMTAyMDMwNDA1MDYwNzA4MDkwYTBiMGMwZDBlMGY6NGRhYmM5MzA2N2VmNWE4NGM5YTE0ODg2YmQ2YTMzZDFmNTA3MWIwOGIxZmI2NjZhNTcxNmZjOWQ4NDRmYTBkMGIwNjcxOGMzZmVjNDNmMWZiN2ZiMDdmNWVhMDdlYzk4Njk0ZjExNThmZTgxOTRmNzJhZTNkNmEwYTMzZDhhMDk4ZDQ0NDNlMTg0NzI5OWM0NGJjMWRmNWExYzc1MWM4MA=="
	got, err := DecodeSecret(enc, "pepper")
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	if got != testKey {
		t.Fatalf("unexpected secret %q", got)
	}
	pk, err := crypto.HexToECDSA(got)
	if err != nil {
		t.Fatalf("decoded secret is not a key: %v", err)
	}
	if crypto.PubkeyToAddress(pk.PublicKey) == (common.Address{}) {
		t.Fatal("expected a usable key")
	}
}

func TestEncodeRequiresSalt(t *testing.T) {
	if _, err := EncodeSecret(testKey, ""); !errors.Is(err, ErrMissingSalt) {
		t.Fatalf("expected ErrMissingSalt, got %v", err)
	}
	if _, err := DecodeSecret("abc", ""); !errors.Is(err, ErrMissingSalt) {
		t.Fatalf("expected ErrMissingSalt, got %v", err)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"not base64!",
		base64.StdEncoding.EncodeToString([]byte("no-separator")),
		base64.StdEncoding.EncodeToString([]byte(":abcd")),
		base64.StdEncoding.EncodeToString([]byte("zz:abcd")),
	}
	for _, c := range cases {
		if _, err := DecodeSecret(c, "pepper"); !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("expected ErrInvalidFormat for %q, got %v", c, err)
		}
	}
}

func TestDecodeWithWrongSaltFails(t *testing.T) {
	enc, err := EncodeSecret(testKey, "pepper")
	if err != nil {
		t.Fatalf("EncodeSecret failed: %v", err)
	}
	got, err := DecodeSecret(enc, "salt")
	if err == nil && got == testKey {
		t.Fatal("wrong salt must not recover the secret")
	}
}

func newTestVault(t *testing.T, salt string) *Vault {
	t.Helper()
	tmp := t.TempDir()
	store, err := storage.OpenSQLite(filepath.Join(tmp, "peasy.db"), filepath.Join(tmp, "peasy.lock"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, salt, nil)
}

func TestCreateWalletAndResolveSigner(t *testing.T) {
	v := newTestVault(t, "pepper")
	ctx := context.Background()

	w, err := v.CreateWallet(ctx, "user-1", "", "")
	if err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}
	if !common.IsHexAddress(w.Address) || w.Network != "base" || w.Currency != "ETH" {
		t.Fatalf("unexpected wallet %+v", w)
	}

	s, err := v.ResolveSigner(ctx, common.HexToAddress(w.Address))
	if err != nil {
		t.Fatalf("ResolveSigner failed: %v", err)
	}
	if s.Address() != common.HexToAddress(w.Address) {
		t.Fatalf("signer address %s does not match wallet %s", s.Address().Hex(), w.Address)
	}

	_, err = v.CreateWallet(ctx, "user-1", "base", "ETH")
	if !clierr.Is(err, clierr.CodeConflict) || !errors.Is(err, storage.ErrWalletExists) {
		t.Fatalf("expected wallet conflict, got %v", err)
	}

	again, created, err := v.GetOrCreate(ctx, "user-1", "base", "ETH")
	if err != nil || created || again.Address != w.Address {
		t.Fatalf("GetOrCreate should return existing wallet, got %+v created=%v err=%v", again, created, err)
	}
}

func TestCreateWalletRequiresSalt(t *testing.T) {
	v := newTestVault(t, "")
	if _, err := v.CreateWallet(context.Background(), "user-1", "base", "ETH"); err == nil {
		t.Fatal("expected error without salt")
	}
}

func TestResolveSignerUnknownWallet(t *testing.T) {
	v := newTestVault(t, "pepper")
	_, err := v.ResolveSigner(context.Background(), common.HexToAddress("0x0000000000000000000000000000000000000009"))
	if !clierr.Is(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}
