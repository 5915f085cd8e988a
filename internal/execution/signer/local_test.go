package signer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func TestNewLocalSignerSignsDynamicFeeTx(t *testing.T) {
	s, err := NewLocalSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
	to := common.HexToAddress("0x0000000000000000000000000000000000000001")
	chainID := big.NewInt(8453)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		To:        &to,
		Value:     big.NewInt(0),
		Gas:       21_000,
		GasFeeCap: big.NewInt(3_000_000_000),
		GasTipCap: big.NewInt(2_000_000_000),
	})
	signed, err := s.SignTx(chainID, tx)
	if err != nil {
		t.Fatalf("SignTx failed: %v", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if from != s.Address() {
		t.Fatalf("sender mismatch: %s != %s", from.Hex(), s.Address().Hex())
	}
}

func TestNewLocalSignerAcceptsPrefix(t *testing.T) {
	a, err := NewLocalSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	b, err := NewLocalSigner(" 0x" + testPrivateKey + "\n")
	if err != nil {
		t.Fatalf("NewLocalSigner with prefix failed: %v", err)
	}
	if a.Address() != b.Address() {
		t.Fatal("prefix changed derived address")
	}
}

func TestNewLocalSignerRejectsBadKeys(t *testing.T) {
	for _, in := range []string{"", "0x", "zz", "1234"} {
		if _, err := NewLocalSigner(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
	var nilSigner *LocalSigner
	if _, err := nilSigner.SignTx(big.NewInt(1), types.NewTx(&types.LegacyTx{})); err == nil {
		t.Fatal("expected error from nil signer")
	}
}

func TestReleaseDropsKey(t *testing.T) {
	s, err := NewLocalSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	addr := s.Address()
	Release(s)
	if s.Address() != addr {
		t.Fatal("release must keep the address")
	}
	if _, err := s.SignTx(big.NewInt(8453), types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(8453)})); err == nil {
		t.Fatal("expected released signer to refuse signing")
	}
	Release(s)
}
