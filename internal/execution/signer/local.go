package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner holds a decrypted key in memory for the lifetime of one
// operation.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized or was released")
	}
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, s.privateKey)
}

// Release zeroes the private scalar. Address stays readable.
func (s *LocalSigner) Release() {
	if s == nil || s.privateKey == nil {
		return
	}
	s.privateKey.D.SetInt64(0)
	s.privateKey = nil
}

// NewLocalSigner parses a hex private key with or without 0x prefix.
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	pk, err := parseHexKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return FromECDSA(pk)
}

func FromECDSA(pk *ecdsa.PrivateKey) (*LocalSigner, error) {
	if pk == nil {
		return nil, fmt.Errorf("nil private key")
	}
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("invalid ECDSA public key")
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(*pub)}, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}
