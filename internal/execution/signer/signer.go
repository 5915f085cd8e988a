package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

// Releaser is implemented by signers that hold key material in memory.
type Releaser interface {
	Release()
}

// Release drops the key held by s, if any. A released signer refuses to sign.
func Release(s Signer) {
	if r, ok := s.(Releaser); ok {
		r.Release()
	}
}
