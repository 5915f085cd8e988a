// Package vault creates custodial wallets and turns stored, encrypted keys
// back into transaction signers.
package vault

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/execution/signer"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
)

type Vault struct {
	store  storage.WalletStore
	salt   string
	logger *zap.Logger
}

func New(store storage.WalletStore, salt string, logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{store: store, salt: salt, logger: logger.Named("vault")}
}

// CreateWallet generates a key for userID. A user owns at most one wallet.
func (v *Vault) CreateWallet(ctx context.Context, userID, network, currency string) (storage.Wallet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.Wallet{}, clierr.New(clierr.CodeUsage, "user id is required")
	}
	if v.salt == "" {
		return storage.Wallet{}, clierr.Wrap(clierr.CodeUsage, "create wallet", ErrMissingSalt)
	}
	if _, err := v.store.WalletByUser(ctx, userID); err == nil {
		return storage.Wallet{}, clierr.Wrap(clierr.CodeConflict, "user "+userID+" already has a wallet", storage.ErrWalletExists)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.Wallet{}, clierr.Wrap(clierr.CodeInternal, "lookup wallet", err)
	}

	pk, err := crypto.GenerateKey()
	if err != nil {
		return storage.Wallet{}, clierr.Wrap(clierr.CodeInternal, "generate key", err)
	}
	keyHex := strings.TrimPrefix(hexutil.Encode(crypto.FromECDSA(pk)), "0x")
	encoded, err := EncodeSecret(keyHex, v.salt)
	if err != nil {
		return storage.Wallet{}, clierr.Wrap(clierr.CodeInternal, "encrypt key", err)
	}
	if network == "" {
		network = "base"
	}
	if currency == "" {
		currency = "ETH"
	}
	w := storage.Wallet{
		UserID:            userID,
		Address:           crypto.PubkeyToAddress(pk.PublicKey).Hex(),
		Network:           network,
		Currency:          currency,
		EncodedPrivateKey: encoded,
	}
	if err := v.store.CreateWallet(ctx, &w); err != nil {
		if errors.Is(err, storage.ErrWalletExists) {
			return storage.Wallet{}, clierr.Wrap(clierr.CodeConflict, "user "+userID+" already has a wallet", err)
		}
		return storage.Wallet{}, clierr.Wrap(clierr.CodeInternal, "store wallet", err)
	}
	v.logger.Info("wallet created", zap.String("user", userID), zap.String("wallet", w.Address))
	return w, nil
}

// GetOrCreate returns the user's wallet, creating it on first use.
func (v *Vault) GetOrCreate(ctx context.Context, userID, network, currency string) (storage.Wallet, bool, error) {
	w, err := v.store.WalletByUser(ctx, userID)
	if err == nil {
		return w, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Wallet{}, false, clierr.Wrap(clierr.CodeInternal, "lookup wallet", err)
	}
	w, err = v.CreateWallet(ctx, userID, network, currency)
	if err != nil {
		return storage.Wallet{}, false, err
	}
	return w, true, nil
}

func (v *Vault) WalletByUser(ctx context.Context, userID string) (storage.Wallet, error) {
	w, err := v.store.WalletByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Wallet{}, clierr.Wrap(clierr.CodeNotFound, "no wallet for user "+userID, err)
		}
		return storage.Wallet{}, clierr.Wrap(clierr.CodeInternal, "lookup wallet", err)
	}
	return w, nil
}

// ResolveSigner decrypts the key stored for address. The returned signer is
// meant to live for one operation.
func (v *Vault) ResolveSigner(ctx context.Context, address common.Address) (signer.Signer, error) {
	w, err := v.store.WalletByAddress(ctx, address.Hex())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, clierr.Wrap(clierr.CodeSigner, "no custodial key for "+address.Hex(), err)
		}
		return nil, clierr.Wrap(clierr.CodeSigner, "lookup wallet", err)
	}
	keyHex, err := DecodeSecret(w.EncodedPrivateKey, v.salt)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "decrypt wallet key", err)
	}
	s, err := signer.NewLocalSigner(keyHex)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load wallet key", err)
	}
	if s.Address() != address {
		return nil, clierr.New(clierr.CodeSigner, "stored key does not match wallet "+address.Hex())
	}
	return s, nil
}
