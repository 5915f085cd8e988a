// Package chain reads EVM state for the swap engine: balances, token
// metadata, nonces, receipts and call traces.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/MoseikiApp/peasy-ai/internal/registry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
)

const metadataCacheSize = 512

// TokenMeta is what the chain reports about an ERC20 contract.
type TokenMeta struct {
	Symbol   string
	Decimals int
}

// Client embeds ethclient so it satisfies the go-ethereum backend interfaces
// used for transaction submission, and adds the reads the engine needs.
type Client struct {
	*ethclient.Client
	rpc    *rpc.Client
	erc20  abi.ABI
	meta   *lru.Cache[common.Address, TokenMeta]
	logger *zap.Logger

	mu      sync.Mutex
	chainID *big.Int
}

func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, clierr.New(clierr.CodeUsage, "rpc url is required")
	}
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	return NewClient(rc, logger), nil
}

func NewClient(rc *rpc.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20ABI))
	if err != nil {
		panic(fmt.Sprintf("erc20 abi: %v", err))
	}
	meta, _ := lru.New[common.Address, TokenMeta](metadataCacheSize)
	return &Client{
		Client: ethclient.NewClient(rc),
		rpc:    rc,
		erc20:  parsed,
		meta:   meta,
		logger: logger.Named("chain"),
	}
}

// ChainID is fetched once per client and remembered after the first success.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID == nil {
		id, err := c.Client.ChainID(ctx)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
		}
		c.chainID = id
	}
	return new(big.Int).Set(c.chainID), nil
}

// NativeBalance returns the balance at block; nil means latest.
func (c *Client) NativeBalance(ctx context.Context, owner common.Address, block *big.Int) (*big.Int, error) {
	bal, err := c.BalanceAt(ctx, owner, block)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
	}
	return bal, nil
}

func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		c.logger.Debug("empty balanceOf result", zap.String("token", token.Hex()), zap.String("owner", owner.Hex()))
		return big.NewInt(0), nil
	}
	bal, ok := out[0].(*big.Int)
	if !ok || bal == nil {
		return big.NewInt(0), nil
	}
	return bal, nil
}

// TokenMetadata reads symbol and decimals, cached per contract.
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (TokenMeta, error) {
	if m, ok := c.meta.Get(token); ok {
		return m, nil
	}
	decOut, err := c.call(ctx, token, "decimals")
	if err != nil {
		return TokenMeta{}, err
	}
	if len(decOut) == 0 {
		return TokenMeta{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s is not an ERC20 token", token.Hex()))
	}
	decimals, ok := decOut[0].(uint8)
	if !ok {
		return TokenMeta{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unexpected decimals type from %s", token.Hex()))
	}
	meta := TokenMeta{Decimals: int(decimals)}
	// Some tokens return bytes32 symbols; a missing symbol is not fatal.
	if symOut, err := c.call(ctx, token, "symbol"); err == nil && len(symOut) > 0 {
		if s, ok := symOut[0].(string); ok {
			meta.Symbol = s
		}
	}
	c.meta.Add(token, meta)
	return meta, nil
}

// Nonces returns the mined (latest) and pending nonce of an account.
func (c *Client) Nonces(ctx context.Context, account common.Address) (latest, pending uint64, err error) {
	latest, err = c.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, 0, clierr.Wrap(clierr.CodeUnavailable, "read latest nonce", err)
	}
	pending, err = c.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, 0, clierr.Wrap(clierr.CodeUnavailable, "read pending nonce", err)
	}
	return latest, pending, nil
}

// Receipt returns nil with no error while the transaction is unmined.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := c.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read receipt", err)
	}
	return r, nil
}

// CallFrame is one node of the callTracer output.
type CallFrame struct {
	Type  string          `json:"type"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
	Calls []CallFrame     `json:"calls,omitempty"`
}

// TraceCalls runs debug_traceTransaction with the built-in call tracer.
// Many public RPCs do not expose the debug namespace.
func (c *Client) TraceCalls(ctx context.Context, hash common.Hash) (*CallFrame, error) {
	var frame CallFrame
	cfg := map[string]any{"tracer": "callTracer"}
	if err := c.rpc.CallContext(ctx, &frame, "debug_traceTransaction", hash, cfg); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnsupported, "trace transaction", err)
	}
	return &frame, nil
}

func (c *Client) call(ctx context.Context, contract common.Address, method string, args ...any) ([]any, error) {
	data, err := c.erc20.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method, err)
	}
	raw, err := c.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "call "+method, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	out, err := c.erc20.Unpack(method, raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "unpack "+method, err)
	}
	return out, nil
}
