package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	eip155AssetPattern = regexp.MustCompile(`^eip155:[0-9]+/erc20:0x[0-9a-fA-F]{40}$`)
)

// NativeSentinel is the address aggregators use for a chain's native asset.
const NativeSentinel = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

const zeroAddress = "0x0000000000000000000000000000000000000000"

type Chain struct {
	Name         string
	Slug         string
	CAIP2        string
	EVMChainID   int64
	NativeSymbol string
}

type Token struct {
	Chain    string `json:"chain"`
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// IsNative reports whether the token is the chain's gas asset.
func (t Token) IsNative() bool {
	return IsNativeAddress(t.Address)
}

// AssetID renders the CAIP-19 identifier of the token.
func (t Token) AssetID() string {
	if t.IsNative() {
		return fmt.Sprintf("%s/slip44:60", t.Chain)
	}
	return fmt.Sprintf("%s/erc20:%s", t.Chain, strings.ToLower(t.Address))
}

// IsNativeAddress accepts the sentinel, the zero address or an empty string.
func IsNativeAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	return addr == "" || strings.EqualFold(addr, NativeSentinel) || strings.EqualFold(addr, zeroAddress)
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(s))
}

var chains = []Chain{
	{Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453, NativeSymbol: "ETH"},
	{Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, NativeSymbol: "ETH"},
	{Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10, NativeSymbol: "ETH"},
	{Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161, NativeSymbol: "ETH"},
	{Name: "Base Sepolia", Slug: "base-sepolia", CAIP2: "eip155:84532", EVMChainID: 84532, NativeSymbol: "ETH"},
}

var chainBySlug = map[string]Chain{}
var chainByID = map[int64]Chain{}

func init() {
	for _, c := range chains {
		chainBySlug[c.Slug] = c
		chainByID[c.EVMChainID] = c
	}
	chainBySlug["mainnet"] = chainByID[1]
	chainBySlug["arbitrum-one"] = chainByID[42161]
}

// Chains returns the registry in declaration order.
func Chains() []Chain {
	return append([]Chain(nil), chains...)
}

var tokenRegistry = map[string][]Token{
	"eip155:8453": {
		{Symbol: "ETH", Address: NativeSentinel, Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "USDbC", Address: "0xd9aAEc86B65D86f6A7B5B1b0c42FFA531710b6CA", Decimals: 6},
		{Symbol: "DAI", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
		{Symbol: "cbBTC", Address: "0xcbB7C0000aB88B473b1f5aFd9ef808440eed33Bf", Decimals: 8},
		{Symbol: "BRETT", Address: "0x532f27101965dd16442E59d40670FaF5eBB142E4", Decimals: 18},
		{Symbol: "DEGEN", Address: "0x4ed4E862860beD51a9570b96d89aF5E1B0Efefed", Decimals: 18},
		{Symbol: "AERO", Address: "0x940181a94A35A4569E4529A3CDfB74e38FD98631", Decimals: 18},
	},
	"eip155:1": {
		{Symbol: "ETH", Address: NativeSentinel, Decimals: 18},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
	},
	"eip155:10": {
		{Symbol: "ETH", Address: NativeSentinel, Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
		{Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
	},
	"eip155:42161": {
		{Symbol: "ETH", Address: NativeSentinel, Decimals: 18},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
	},
	"eip155:84532": {
		{Symbol: "ETH", Address: NativeSentinel, Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
}

var stableSymbols = map[string]bool{"USDC": true, "USDBC": true, "USDT": true, "DAI": true}

// IsStable reports whether the symbol is a USD stablecoin priced at 1.
func IsStable(symbol string) bool {
	return stableSymbols[strings.ToUpper(strings.TrimSpace(symbol))]
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		parts := strings.Split(norm, ":")
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		if known, ok := chainByID[id]; ok {
			return known, nil
		}
		return Chain{Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id), CAIP2: norm, EVMChainID: id, NativeSymbol: "ETH"}, nil
	}

	if id, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if chain, ok := chainByID[id]; ok {
			return chain, nil
		}
		return Chain{Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id), CAIP2: fmt.Sprintf("eip155:%d", id), EVMChainID: id, NativeSymbol: "ETH"}, nil
	}

	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// ParseToken resolves a symbol, address or CAIP-19 id against the registry.
// Addresses missing from the registry resolve with zero decimals; callers
// fill those from chain metadata.
func ParseToken(input string, chain Chain) (Token, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Token{}, clierr.New(clierr.CodeUsage, "token is required")
	}

	if strings.Contains(raw, "/") {
		if !eip155AssetPattern.MatchString(raw) {
			return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid CAIP-19 asset format: %s", input))
		}
		parts := strings.SplitN(raw, "/", 2)
		if parts[0] != chain.CAIP2 {
			return Token{}, clierr.New(clierr.CodeUsage, "asset chain does not match --chain")
		}
		raw = strings.TrimPrefix(parts[1], "erc20:")
	}

	if evmAddressPattern.MatchString(raw) {
		if token, ok := LookupByAddress(chain.CAIP2, raw); ok {
			return token, nil
		}
		return Token{Chain: chain.CAIP2, Address: raw}, nil
	}

	matches := findTokensBySymbol(chain.CAIP2, raw)
	if len(matches) == 0 {
		return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s not found in registry for chain %s", input, chain.CAIP2))
	}
	if len(matches) > 1 {
		addresses := make([]string, 0, len(matches))
		for _, m := range matches {
			addresses = append(addresses, m.Address)
		}
		sort.Strings(addresses)
		return Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on chain %s, use address (%s)", input, chain.CAIP2, strings.Join(addresses, ", ")))
	}
	return matches[0], nil
}

// Tokens lists the registry entries of a chain, native asset first.
func Tokens(chainID string) []Token {
	out := make([]Token, 0, len(tokenRegistry[chainID]))
	for _, t := range tokenRegistry[chainID] {
		out = append(out, withChain(chainID, t))
	}
	return out
}

func withChain(chainID string, t Token) Token {
	t.Chain = chainID
	return t
}

func findTokensBySymbol(chainID, symbol string) []Token {
	matches := []Token{}
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Symbol, symbol) {
			matches = append(matches, withChain(chainID, t))
		}
	}
	return matches
}

func KnownToken(chainID, symbol string) (Token, bool) {
	matches := findTokensBySymbol(chainID, symbol)
	if len(matches) != 1 {
		return Token{}, false
	}
	return matches[0], true
}

func LookupByAddress(chainID, address string) (Token, bool) {
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Address, strings.TrimSpace(address)) {
			return withChain(chainID, t), true
		}
	}
	return Token{}, false
}
