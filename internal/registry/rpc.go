package registry

import (
	"fmt"
	"strings"
)

// Canonical default EVM RPC endpoints by chain ID.
// These values are used whenever a command does not pass --rpc-url.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	10:    "https://mainnet.optimism.io",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
	84532: "https://sepolia.base.org",
}

var explorerByChainID = map[int64]string{
	1:     "https://etherscan.io",
	10:    "https://optimistic.etherscan.io",
	8453:  "https://basescan.org",
	42161: "https://arbiscan.io",
	84532: "https://sepolia.basescan.org",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; provide --rpc-url", chainID)
}

// ExplorerTxURL links a transaction hash on the chain's block explorer. The
// override wins when set.
func ExplorerTxURL(override string, chainID int64, hash string) string {
	base := strings.TrimSpace(override)
	if base == "" {
		base = explorerByChainID[chainID]
	}
	if base == "" {
		return hash
	}
	return strings.TrimSuffix(base, "/") + "/tx/" + hash
}
