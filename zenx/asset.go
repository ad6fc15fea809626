// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package zenx

import "strings"

// A Chain is a backend-defined identifier for a supported network or asset
// variant, e.g. "bitcoin" or "usdt-trc20". The backend is the sole authority on
// the set of valid chains; the client treats unrecognized values as opaque.
type Chain = string

// CanonicalPriceID collapses chain-specific variants of the same asset to the
// single identifier used for price and 24h-change lookups. All USDT variants
// map to "usdt" and all USDC variants to "usdc" regardless of the network they
// ride on. Unknown chains pass through unchanged.
func CanonicalPriceID(chain Chain) string {
	switch strings.ToLower(chain) {
	case "usdt-trc20", "usdt-erc20", "usdt-bep20":
		return "usdt"
	case "usdc-erc20", "usdc-bep20":
		return "usdc"
	default:
		return chain
	}
}

// ChainSymbol maps a backend chain identifier to the ticker symbol displayed
// for holdings on that chain. Unknown chains are upper-cased as-is.
func ChainSymbol(chain Chain) string {
	switch strings.ToLower(chain) {
	case "bitcoin":
		return "BTC"
	case "ethereum":
		return "ETH"
	case "tron":
		return "TRX"
	case "bsc":
		return "BNB"
	case "usdt-trc20", "usdt-erc20", "usdt-bep20":
		return "USDT"
	case "usdc-erc20", "usdc-bep20":
		return "USDC"
	case "solana":
		return "SOL"
	case "xrp":
		return "XRP"
	default:
		return strings.ToUpper(chain)
	}
}

// DefaultPriceIDs is the fixed set of canonical price ids the client always
// requests quotes for, so common assets show a price and 24h change even when
// the active keyring holds a zero balance and the backend returns no wallet row
// for them yet.
func DefaultPriceIDs() []string {
	return []string{
		"bitcoin",
		"ethereum",
		"tron",
		"usdt",
		"bsc",
		"usdc",
		"solana",
		"xrp",
	}
}
