// Package registry holds the static feed tables: which contract or feed
// id serves a (protocol, chain, symbol) triple. Lookups are pure; absence
// is an ok-bool, never an error. Addresses that fail hex validation are
// treated as unsupported so a placeholder row can never be called.
package registry

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/insightlabs/observatory/internal/core"
)

// GetContractAddress resolves the per-symbol contract for protocols that
// deploy one aggregator per feed (Chainlink shape), or the single
// per-chain contract for feed-id protocols (Pyth shape).
func GetContractAddress(protocol core.Protocol, chain, symbol string) (string, bool) {
	if table, ok := perFeedContracts[protocol]; ok {
		addr, ok := table[chain][symbol]
		if !ok || !common.IsHexAddress(addr) {
			return "", false
		}
		return addr, true
	}
	if table, ok := singleContracts[protocol]; ok {
		addr, ok := table[chain]
		if !ok || !common.IsHexAddress(addr) {
			return "", false
		}
		return addr, true
	}
	return "", false
}

// GetFeedID resolves the protocol-internal feed identifier for a symbol
// (32-byte key for Pyth, data-feed id for RedStone/Flux, asset path for
// REST providers).
func GetFeedID(protocol core.Protocol, chain, symbol string) (string, bool) {
	table, ok := feedIDs[protocol]
	if !ok {
		return "", false
	}
	id, ok := table[chain][symbol]
	return id, ok
}

// GetSupportedChains lists chains the protocol has any table entry for.
func GetSupportedChains(protocol core.Protocol) []string {
	seen := map[string]bool{}
	if table, ok := perFeedContracts[protocol]; ok {
		for chain := range table {
			seen[chain] = true
		}
	}
	if table, ok := singleContracts[protocol]; ok {
		for chain := range table {
			seen[chain] = true
		}
	}
	if table, ok := feedIDs[protocol]; ok {
		for chain := range table {
			seen[chain] = true
		}
	}
	if table, ok := restAssets[protocol]; ok {
		for chain := range table {
			seen[chain] = true
		}
	}
	chains := make([]string, 0, len(seen))
	for chain := range seen {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}

// GetAvailableSymbols lists the symbols a (protocol, chain) pair serves.
func GetAvailableSymbols(protocol core.Protocol, chain string) []string {
	seen := map[string]bool{}
	if table, ok := perFeedContracts[protocol]; ok {
		for sym, addr := range table[chain] {
			if common.IsHexAddress(addr) {
				seen[sym] = true
			}
		}
	}
	if table, ok := feedIDs[protocol]; ok {
		for sym := range table[chain] {
			seen[sym] = true
		}
	}
	if table, ok := restAssets[protocol]; ok {
		for _, sym := range table[chain] {
			seen[sym] = true
		}
	}
	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// IsSupported reports whether the (protocol, chain) pair has any feeds.
func IsSupported(protocol core.Protocol, chain string) bool {
	if table, ok := perFeedContracts[protocol]; ok {
		if len(table[chain]) > 0 {
			return true
		}
	}
	if table, ok := singleContracts[protocol]; ok {
		if _, ok := table[chain]; ok {
			return true
		}
	}
	if table, ok := restAssets[protocol]; ok {
		if len(table[chain]) > 0 {
			return true
		}
	}
	return false
}
