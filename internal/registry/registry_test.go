package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/insightlabs/observatory/internal/core"
)

func TestGetContractAddressPerFeed(t *testing.T) {
	addr, ok := GetContractAddress(core.ProtocolChainlink, "ethereum", "ETH/USD")
	assert.True(t, ok)
	assert.Equal(t, "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419", addr)

	_, ok = GetContractAddress(core.ProtocolChainlink, "ethereum", "DOGE/USD")
	assert.False(t, ok, "unknown symbol is unsupported")

	_, ok = GetContractAddress(core.ProtocolChainlink, "solana", "ETH/USD")
	assert.False(t, ok, "unknown chain is unsupported")
}

func TestGetContractAddressSingleContract(t *testing.T) {
	addr, ok := GetContractAddress(core.ProtocolPyth, "ethereum", "ETH/USD")
	assert.True(t, ok)
	assert.Equal(t, "0x4305FB66699C3B2702D4d05CF36551390A4c69C6", addr)

	// Same contract regardless of symbol.
	addr2, ok := GetContractAddress(core.ProtocolPyth, "ethereum", "BTC/USD")
	assert.True(t, ok)
	assert.Equal(t, addr, addr2)
}

func TestGetFeedID(t *testing.T) {
	id, ok := GetFeedID(core.ProtocolPyth, "ethereum", "ETH/USD")
	assert.True(t, ok)
	assert.Equal(t, "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace", id)

	_, ok = GetFeedID(core.ProtocolPyth, "ethereum", "UNKNOWN/USD")
	assert.False(t, ok)

	_, ok = GetFeedID(core.ProtocolChainlink, "ethereum", "ETH/USD")
	assert.False(t, ok, "per-feed protocols have no feed ids")
}

func TestGetSupportedChains(t *testing.T) {
	chains := GetSupportedChains(core.ProtocolChainlink)
	assert.Contains(t, chains, "ethereum")
	assert.Contains(t, chains, "polygon")
	assert.Contains(t, chains, "arbitrum")

	assert.Empty(t, GetSupportedChains(core.ProtocolSwitchboard))
}

func TestGetAvailableSymbols(t *testing.T) {
	symbols := GetAvailableSymbols(core.ProtocolChainlink, "ethereum")
	assert.Contains(t, symbols, "ETH/USD")
	assert.Contains(t, symbols, "BTC/USD")

	assert.Empty(t, GetAvailableSymbols(core.ProtocolChainlink, "unknown-chain"))
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported(core.ProtocolChainlink, "ethereum"))
	assert.True(t, IsSupported(core.ProtocolPyth, "polygon"))
	assert.True(t, IsSupported(core.ProtocolDIA, "ethereum"))
	assert.False(t, IsSupported(core.ProtocolChainlink, "solana"))
	assert.False(t, IsSupported(core.ProtocolSwitchboard, "ethereum"))
}
