package registry

import "github.com/insightlabs/observatory/internal/core"

// perFeedContracts: one aggregator contract per (chain, symbol).
// Chainlink mainnet addresses are the canonical published feeds.
var perFeedContracts = map[core.Protocol]map[string]map[string]string{
	core.ProtocolChainlink: {
		"ethereum": {
			"ETH/USD":  "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
			"BTC/USD":  "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c",
			"LINK/USD": "0x2c1d072e956AFFC0D435Cb7AC38EF18d24d9127c",
			"USDC/USD": "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6",
			"DAI/USD":  "0xAed0c38402a5d19df6E4c03F4E2DceD6e29c1ee9",
		},
		"polygon": {
			"ETH/USD":   "0xF9680D99D6C9589e2a93a78A04A279e509205945",
			"BTC/USD":   "0xc907E116054Ad103354f2D350FD2514433D57F6f",
			"MATIC/USD": "0xAB594600376Ec9fD91F8e885dADF0CE036862dE0",
		},
		"arbitrum": {
			"ETH/USD": "0x639Fe6ab55C921f74e7fac1ee960C0B6293ba612",
			"BTC/USD": "0x6ce185860a4963106506C203335A2910413708e9",
			"ARB/USD": "0xb2A824043730FE05F3DA2efaFa1CBbe83fa548D6",
		},
	},
	core.ProtocolFlux: {
		"ethereum": {
			"ETH/USD": "0x1B5E25176459b2cB05C8D434CdbD2B6f8c329E36",
			"BTC/USD": "0x5cE2AF2790123BFbF9E47B4A1f0cfb31e7f4e3A0",
		},
	},
	core.ProtocolRedStone: {
		"ethereum": {
			"ETH/USD": "0x6dF655480F465DC36347a5616A875AeF8Cb4A34b",
			"BTC/USD": "0xc929ad75B72593967DE83E7F7Cda0493458261D9",
		},
	},
	core.ProtocolAPI3: {
		"ethereum": {
			"ETH/USD": "0x26690F9f17FdC26D419371315bc17950a0FC90eD",
			"BTC/USD": "0xe5Cf15fED24942E656dBF75165aF1851C89F21B5",
		},
		"polygon": {
			"MATIC/USD": "0x8Df6f6dD792693a2F568c6d31D154F4b711a6297",
		},
	},
}

// singleContracts: one pull-oracle contract per chain; symbols resolve
// through feedIDs.
var singleContracts = map[core.Protocol]map[string]string{
	core.ProtocolPyth: {
		"ethereum": "0x4305FB66699C3B2702D4d05CF36551390A4c69C6",
		"polygon":  "0xff1a0f4744e8582DF1aE09D5611b887B6a12925C",
		"arbitrum": "0xff1a0f4744e8582DF1aE09D5611b887B6a12925C",
	},
}

// feedIDs: protocol-internal identifiers per (chain, symbol). Pyth ids
// are 32-byte hex keys shared across chains; REST providers use asset
// path fragments.
var feedIDs = map[core.Protocol]map[string]map[string]string{
	core.ProtocolPyth: {
		"ethereum": pythPriceIDs,
		"polygon":  pythPriceIDs,
		"arbitrum": pythPriceIDs,
	},
	core.ProtocolDIA: {
		"ethereum": {
			"ETH/USD": "Ethereum/0x0000000000000000000000000000000000000000",
			"BTC/USD": "Bitcoin/0x0000000000000000000000000000000000000000",
		},
	},
	core.ProtocolBand: {
		"ethereum": {
			"ETH/USD": "ETH",
			"BTC/USD": "BTC",
		},
	},
}

var pythPriceIDs = map[string]string{
	"ETH/USD": "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
	"BTC/USD": "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
	"SOL/USD": "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d",
}

// restAssets: symbols a REST provider serves per chain.
var restAssets = map[core.Protocol]map[string][]string{
	core.ProtocolDIA: {
		"ethereum": {"ETH/USD", "BTC/USD"},
	},
	core.ProtocolBand: {
		"ethereum": {"ETH/USD", "BTC/USD"},
	},
}
