package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/registry"
)

const pythABIJSON = `[
	{"name":"getPrice","type":"function","stateMutability":"view","inputs":[
		{"name":"id","type":"bytes32"}],"outputs":[
		{"name":"price","type":"int64"},
		{"name":"conf","type":"uint64"},
		{"name":"expo","type":"int32"},
		{"name":"publishTime","type":"uint256"}]},
	{"name":"getPriceUnsafe","type":"function","stateMutability":"view","inputs":[
		{"name":"id","type":"bytes32"}],"outputs":[
		{"name":"price","type":"int64"},
		{"name":"conf","type":"uint64"},
		{"name":"expo","type":"int32"},
		{"name":"publishTime","type":"uint256"}]},
	{"name":"getPriceNoOlderThan","type":"function","stateMutability":"view","inputs":[
		{"name":"id","type":"bytes32"},
		{"name":"age","type":"uint256"}],"outputs":[
		{"name":"price","type":"int64"},
		{"name":"conf","type":"uint64"},
		{"name":"expo","type":"int32"},
		{"name":"publishTime","type":"uint256"}]}
]`

var pythABI = mustABI(pythABIJSON)

// PythClient reads feed-id keyed prices from a single per-chain pull
// oracle contract. Exponent-scaled answers are normalized so Decimals
// is |expo| and Confidence is the interval width as a percent of price.
type PythClient struct {
	BaseClient
	caller   ContractCaller
	contract common.Address
}

// NewPythClient builds the Pyth adapter for one instance. The contract
// address comes from the instance config, falling back to the registry.
func NewPythClient(inst *core.ProtocolInstance, caller ContractCaller) (*PythClient, error) {
	var threshold int64
	addrHex := ""
	if cfg := inst.ProtocolConfig.Pyth; cfg != nil {
		threshold = cfg.MaxAgeSeconds
		addrHex = cfg.ContractAddress
	}
	if !common.IsHexAddress(addrHex) {
		reg, ok := registry.GetContractAddress(inst.Protocol, inst.Chain, "")
		if !ok {
			return nil, fmt.Errorf("pyth: no contract for chain %s", inst.Chain)
		}
		addrHex = reg
	}
	return &PythClient{
		BaseClient: NewBaseClient(inst.Protocol, inst.Chain, inst.ID, threshold),
		caller:     caller,
		contract:   common.HexToAddress(addrHex),
	}, nil
}

func (c *PythClient) Capabilities() Capabilities {
	return Capabilities{PriceFeeds: true, BatchQueries: true}
}

// FetchPrice reads one feed id. Unknown symbols return (nil, nil).
func (c *PythClient) FetchPrice(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
	symbol = NormalizeSymbol(symbol)
	feedID, ok := registry.GetFeedID(c.Protocol(), c.Chain(), symbol)
	if !ok {
		return nil, nil
	}
	return c.fetchWithRetry(ctx, symbol, func(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
		return c.readFeed(ctx, feedID, symbol)
	})
}

func (c *PythClient) FetchAllFeeds(ctx context.Context) []*core.UnifiedPriceFeed {
	return c.fetchAll(ctx, func(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
		feedID, ok := registry.GetFeedID(c.Protocol(), c.Chain(), symbol)
		if !ok {
			return nil, nil
		}
		return c.readFeed(ctx, feedID, symbol)
	})
}

func (c *PythClient) CheckHealth(ctx context.Context) *Health {
	symbols := c.Symbols()
	if len(symbols) == 0 {
		return &Health{Status: Unhealthy, Issues: []string{"no feeds registered"}}
	}
	start := time.Now()
	feed, err := c.FetchPrice(ctx, symbols[0])
	latency := time.Since(start).Milliseconds()
	if err != nil || feed == nil {
		return &Health{Status: Unhealthy, LatencyMs: latency, Issues: []string{fmt.Sprintf("probe %s failed: %v", symbols[0], err)}}
	}
	if feed.IsStale {
		return &Health{Status: Degraded, LatencyMs: latency, Issues: []string{fmt.Sprintf("probe %s stale by %ds", symbols[0], feed.StalenessSeconds)}}
	}
	return &Health{Status: Healthy, LatencyMs: latency}
}

func (c *PythClient) readFeed(ctx context.Context, feedID, symbol string) (*core.UnifiedPriceFeed, error) {
	id := common.HexToHash(feedID)
	out, err := callABI(ctx, c.caller, pythABI, c.contract, "getPrice", [32]byte(id))
	if err != nil {
		return nil, fmt.Errorf("getPrice %s: %w", symbol, err)
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("getPrice %s: unexpected output arity %d", symbol, len(out))
	}

	price := out[0].(int64)
	conf := out[1].(uint64)
	expo := out[2].(int32)
	publishTime := out[3].(*big.Int)

	if price == 0 {
		return nil, fmt.Errorf("pyth %s reported zero price", symbol)
	}
	decimals := expo
	if decimals < 0 {
		decimals = -decimals
	}

	absPrice := price
	if absPrice < 0 {
		absPrice = -absPrice
	}
	confidence := float64(conf) / float64(absPrice) * 100

	raw := big.NewInt(price)
	feed := &core.UnifiedPriceFeed{
		ID:         FeedRecordID(c.Protocol(), c.Chain(), symbol, publishTime.String()),
		Symbol:     symbol,
		Price:      FormatPrice(raw, uint8(decimals)),
		PriceRaw:   raw,
		Decimals:   uint8(decimals),
		Timestamp:  publishTime.Int64() * 1000,
		Confidence: &confidence,
		Sources:    []string{c.contract.Hex()},
	}
	return c.Stamp(feed), nil
}
