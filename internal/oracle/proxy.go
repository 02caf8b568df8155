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

const proxyABIJSON = `[
	{"name":"read","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"value","type":"int224"},
		{"name":"timestamp","type":"uint32"}]}
]`

var proxyABI = mustABI(proxyABIJSON)

// proxyDecimals: dAPI proxies publish 18-decimal fixed-point values.
const proxyDecimals uint8 = 18

// ProxyClient reads API3 dAPI proxy contracts: one proxy per symbol, a
// bare read() returning the latest value and its timestamp.
type ProxyClient struct {
	BaseClient
	caller ContractCaller
}

// NewProxyClient builds the dAPI proxy adapter for one instance.
func NewProxyClient(inst *core.ProtocolInstance, caller ContractCaller) *ProxyClient {
	var threshold int64
	if cfg := inst.ProtocolConfig.Proxy; cfg != nil {
		threshold = cfg.StalenessSeconds
	}
	return &ProxyClient{
		BaseClient: NewBaseClient(inst.Protocol, inst.Chain, inst.ID, threshold),
		caller:     caller,
	}
}

func (c *ProxyClient) Capabilities() Capabilities {
	return Capabilities{PriceFeeds: true}
}

func (c *ProxyClient) FetchPrice(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
	symbol = NormalizeSymbol(symbol)
	addrHex, ok := registry.GetContractAddress(c.Protocol(), c.Chain(), symbol)
	if !ok {
		return nil, nil
	}
	return c.fetchWithRetry(ctx, symbol, func(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
		return c.readProxy(ctx, common.HexToAddress(addrHex), symbol)
	})
}

func (c *ProxyClient) FetchAllFeeds(ctx context.Context) []*core.UnifiedPriceFeed {
	return c.fetchAll(ctx, func(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
		addrHex, ok := registry.GetContractAddress(c.Protocol(), c.Chain(), symbol)
		if !ok {
			return nil, nil
		}
		return c.readProxy(ctx, common.HexToAddress(addrHex), symbol)
	})
}

func (c *ProxyClient) CheckHealth(ctx context.Context) *Health {
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

func (c *ProxyClient) readProxy(ctx context.Context, addr common.Address, symbol string) (*core.UnifiedPriceFeed, error) {
	out, err := callABI(ctx, c.caller, proxyABI, addr, "read")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", symbol, err)
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("read %s: unexpected output arity %d", symbol, len(out))
	}

	value := out[0].(*big.Int)
	ts := out[1].(uint32)

	if value.Sign() <= 0 {
		return nil, fmt.Errorf("proxy %s reported non-positive value", symbol)
	}

	raw := new(big.Int).Set(value)
	feed := &core.UnifiedPriceFeed{
		ID:        FeedRecordID(c.Protocol(), c.Chain(), symbol, fmt.Sprintf("%d", ts)),
		Symbol:    symbol,
		Price:     FormatPrice(raw, proxyDecimals),
		PriceRaw:  raw,
		Decimals:  proxyDecimals,
		Timestamp: int64(ts) * 1000,
		Sources:   []string{addr.Hex()},
	}
	return c.Stamp(feed), nil
}
