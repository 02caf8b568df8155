package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/registry"
)

// ContractCaller is the read-only surface adapters need from an RPC
// client. *chainrpc.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const aggregatorABIJSON = `[
	{"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"uint8"}]},
	{"name":"description","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"string"}]},
	{"name":"getRoundData","type":"function","stateMutability":"view","inputs":[
		{"name":"_roundId","type":"uint80"}],"outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}]}
]`

var aggregatorABI = mustABI(aggregatorABIJSON)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// AggregatorClient reads latestRoundData-shaped feeds: Chainlink, Flux
// v3, and RedStone on-chain aggregators share the interface, so one
// adapter serves all three protocols.
type AggregatorClient struct {
	BaseClient
	caller ContractCaller

	mu       sync.Mutex
	decimals map[common.Address]uint8 // immutable on-chain, cached forever
}

// NewAggregatorClient builds the aggregator adapter for one instance.
func NewAggregatorClient(inst *core.ProtocolInstance, caller ContractCaller) *AggregatorClient {
	var threshold int64
	if agg := inst.ProtocolConfig.Chainlink; agg != nil {
		threshold = agg.HeartbeatSeconds
	}
	return &AggregatorClient{
		BaseClient: NewBaseClient(inst.Protocol, inst.Chain, inst.ID, threshold),
		caller:     caller,
		decimals:   make(map[common.Address]uint8),
	}
}

func (c *AggregatorClient) Capabilities() Capabilities {
	return Capabilities{PriceFeeds: true}
}

// FetchPrice reads one aggregator round. Unknown symbols return (nil, nil).
func (c *AggregatorClient) FetchPrice(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
	symbol = NormalizeSymbol(symbol)
	addrHex, ok := registry.GetContractAddress(c.Protocol(), c.Chain(), symbol)
	if !ok {
		return nil, nil
	}
	return c.fetchWithRetry(ctx, symbol, func(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
		return c.readRound(ctx, common.HexToAddress(addrHex), symbol)
	})
}

// FetchAllFeeds fans out over every registry symbol for this chain.
func (c *AggregatorClient) FetchAllFeeds(ctx context.Context) []*core.UnifiedPriceFeed {
	return c.fetchAll(ctx, func(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
		addrHex, ok := registry.GetContractAddress(c.Protocol(), c.Chain(), symbol)
		if !ok {
			return nil, nil
		}
		return c.readRound(ctx, common.HexToAddress(addrHex), symbol)
	})
}

// CheckHealth probes the first registry symbol and grades the answer.
func (c *AggregatorClient) CheckHealth(ctx context.Context) *Health {
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
	h := &Health{Status: Healthy, LatencyMs: latency}
	if feed.IsStale {
		h.Status = Degraded
		h.Issues = append(h.Issues, fmt.Sprintf("probe %s stale by %ds", symbols[0], feed.StalenessSeconds))
	}
	if feed.PriceRaw == nil || feed.PriceRaw.Sign() <= 0 {
		h.Status = Degraded
		h.Issues = append(h.Issues, fmt.Sprintf("probe %s returned non-positive answer", symbols[0]))
	}
	return h
}

func (c *AggregatorClient) readRound(ctx context.Context, addr common.Address, symbol string) (*core.UnifiedPriceFeed, error) {
	out, err := c.call(ctx, addr, "latestRoundData")
	if err != nil {
		return nil, fmt.Errorf("latestRoundData: %w", err)
	}
	if len(out) != 5 {
		return nil, fmt.Errorf("latestRoundData: unexpected output arity %d", len(out))
	}

	roundID := out[0].(*big.Int)
	answer := out[1].(*big.Int)
	updatedAt := out[3].(*big.Int)
	answeredInRound := out[4].(*big.Int)

	if answer.Sign() <= 0 {
		return nil, fmt.Errorf("aggregator %s reported non-positive answer", symbol)
	}
	if answeredInRound.Cmp(roundID) < 0 {
		return nil, fmt.Errorf("aggregator %s round %s answered in stale round %s", symbol, roundID, answeredInRound)
	}

	decimals, err := c.lookupDecimals(ctx, addr)
	if err != nil {
		return nil, err
	}

	raw := new(big.Int).Set(answer)
	feed := &core.UnifiedPriceFeed{
		ID:        FeedRecordID(c.Protocol(), c.Chain(), symbol, roundID.String()),
		Symbol:    symbol,
		Price:     FormatPrice(raw, decimals),
		PriceRaw:  raw,
		Decimals:  decimals,
		Timestamp: updatedAt.Int64() * 1000,
		Sources:   []string{addr.Hex()},
	}
	return c.Stamp(feed), nil
}

// lookupDecimals reads decimals() once per contract and caches it.
func (c *AggregatorClient) lookupDecimals(ctx context.Context, addr common.Address) (uint8, error) {
	c.mu.Lock()
	if d, ok := c.decimals[addr]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	out, err := c.call(ctx, addr, "decimals")
	if err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("decimals: unexpected output arity %d", len(out))
	}
	d := out[0].(uint8)

	c.mu.Lock()
	c.decimals[addr] = d
	c.mu.Unlock()
	return d, nil
}

func (c *AggregatorClient) call(ctx context.Context, addr common.Address, method string, args ...interface{}) ([]interface{}, error) {
	return callABI(ctx, c.caller, aggregatorABI, addr, method, args...)
}

// callABI packs, executes, and unpacks one eth_call.
func callABI(ctx context.Context, caller ContractCaller, parsed abi.ABI, addr common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%s: empty call result, contract may not exist at %s", method, addr.Hex())
	}
	out, err := parsed.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}
