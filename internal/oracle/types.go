// Package oracle defines the protocol client contract every adapter
// implements and the concrete adapter families: EVM aggregator reads,
// Pyth-shaped single-contract reads, and REST pull oracles.
package oracle

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/insightlabs/observatory/internal/core"
)

// HealthState classifies an adapter health probe.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// Health is the result of probing a canary feed.
type Health struct {
	Status    HealthState `json:"status"`
	LatencyMs int64       `json:"latencyMs,omitempty"`
	Issues    []string    `json:"issues,omitempty"`
}

// Capabilities declares what an adapter can serve. Static per adapter.
type Capabilities struct {
	PriceFeeds   bool `json:"priceFeeds"`
	Assertions   bool `json:"assertions"`
	Disputes     bool `json:"disputes"`
	VRF          bool `json:"vrf"`
	CustomData   bool `json:"customData"`
	BatchQueries bool `json:"batchQueries"`
	Websocket    bool `json:"websocket"`
}

// PriceFetchError is a one-symbol failure. Batch paths log it and drop
// the symbol; single-symbol paths surface it so callers can distinguish
// absent from erroring.
type PriceFetchError struct {
	Protocol core.Protocol
	Chain    string
	Symbol   string
	Err      error
}

func (e *PriceFetchError) Error() string {
	return fmt.Sprintf("price fetch %s/%s %s: %v", e.Protocol, e.Chain, e.Symbol, e.Err)
}

func (e *PriceFetchError) Unwrap() error { return e.Err }

// Client is the uniform contract for one (protocol, chain) pair.
// FetchPrice returns (nil, nil) for unsupported symbols. FetchAllFeeds
// cannot fail wholesale; per-symbol failures are logged and dropped.
type Client interface {
	Protocol() core.Protocol
	Chain() string
	FetchPrice(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error)
	FetchAllFeeds(ctx context.Context) []*core.UnifiedPriceFeed
	CheckHealth(ctx context.Context) *Health
	Capabilities() Capabilities
}

// Freshness derives staleness from a timestamp and threshold.
type Freshness struct {
	IsStale          bool  `json:"isStale"`
	StalenessSeconds int64 `json:"stalenessSeconds"`
}

// CalculateFreshness computes staleness for a ms-since-epoch timestamp.
// At-threshold is fresh: IsStale only when staleness strictly exceeds
// the threshold.
func CalculateFreshness(timestampMs, thresholdSeconds int64) Freshness {
	return freshnessAt(time.Now(), timestampMs, thresholdSeconds)
}

func freshnessAt(now time.Time, timestampMs, thresholdSeconds int64) Freshness {
	staleness := (now.UnixMilli() - timestampMs) / 1000
	if staleness < 0 {
		staleness = 0
	}
	return Freshness{
		IsStale:          staleness > thresholdSeconds,
		StalenessSeconds: staleness,
	}
}

// DefaultStalenessThreshold returns the per-protocol staleness threshold
// in seconds.
func DefaultStalenessThreshold(p core.Protocol) int64 {
	switch p {
	case core.ProtocolChainlink:
		return 3600
	case core.ProtocolPyth:
		return 60
	case core.ProtocolRedStone, core.ProtocolFlux:
		return 300
	case core.ProtocolAPI3:
		return 300
	case core.ProtocolDIA, core.ProtocolBand:
		return 300
	}
	return 300
}

// NormalizeSymbol canonicalizes a symbol: uppercase, trimmed.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// SplitSymbol splits "ETH/USD" into base and quote assets. A symbol
// without a separator quotes against USD.
func SplitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return symbol, "USD"
}

// FormatPrice converts a raw integer price to its float form:
// raw / 10^decimals.
func FormatPrice(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(raw).Float64()
	return f / math.Pow10(int(decimals))
}

// RawFromFloat reconstructs an integer raw price from a float quote, for
// providers that only publish floats.
func RawFromFloat(price float64, decimals uint8) *big.Int {
	scaled := price * math.Pow10(int(decimals))
	bf := new(big.Float).SetFloat64(scaled)
	raw, _ := bf.Int(nil)
	return raw
}

// FeedRecordID builds the deterministic feed record id so repeat fetches
// of the same round collapse to one logical record.
func FeedRecordID(protocol core.Protocol, chain, symbol, roundOrTimestamp string) string {
	return fmt.Sprintf("%s:%s:%s:%s", protocol, chain, symbol, roundOrTimestamp)
}
