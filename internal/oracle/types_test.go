package oracle

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/insightlabs/observatory/internal/core"
)

func TestFreshnessStrictThreshold(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	// Exactly at the threshold is still fresh.
	atLimit := freshnessAt(now, now.Add(-60*time.Second).UnixMilli(), 60)
	assert.False(t, atLimit.IsStale)
	assert.Equal(t, int64(60), atLimit.StalenessSeconds)

	over := freshnessAt(now, now.Add(-61*time.Second).UnixMilli(), 60)
	assert.True(t, over.IsStale)
	assert.Equal(t, int64(61), over.StalenessSeconds)

	// Future timestamps clamp to zero staleness.
	future := freshnessAt(now, now.Add(30*time.Second).UnixMilli(), 60)
	assert.False(t, future.IsStale)
	assert.Equal(t, int64(0), future.StalenessSeconds)
}

func TestDefaultStalenessThresholds(t *testing.T) {
	assert.Equal(t, int64(3600), DefaultStalenessThreshold(core.ProtocolChainlink))
	assert.Equal(t, int64(60), DefaultStalenessThreshold(core.ProtocolPyth))
	assert.Equal(t, int64(300), DefaultStalenessThreshold(core.ProtocolAPI3))
	assert.Equal(t, int64(300), DefaultStalenessThreshold(core.ProtocolDIA))
	assert.Equal(t, int64(300), DefaultStalenessThreshold(core.ProtocolBand))
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, 3500.0, FormatPrice(big.NewInt(350000000000), 8))
	assert.Equal(t, 1.5, FormatPrice(big.NewInt(1500), 3))
	assert.Equal(t, 0.0, FormatPrice(nil, 8))
}

func TestRawFromFloatRoundTrips(t *testing.T) {
	raw := RawFromFloat(3500.0, 8)
	assert.Equal(t, "350000000000", raw.String())
	assert.Equal(t, 3500.0, FormatPrice(raw, 8))
}

func TestSplitSymbol(t *testing.T) {
	base, quote := SplitSymbol("ETH/USD")
	assert.Equal(t, "ETH", base)
	assert.Equal(t, "USD", quote)

	base, quote = SplitSymbol("BTC")
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USD", quote)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "ETH/USD", NormalizeSymbol("  eth/usd "))
}

func TestFeedRecordIDDeterministic(t *testing.T) {
	a := FeedRecordID(core.ProtocolChainlink, "ethereum", "ETH/USD", "1024")
	b := FeedRecordID(core.ProtocolChainlink, "ethereum", "ETH/USD", "1024")
	assert.Equal(t, a, b)
	assert.Equal(t, "chainlink:ethereum:ETH/USD:1024", a)
}
