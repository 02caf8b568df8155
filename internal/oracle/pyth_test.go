package oracle

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/retry"
)

func pythInstance(maxAge int64) *core.ProtocolInstance {
	return &core.ProtocolInstance{
		ID:       "pyth-ethereum",
		Protocol: core.ProtocolPyth,
		Chain:    "ethereum",
		Enabled:  true,
		ProtocolConfig: core.ProtocolConfig{
			Pyth: &core.PythConfig{MaxAgeSeconds: maxAge},
		},
	}
}

func TestPythFetchPriceNormalizesExponent(t *testing.T) {
	caller := newFakeCaller()
	publishTime := big.NewInt(time.Now().Unix())
	// 25.0 with expo -4; conf 0.2% of price.
	caller.set(t, pythABI, "getPrice",
		int64(250000), uint64(500), int32(-4), publishTime)

	c, err := NewPythClient(pythInstance(60), caller)
	require.NoError(t, err)

	feed, err := c.FetchPrice(context.Background(), "SOL/USD")
	require.NoError(t, err)
	require.NotNil(t, feed)
	assert.Equal(t, 25.0, feed.Price)
	assert.Equal(t, uint8(4), feed.Decimals)
	assert.Equal(t, "250000", feed.PriceRaw.String())
	require.NotNil(t, feed.Confidence)
	assert.InDelta(t, 0.2, *feed.Confidence, 1e-9)
	assert.False(t, feed.IsStale)
}

func TestPythStaleAgainstMaxAge(t *testing.T) {
	caller := newFakeCaller()
	publishTime := big.NewInt(time.Now().Add(-120 * time.Second).Unix())
	caller.set(t, pythABI, "getPrice",
		int64(250000), uint64(500), int32(-4), publishTime)

	c, err := NewPythClient(pythInstance(60), caller)
	require.NoError(t, err)

	feed, err := c.FetchPrice(context.Background(), "SOL/USD")
	require.NoError(t, err)
	assert.True(t, feed.IsStale, "two minutes old against a one minute max age")
	assert.GreaterOrEqual(t, feed.StalenessSeconds, int64(120))
}

func TestPythUnknownFeedIsAbsent(t *testing.T) {
	c, err := NewPythClient(pythInstance(60), newFakeCaller())
	require.NoError(t, err)

	feed, err := c.FetchPrice(context.Background(), "DOGE/USD")
	assert.NoError(t, err)
	assert.Nil(t, feed)
}

func TestPythZeroPriceRejected(t *testing.T) {
	caller := newFakeCaller()
	caller.set(t, pythABI, "getPrice",
		int64(0), uint64(0), int32(-8), big.NewInt(time.Now().Unix()))

	c, err := NewPythClient(pythInstance(60), caller)
	require.NoError(t, err)
	c.retryOpts = retry.Options{Attempts: 1}

	_, err = c.FetchPrice(context.Background(), "ETH/USD")
	assert.Error(t, err)
}

func TestPythContractFromRegistryFallback(t *testing.T) {
	inst := pythInstance(60)
	inst.ProtocolConfig.Pyth.ContractAddress = ""

	c, err := NewPythClient(inst, newFakeCaller())
	require.NoError(t, err)
	assert.Equal(t, "0x4305FB66699C3B2702D4d05CF36551390A4c69C6", c.contract.Hex())
}
