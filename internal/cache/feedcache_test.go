package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/observatory/internal/core"
)

func TestFeedKey(t *testing.T) {
	assert.Equal(t, "feed:chainlink:ethereum:ETH/USD",
		FeedKey(core.ProtocolChainlink, "ethereum", "ETH/USD"))
}

func TestNilCacheNoOps(t *testing.T) {
	var c *FeedCache
	ctx := context.Background()

	require.NoError(t, c.PutFeed(ctx, &core.UnifiedPriceFeed{Symbol: "ETH/USD"}))
	require.NoError(t, c.PutFeeds(ctx, []*core.UnifiedPriceFeed{{Symbol: "BTC/USD"}}))

	feed, ok, err := c.GetFeed(ctx, core.ProtocolChainlink, "ethereum", "ETH/USD")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, feed)

	require.NoError(t, c.Close())
}
