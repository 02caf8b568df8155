package oracle

import (
	"context"
	"log"

	"github.com/insightlabs/observatory/internal/batch"
	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/registry"
	"github.com/insightlabs/observatory/internal/retry"
)

// defaultBatchLimit caps concurrent symbol fetches in FetchAllFeeds.
const defaultBatchLimit = 5

// BaseClient carries the identity and shared machinery every adapter
// composes: symbol enumeration from the registry, the bounded batch
// fan-out, retry policy, and freshness stamping. Adapters embed it and
// supply only the protocol-specific fetch.
type BaseClient struct {
	protocol   core.Protocol
	chain      string
	instanceID string
	threshold  int64
	retryOpts  retry.Options
	batchLimit int
}

// NewBaseClient builds the shared adapter core for one (protocol, chain)
// pair. A zero thresholdSeconds selects the protocol default.
func NewBaseClient(protocol core.Protocol, chain, instanceID string, thresholdSeconds int64) BaseClient {
	if thresholdSeconds <= 0 {
		thresholdSeconds = DefaultStalenessThreshold(protocol)
	}
	return BaseClient{
		protocol:   protocol,
		chain:      chain,
		instanceID: instanceID,
		threshold:  thresholdSeconds,
		retryOpts:  retry.DefaultOptions(),
		batchLimit: defaultBatchLimit,
	}
}

func (b *BaseClient) Protocol() core.Protocol { return b.protocol }
func (b *BaseClient) Chain() string           { return b.chain }
func (b *BaseClient) InstanceID() string      { return b.instanceID }

// StalenessThreshold is the active threshold in seconds.
func (b *BaseClient) StalenessThreshold() int64 { return b.threshold }

// Symbols enumerates the feeds this pair serves.
func (b *BaseClient) Symbols() []string {
	return registry.GetAvailableSymbols(b.protocol, b.chain)
}

// Stamp finalizes a feed record: identity fields, base/quote split, and
// freshness against the active threshold.
func (b *BaseClient) Stamp(feed *core.UnifiedPriceFeed) *core.UnifiedPriceFeed {
	feed.InstanceID = b.instanceID
	feed.Protocol = b.protocol
	feed.Chain = b.chain
	feed.BaseAsset, feed.QuoteAsset = SplitSymbol(feed.Symbol)
	fr := CalculateFreshness(feed.Timestamp, b.threshold)
	feed.IsStale = fr.IsStale
	feed.StalenessSeconds = fr.StalenessSeconds
	return feed
}

// fetchWithRetry wraps one symbol fetch in the shared retry policy and
// PriceFetchError envelope.
func (b *BaseClient) fetchWithRetry(ctx context.Context, symbol string, fetch func(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error)) (*core.UnifiedPriceFeed, error) {
	feed, err := retry.Do(ctx, b.retryOpts, func(ctx context.Context) (*core.UnifiedPriceFeed, error) {
		return fetch(ctx, symbol)
	})
	if err != nil {
		return nil, &PriceFetchError{Protocol: b.protocol, Chain: b.chain, Symbol: symbol, Err: err}
	}
	return feed, nil
}

// fetchAll fans fetch out over every registry symbol with the bounded
// batch runner. Failed symbols are logged and dropped; the result keeps
// registry order for the survivors.
func (b *BaseClient) fetchAll(ctx context.Context, fetch func(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error)) []*core.UnifiedPriceFeed {
	symbols := b.Symbols()
	outcomes := batch.RunBounded(ctx, symbols, b.batchLimit, func(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
		return b.fetchWithRetry(ctx, symbol, fetch)
	})

	feeds := make([]*core.UnifiedPriceFeed, 0, len(symbols))
	for i, out := range outcomes {
		if out.Status != batch.StatusFulfilled {
			log.Printf("[Oracle] %s/%s: dropping %s: %v", b.protocol, b.chain, symbols[i], out.Err)
			continue
		}
		if out.Value != nil {
			feeds = append(feeds, out.Value)
		}
	}
	return feeds
}
