package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/registry"
)

const restDefaultDecimals uint8 = 8

// restQuote is the provider payload shape. Providers differ on field
// names, so both price and value are accepted; timestamps may be seconds
// or milliseconds.
type restQuote struct {
	Symbol    string   `json:"symbol,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Timestamp int64    `json:"timestamp"`
	Decimals  *uint8   `json:"decimals,omitempty"`
	Source    string   `json:"source,omitempty"`
	RoundID   string   `json:"roundId,omitempty"`
}

// RESTClient pulls quotes from HTTP providers (DIA, Band, Flux v1).
// Per-asset GETs by default; providers with a batch endpoint serve
// FetchAllFeeds in one round trip.
type RESTClient struct {
	BaseClient
	httpClient   *http.Client
	baseURL      string
	bearerToken  string
	batchSupport bool
}

// NewRESTClient builds the pull adapter for one instance.
func NewRESTClient(inst *core.ProtocolInstance, httpClient *http.Client) (*RESTClient, error) {
	cfg := inst.ProtocolConfig.REST
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest: instance %s has no base URL", inst.ID)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &RESTClient{
		BaseClient:   NewBaseClient(inst.Protocol, inst.Chain, inst.ID, 0),
		httpClient:   httpClient,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		bearerToken:  cfg.BearerToken,
		batchSupport: cfg.BatchSupport,
	}, nil
}

func (c *RESTClient) Capabilities() Capabilities {
	return Capabilities{PriceFeeds: true, BatchQueries: c.batchSupport}
}

// FetchPrice pulls one asset. Unknown symbols return (nil, nil).
func (c *RESTClient) FetchPrice(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
	symbol = NormalizeSymbol(symbol)
	feedID, ok := registry.GetFeedID(c.Protocol(), c.Chain(), symbol)
	if !ok {
		return nil, nil
	}
	return c.fetchWithRetry(ctx, symbol, func(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
		return c.fetchOne(ctx, feedID, symbol)
	})
}

// FetchAllFeeds uses the provider batch endpoint when available,
// otherwise fans out per-asset GETs.
func (c *RESTClient) FetchAllFeeds(ctx context.Context) []*core.UnifiedPriceFeed {
	if c.batchSupport {
		if feeds, err := c.fetchBatch(ctx); err == nil {
			return feeds
		}
		// Batch endpoint down; per-asset path still works.
	}
	return c.fetchAll(ctx, func(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
		feedID, ok := registry.GetFeedID(c.Protocol(), c.Chain(), symbol)
		if !ok {
			return nil, nil
		}
		return c.fetchOne(ctx, feedID, symbol)
	})
}

func (c *RESTClient) CheckHealth(ctx context.Context) *Health {
	symbols := c.Symbols()
	if len(symbols) == 0 {
		return &Health{Status: Unhealthy, Issues: []string{"no assets registered"}}
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

func (c *RESTClient) fetchOne(ctx context.Context, feedID, symbol string) (*core.UnifiedPriceFeed, error) {
	var quote restQuote
	if err := c.getJSON(ctx, c.baseURL+"/"+feedID, &quote); err != nil {
		return nil, err
	}
	return c.quoteToFeed(&quote, symbol)
}

func (c *RESTClient) fetchBatch(ctx context.Context) ([]*core.UnifiedPriceFeed, error) {
	symbols := c.Symbols()
	ids := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		if id, ok := registry.GetFeedID(c.Protocol(), c.Chain(), sym); ok {
			ids = append(ids, id)
			bySymbol[sym] = id
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var quotes []restQuote
	endpoint := c.baseURL + "/batch?assets=" + url.QueryEscape(strings.Join(ids, ","))
	if err := c.getJSON(ctx, endpoint, &quotes); err != nil {
		return nil, err
	}

	feeds := make([]*core.UnifiedPriceFeed, 0, len(quotes))
	for i := range quotes {
		symbol := NormalizeSymbol(quotes[i].Symbol)
		if _, ok := bySymbol[symbol]; !ok {
			continue
		}
		feed, err := c.quoteToFeed(&quotes[i], symbol)
		if err != nil {
			continue
		}
		feeds = append(feeds, feed)
	}
	return feeds, nil
}

func (c *RESTClient) getJSON(ctx context.Context, endpoint string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *RESTClient) quoteToFeed(q *restQuote, symbol string) (*core.UnifiedPriceFeed, error) {
	price := 0.0
	switch {
	case q.Price != nil:
		price = *q.Price
	case q.Value != nil:
		price = *q.Value
	default:
		return nil, fmt.Errorf("quote for %s carries no price", symbol)
	}
	if price <= 0 {
		return nil, fmt.Errorf("quote for %s has non-positive price %f", symbol, price)
	}

	decimals := restDefaultDecimals
	if q.Decimals != nil {
		decimals = *q.Decimals
	}

	// Sub-1e12 timestamps are seconds.
	ts := q.Timestamp
	if ts < 1_000_000_000_000 {
		ts *= 1000
	}

	roundOrTS := q.RoundID
	if roundOrTS == "" {
		roundOrTS = fmt.Sprintf("%d", ts)
	}

	feed := &core.UnifiedPriceFeed{
		ID:        FeedRecordID(c.Protocol(), c.Chain(), symbol, roundOrTS),
		Symbol:    symbol,
		Price:     price,
		PriceRaw:  RawFromFloat(price, decimals),
		Decimals:  decimals,
		Timestamp: ts,
	}
	if q.Source != "" {
		feed.Sources = []string{q.Source}
	}
	return c.Stamp(feed), nil
}
