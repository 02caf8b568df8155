package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/retry"
)

func restInstance(baseURL string, batch bool) *core.ProtocolInstance {
	return &core.ProtocolInstance{
		ID:       "band-ethereum",
		Protocol: core.ProtocolBand,
		Chain:    "ethereum",
		Enabled:  true,
		ProtocolConfig: core.ProtocolConfig{
			REST: &core.RESTConfig{BaseURL: baseURL, BearerToken: "sekret", BatchSupport: batch},
		},
	}
}

func TestRESTFetchPrice(t *testing.T) {
	now := time.Now().Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sekret", r.Header.Get("Authorization"))
		assert.Equal(t, "/ETH", r.URL.Path)
		json.NewEncoder(w).Encode(restQuote{Price: f64(2000.5), Timestamp: now})
	}))
	defer srv.Close()

	c, err := NewRESTClient(restInstance(srv.URL, false), srv.Client())
	require.NoError(t, err)

	feed, err := c.FetchPrice(context.Background(), "eth/usd")
	require.NoError(t, err)
	require.NotNil(t, feed)
	assert.Equal(t, "ETH/USD", feed.Symbol)
	assert.Equal(t, 2000.5, feed.Price)
	assert.Equal(t, restDefaultDecimals, feed.Decimals)
	assert.Equal(t, now*1000, feed.Timestamp, "second timestamps are normalized to ms")
	assert.Equal(t, "200050000000", feed.PriceRaw.String())
	assert.False(t, feed.IsStale)
}

func TestRESTValueFieldAndExplicitDecimals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		d := uint8(6)
		json.NewEncoder(w).Encode(restQuote{Value: f64(1.25), Decimals: &d, Timestamp: time.Now().UnixMilli()})
	}))
	defer srv.Close()

	c, err := NewRESTClient(restInstance(srv.URL, false), srv.Client())
	require.NoError(t, err)

	feed, err := c.FetchPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, 1.25, feed.Price)
	assert.Equal(t, uint8(6), feed.Decimals)
	assert.Equal(t, "1250000", feed.PriceRaw.String())
}

func TestRESTUnknownSymbolIsAbsent(t *testing.T) {
	c, err := NewRESTClient(restInstance("http://unused.invalid", false), nil)
	require.NoError(t, err)

	feed, err := c.FetchPrice(context.Background(), "DOGE/USD")
	assert.NoError(t, err)
	assert.Nil(t, feed)
}

func TestRESTNon200Surfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewRESTClient(restInstance(srv.URL, false), srv.Client())
	require.NoError(t, err)
	c.retryOpts = retry.Options{Attempts: 1}

	_, err = c.FetchPrice(context.Background(), "ETH/USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestRESTBatchEndpoint(t *testing.T) {
	now := time.Now().Unix()
	var batchHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/batch", r.URL.Path)
		batchHits++
		assert.Equal(t, "BTC,ETH", r.URL.Query().Get("assets"), "registry symbol order is sorted")
		json.NewEncoder(w).Encode([]restQuote{
			{Symbol: "ETH/USD", Price: f64(2000), Timestamp: now},
			{Symbol: "BTC/USD", Price: f64(60000), Timestamp: now},
			{Symbol: "JUNK/USD", Price: f64(1), Timestamp: now},
		})
	}))
	defer srv.Close()

	c, err := NewRESTClient(restInstance(srv.URL, true), srv.Client())
	require.NoError(t, err)

	feeds := c.FetchAllFeeds(context.Background())
	assert.Equal(t, 1, batchHits)
	require.Len(t, feeds, 2, "unregistered symbols from the provider are dropped")
	assert.Equal(t, 2000.0, feeds[0].Price)
	assert.Equal(t, 60000.0, feeds[1].Price)
}

func f64(v float64) *float64 { return &v }
