package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/observatory/internal/anomaly"
	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/events"
	"github.com/insightlabs/observatory/internal/oracle"
	"github.com/insightlabs/observatory/internal/scheduler"
	"github.com/insightlabs/observatory/internal/storage"
	"github.com/insightlabs/observatory/internal/webhooks"
)

type stubClient struct {
	feeds map[string]*core.UnifiedPriceFeed
	err   error
}

func (c *stubClient) Protocol() core.Protocol { return core.ProtocolChainlink }
func (c *stubClient) Chain() string           { return "ethereum" }

func (c *stubClient) FetchPrice(ctx context.Context, symbol string) (*core.UnifiedPriceFeed, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.feeds[symbol], nil
}

func (c *stubClient) FetchAllFeeds(ctx context.Context) []*core.UnifiedPriceFeed {
	out := make([]*core.UnifiedPriceFeed, 0, len(c.feeds))
	for _, f := range c.feeds {
		out = append(out, f)
	}
	return out
}

func (c *stubClient) CheckHealth(ctx context.Context) *oracle.Health {
	return &oracle.Health{Status: oracle.Healthy}
}

func (c *stubClient) Capabilities() oracle.Capabilities {
	return oracle.Capabilities{PriceFeeds: true, BatchQueries: true}
}

type stubEngine struct {
	ensureErr  error
	replayed   []string
	ensured    []string
}

func (e *stubEngine) EnsureSynced(ctx context.Context, inst *core.ProtocolInstance) error {
	e.ensured = append(e.ensured, inst.ID)
	return e.ensureErr
}
func (e *stubEngine) IsSyncing(string) bool { return false }
func (e *stubEngine) SyncingCount() int     { return 0 }
func (e *stubEngine) ReplayEventsRange(ctx context.Context, inst *core.ProtocolInstance, from, to uint64) error {
	e.replayed = append(e.replayed, inst.ID)
	return nil
}

type stubScheduler struct{ running bool }

func (s *stubScheduler) Start() { s.running = true }
func (s *stubScheduler) Stop()  { s.running = false }
func (s *stubScheduler) GetSyncTaskStatus() scheduler.Status {
	return scheduler.Status{Running: s.running}
}

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore, *stubEngine) {
	t.Helper()
	store := storage.NewMemoryStore()
	engine := &stubEngine{}
	client := &stubClient{feeds: map[string]*core.UnifiedPriceFeed{
		"ETH/USD": {
			ID:       "chainlink:ethereum:ETH/USD:1024",
			Protocol: core.ProtocolChainlink,
			Chain:    "ethereum",
			Symbol:   "ETH/USD",
			Price:    3500,
			PriceRaw: big.NewInt(350000000000),
			Decimals: 8,
		},
	}}
	srv := NewServer(store, []oracle.Client{client}, engine, &stubScheduler{}, anomaly.New(nil, anomaly.Options{}), events.NewBus(), nil, webhooks.NewRegistry())
	return srv, store, engine
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGetFeed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), "GET", "/api/feeds/chainlink/ethereum/ETH-USD", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var feed core.UnifiedPriceFeed
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	assert.Equal(t, 3500.0, feed.Price)
	assert.Equal(t, "ETH/USD", feed.Symbol)
}

func TestGetFeedUnknownSymbol(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), "GET", "/api/feeds/chainlink/ethereum/DOGE-USD", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetFeedUnknownProtocol(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), "GET", "/api/feeds/pyth/solana/SOL-USD", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCapabilities(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), "GET", "/api/feeds/chainlink/ethereum/-/capabilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var caps oracle.Capabilities
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &caps))
	assert.True(t, caps.PriceFeeds)
	assert.False(t, caps.Assertions)
}

func TestListAssertionsWithFilter(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertAssertion(ctx, "i", &core.Assertion{ID: "a1", Chain: "ethereum", Status: core.AssertionProposed, TxHash: "0x1"}))
	require.NoError(t, store.UpsertAssertion(ctx, "i", &core.Assertion{ID: "a2", Chain: "polygon", Status: core.AssertionSettled, TxHash: "0x2"}))

	rec := doJSON(t, srv.Router(), "GET", "/api/assertions?chain=ethereum", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Rows  []*core.Assertion `json:"rows"`
		Total int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "a1", resp.Rows[0].ID)
}

func TestGetAssertionNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), "GET", "/api/assertions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncInstanceRunsEngine(t *testing.T) {
	srv, store, engine := newTestServer(t)
	inst := &core.ProtocolInstance{ID: "uma-ethereum", Protocol: core.ProtocolUMA, Chain: "ethereum", Enabled: true}
	require.NoError(t, store.UpsertInstance(context.Background(), inst))

	rec := doJSON(t, srv.Router(), "POST", "/api/sync/uma-ethereum", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"uma-ethereum"}, engine.ensured)

	var state core.SyncState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "uma-ethereum", state.InstanceID)
}

func TestSyncInstanceUnknown(t *testing.T) {
	srv, _, engine := newTestServer(t)
	rec := doJSON(t, srv.Router(), "POST", "/api/sync/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, engine.ensured)
}

func TestSyncReplayValidation(t *testing.T) {
	srv, store, engine := newTestServer(t)
	inst := &core.ProtocolInstance{ID: "uma-ethereum", Protocol: core.ProtocolUMA, Chain: "ethereum", Enabled: true}
	require.NoError(t, store.UpsertInstance(context.Background(), inst))

	rec := doJSON(t, srv.Router(), "POST", "/api/sync/replay", map[string]interface{}{
		"instanceId": "uma-ethereum", "from": 100, "to": 50,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, engine.replayed)

	rec = doJSON(t, srv.Router(), "POST", "/api/sync/replay", map[string]interface{}{
		"instanceId": "uma-ethereum", "from": 50, "to": 100,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"uma-ethereum"}, engine.replayed)
}

func TestSyncStartStop(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, "POST", "/api/sync/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Running)

	rec = doJSON(t, router, "POST", "/api/sync/stop", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
}

func TestAnomalyDetectEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 24; i++ {
		v := 100.0
		if i%2 == 0 {
			v = 101
		} else {
			v = 99
		}
		ms := at.UnixMilli()
		rec := doJSON(t, router, "POST", "/api/anomaly/detect", map[string]interface{}{
			"metric": "m", "value": v, "timestamp": ms,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		at = at.Add(time.Minute)
	}

	rec := doJSON(t, router, "POST", "/api/anomaly/detect", map[string]interface{}{
		"metric": "m", "value": 120.0, "timestamp": at.UnixMilli(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Detection *anomaly.Detection `json:"detection"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Detection)
	assert.Equal(t, "spike", resp.Detection.Type)

	// Profile was built from the quiet samples.
	rec = doJSON(t, router, "GET", "/api/anomaly/profile/m", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "POST", "/api/anomaly/reset", map[string]interface{}{"metric": "m"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, router, "GET", "/api/anomaly/profile/m", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, "POST", "/api/webhooks", map[string]interface{}{
		"url":        "https://alerts.example.com/hook",
		"eventTypes": []string{"observatory.anomaly.detected"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sub webhooks.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.NotEmpty(t, sub.ID)

	rec = doJSON(t, router, "GET", "/api/webhooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), sub.ID)

	rec = doJSON(t, router, "DELETE", "/api/webhooks/"+sub.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "DELETE", "/api/webhooks/"+sub.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookRegisterRejectsMissingURL(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), "POST", "/api/webhooks", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsExposed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
