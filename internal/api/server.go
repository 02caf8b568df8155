// Package api exposes the observatory over REST/JSON: price feeds,
// optimistic-oracle entities, sync control, anomaly queries, and the
// live event stream.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insightlabs/observatory/internal/anomaly"
	"github.com/insightlabs/observatory/internal/cache"
	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/events"
	"github.com/insightlabs/observatory/internal/middleware"
	"github.com/insightlabs/observatory/internal/oracle"
	"github.com/insightlabs/observatory/internal/scheduler"
	"github.com/insightlabs/observatory/internal/storage"
	"github.com/insightlabs/observatory/internal/webhooks"
	"github.com/insightlabs/observatory/internal/websocket"
)

// SyncEngine is the engine surface the API drives.
type SyncEngine interface {
	EnsureSynced(ctx context.Context, inst *core.ProtocolInstance) error
	IsSyncing(instanceID string) bool
	SyncingCount() int
	ReplayEventsRange(ctx context.Context, inst *core.ProtocolInstance, from, to uint64) error
}

// SyncScheduler is the scheduler surface the API drives.
type SyncScheduler interface {
	Start()
	Stop()
	GetSyncTaskStatus() scheduler.Status
}

// Server wires the HTTP surface to the internal services.
type Server struct {
	store     storage.Store
	clients   map[string]oracle.Client // key: protocol/chain
	engine    SyncEngine
	scheduler SyncScheduler
	detector  *anomaly.Detector
	bus       *events.Bus
	cache     *cache.FeedCache
	streamer  *websocket.Streamer
	limiter   *middleware.RateLimiter
	hooks     *webhooks.Registry

	httpServer *http.Server
}

// NewServer builds the server. cache may be nil; every other dependency
// is required.
func NewServer(store storage.Store, clients []oracle.Client, engine SyncEngine, sched SyncScheduler, detector *anomaly.Detector, bus *events.Bus, feedCache *cache.FeedCache, hooks *webhooks.Registry) *Server {
	byKey := make(map[string]oracle.Client, len(clients))
	for _, c := range clients {
		byKey[clientKey(c.Protocol(), c.Chain())] = c
	}
	return &Server{
		store:     store,
		clients:   byKey,
		engine:    engine,
		scheduler: sched,
		detector:  detector,
		bus:       bus,
		cache:     feedCache,
		streamer:  websocket.NewStreamer(bus),
		limiter:   middleware.NewRateLimiter(middleware.RateLimitConfig{}),
		hooks:     hooks,
	}
}

func clientKey(protocol core.Protocol, chain string) string {
	return string(protocol) + "/" + chain
}

func (s *Server) client(protocol, chain string) (oracle.Client, bool) {
	c, ok := s.clients[clientKey(core.Protocol(protocol), chain)]
	return c, ok
}

// Router assembles all routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Use(s.limiter.Middleware)

	// Price feeds
	r.HandleFunc("/api/feeds/{protocol}/{chain}", s.handleAllFeeds).Methods("GET")
	r.HandleFunc("/api/feeds/{protocol}/{chain}/{symbol}", s.handleFeed).Methods("GET")
	r.HandleFunc("/api/feeds/{protocol}/{chain}/-/health", s.handleFeedHealth).Methods("GET")
	r.HandleFunc("/api/feeds/{protocol}/{chain}/-/capabilities", s.handleCapabilities).Methods("GET")

	// Optimistic oracle entities
	r.HandleFunc("/api/assertions", s.handleListAssertions).Methods("GET")
	r.HandleFunc("/api/assertions/{id}", s.handleGetAssertion).Methods("GET")
	r.HandleFunc("/api/disputes", s.handleListDisputes).Methods("GET")
	r.HandleFunc("/api/votes", s.handleListVotes).Methods("GET")

	// Sync control
	r.HandleFunc("/api/sync/status", s.handleSyncStatus).Methods("GET")
	r.HandleFunc("/api/sync/start", s.handleSyncStart).Methods("POST")
	r.HandleFunc("/api/sync/stop", s.handleSyncStop).Methods("POST")
	r.HandleFunc("/api/sync/replay", s.handleSyncReplay).Methods("POST")
	r.HandleFunc("/api/sync/{instanceId}", s.handleSyncInstance).Methods("POST")

	// Anomaly detector
	r.HandleFunc("/api/anomaly/detect", s.handleAnomalyDetect).Methods("POST")
	r.HandleFunc("/api/anomaly/profile/{metric}", s.handleAnomalyProfile).Methods("GET")
	r.HandleFunc("/api/anomaly/prediction/{metric}", s.handleAnomalyPrediction).Methods("GET")
	r.HandleFunc("/api/anomaly/reset", s.handleAnomalyReset).Methods("POST")

	// Webhooks
	r.HandleFunc("/api/webhooks", s.handleRegisterWebhook).Methods("POST")
	r.HandleFunc("/api/webhooks", s.handleListWebhooks).Methods("GET")
	r.HandleFunc("/api/webhooks/{id}", s.handleUnregisterWebhook).Methods("DELETE")

	// Event stream
	r.HandleFunc("/api/stream/ws", s.handleWebsocket).Methods("GET")
	r.HandleFunc("/api/stream/sse", s.handleSSE).Methods("GET")

	// Operational
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	return r
}

// Start serves until the context is cancelled, then drains with a 10s
// grace period.
func (s *Server) Start(ctx context.Context, port string) error {
	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go s.streamer.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[API] listening on :%s", port)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"syncing": s.engine.SyncingCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
