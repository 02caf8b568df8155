package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // Postgres driver

	"github.com/insightlabs/observatory/internal/anomaly"
	"github.com/insightlabs/observatory/internal/api"
	"github.com/insightlabs/observatory/internal/cache"
	"github.com/insightlabs/observatory/internal/chainrpc"
	"github.com/insightlabs/observatory/internal/config"
	"github.com/insightlabs/observatory/internal/core"
	"github.com/insightlabs/observatory/internal/events"
	"github.com/insightlabs/observatory/internal/oracle"
	"github.com/insightlabs/observatory/internal/scheduler"
	"github.com/insightlabs/observatory/internal/storage"
	"github.com/insightlabs/observatory/internal/umasync"
	"github.com/insightlabs/observatory/internal/webhooks"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/observatory.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[Main] config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("[Main] storage: %v", err)
	}
	defer closeStore()

	var feedCache *cache.FeedCache
	if cfg.Redis.Addr != "" {
		feedCache, err = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("[Main] redis unavailable, continuing without cache: %v", err)
			feedCache = nil
		} else {
			defer feedCache.Close()
		}
	}

	for _, inst := range cfg.Instances {
		if err := store.UpsertInstance(ctx, inst); err != nil {
			log.Fatalf("[Main] seed instance %s: %v", inst.ID, err)
		}
	}

	bus := events.NewBus()
	pool := chainrpc.NewPool()
	engine := umasync.NewEngine(store, pool, bus)
	sched := scheduler.New(store, engine, bus, scheduler.Options{})
	detector := anomaly.New(bus, anomaly.Options{})

	hookRegistry := webhooks.NewRegistry()
	go webhooks.NewDispatcher(hookRegistry, bus, 4).Run(ctx)

	clients := buildPriceClients(ctx, cfg.Instances, pool)
	log.Printf("[Main] %d price clients, %d instances", len(clients), len(cfg.Instances))

	sched.Start()
	defer sched.Stop()

	server := api.NewServer(store, clients, engine, sched, detector, bus, feedCache, hookRegistry)
	if err := server.Start(ctx, cfg.Server.Port); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[Main] server: %v", err)
	}
	log.Printf("[Main] shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	if cfg.Database.URL == "" {
		log.Printf("[Main] no database configured, using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}
	pg, err := storage.OpenPostgres(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { pg.Close() }, nil
}

// buildPriceClients constructs one adapter per enabled non-UMA
// instance. A bad instance is logged and skipped rather than taking the
// service down.
func buildPriceClients(ctx context.Context, instances []*core.ProtocolInstance, pool *chainrpc.Pool) []oracle.Client {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	var clients []oracle.Client
	for _, inst := range instances {
		if !inst.Enabled || inst.ProtocolConfig.Kind() == core.ConfigKindUMA {
			continue
		}
		var caller oracle.ContractCaller
		if len(inst.Config.RPCURLs) > 0 {
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			rpcClient, err := pool.Get(dialCtx, inst.Config.RPCURLs[0], inst.Chain)
			cancel()
			if err != nil {
				log.Printf("[Main] instance %s: rpc dial failed, skipping: %v", inst.ID, err)
				continue
			}
			caller = rpcClient
		}
		client, err := oracle.NewClient(inst, caller, httpClient)
		if err != nil {
			log.Printf("[Main] instance %s: %v", inst.ID, err)
			continue
		}
		clients = append(clients, client)
	}
	return clients
}
