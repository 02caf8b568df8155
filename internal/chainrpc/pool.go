// Package chainrpc manages access to chain JSON-RPC endpoints: a TTL'd
// client pool, an endpoint rotator with per-endpoint statistics, and
// credential redaction for anything endpoint-shaped that reaches a log line.
package chainrpc

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	// DefaultRequestTimeout is the hard per-request deadline. Retries are
	// the caller's concern; the pool never retries.
	DefaultRequestTimeout = 30 * time.Second

	// clientTTL is how long a pooled client is considered fresh. The
	// sweeper evicts entries older than 2x TTL.
	clientTTL = 60 * time.Second
)

// Backend is the slice of the Ethereum client the observatory consumes.
// ethclient.Client satisfies it; tests substitute fakes.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client is one pooled connection handle. Handles are immutable across
// rotations; the rotator hands out endpoints, the pool hands out clients.
type Client struct {
	backend   Backend
	endpoint  string
	chainID   string
	timeout   time.Duration
	createdAt time.Time
	closer    func()
}

// Endpoint returns the raw endpoint URL. Redact before logging.
func (c *Client) Endpoint() string { return c.endpoint }

// BlockNumber fetches the chain head under the hard request timeout.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.backend.BlockNumber(ctx)
}

// FilterLogs runs eth_getLogs under the hard request timeout.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.backend.FilterLogs(ctx, q)
}

// CallContract runs eth_call under the hard request timeout.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.backend.CallContract(ctx, msg, blockNumber)
}

// DialFunc constructs a backend for an endpoint. Injected in tests.
type DialFunc func(ctx context.Context, endpoint string) (Backend, func(), error)

func dialHTTP(ctx context.Context, endpoint string) (Backend, func(), error) {
	httpClient := &http.Client{Timeout: DefaultRequestTimeout}
	rpcClient, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", Redact(endpoint), err)
	}
	eth := ethclient.NewClient(rpcClient)
	return eth, eth.Close, nil
}

type poolEntry struct {
	client    *Client
	createdAt time.Time
}

// Pool caches clients keyed by endpoint||chainId. Construction is cheap
// and idempotent; a race that builds two clients is tolerated with
// last-writer-wins. Bypass disables caching entirely so tests never share
// state across cases.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry
	dial    DialFunc
	timeout time.Duration

	// Bypass skips the cache; every Get dials fresh.
	Bypass bool
}

// NewPool creates a pool with the default HTTP dialer.
func NewPool() *Pool {
	return &Pool{
		entries: make(map[string]*poolEntry),
		dial:    dialHTTP,
		timeout: DefaultRequestTimeout,
	}
}

// NewPoolWithDialer creates a pool with an injected dialer (tests).
func NewPoolWithDialer(dial DialFunc, timeout time.Duration) *Pool {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Pool{
		entries: make(map[string]*poolEntry),
		dial:    dial,
		timeout: timeout,
	}
}

func poolKey(endpoint, chainID string) string { return endpoint + "||" + chainID }

// Get returns a cached client for (endpoint, chainID), dialing if absent
// or expired.
func (p *Pool) Get(ctx context.Context, endpoint, chainID string) (*Client, error) {
	key := poolKey(endpoint, chainID)

	if !p.Bypass {
		p.mu.Lock()
		if entry, ok := p.entries[key]; ok && time.Since(entry.createdAt) < clientTTL {
			p.mu.Unlock()
			return entry.client, nil
		}
		p.mu.Unlock()
	}

	backend, closer, err := p.dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	client := &Client{
		backend:   backend,
		endpoint:  endpoint,
		chainID:   chainID,
		timeout:   p.timeout,
		createdAt: time.Now(),
		closer:    closer,
	}

	if p.Bypass {
		return client, nil
	}

	p.mu.Lock()
	p.entries[key] = &poolEntry{client: client, createdAt: client.createdAt}
	p.mu.Unlock()
	return client, nil
}

// Evict drops the cached client for (endpoint, chainID).
func (p *Pool) Evict(endpoint, chainID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := poolKey(endpoint, chainID)
	if entry, ok := p.entries[key]; ok {
		if entry.client.closer != nil {
			entry.client.closer()
		}
		delete(p.entries, key)
	}
}

// SweepStale evicts entries older than 2x TTL. Best-effort.
func (p *Pool) SweepStale() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	evicted := 0
	for key, entry := range p.entries {
		if time.Since(entry.createdAt) > 2*clientTTL {
			if entry.client.closer != nil {
				entry.client.closer()
			}
			delete(p.entries, key)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs SweepStale every TTL until ctx is cancelled.
func (p *Pool) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(clientTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := p.SweepStale(); n > 0 {
					log.Printf("[RPCPool] Swept %d stale clients", n)
				}
			}
		}
	}()
}

// Size returns the number of cached entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
