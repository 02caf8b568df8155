package umasync

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/insightlabs/observatory/internal/chainrpc"
)

const (
	// backoffSeedFallback is the base delay when an endpoint has no
	// latency history yet.
	backoffSeedFallback = 250 * time.Millisecond

	// backoffSeedCap bounds the latency-derived backoff seed.
	backoffSeedCap = 10 * time.Second
)

// rpcSession is one instance's view of its endpoints during a sync run:
// the pool that hands out clients, the rotator that tracks outcomes, and
// the currently active endpoint. Parallel topic queries share one
// session, so the active endpoint is mutex-guarded.
type rpcSession struct {
	pool       *chainrpc.Pool
	rotator    *chainrpc.Rotator
	chainID    string
	rpcTimeout time.Duration

	mu     sync.Mutex
	active string
}

func newRPCSession(pool *chainrpc.Pool, rotator *chainrpc.Rotator, chainID, active string, rpcTimeout time.Duration) *rpcSession {
	if active == "" {
		active = rotator.First()
	}
	return &rpcSession{
		pool:       pool,
		rotator:    rotator,
		chainID:    chainID,
		active:     active,
		rpcTimeout: rpcTimeout,
	}
}

func (s *rpcSession) activeEndpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *rpcSession) setActive(endpoint string) {
	s.mu.Lock()
	s.active = endpoint
	s.mu.Unlock()
}

// retriesPerEndpoint scales the per-endpoint retry budget with the
// configured RPC timeout: min(3, max(2, rpcTimeout/5s)).
func (s *rpcSession) retriesPerEndpoint() int {
	n := int(s.rpcTimeout.Milliseconds() / 5000)
	if n < 2 {
		n = 2
	}
	if n > 3 {
		n = 3
	}
	return n
}

// backoff derives the pre-jitter delay before retry attempt k (1-indexed)
// on an endpoint, seeded from its latency EWMA.
func (s *rpcSession) backoff(endpoint string, attempt int) time.Duration {
	seed := time.Duration(s.rotator.AvgLatencyMs(endpoint)*2) * time.Millisecond
	if seed <= 0 {
		seed = backoffSeedFallback
	}
	if seed > backoffSeedCap {
		seed = backoffSeedCap
	}
	d := seed
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffSeedCap {
			return backoffSeedCap
		}
	}
	return d
}

// applyJitter spreads d by a symmetric fraction.
func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * frac
	return time.Duration(float64(d) * (1 + spread))
}

// withRPC runs op against the session's endpoints: per-endpoint retries
// with latency-seeded backoff, rotation on unreachable endpoints, and an
// immediate surface for fatal errors. The active endpoint sticks across
// calls so a healthy endpoint keeps serving the whole range.
func withRPC[T any](ctx context.Context, s *rpcSession, op func(ctx context.Context, client *chainrpc.Client) (T, error)) (T, error) {
	var zero T
	endpoints := s.rotator.Endpoints()
	if len(endpoints) == 0 {
		return zero, NewSyncError(ClassRPCUnreachable, fmt.Errorf("no endpoints configured for chain %s", s.chainID))
	}

	retries := s.retriesPerEndpoint()
	endpoint := s.activeEndpoint()
	var lastErr error

	for hop := 0; hop < len(endpoints); hop++ {
		var class Class
		for attempt := 1; attempt <= retries; attempt++ {
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			if attempt > 1 {
				jitter := 0.3
				if class != ClassRPCUnreachable {
					jitter = 0.2
				}
				if err := sleepCtx(ctx, applyJitter(s.backoff(endpoint, attempt-1), jitter)); err != nil {
					return zero, err
				}
			}

			client, err := s.pool.Get(ctx, endpoint, s.chainID)
			if err != nil {
				s.rotator.RecordFail(endpoint)
				class = ClassRPCUnreachable
				lastErr = NewSyncError(ClassRPCUnreachable, err)
				continue
			}

			start := time.Now()
			v, err := op(ctx, client)
			if err == nil {
				s.rotator.RecordOK(endpoint, time.Since(start))
				s.setActive(endpoint)
				return v, nil
			}
			if ctx.Err() != nil && ClassOf(err) != ClassContractNotFound {
				return zero, ctx.Err()
			}

			class = ClassOf(err)
			if class == ClassContractNotFound {
				return zero, err
			}
			s.rotator.RecordFail(endpoint)
			lastErr = NewSyncError(class, err)
		}

		if class != ClassRPCUnreachable {
			// Endpoint answers but the call keeps failing; rotating will
			// not help.
			return zero, lastErr
		}
		endpoint = s.rotator.Next(endpoint)
	}

	return zero, NewSyncError(ClassRPCUnreachable, fmt.Errorf("all %d endpoints exhausted: %w", len(endpoints), lastErr))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
