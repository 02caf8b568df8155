package chainrpc

import (
	"log"
	"sync"
	"time"

	"github.com/insightlabs/observatory/internal/core"
)

// ewmaAlpha weights new latency samples in the moving average.
const ewmaAlpha = 0.2

// logSampleEvery throttles outcome logging to one line per N outcomes.
const logSampleEvery = 100

// Rotator walks a bounded ordered endpoint list and records per-endpoint
// outcomes. Stats are advisory: readers may observe partial updates.
type Rotator struct {
	mu        sync.Mutex
	endpoints []string
	stats     map[string]*core.EndpointStats
	outcomes  uint64
}

// NewRotator builds a rotator over the configured endpoint list.
func NewRotator(endpoints []string) *Rotator {
	stats := make(map[string]*core.EndpointStats, len(endpoints))
	for _, e := range endpoints {
		stats[e] = &core.EndpointStats{}
	}
	return &Rotator{endpoints: endpoints, stats: stats}
}

// Endpoints returns the configured list in order.
func (r *Rotator) Endpoints() []string {
	out := make([]string, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// First returns the initial endpoint, or "" when none are configured.
func (r *Rotator) First() string {
	if len(r.endpoints) == 0 {
		return ""
	}
	return r.endpoints[0]
}

// Next returns the successor of current, modulo list length. An unknown
// current falls back to index 0.
func (r *Rotator) Next(current string) string {
	if len(r.endpoints) == 0 {
		return ""
	}
	for i, e := range r.endpoints {
		if e == current {
			return r.endpoints[(i+1)%len(r.endpoints)]
		}
	}
	return r.endpoints[0]
}

// RecordOK records a successful call and folds latency into the EWMA.
func (r *Rotator) RecordOK(endpoint string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stat(endpoint)
	now := time.Now()
	st.OK++
	st.LastOKAt = &now

	ms := latency.Milliseconds()
	if st.AvgLatencyMs == 0 {
		st.AvgLatencyMs = ms
	} else {
		st.AvgLatencyMs = int64(float64(st.AvgLatencyMs)*(1-ewmaAlpha) + float64(ms)*ewmaAlpha + 0.5)
	}

	r.maybeLog(endpoint, "ok", ms)
}

// RecordFail records a failed call.
func (r *Rotator) RecordFail(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stat(endpoint)
	now := time.Now()
	st.Fail++
	st.LastFailAt = &now

	r.maybeLog(endpoint, "fail", 0)
}

// Stats returns a snapshot of all endpoint statistics keyed by endpoint.
func (r *Rotator) Stats() map[string]*core.EndpointStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*core.EndpointStats, len(r.stats))
	for k, v := range r.stats {
		cp := *v
		out[k] = &cp
	}
	return out
}

// AvgLatencyMs returns the EWMA latency for an endpoint, 0 if unseen.
func (r *Rotator) AvgLatencyMs(endpoint string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.stats[endpoint]; ok {
		return st.AvgLatencyMs
	}
	return 0
}

func (r *Rotator) stat(endpoint string) *core.EndpointStats {
	st, ok := r.stats[endpoint]
	if !ok {
		st = &core.EndpointStats{}
		r.stats[endpoint] = st
	}
	return st
}

func (r *Rotator) maybeLog(endpoint, outcome string, latencyMs int64) {
	r.outcomes++
	if r.outcomes%logSampleEvery != 0 {
		return
	}
	log.Printf("[Rotator] endpoint=%s outcome=%s latency_ms=%d", Redact(endpoint), outcome, latencyMs)
}
