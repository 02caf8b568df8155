// Package middleware holds HTTP middleware shared by the API surface.
package middleware

import (
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig bounds per-caller request rates. Burst allows short
// spikes above the sustained limit.
type RateLimitConfig struct {
	MaxCallsPerMinute int
	BurstSize         int
}

// RateLimiter enforces a per-caller sliding-minute request budget.
// Callers are keyed by remote IP. Counts are soft: a slight race on
// increment is acceptable for rate limiting.
type RateLimiter struct {
	mu       sync.RWMutex
	windows  map[string]*window
	defaults RateLimitConfig
}

type window struct {
	count   int
	started time.Time
}

// NewRateLimiter creates a limiter and starts its window cleanup.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MaxCallsPerMinute == 0 {
		cfg.MaxCallsPerMinute = 300
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = cfg.MaxCallsPerMinute * 2
	}
	rl := &RateLimiter{
		windows:  make(map[string]*window),
		defaults: cfg,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether one more request from key fits the budget.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.RLock()
	w, exists := rl.windows[key]
	if exists && now.Sub(w.started) <= time.Minute {
		w.count++
		count := w.count
		rl.mu.RUnlock()

		if count > rl.defaults.BurstSize {
			return false
		}
		if count > rl.defaults.MaxCallsPerMinute {
			log.Printf("[RateLimit] key=%s count=%d limit=%d", key, count, rl.defaults.MaxCallsPerMinute)
			return false
		}
		return true
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	// Another goroutine may have opened the window meanwhile.
	w, exists = rl.windows[key]
	if exists && now.Sub(w.started) <= time.Minute {
		w.count++
		return w.count <= rl.defaults.BurstSize
	}
	rl.windows[key] = &window{count: 1, started: now}
	return true
}

// Middleware rejects over-budget callers with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(callerKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retryAfterSeconds":60}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, w := range rl.windows {
			if now.Sub(w.started) > 2*time.Minute {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Stats snapshots the limiter for the status endpoints.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return map[string]interface{}{
		"activeWindows":  len(rl.windows),
		"maxCallsPerMin": rl.defaults.MaxCallsPerMinute,
		"burstSize":      rl.defaults.BurstSize,
	}
}
