// Package webhooks delivers observatory bus events to registered HTTP
// subscribers: anomaly detections, assertion lifecycle transitions, and
// sync failures pushed to external alerting.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxFailuresBeforeDisable stops delivery to a dead endpoint.
const maxFailuresBeforeDisable = 10

// Subscription is one registered webhook. EventTypes holds bus event
// type strings (see the events package constants); empty means all.
type Subscription struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	EventTypes []string  `json:"eventTypes,omitempty"`
	Secret     string    `json:"-"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	FailCount  int       `json:"failCount"`
}

func (s *Subscription) matches(eventType string) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, et := range s.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// Registry stores webhook subscriptions.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]*Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]*Subscription)}
}

// Register validates and stores a subscription, assigning an id when
// absent.
func (r *Registry) Register(sub *Subscription) error {
	if sub.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.Active = true
	sub.CreatedAt = time.Now()
	sub.FailCount = 0

	r.mu.Lock()
	r.hooks[sub.ID] = sub
	r.mu.Unlock()

	log.Printf("[Webhooks] registered %s -> %s (events: %v)", sub.ID, sub.URL, sub.EventTypes)
	return nil
}

// Unregister removes a subscription.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; !ok {
		return fmt.Errorf("webhook %s not found", id)
	}
	delete(r.hooks, id)
	return nil
}

// Subscribers returns active subscriptions matching the event type.
func (r *Registry) Subscribers(eventType string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Subscription
	for _, sub := range r.hooks {
		if sub.Active && sub.matches(eventType) {
			out = append(out, sub)
		}
	}
	return out
}

// List returns every subscription.
func (r *Registry) List() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.hooks))
	for _, sub := range r.hooks {
		out = append(out, sub)
	}
	return out
}

// MarkFailed counts a delivery failure and disables the subscription
// after too many.
func (r *Registry) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.hooks[id]
	if !ok {
		return
	}
	sub.FailCount++
	if sub.FailCount >= maxFailuresBeforeDisable {
		sub.Active = false
		log.Printf("[Webhooks] %s disabled after %d failures", id, sub.FailCount)
	}
}

// MarkDelivered resets the failure streak.
func (r *Registry) MarkDelivered(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.hooks[id]; ok {
		sub.FailCount = 0
	}
}

// SignPayload computes the HMAC-SHA256 hex signature subscribers verify.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
