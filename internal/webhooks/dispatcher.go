package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/insightlabs/observatory/internal/events"
)

const maxDeliveryAttempts = 3

// Dispatcher bridges the event bus to registered webhooks with a
// bounded worker pool. Deliveries are at-most-once per attempt with up
// to three attempts; a full queue drops rather than blocking the bus.
type Dispatcher struct {
	registry   *Registry
	bus        *events.Bus
	httpClient *http.Client
	queue      chan *deliveryJob
	wg         sync.WaitGroup
}

type deliveryJob struct {
	subscriber *Subscription
	event      *events.Event
	payload    []byte
	attempt    int
}

// NewDispatcher builds a dispatcher with the given worker count.
func NewDispatcher(registry *Registry, bus *events.Bus, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &Dispatcher{
		registry:   registry,
		bus:        bus,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan *deliveryJob, 1000),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Run subscribes to the bus and enqueues matching events until ctx is
// cancelled, then drains the workers.
func (d *Dispatcher) Run(ctx context.Context) {
	sub := d.bus.Subscribe()
	defer d.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			close(d.queue)
			d.wg.Wait()
			return
		case event, ok := <-sub:
			if !ok {
				close(d.queue)
				d.wg.Wait()
				return
			}
			d.enqueue(event)
		}
	}
}

func (d *Dispatcher) enqueue(event *events.Event) {
	subscribers := d.registry.Subscribers(event.Type)
	if len(subscribers) == 0 {
		return
	}
	payload, err := event.JSON()
	if err != nil {
		log.Printf("[Webhooks] marshal event %s: %v", event.ID, err)
		return
	}
	for _, sub := range subscribers {
		select {
		case d.queue <- &deliveryJob{subscriber: sub, event: event, payload: payload, attempt: 1}:
		default:
			log.Printf("[Webhooks] queue full, dropping event %s for %s", event.ID, sub.ID)
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job *deliveryJob) {
	req, err := http.NewRequest("POST", job.subscriber.URL, bytes.NewReader(job.payload))
	if err != nil {
		log.Printf("[Webhooks] build request for %s: %v", job.subscriber.URL, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Observatory-Event-Type", job.event.Type)
	req.Header.Set("X-Observatory-Event-ID", job.event.ID)
	req.Header.Set("X-Observatory-Delivery-Attempt", fmt.Sprintf("%d", job.attempt))
	if job.subscriber.Secret != "" {
		req.Header.Set("X-Observatory-Signature", "sha256="+SignPayload(job.payload, job.subscriber.Secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.failed(job, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.failed(job, resp.Status)
		return
	}
	d.registry.MarkDelivered(job.subscriber.ID)
}

func (d *Dispatcher) failed(job *deliveryJob, reason string) {
	log.Printf("[Webhooks] delivery to %s failed (attempt %d): %s", job.subscriber.URL, job.attempt, reason)
	d.registry.MarkFailed(job.subscriber.ID)
	if job.attempt >= maxDeliveryAttempts {
		return
	}
	// Quadratic backoff, then retry on the same worker. Re-enqueueing
	// would race the queue close during shutdown.
	time.Sleep(time.Duration(job.attempt*job.attempt) * time.Second)
	job.attempt++
	d.deliver(job)
}
