package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch chan *Event) *Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestTypedSubscriptionOnlySeesItsTypes(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(TypeSyncFailed)
	defer bus.Unsubscribe(sub)

	bus.Emit(TypeSyncCompleted, "umasync", "i1", nil)
	bus.Emit(TypeSyncFailed, "umasync", "i1", map[string]interface{}{"error": "rpc_unreachable"})

	ev := recv(t, sub)
	assert.Equal(t, TypeSyncFailed, ev.Type)
	assert.Equal(t, "i1", ev.Subject)
	assert.NotEmpty(t, ev.ID)
	select {
	case extra := <-sub:
		t.Fatalf("unexpected event %s", extra.Type)
	default:
	}
}

func TestWildcardSubscriptionSeesEverything(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	bus.Emit(TypeFeedUpdated, "oracle", "ETH/USD", nil)
	bus.Emit(TypeAnomalyDetected, "anomaly", "m", nil)

	assert.Equal(t, TypeFeedUpdated, recv(t, sub).Type)
	assert.Equal(t, TypeAnomalyDetected, recv(t, sub).Type)
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1
	sub := bus.Subscribe(TypeFeedStale)
	defer bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(TypeFeedStale, "oracle", "BTC/USD", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestSSEFormat(t *testing.T) {
	ev := NewEvent(TypeAnomalyDetected, "anomaly", "m", map[string]interface{}{"severity": "high"})
	frame, err := ev.SSEFormat()
	require.NoError(t, err)
	assert.Contains(t, string(frame), "event: "+TypeAnomalyDetected+"\n")
	assert.Contains(t, string(frame), "id: "+ev.ID+"\n")
}

func TestSubscriberCount(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe(TypeVoteRecorded)
	assert.Equal(t, 2, bus.SubscriberCount())
	bus.Unsubscribe(a)
	bus.Unsubscribe(b)
	assert.Equal(t, 0, bus.SubscriberCount())
}
