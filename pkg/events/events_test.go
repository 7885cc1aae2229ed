package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{Type: EventTaskSubmitted, TaskID: "task-1"})

	select {
	case event := <-sub:
		assert.Equal(t, EventTaskSubmitted, event.Type)
		assert.Equal(t, "task-1", event.TaskID)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	defer broker.Unsubscribe(sub1)
	defer broker.Unsubscribe(sub2)
	require.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{Type: EventNodeJoined, NodeID: "node-1"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			assert.Equal(t, EventNodeJoined, event.Type)
		case <-time.After(time.Second):
			t.Fatal("event not delivered to all subscribers")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)

	// A second unsubscribe of the same channel is a no-op
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained: its buffer fills and further events are skipped.
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventTaskSubmitted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
