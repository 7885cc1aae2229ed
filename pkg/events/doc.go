/*
Package events provides an in-memory broker for coordinator pub/sub
messaging.

Every significant state change publishes an event: task lifecycle
transitions, node membership and liveness changes, and result
aggregation. Subscribers receive all events on buffered channels and
filter by type themselves; publishing never blocks, and a subscriber
that falls behind skips events rather than stalling the coordinator.

# Event Types

Task events:
  - task.submitted, task.assigned, task.completed
  - task.failed, task.cancelled

Node events:
  - node.joined, node.left
  - node.suspected, node.failed

Result events:
  - result.aggregated

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("%s %s\n", event.Type, event.Message)
		}
	}()

The HTTP API streams these events to clients on /v1/events as JSON
lines.

# Delivery Semantics

Delivery is best effort and in-memory only. Components never depend on
event delivery for correctness; persistent state lives in pkg/storage
and events exist for observation.
*/
package events
