/*
Package queue implements the priority task queue at the center of the
coordinator.

The queue holds every task the coordinator knows about, from submission
until a terminal state. It orders pending work by priority then
submission time, enforces per-task deadlines, collects partial results
from assigned nodes, and decides when a task has gathered enough
successful partials to be finalized.

# Architecture

The queue is a mutex-guarded in-memory map with a submission-order
index, persisted write-through to the state store:

	┌──────────────────── TASK QUEUE ──────────────────────────┐
	│                                                            │
	│  Submit ──► validate ──► defaults ──► deadline ──► queued │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │           Dequeue Ordering                  │          │
	│  │                                              │          │
	│  │  critical ► high ► medium ► low             │          │
	│  │  FIFO within the same priority class        │          │
	│  │  expired tasks fail in place                │          │
	│  │  backed-off tasks wait out NotBefore        │          │
	│  └────────────────────────────────────────────┘          │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │           Task Lifecycle                    │          │
	│  │                                              │          │
	│  │  queued → assigned → running → completed    │          │
	│  │              │          │    └─► failed     │          │
	│  │              └──────────┴──────► cancelled  │          │
	│  │                                              │          │
	│  │  Terminal states never transition again.    │          │
	│  └────────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────────┘

# Core Operations

Submit:
  - Validates the query and constraints
  - Fills defaults for priority, timeout, max nodes and strategy
  - Computes the absolute deadline from the timeout
  - Persists the task and publishes task.submitted

DequeueNext:
  - Returns the highest-priority schedulable task the given
    eligibility check accepts
  - Fails expired tasks with a timeout reason as it walks the queue
  - Skips tasks inside their retry backoff window

RecordPartial:
  - Accepts at most one partial per assigned node per task
  - Silently discards late, duplicate and unassigned reports
  - Fires the ready callback once every assigned node has reported
    and the success quorum is met

Cancel:
  - Moves a non-terminal task to cancelled and reports which nodes
    held assignments so stop signals can be sent
  - Cancelling a terminal task is rejected, never a state change

ReleaseNode:
  - Removes a failed node from every non-terminal assignment
  - Keeps partials already received from that node
  - Marks affected tasks for reassignment without resetting status

# Usage

	q, err := queue.NewQueue(queue.Config{
		DefaultMaxNodes: 3,
		DefaultTimeout:  60 * time.Second,
		DefaultPriority: types.PriorityMedium,
		DefaultStrategy: types.StrategyMajorityVote,
		Quorum:          1,
	}, store, broker)

	task, err := q.Submit(types.ReasoningQuery{
		Type:     "deduction",
		Premises: []string{"a -> b", "a"},
	}, types.TaskConstraints{Priority: types.PriorityHigh})

# Integration Points

  - pkg/scheduler: dequeues schedulable tasks and records assignments
  - pkg/monitor: releases assignments held by failed nodes
  - pkg/service: submits tasks and finalizes ready ones
  - pkg/storage: write-through persistence of every transition
  - pkg/events: lifecycle events for streaming consumers
*/
package queue
