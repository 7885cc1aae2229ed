/*
Package scheduler assigns queued reasoning tasks to eligible nodes.

The scheduler runs as a continuous background loop. Each pass it
expires overdue tasks, drains the queue in priority order, selects
nodes with the configured placement strategy, and dispatches
assignments to the chosen nodes' endpoints.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                    Scheduler Loop                          │
	│                 (every interval, 1s default)               │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  1. Fail tasks past their deadline                         │
	│  2. Dequeue the next schedulable task                      │
	│  3. Filter nodes: active + required capabilities           │
	│     minus nodes already assigned or already reported       │
	│  4. Strategy picks up to maxNodes targets                  │
	│  5. Record assignment, dispatch to each node               │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	     no eligible nodes?
	                 │
	    ┌────────────┴─────────────┐
	    │                          │
	    ▼                          ▼
	task still holds          exponential backoff;
	live replicas:            after max retries the
	keep running with         task fails with a
	fewer nodes               no-eligible-nodes reason

# Placement Strategies

least-loaded:
  - Picks the nodes with the lowest self-reported load
  - Node ID breaks ties, so placement is deterministic

round-robin:
  - Walks the ID-sorted node list with a rotating cursor
  - Spreads sequential tasks across the pool evenly

capability-weighted:
  - Prefers nodes whose capabilities match the query type
  - Among matches, prefers specialists with fewer capabilities

# Dispatch

Dispatch runs in its own goroutine per node with the task deadline as
the context deadline. A transport failure returns the slot to the
queue for reassignment on a later pass; it never fails the task. A
successful dispatch moves the task to running.

# Usage

	sched := scheduler.NewScheduler(scheduler.Config{
		Interval:     time.Second,
		Strategy:     "least-loaded",
		MaxRetries:   5,
		RetryBackoff: 2 * time.Second,
	}, reg, q, dispatcher)

	sched.Start()
	defer sched.Stop()

# Integration Points

  - pkg/queue: source of schedulable tasks, sink for assignments
  - pkg/registry: source of eligible nodes
  - pkg/client: HTTPDispatcher delivers assignments to nodes
  - pkg/metrics: scheduling latency and outcome counters
*/
package scheduler
