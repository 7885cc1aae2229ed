/*
Package types defines the shared domain model for the coordinator.

It holds the task, node and result types every other package speaks,
plus the sentinel errors the public operations return. The package has
no dependencies beyond the standard library so any layer can import it
without cycles.

# Core Types

Task:
  - A reasoning query, its scheduling constraints, lifecycle status,
    assignment set and collected partial results
  - Statuses: queued, assigned, running, completed, failed, cancelled;
    the last three are terminal

Node:
  - A registered worker with endpoint, capability tags, self-reported
    load, rolling performance counters and monitor-owned liveness

AggregatedResult:
  - The consensus answer for a task, with the consensus level and the
    nodes that contributed

# Errors

The sentinel errors (ErrInvalidTask, ErrNoEligibleNodes, ErrTimeout,
ErrNodeUnreachable, ErrAggregationFailure and friends) are wrapped
with context at the point of failure and matched with errors.Is at the
API boundary.
*/
package types
