/*
Package registry tracks the pool of reasoning nodes available to the
coordinator.

Nodes register with an endpoint and a set of capability tags, then
prove liveness with periodic heartbeats carrying their current load
and execution counters. The registry is the single source of truth
for which nodes exist, what they can do, and whether they are healthy
enough to receive work.

# Architecture

	┌──────────────────── NODE REGISTRY ───────────────────────┐
	│                                                            │
	│  Register ──► validate ──► assign ID ──► online/alive     │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Liveness States                  │          │
	│  │                                              │          │
	│  │   alive ──silence──► suspected              │          │
	│  │     ▲                    │                   │          │
	│  │     └──heartbeat─────────┘                   │          │
	│  │                          │                   │          │
	│  │                  more silence                │          │
	│  │                          ▼                   │          │
	│  │                       failed  (terminal)     │          │
	│  └────────────────────────────────────────────┘          │
	│                                                            │
	│  Heartbeats from failed nodes are ignored; a failed node  │
	│  must register again to rejoin the pool.                  │
	└──────────────────────────────────────────────────────────┘

# Eligibility

ActiveNodes returns nodes that are online, not failed, and whose last
heartbeat is within the configured node timeout. EligibleNodes further
filters by required capability tags. FindByCapability orders matches
by load, then average response time, then registration order, so
selection is deterministic under ties.

A heartbeat whose execution counters show an error rate above the
configured threshold flags the node as errored, which removes it from
the active set until a healthier heartbeat arrives.

# Persistence

Every registration, heartbeat and liveness change is written through
to the state store. On startup the registry reloads the persisted
roster so a coordinator restart does not lose the pool; stale entries
age out through the normal liveness path.

# Usage

	reg, err := registry.NewRegistry(registry.Config{
		NodeTimeout:        15 * time.Second,
		ErrorRateThreshold: 0.5,
	}, store, broker)

	node, err := reg.Register("http://10.0.0.5:7420",
		[]string{"deduction", "induction"}, nil)

	reg.Heartbeat(types.Heartbeat{NodeID: node.ID, Load: 0.25})
*/
package registry
