/*
Package monitor detects node failures and recovers their in-flight
work.

The monitor runs a periodic check over the registry. Heartbeat age
drives a two-step liveness demotion: a silent node is first suspected,
and after a further grace period declared failed. Failure is terminal
for that registration; the node must register again to rejoin.

# Failure Detection

	            heartbeat age
	  alive ────────► suspected ────────► failed
	        > timeout            > timeout
	                             + grace
	    ▲                │
	    └────────────────┘
	      heartbeat received
	      (suspected only, never failed)

When a node fails, the monitor releases every assignment the node
held. Affected tasks keep the partial results they already gathered
and return to the scheduler for replacement nodes; their status is not
reset. If losing the node leaves a task with a full set of reports
that meets quorum, the monitor triggers finalization immediately
rather than waiting for a node that will never answer.

# Probes

Each check pass also probes node endpoints: HTTP endpoints are asked
for their /healthz, others get a plain TCP dial. Probe outcomes
feed the health report as advisory signal only; liveness transitions
are driven exclusively by heartbeat age, so a node behind a flaky
network path is not failed while it still heartbeats.

# Usage

	mon := monitor.NewMonitor(monitor.Config{
		Interval:     5 * time.Second,
		NodeTimeout:  15 * time.Second,
		FailureGrace: 15 * time.Second,
	}, reg, q, broker)

	mon.Start()
	defer mon.Stop()
*/
package monitor
