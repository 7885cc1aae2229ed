/*
Package metrics exposes Prometheus instrumentation for the
coordinator.

Metrics are package-level collectors registered at init, exported on
the API server's /metrics endpoint. A background Collector samples
gauge values (node and task counts by status) on an interval; counters
and histograms are updated inline at the call sites.

# Exported Metrics

	conclave_nodes_total{status}         registered nodes by status
	conclave_nodes_suspected             nodes under suspicion
	conclave_tasks_total{status}         tasks by lifecycle status
	conclave_tasks_scheduled_total       placement decisions made
	conclave_tasks_failed_total          terminal failures
	conclave_scheduling_latency_seconds  per-pass scheduling time
	conclave_consensus_level             consensus of aggregated results
	conclave_partial_results_total       partials accepted
	conclave_api_requests_total{route,status}
	conclave_api_request_duration_seconds{route}
*/
package metrics
