package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conclave_nodes_total",
			Help: "Total number of registered nodes by status",
		},
		[]string{"status"},
	)

	NodesSuspected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conclave_nodes_suspected",
			Help: "Number of nodes currently under failure suspicion",
		},
	)

	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conclave_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	TasksScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conclave_tasks_scheduled_total",
			Help: "Total number of task assignments made",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conclave_tasks_failed_total",
			Help: "Total number of tasks that terminal-failed",
		},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conclave_scheduling_latency_seconds",
			Help:    "Time taken by one scheduling pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Aggregation metrics
	ConsensusLevel = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conclave_consensus_level",
			Help:    "Consensus level of finalized results",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	PartialResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conclave_partial_results_total",
			Help: "Total number of partial results recorded",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conclave_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(NodesSuspected)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksScheduled)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(ConsensusLevel)
	prometheus.MustRegister(PartialResults)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
