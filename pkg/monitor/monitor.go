package monitor

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/conclave-io/conclave/pkg/events"
	"github.com/conclave-io/conclave/pkg/health"
	"github.com/conclave-io/conclave/pkg/log"
	"github.com/conclave-io/conclave/pkg/queue"
	"github.com/conclave-io/conclave/pkg/registry"
	"github.com/conclave-io/conclave/pkg/types"
)

// Config holds failure detection parameters
type Config struct {
	// Interval between monitoring passes.
	Interval time.Duration

	// NodeTimeout is the heartbeat age that moves a node from alive to
	// suspected.
	NodeTimeout time.Duration

	// FailureGrace is the additional silence, past NodeTimeout, that
	// moves a suspected node to failed.
	FailureGrace time.Duration

	// ProbeTimeout bounds a single endpoint probe.
	ProbeTimeout time.Duration
}

// Monitor watches heartbeat recency, walks nodes through the
// alive -> suspected -> failed state machine, and releases a failed
// node's assignments back to the scheduler. A failed node is never
// resurrected; it must re-register under a new ID.
type Monitor struct {
	registry *registry.Registry
	queue    *queue.Queue
	broker   *events.Broker
	cfg      Config

	mu          sync.Mutex
	probeStatus map[string]*health.Status // by node ID

	onReady queue.ReadyFunc
	stopCh  chan struct{}
	logger  zerolog.Logger
}

// NewMonitor creates a fault tolerance monitor
func NewMonitor(cfg Config, reg *registry.Registry, q *queue.Queue, broker *events.Broker) *Monitor {
	return &Monitor{
		registry:    reg,
		queue:       q,
		broker:      broker,
		cfg:         cfg,
		probeStatus: make(map[string]*health.Status),
		stopCh:      make(chan struct{}),
		logger:      log.WithComponent("monitor"),
	}
}

// SetReadyFunc installs the aggregation callback used when releasing
// a node leaves a task with a full set of reported partials.
func (m *Monitor) SetReadyFunc(fn queue.ReadyFunc) {
	m.onReady = fn
}

// Start begins the monitoring loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check()
		case <-m.stopCh:
			return
		}
	}
}

// Check performs one monitoring pass over every registered node.
func (m *Monitor) Check() {
	now := time.Now()
	for _, node := range m.registry.List() {
		age := now.Sub(node.LastHeartbeat)

		switch node.Liveness {
		case types.LivenessAlive:
			if age > m.cfg.NodeTimeout {
				m.suspect(node, age)
			}
		case types.LivenessSuspected:
			if age > m.cfg.NodeTimeout+m.cfg.FailureGrace {
				m.fail(node, age)
			}
		case types.LivenessFailed:
			// Stays failed until deregistered.
		}

		m.probe(node)
	}
}

func (m *Monitor) suspect(node *types.Node, age time.Duration) {
	m.logger.Warn().Str("node_id", node.ID).Dur("heartbeat_age", age).Msg("node suspected")
	m.registry.SetLiveness(node.ID, types.LivenessSuspected)
	m.broker.Publish(&events.Event{Type: events.EventNodeSuspected, NodeID: node.ID})
}

func (m *Monitor) fail(node *types.Node, age time.Duration) {
	m.logger.Error().Str("node_id", node.ID).Dur("heartbeat_age", age).Msg("node failed")
	m.registry.SetLiveness(node.ID, types.LivenessFailed)
	m.broker.Publish(&events.Event{Type: events.EventNodeFailed, NodeID: node.ID})
	m.ReleaseNode(node.ID)
}

// ReleaseNode pulls a node out of every in-flight assignment set,
// preserving partial results recorded from other nodes, and fires the
// aggregation callback for any task the release leaves complete.
// Deregistration uses this too, before the node record is purged.
func (m *Monitor) ReleaseNode(nodeID string) {
	affected := m.queue.ReleaseNode(nodeID)
	for _, taskID := range affected {
		m.logger.Info().Str("task_id", taskID).Str("node_id", nodeID).
			Msg("task released for reassignment")
		if m.onReady != nil && m.queue.Ready(taskID) {
			m.onReady(taskID)
		}
	}

	m.mu.Lock()
	delete(m.probeStatus, nodeID)
	m.mu.Unlock()
}

// probe performs a reachability check of the node endpoint. Probe
// results never drive the liveness state machine (heartbeats own
// that); they surface through ProbeIssues on the health check.
func (m *Monitor) probe(node *types.Node) {
	if node.Endpoint == "" || node.Liveness == types.LivenessFailed {
		return
	}

	checker := m.checkerFor(node.Endpoint)
	if checker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
	defer cancel()
	result := checker.Check(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.probeStatus[node.ID]
	if !ok {
		status = health.NewStatus()
		m.probeStatus[node.ID] = status
	}
	status.Update(result, 3)
}

// checkerFor picks the probe for an endpoint: HTTP endpoints are asked
// for their /healthz, anything else gets a TCP dial of host:port.
func (m *Monitor) checkerFor(endpoint string) health.Checker {
	u, err := url.Parse(endpoint)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return health.NewHTTPChecker(strings.TrimSuffix(endpoint, "/") + "/healthz").
			WithTimeout(m.cfg.ProbeTimeout)
	}
	addr := endpoint
	if err == nil && u.Host != "" {
		addr = u.Host
	}
	return health.NewTCPChecker(addr).WithTimeout(m.cfg.ProbeTimeout)
}

// ProbeIssues lists nodes whose endpoints failed recent probes.
func (m *Monitor) ProbeIssues() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var issues []string
	for nodeID, status := range m.probeStatus {
		if !status.Healthy {
			issues = append(issues, "node "+nodeID+" endpoint unreachable: "+status.LastResult.Message)
		}
	}
	sort.Strings(issues)
	return issues
}

// SuspectedNodes returns the IDs of currently suspected nodes.
func (m *Monitor) SuspectedNodes() []string {
	var suspected []string
	for _, node := range m.registry.List() {
		if node.Liveness == types.LivenessSuspected {
			suspected = append(suspected, node.ID)
		}
	}
	return suspected
}
