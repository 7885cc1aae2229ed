package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/conclave-io/conclave/pkg/events"
	"github.com/conclave-io/conclave/pkg/log"
	"github.com/conclave-io/conclave/pkg/storage"
	"github.com/conclave-io/conclave/pkg/types"
)

// Config holds registry tuning parameters
type Config struct {
	// NodeTimeout is the heartbeat age past which a node is treated as
	// offline even if its last self-reported status was online.
	NodeTimeout time.Duration

	// ErrorRateThreshold is the executor error fraction past which a
	// node is flagged with error status.
	ErrorRateThreshold float64
}

// Registry tracks worker nodes, their capabilities, liveness and load.
// It is the exclusive owner of node state; other components read
// through its accessors and never mutate node records directly.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[string]*types.Node
	seq    uint64
	cfg    Config
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
}

// NewRegistry creates a registry, recovering any persisted node roster.
func NewRegistry(cfg Config, store storage.Store, broker *events.Broker) (*Registry, error) {
	r := &Registry{
		nodes:  make(map[string]*types.Node),
		cfg:    cfg,
		store:  store,
		broker: broker,
		logger: log.WithComponent("registry"),
	}

	persisted, err := store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	for _, node := range persisted {
		r.nodes[node.ID] = node
		if node.RegisterSeq > r.seq {
			r.seq = node.RegisterSeq
		}
	}

	return r, nil
}

// Register adds a worker node and returns it. The node enters online
// with load 0. An empty capability set is rejected.
func (r *Registry) Register(endpoint string, capabilities []string, metadata map[string]string) (*types.Node, error) {
	if len(capabilities) == 0 {
		return nil, fmt.Errorf("%w: empty capability set", types.ErrInvalidRegistration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	now := time.Now()
	node := &types.Node{
		ID:            uuid.New().String(),
		Endpoint:      endpoint,
		Capabilities:  capabilities,
		Metadata:      metadata,
		Status:        types.NodeOnline,
		Liveness:      types.LivenessAlive,
		Load:          0,
		LastHeartbeat: now,
		RegisteredAt:  now,
		RegisterSeq:   r.seq,
	}

	if err := r.store.SaveNode(node); err != nil {
		return nil, fmt.Errorf("failed to persist node: %w", err)
	}
	r.nodes[node.ID] = node

	r.logger.Info().Str("node_id", node.ID).Strs("capabilities", capabilities).Msg("node registered")
	r.broker.Publish(&events.Event{Type: events.EventNodeJoined, NodeID: node.ID})

	return cloneNode(node), nil
}

// Deregister removes a node record. The caller is responsible for
// releasing the node's in-flight assignments before purging it.
func (r *Registry) Deregister(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[nodeID]; !ok {
		return fmt.Errorf("node %s: %w", nodeID, types.ErrNotFound)
	}

	if err := r.store.DeleteNode(nodeID); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	delete(r.nodes, nodeID)

	r.logger.Info().Str("node_id", nodeID).Msg("node deregistered")
	r.broker.Publish(&events.Event{Type: events.EventNodeLeft, NodeID: nodeID})
	return nil
}

// Heartbeat updates a node's liveness and self-reported state. An
// unknown node ID is logged and dropped so a stale heartbeat from a
// deregistered node cannot resurrect it. A heartbeat from a node the
// monitor already marked failed is likewise ignored; such a node must
// re-register under a new ID.
func (r *Registry) Heartbeat(hb types.Heartbeat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[hb.NodeID]
	if !ok {
		r.logger.Warn().Str("node_id", hb.NodeID).Msg("heartbeat from unknown node, ignoring")
		return
	}
	if node.Liveness == types.LivenessFailed {
		r.logger.Warn().Str("node_id", hb.NodeID).Msg("heartbeat from failed node, ignoring")
		return
	}

	node.LastHeartbeat = time.Now()
	// Load is a fraction of capacity; out-of-range self-reports are
	// clamped so they cannot skew load-based scheduling order.
	load := hb.Load
	if load < 0 {
		load = 0
	} else if load > 1 {
		load = 1
	}
	node.Load = load
	node.Performance = hb.Performance
	if node.Liveness == types.LivenessSuspected {
		node.Liveness = types.LivenessAlive
	}

	// A node stays flagged with error status while its executor error
	// rate remains above threshold, regardless of what it self-reports.
	if node.Performance.Reliability() < 1.0-r.cfg.ErrorRateThreshold {
		node.Status = types.NodeError
	} else if hb.Status != "" {
		node.Status = hb.Status
	} else {
		node.Status = types.NodeOnline
	}

	if err := r.store.SaveNode(node); err != nil {
		r.logger.Error().Err(err).Str("node_id", hb.NodeID).Msg("failed to persist heartbeat")
	}
}

// RecordExecution folds one finished execution into a node's rolling
// performance counters.
func (r *Registry) RecordExecution(nodeID string, elapsed time.Duration, errored bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return
	}

	perf := &node.Performance
	if errored {
		perf.TasksErrored++
	} else {
		perf.TasksCompleted++
	}
	total := perf.TasksCompleted + perf.TasksErrored
	// Cumulative moving average over all finished executions.
	perf.AverageResponseTime += (elapsed - perf.AverageResponseTime) / time.Duration(total)

	if perf.Reliability() < 1.0-r.cfg.ErrorRateThreshold {
		node.Status = types.NodeError
	}

	if err := r.store.SaveNode(node); err != nil {
		r.logger.Error().Err(err).Str("node_id", nodeID).Msg("failed to persist performance")
	}
}

// SetLiveness transitions a node's liveness state. Only the fault
// monitor calls this.
func (r *Registry) SetLiveness(nodeID string, state types.LivenessState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	node.Liveness = state
	if state == types.LivenessFailed {
		node.Status = types.NodeOffline
	}
	if err := r.store.SaveNode(node); err != nil {
		r.logger.Error().Err(err).Str("node_id", nodeID).Msg("failed to persist liveness")
	}
}

// Get returns a copy of the node record.
func (r *Registry) Get(nodeID string) (*types.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, types.ErrNotFound)
	}
	return cloneNode(node), nil
}

// List returns copies of every registered node.
func (r *Registry) List() []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]*types.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, cloneNode(node))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].RegisterSeq < nodes[j].RegisterSeq })
	return nodes
}

// ActiveNodes returns nodes that are online with a fresh heartbeat.
func (r *Registry) ActiveNodes() []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var active []*types.Node
	for _, node := range r.nodes {
		if r.activeLocked(node, now) {
			active = append(active, cloneNode(node))
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].RegisterSeq < active[j].RegisterSeq })
	return active
}

// FindByCapability returns active nodes declaring the capability,
// ordered by ascending load, ties broken by lowest average response
// time, then registration order.
func (r *Registry) FindByCapability(capability string) []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var matched []*types.Node
	for _, node := range r.nodes {
		if r.activeLocked(node, now) && node.HasCapability(capability) {
			matched = append(matched, cloneNode(node))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Load != b.Load {
			return a.Load < b.Load
		}
		if a.Performance.AverageResponseTime != b.Performance.AverageResponseTime {
			return a.Performance.AverageResponseTime < b.Performance.AverageResponseTime
		}
		return a.RegisterSeq < b.RegisterSeq
	})
	return matched
}

// EligibleNodes returns active nodes declaring every listed capability.
func (r *Registry) EligibleNodes(capabilities []string) []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var eligible []*types.Node
	for _, node := range r.nodes {
		if r.activeLocked(node, now) && node.HasCapabilities(capabilities) {
			eligible = append(eligible, cloneNode(node))
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].RegisterSeq < eligible[j].RegisterSeq })
	return eligible
}

func (r *Registry) activeLocked(node *types.Node, now time.Time) bool {
	if node.Status != types.NodeOnline {
		return false
	}
	if node.Liveness == types.LivenessFailed {
		return false
	}
	return now.Sub(node.LastHeartbeat) <= r.cfg.NodeTimeout
}

func cloneNode(node *types.Node) *types.Node {
	c := *node
	c.Capabilities = append([]string(nil), node.Capabilities...)
	if node.Metadata != nil {
		c.Metadata = make(map[string]string, len(node.Metadata))
		for k, v := range node.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
