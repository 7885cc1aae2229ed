package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-io/conclave/pkg/events"
	"github.com/conclave-io/conclave/pkg/queue"
	"github.com/conclave-io/conclave/pkg/registry"
	"github.com/conclave-io/conclave/pkg/storage"
	"github.com/conclave-io/conclave/pkg/types"
)

type fixture struct {
	registry *registry.Registry
	queue    *queue.Queue
	monitor  *Monitor
}

// Nodes register with an empty endpoint so no real probes are dialed.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	broker := events.NewBroker()

	reg, err := registry.NewRegistry(registry.Config{
		NodeTimeout:        cfg.NodeTimeout,
		ErrorRateThreshold: 0.5,
	}, store, broker)
	require.NoError(t, err)

	q, err := queue.NewQueue(queue.Config{
		DefaultMaxNodes: 2,
		DefaultTimeout:  time.Minute,
		DefaultPriority: types.PriorityMedium,
		DefaultStrategy: types.StrategyMajorityVote,
		Quorum:          1,
	}, store, broker)
	require.NoError(t, err)

	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 100 * time.Millisecond
	}
	return &fixture{
		registry: reg,
		queue:    q,
		monitor:  NewMonitor(cfg, reg, q, broker),
	}
}

func TestSilentNodeIsSuspectedThenFailed(t *testing.T) {
	f := newFixture(t, Config{
		NodeTimeout:  30 * time.Millisecond,
		FailureGrace: 30 * time.Millisecond,
	})

	node, err := f.registry.Register("", []string{"deduction"}, nil)
	require.NoError(t, err)

	// Fresh heartbeat: nothing happens
	f.monitor.Check()
	got, err := f.registry.Get(node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LivenessAlive, got.Liveness)

	// Past the node timeout: suspected, still not failed
	time.Sleep(40 * time.Millisecond)
	f.monitor.Check()
	got, err = f.registry.Get(node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LivenessSuspected, got.Liveness)
	assert.Equal(t, []string{node.ID}, f.monitor.SuspectedNodes())

	// Past the grace period on top: failed and offline
	time.Sleep(40 * time.Millisecond)
	f.monitor.Check()
	got, err = f.registry.Get(node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LivenessFailed, got.Liveness)
	assert.Equal(t, types.NodeOffline, got.Status)
}

func TestHeartbeatDuringSuspicionRecovers(t *testing.T) {
	f := newFixture(t, Config{
		NodeTimeout:  30 * time.Millisecond,
		FailureGrace: time.Minute,
	})

	node, err := f.registry.Register("", []string{"deduction"}, nil)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	f.monitor.Check()
	got, err := f.registry.Get(node.ID)
	require.NoError(t, err)
	require.Equal(t, types.LivenessSuspected, got.Liveness)

	f.registry.Heartbeat(types.Heartbeat{NodeID: node.ID, Load: 0.2})
	f.monitor.Check()

	got, err = f.registry.Get(node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LivenessAlive, got.Liveness)
	assert.Empty(t, f.monitor.SuspectedNodes())
}

func TestFailedNodeStaysFailed(t *testing.T) {
	f := newFixture(t, Config{
		NodeTimeout:  20 * time.Millisecond,
		FailureGrace: 20 * time.Millisecond,
	})

	node, err := f.registry.Register("", []string{"deduction"}, nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	f.monitor.Check() // suspected
	f.monitor.Check() // failed
	got, err := f.registry.Get(node.ID)
	require.NoError(t, err)
	require.Equal(t, types.LivenessFailed, got.Liveness)

	// A late heartbeat does not resurrect the registration
	f.registry.Heartbeat(types.Heartbeat{NodeID: node.ID, Status: types.NodeOnline})
	f.monitor.Check()

	got, err = f.registry.Get(node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LivenessFailed, got.Liveness)
	assert.Empty(t, f.registry.ActiveNodes())
}

func TestNodeFailureReleasesAssignments(t *testing.T) {
	f := newFixture(t, Config{
		NodeTimeout:  20 * time.Millisecond,
		FailureGrace: 20 * time.Millisecond,
	})

	doomed, err := f.registry.Register("", []string{"deduction"}, nil)
	require.NoError(t, err)

	task, err := f.queue.Submit(types.ReasoningQuery{Type: "deduction"}, types.TaskConstraints{MaxNodes: 2})
	require.NoError(t, err)
	require.NoError(t, f.queue.Assign(task.ID, []string{doomed.ID, "survivor"}))
	f.queue.RecordPartial(task.ID, "survivor", types.ReasoningResult{Conclusion: "x", Confidence: 0.8}, "")

	time.Sleep(50 * time.Millisecond)
	f.monitor.Check() // suspected
	f.monitor.Check() // failed, assignments released

	got, err := f.queue.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"survivor"}, got.AssignedNodes)
	assert.True(t, got.NeedsReassign)

	// The survivor's partial survived the release
	require.Len(t, got.Partials, 1)
	assert.Equal(t, "survivor", got.Partials[0].NodeID)

	// Status never reverted to queued
	assert.Equal(t, types.TaskRunning, got.Status)
}

func TestReleaseTriggersAggregationWhenQuorumMet(t *testing.T) {
	f := newFixture(t, Config{
		NodeTimeout:  time.Minute,
		FailureGrace: time.Minute,
	})

	var mu sync.Mutex
	var ready []string
	f.monitor.SetReadyFunc(func(taskID string) {
		mu.Lock()
		defer mu.Unlock()
		ready = append(ready, taskID)
	})

	task, err := f.queue.Submit(types.ReasoningQuery{Type: "deduction"}, types.TaskConstraints{MaxNodes: 2})
	require.NoError(t, err)
	require.NoError(t, f.queue.Assign(task.ID, []string{"node-1", "node-2"}))
	f.queue.RecordPartial(task.ID, "node-1", types.ReasoningResult{Conclusion: "x", Confidence: 0.8}, "")

	// Losing node-2 leaves one assigned node with one successful
	// partial: quorum 1 is met, aggregation fires immediately.
	f.monitor.ReleaseNode("node-2")

	mu.Lock()
	assert.Equal(t, []string{task.ID}, ready)
	mu.Unlock()
}

func TestDeregistrationReleasesAssignments(t *testing.T) {
	f := newFixture(t, Config{NodeTimeout: time.Minute, FailureGrace: time.Minute})

	node, err := f.registry.Register("", []string{"deduction"}, nil)
	require.NoError(t, err)

	task, err := f.queue.Submit(types.ReasoningQuery{Type: "deduction"}, types.TaskConstraints{MaxNodes: 1})
	require.NoError(t, err)
	require.NoError(t, f.queue.Assign(task.ID, []string{node.ID}))

	f.monitor.ReleaseNode(node.ID)
	require.NoError(t, f.registry.Deregister(node.ID))

	got, err := f.queue.Get(task.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AssignedNodes)
	assert.True(t, got.NeedsReassign)
}
