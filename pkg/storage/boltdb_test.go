package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-io/conclave/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNodeRoundTrip(t *testing.T) {
	store := newTestStore(t)

	node := &types.Node{
		ID:           "node-1",
		Endpoint:     "http://10.0.0.1:7420",
		Capabilities: []string{"deduction", "induction"},
		Status:       types.NodeOnline,
		Liveness:     types.LivenessAlive,
		RegisteredAt: time.Now(),
	}
	require.NoError(t, store.SaveNode(node))

	got, err := store.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, node.Endpoint, got.Endpoint)
	assert.Equal(t, node.Capabilities, got.Capabilities)
	assert.Equal(t, types.LivenessAlive, got.Liveness)

	nodes, err := store.ListNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	require.NoError(t, store.DeleteNode("node-1"))
	_, err = store.GetNode("node-1")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestTaskRoundTrip(t *testing.T) {
	store := newTestStore(t)

	task := &types.Task{
		ID:     "task-1",
		Query:  types.ReasoningQuery{Type: "deduction", Premises: []string{"a -> b", "a"}},
		Status: types.TaskQueued,
		Constraints: types.TaskConstraints{
			Priority: types.PriorityHigh,
			MaxNodes: 3,
			Strategy: types.StrategyMajorityVote,
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.SaveTask(task))

	got, err := store.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, got.Status)
	assert.Equal(t, types.PriorityHigh, got.Constraints.Priority)

	// Overwrite with a status transition and re-read
	task.Status = types.TaskRunning
	task.AssignedNodes = []string{"node-1", "node-2"}
	require.NoError(t, store.SaveTask(task))

	got, err = store.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskRunning, got.Status)
	assert.Equal(t, []string{"node-1", "node-2"}, got.AssignedNodes)
}

func TestResultRoundTrip(t *testing.T) {
	store := newTestStore(t)

	result := &types.AggregatedResult{
		TaskID:              "task-1",
		Result:              types.ReasoningResult{Conclusion: "b", Confidence: 0.9},
		ConsensusLevel:      0.67,
		NodesUsed:           3,
		ContributingNodeIDs: []string{"a", "b", "c"},
		Strategy:            types.StrategyMajorityVote,
		CompletedAt:         time.Now(),
	}
	require.NoError(t, store.SaveResult(result))

	got, err := store.GetResult("task-1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Result.Conclusion)
	assert.InDelta(t, 0.67, got.ConsensusLevel, 0.001)

	_, err = store.GetResult("missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestCounters(t *testing.T) {
	store := newTestStore(t)

	// Absent counter reads as zero
	v, err := store.GetCounter("tasks_completed")
	require.NoError(t, err)
	assert.EqualValues(t, 0, v)

	v, err = store.IncrCounter("tasks_completed", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	v, err = store.IncrCounter("tasks_completed", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 6, v)

	v, err = store.GetCounter("tasks_completed")
	require.NoError(t, err)
	assert.EqualValues(t, 6, v)
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveNode(&types.Node{ID: "node-1", Status: types.NodeOnline}))
	_, err = store.IncrCounter("tasks_completed", 3)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	node, err := reopened.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeOnline, node.Status)

	v, err := reopened.GetCounter("tasks_completed")
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)
}
