package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-io/conclave/pkg/events"
	"github.com/conclave-io/conclave/pkg/storage"
	"github.com/conclave-io/conclave/pkg/types"
)

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if cfg.DefaultMaxNodes == 0 {
		cfg.DefaultMaxNodes = 3
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = time.Minute
	}
	if cfg.DefaultPriority == "" {
		cfg.DefaultPriority = types.PriorityMedium
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = types.StrategyMajorityVote
	}
	if cfg.Quorum == 0 {
		cfg.Quorum = 1
	}

	q, err := NewQueue(cfg, store, events.NewBroker())
	require.NoError(t, err)
	return q
}

func submit(t *testing.T, q *Queue, constraints types.TaskConstraints) *types.Task {
	t.Helper()
	task, err := q.Submit(types.ReasoningQuery{Type: "deduction", Premises: []string{"a -> b", "a"}}, constraints)
	require.NoError(t, err)
	return task
}

func TestSubmitAppliesDefaults(t *testing.T) {
	q := newTestQueue(t, Config{})

	task := submit(t, q, types.TaskConstraints{})
	assert.Equal(t, types.TaskQueued, task.Status)
	assert.Equal(t, types.PriorityMedium, task.Constraints.Priority)
	assert.Equal(t, 3, task.Constraints.MaxNodes)
	assert.Equal(t, types.StrategyMajorityVote, task.Constraints.Strategy)
	assert.WithinDuration(t, task.CreatedAt.Add(time.Minute), task.Deadline, time.Second)
}

func TestSubmitValidation(t *testing.T) {
	q := newTestQueue(t, Config{})

	tests := []struct {
		name        string
		constraints types.TaskConstraints
	}{
		{"negative max nodes", types.TaskConstraints{MaxNodes: -1}},
		{"negative timeout", types.TaskConstraints{Timeout: -time.Second}},
		{"unknown priority", types.TaskConstraints{Priority: "urgent"}},
		{"confidence above one", types.TaskConstraints{MinConfidence: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Submit(types.ReasoningQuery{Type: "deduction"}, tt.constraints)
			assert.True(t, errors.Is(err, types.ErrInvalidTask))
		})
	}
}

func TestDequeuePriorityThenFIFO(t *testing.T) {
	q := newTestQueue(t, Config{})

	lowFirst := submit(t, q, types.TaskConstraints{Priority: types.PriorityLow})
	lowSecond := submit(t, q, types.TaskConstraints{Priority: types.PriorityLow})
	high := submit(t, q, types.TaskConstraints{Priority: types.PriorityHigh})

	// Highest priority first, then submission order within a class
	expect := []string{high.ID, lowFirst.ID, lowSecond.ID}
	for _, want := range expect {
		task := q.DequeueNext(nil)
		require.NotNil(t, task)
		assert.Equal(t, want, task.ID)
		require.NoError(t, q.Assign(task.ID, []string{"node-1"}))
	}
	assert.Nil(t, q.DequeueNext(nil))
}

func TestDequeueFailsExpiredTasks(t *testing.T) {
	q := newTestQueue(t, Config{})

	task := submit(t, q, types.TaskConstraints{Timeout: 20 * time.Millisecond})
	time.Sleep(40 * time.Millisecond)

	assert.Nil(t, q.DequeueNext(nil))

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, got.Status)
	assert.Contains(t, got.Reason, "Timeout")
}

func TestBackoffEventuallyFailsTask(t *testing.T) {
	q := newTestQueue(t, Config{})

	task := submit(t, q, types.TaskConstraints{})

	// Two retries allowed, the third attempt terminal-fails
	require.NoError(t, q.Backoff(task.ID, time.Hour, 2))
	require.NoError(t, q.Backoff(task.ID, time.Hour, 2))
	err := q.Backoff(task.ID, time.Hour, 2)
	assert.True(t, errors.Is(err, types.ErrNoEligibleNodes))

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, got.Status)
	assert.Contains(t, got.Reason, "NoEligibleNodes")
}

func TestBackoffWindowSkipsTask(t *testing.T) {
	q := newTestQueue(t, Config{})

	task := submit(t, q, types.TaskConstraints{})
	require.NoError(t, q.Backoff(task.ID, time.Hour, 5))

	// Inside the backoff window the task is not schedulable
	assert.Nil(t, q.DequeueNext(nil))

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, got.Status)
}

func TestCancelReturnsAssignedNodes(t *testing.T) {
	q := newTestQueue(t, Config{})

	task := submit(t, q, types.TaskConstraints{})
	require.NoError(t, q.Assign(task.ID, []string{"node-1", "node-2"}))

	assigned, err := q.Cancel(task.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"node-1", "node-2"}, assigned)

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, got.Status)
}

func TestCancelTerminalTaskRejected(t *testing.T) {
	q := newTestQueue(t, Config{})

	task := submit(t, q, types.TaskConstraints{})
	_, err := q.Cancel(task.ID)
	require.NoError(t, err)

	// Cancelling again must not change state
	_, err = q.Cancel(task.ID)
	assert.True(t, errors.Is(err, types.ErrTerminalState))

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, got.Status)

	_, err = q.Cancel("missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestRecordPartialDiscardRules(t *testing.T) {
	q := newTestQueue(t, Config{Quorum: 2})

	task := submit(t, q, types.TaskConstraints{MaxNodes: 2})
	require.NoError(t, q.Assign(task.ID, []string{"node-1", "node-2"}))

	result := types.ReasoningResult{Conclusion: "b", Confidence: 0.9}

	// Unknown task, unassigned node, then a valid partial
	q.RecordPartial("missing", "node-1", result, "")
	q.RecordPartial(task.ID, "intruder", result, "")
	q.RecordPartial(task.ID, "node-1", result, "")

	// Duplicate from the same node is dropped
	q.RecordPartial(task.ID, "node-1", types.ReasoningResult{Conclusion: "c"}, "")

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	require.Len(t, got.Partials, 1)
	assert.Equal(t, "node-1", got.Partials[0].NodeID)
	assert.Equal(t, "b", got.Partials[0].Result.Conclusion)
	assert.Equal(t, types.TaskRunning, got.Status)
}

func TestRecordPartialFiresReadyAtQuorum(t *testing.T) {
	q := newTestQueue(t, Config{Quorum: 2})

	var mu sync.Mutex
	var readyTasks []string
	q.SetReadyFunc(func(taskID string) {
		mu.Lock()
		defer mu.Unlock()
		readyTasks = append(readyTasks, taskID)
	})

	task := submit(t, q, types.TaskConstraints{MaxNodes: 2})
	require.NoError(t, q.Assign(task.ID, []string{"node-1", "node-2"}))

	q.RecordPartial(task.ID, "node-1", types.ReasoningResult{Conclusion: "b", Confidence: 0.9}, "")
	mu.Lock()
	assert.Empty(t, readyTasks)
	mu.Unlock()

	q.RecordPartial(task.ID, "node-2", types.ReasoningResult{Conclusion: "b", Confidence: 0.8}, "")
	mu.Lock()
	assert.Equal(t, []string{task.ID}, readyTasks)
	mu.Unlock()
}

func TestQuorumCountsOnlySuccesses(t *testing.T) {
	q := newTestQueue(t, Config{Quorum: 2})

	fired := false
	q.SetReadyFunc(func(string) { fired = true })

	task := submit(t, q, types.TaskConstraints{MaxNodes: 2})
	require.NoError(t, q.Assign(task.ID, []string{"node-1", "node-2"}))

	q.RecordPartial(task.ID, "node-1", types.ReasoningResult{}, "engine crashed")
	q.RecordPartial(task.ID, "node-2", types.ReasoningResult{Conclusion: "b"}, "")

	// Every node reported but only one success: quorum unmet
	assert.False(t, fired)
	assert.False(t, q.Ready(task.ID))
}

func TestReleaseNodePreservesPartials(t *testing.T) {
	q := newTestQueue(t, Config{})

	task := submit(t, q, types.TaskConstraints{MaxNodes: 2})
	require.NoError(t, q.Assign(task.ID, []string{"node-1", "node-2"}))
	q.RecordPartial(task.ID, "node-1", types.ReasoningResult{Conclusion: "b", Confidence: 0.9}, "")

	affected := q.ReleaseNode("node-2")
	assert.Equal(t, []string{task.ID}, affected)

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-1"}, got.AssignedNodes)
	assert.True(t, got.NeedsReassign)
	require.Len(t, got.Partials, 1)
	assert.Equal(t, "node-1", got.Partials[0].NodeID)

	// Status did not move backwards
	assert.Equal(t, types.TaskRunning, got.Status)

	// The task is schedulable again for a replacement node
	next := q.DequeueNext(nil)
	require.NotNil(t, next)
	assert.Equal(t, task.ID, next.ID)
}

func TestUnassignMakesTaskSchedulableAgain(t *testing.T) {
	q := newTestQueue(t, Config{})

	task := submit(t, q, types.TaskConstraints{MaxNodes: 1})
	require.NoError(t, q.Assign(task.ID, []string{"node-1"}))

	// The dispatch never reached node-1; the slot goes back to the
	// scheduler instead of the task sitting assigned forever
	q.Unassign(task.ID, "node-1")

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AssignedNodes)
	assert.True(t, got.NeedsReassign)

	next := q.DequeueNext(nil)
	require.NotNil(t, next)
	assert.Equal(t, task.ID, next.ID)
}

func TestUnassignFiresReadyWhenRemainingReportsMeetQuorum(t *testing.T) {
	q := newTestQueue(t, Config{})

	var mu sync.Mutex
	var readyTasks []string
	q.SetReadyFunc(func(taskID string) {
		mu.Lock()
		defer mu.Unlock()
		readyTasks = append(readyTasks, taskID)
	})

	task := submit(t, q, types.TaskConstraints{MaxNodes: 2})
	require.NoError(t, q.Assign(task.ID, []string{"node-1", "node-2"}))
	q.RecordPartial(task.ID, "node-1", types.ReasoningResult{Conclusion: "b", Confidence: 0.9}, "")

	mu.Lock()
	assert.Empty(t, readyTasks)
	mu.Unlock()

	// node-2 was unreachable at dispatch. Dropping it leaves every
	// remaining node reported with quorum met, so aggregation fires
	// rather than the task waiting out its deadline.
	q.Unassign(task.ID, "node-2")

	mu.Lock()
	assert.Equal(t, []string{task.ID}, readyTasks)
	mu.Unlock()

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskRunning, got.Status)
	require.Len(t, got.Partials, 1)
}

func TestDeadlineForcesAggregationWhenQuorumMet(t *testing.T) {
	q := newTestQueue(t, Config{})

	var mu sync.Mutex
	var readyTasks []string
	q.SetReadyFunc(func(taskID string) {
		mu.Lock()
		defer mu.Unlock()
		readyTasks = append(readyTasks, taskID)
	})

	task := submit(t, q, types.TaskConstraints{MaxNodes: 2, Timeout: 40 * time.Millisecond})
	require.NoError(t, q.Assign(task.ID, []string{"node-1", "node-2"}))
	q.RecordPartial(task.ID, "node-1", types.ReasoningResult{Conclusion: "b", Confidence: 0.9}, "")
	q.ReleaseNode("node-2")

	time.Sleep(60 * time.Millisecond)

	// The deadline passes with one success recorded and quorum met:
	// the gathered work is aggregated, not thrown away as a timeout
	expired := q.ExpireOverdue()
	assert.Empty(t, expired)

	mu.Lock()
	assert.Equal(t, []string{task.ID}, readyTasks)
	mu.Unlock()

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskRunning, got.Status)
}

func TestTerminalTasksLeaveSchedulingOrder(t *testing.T) {
	q := newTestQueue(t, Config{})

	failed := submit(t, q, types.TaskConstraints{})
	cancelled := submit(t, q, types.TaskConstraints{})
	live := submit(t, q, types.TaskConstraints{})

	require.NoError(t, q.Fail(failed.ID, "NoEligibleNodes: no node satisfies required capabilities"))
	_, err := q.Cancel(cancelled.ID)
	require.NoError(t, err)

	next := q.DequeueNext(nil)
	require.NotNil(t, next)
	assert.Equal(t, live.ID, next.ID)

	// The scan dropped the finished tasks from the scheduling order
	q.mu.Lock()
	assert.Equal(t, []string{live.ID}, q.order)
	q.mu.Unlock()

	// Terminal tasks remain queryable
	got, err := q.Get(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, got.Status)
}

func TestCompletePersistsResult(t *testing.T) {
	q := newTestQueue(t, Config{})

	task := submit(t, q, types.TaskConstraints{})
	require.NoError(t, q.Assign(task.ID, []string{"node-1"}))

	result := &types.AggregatedResult{
		TaskID:         task.ID,
		Result:         types.ReasoningResult{Conclusion: "b", Confidence: 0.9},
		ConsensusLevel: 1.0,
		NodesUsed:      1,
		CompletedAt:    time.Now(),
	}
	require.NoError(t, q.Complete(task.ID, result))

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
	assert.False(t, got.CompletedAt.IsZero())

	err = q.Complete(task.ID, result)
	assert.True(t, errors.Is(err, types.ErrTerminalState))
}

func TestLatePartialAfterDeadlineDiscarded(t *testing.T) {
	q := newTestQueue(t, Config{})

	task := submit(t, q, types.TaskConstraints{Timeout: 20 * time.Millisecond})
	require.NoError(t, q.Assign(task.ID, []string{"node-1"}))

	time.Sleep(40 * time.Millisecond)
	q.RecordPartial(task.ID, "node-1", types.ReasoningResult{Conclusion: "b"}, "")

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Partials)
}

func TestTasksSurviveRestart(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	broker := events.NewBroker()

	cfg := Config{
		DefaultMaxNodes: 3,
		DefaultTimeout:  time.Minute,
		DefaultPriority: types.PriorityMedium,
		DefaultStrategy: types.StrategyMajorityVote,
		Quorum:          1,
	}
	q, err := NewQueue(cfg, store, broker)
	require.NoError(t, err)

	task, err := q.Submit(types.ReasoningQuery{Type: "deduction"}, types.TaskConstraints{})
	require.NoError(t, err)

	recovered, err := NewQueue(cfg, store, broker)
	require.NoError(t, err)

	got, err := recovered.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, got.Status)

	// Recovered tasks remain schedulable
	next := recovered.DequeueNext(nil)
	require.NotNil(t, next)
	assert.Equal(t, task.ID, next.ID)
}
