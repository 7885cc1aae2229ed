package queue

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

// Config holds queue defaults applied at submission
type Config struct {
	DefaultMaxNodes int
	DefaultTimeout  time.Duration
	DefaultPriority types.TaskPriority
	DefaultStrategy types.AggregationStrategy

	// Quorum is the minimum number of successful partial results
	// required before a task may be handed to the aggregator.
	Quorum int
}

// ReadyFunc is invoked (outside the queue lock) when a task has
// collected enough partial results for aggregation.
type ReadyFunc func(taskID string)

// Queue holds submitted reasoning tasks. It is the exclusive owner of
// task state transitions; other components go through its methods.
type Queue struct {
	mu      sync.Mutex
	tasks   map[string]*types.Task
	order   []string // submission order, FIFO within a priority class
	cfg     Config
	store   storage.Store
	broker  *events.Broker
	onReady ReadyFunc
	logger  zerolog.Logger
}

// NewQueue creates a task queue, recovering persisted tasks.
func NewQueue(cfg Config, store storage.Store, broker *events.Broker) (*Queue, error) {
	q := &Queue{
		tasks:  make(map[string]*types.Task),
		cfg:    cfg,
		store:  store,
		broker: broker,
		logger: log.WithComponent("queue"),
	}

	persisted, err := store.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	sort.Slice(persisted, func(i, j int) bool { return persisted[i].CreatedAt.Before(persisted[j].CreatedAt) })
	for _, task := range persisted {
		q.tasks[task.ID] = task
		if !task.Status.Terminal() {
			q.order = append(q.order, task.ID)
		}
	}

	return q, nil
}

// SetReadyFunc installs the aggregation callback. Must be called
// before tasks start completing.
func (q *Queue) SetReadyFunc(fn ReadyFunc) {
	q.onReady = fn
}

// Submit validates constraints, applies defaults and enqueues a task.
func (q *Queue) Submit(query types.ReasoningQuery, constraints types.TaskConstraints) (*types.Task, error) {
	if constraints.MaxNodes < 0 || (constraints.MaxNodes == 0 && q.cfg.DefaultMaxNodes < 1) {
		return nil, fmt.Errorf("%w: maxNodes must be at least 1", types.ErrInvalidTask)
	}
	if constraints.MaxNodes == 0 {
		constraints.MaxNodes = q.cfg.DefaultMaxNodes
	}
	if constraints.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", types.ErrInvalidTask)
	}
	if constraints.Timeout == 0 {
		constraints.Timeout = q.cfg.DefaultTimeout
	}
	if constraints.Priority == "" {
		constraints.Priority = q.cfg.DefaultPriority
	}
	if constraints.Priority.Weight() == 0 {
		return nil, fmt.Errorf("%w: unknown priority %q", types.ErrInvalidTask, constraints.Priority)
	}
	if constraints.Strategy == "" {
		constraints.Strategy = q.cfg.DefaultStrategy
	}
	if constraints.MinConfidence < 0 || constraints.MinConfidence > 1 {
		return nil, fmt.Errorf("%w: minConfidence outside [0,1]", types.ErrInvalidTask)
	}

	now := time.Now()
	task := &types.Task{
		ID:          uuid.New().String(),
		Query:       query,
		Constraints: constraints,
		Status:      types.TaskQueued,
		CreatedAt:   now,
		Deadline:    now.Add(constraints.Timeout),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.SaveTask(task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}
	q.tasks[task.ID] = task
	q.order = append(q.order, task.ID)

	q.logger.Info().Str("task_id", task.ID).Str("priority", string(constraints.Priority)).Msg("task submitted")
	q.broker.Publish(&events.Event{Type: events.EventTaskSubmitted, TaskID: task.ID})

	return cloneTask(task), nil
}

// Get returns a copy of the task.
func (q *Queue) Get(taskID string) (*types.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}
	return cloneTask(task), nil
}

// List returns copies of all tasks in submission order.
func (q *Queue) List() []*types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := make([]*types.Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		tasks = append(tasks, cloneTask(task))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks
}

// Cancel transitions a non-terminal task to cancelled and returns the
// node IDs that should be signalled to stop, best-effort.
func (q *Queue) Cancel(taskID string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("cancel task %s: %w", taskID, types.ErrTerminalState)
	}

	assigned := append([]string(nil), task.AssignedNodes...)
	task.Status = types.TaskCancelled
	task.Reason = "cancelled by caller"
	task.CompletedAt = time.Now()
	if err := q.store.SaveTask(task); err != nil {
		q.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to persist cancellation")
	}

	q.logger.Info().Str("task_id", taskID).Msg("task cancelled")
	q.broker.Publish(&events.Event{Type: events.EventTaskCancelled, TaskID: taskID})
	return assigned, nil
}

// DequeueNext returns the next schedulable task: highest priority
// first, FIFO within a priority class. Tasks whose deadline has passed
// are terminal-failed with a timeout reason, unless their recorded
// partials already satisfy quorum, in which case they are handed to
// aggregation. Tasks in a reschedule backoff window are skipped.
// Returns nil when nothing is schedulable. Also returned are tasks
// whose entire assignment set was released by the fault monitor; they
// keep their status and partials but need fresh nodes. Terminal tasks
// are dropped from the scheduling order as the scan passes them so
// long-lived queues do not rescan finished work.
func (q *Queue) DequeueNext(eligible func(*types.Task) bool) *types.Task {
	q.mu.Lock()

	now := time.Now()
	var best *types.Task
	var readyExpired []string
	keep := q.order[:0]
	for _, id := range q.order {
		task, ok := q.tasks[id]
		if !ok || task.Status.Terminal() {
			continue
		}
		keep = append(keep, id)
		if !q.schedulableLocked(task) {
			continue
		}
		if task.Expired(now) {
			if q.readyLocked(task) {
				readyExpired = append(readyExpired, id)
			} else {
				q.failLocked(task, "Timeout: deadline passed before completion")
			}
			continue
		}
		if !task.NotBefore.IsZero() && now.Before(task.NotBefore) {
			continue
		}
		if eligible != nil && !eligible(task) {
			continue
		}
		// Submission order iteration makes this FIFO within a
		// priority class: only a strictly higher priority wins.
		if best == nil || task.Constraints.Priority.Weight() > best.Constraints.Priority.Weight() {
			best = task
		}
	}
	q.order = keep

	var next *types.Task
	if best != nil {
		next = cloneTask(best)
	}
	q.mu.Unlock()

	if q.onReady != nil {
		for _, id := range readyExpired {
			q.onReady(id)
		}
	}
	return next
}

func (q *Queue) schedulableLocked(task *types.Task) bool {
	if task.Status == types.TaskQueued {
		return true
	}
	// An assigned or running task that lost nodes to the fault
	// monitor needs reassignment; its recorded partials are preserved.
	if task.Status == types.TaskAssigned || task.Status == types.TaskRunning {
		return task.NeedsReassign || len(task.AssignedNodes) == 0
	}
	return false
}

// Assign binds a task to its selected nodes. Legal from queued, or
// from assigned/running during reassignment; partials are untouched.
func (q *Queue) Assign(taskID string, nodeIDs []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("assign task %s: %w", taskID, types.ErrTerminalState)
	}

	task.AssignedNodes = append(task.AssignedNodes, nodeIDs...)
	if task.Status == types.TaskQueued {
		task.Status = types.TaskAssigned
	}
	task.NeedsReassign = false
	task.NotBefore = time.Time{}
	task.ScheduleRetries = 0
	if err := q.store.SaveTask(task); err != nil {
		return fmt.Errorf("failed to persist assignment: %w", err)
	}

	q.broker.Publish(&events.Event{Type: events.EventTaskAssigned, TaskID: taskID})
	return nil
}

// MarkRunning transitions an assigned task to running once a node has
// accepted the dispatch.
func (q *Queue) MarkRunning(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok || task.Status != types.TaskAssigned {
		return
	}
	task.Status = types.TaskRunning
	if err := q.store.SaveTask(task); err != nil {
		q.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to persist running transition")
	}
}

// Backoff delays the next scheduling attempt for a task without an
// eligible node. After maxRetries attempts the task terminal-fails.
func (q *Queue) Backoff(taskID string, delay time.Duration, maxRetries int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}
	if task.Status.Terminal() {
		return nil
	}

	task.ScheduleRetries++
	if task.ScheduleRetries > maxRetries {
		q.failLocked(task, "NoEligibleNodes: no node satisfies required capabilities")
		return types.ErrNoEligibleNodes
	}
	task.NotBefore = time.Now().Add(delay)
	if err := q.store.SaveTask(task); err != nil {
		q.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to persist backoff")
	}
	return nil
}

// RecordPartial appends a node's result to the task. Partials for
// terminal tasks, from unassigned nodes, duplicates, or past the
// deadline are discarded and logged, never surfaced as errors.
func (q *Queue) RecordPartial(taskID, nodeID string, result types.ReasoningResult, execErr string) {
	q.mu.Lock()

	task, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		q.logger.Warn().Str("task_id", taskID).Str("node_id", nodeID).Msg("partial result for unknown task, discarding")
		return
	}
	if task.Status.Terminal() {
		q.mu.Unlock()
		q.logger.Debug().Str("task_id", taskID).Str("node_id", nodeID).Msg("partial result for finished task, discarding")
		return
	}
	if task.Expired(time.Now()) {
		q.mu.Unlock()
		q.logger.Warn().Str("task_id", taskID).Str("node_id", nodeID).Msg("late partial result past deadline, discarding")
		return
	}
	if !task.AssignedTo(nodeID) {
		q.mu.Unlock()
		q.logger.Warn().Str("task_id", taskID).Str("node_id", nodeID).Msg("partial result from unassigned node, discarding")
		return
	}
	if _, dup := task.PartialFrom(nodeID); dup {
		q.mu.Unlock()
		q.logger.Warn().Str("task_id", taskID).Str("node_id", nodeID).Msg("duplicate partial result, discarding")
		return
	}

	task.Partials = append(task.Partials, types.PartialResult{
		NodeID:     nodeID,
		Result:     result,
		Err:        execErr,
		ReceivedAt: time.Now(),
	})
	if task.Status == types.TaskAssigned {
		task.Status = types.TaskRunning
	}
	if err := q.store.SaveTask(task); err != nil {
		q.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to persist partial result")
	}

	ready := q.readyLocked(task)
	q.mu.Unlock()

	if ready && q.onReady != nil {
		q.onReady(taskID)
	}
}

// readyLocked reports whether every assigned node has reported and the
// successful partial count meets quorum.
func (q *Queue) readyLocked(task *types.Task) bool {
	if len(task.Partials) < len(task.AssignedNodes) {
		return false
	}
	succeeded := 0
	for _, p := range task.Partials {
		if p.Err == "" {
			succeeded++
		}
	}
	return succeeded >= q.cfg.Quorum
}

// Complete finalizes a task with its aggregated result.
func (q *Queue) Complete(taskID string, result *types.AggregatedResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("complete task %s: %w", taskID, types.ErrTerminalState)
	}

	task.Status = types.TaskCompleted
	task.CompletedAt = result.CompletedAt
	if err := q.store.SaveTask(task); err != nil {
		return fmt.Errorf("failed to persist completion: %w", err)
	}
	if err := q.store.SaveResult(result); err != nil {
		return fmt.Errorf("failed to persist result: %w", err)
	}
	if _, err := q.store.IncrCounter("tasks_completed", 1); err != nil {
		q.logger.Error().Err(err).Msg("failed to bump completion counter")
	}

	q.logger.Info().Str("task_id", taskID).Float64("consensus", result.ConsensusLevel).Msg("task completed")
	q.broker.Publish(&events.Event{Type: events.EventTaskCompleted, TaskID: taskID})
	return nil
}

// Fail terminal-fails a non-terminal task with a reason.
func (q *Queue) Fail(taskID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("fail task %s: %w", taskID, types.ErrTerminalState)
	}
	q.failLocked(task, reason)
	return nil
}

func (q *Queue) failLocked(task *types.Task, reason string) {
	task.Status = types.TaskFailed
	task.Reason = reason
	task.CompletedAt = time.Now()
	if err := q.store.SaveTask(task); err != nil {
		q.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to persist failure")
	}
	if _, err := q.store.IncrCounter("tasks_failed", 1); err != nil {
		q.logger.Error().Err(err).Msg("failed to bump failure counter")
	}
	q.logger.Warn().Str("task_id", task.ID).Str("reason", reason).Msg("task failed")
	q.broker.Publish(&events.Event{Type: events.EventTaskFailed, TaskID: task.ID, Message: reason})
}

// ExpireOverdue terminal-fails every non-terminal task past its
// deadline and returns the affected task IDs. A task whose recorded
// partials already satisfy quorum is handed to aggregation instead;
// the deadline forces early aggregation, not loss of gathered work.
func (q *Queue) ExpireOverdue() []string {
	q.mu.Lock()

	now := time.Now()
	var expired, ready []string
	for _, task := range q.tasks {
		if task.Status.Terminal() || !task.Expired(now) {
			continue
		}
		if q.readyLocked(task) {
			ready = append(ready, task.ID)
			continue
		}
		q.failLocked(task, "Timeout: deadline passed before completion")
		expired = append(expired, task.ID)
	}
	q.mu.Unlock()

	if q.onReady != nil {
		for _, id := range ready {
			q.onReady(id)
		}
	}
	return expired
}

// ReleaseNode removes a node from every non-terminal assignment set,
// preserving partial results already recorded. Returns the IDs of
// tasks that lost the node.
func (q *Queue) ReleaseNode(nodeID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var affected []string
	for _, task := range q.tasks {
		if task.Status != types.TaskAssigned && task.Status != types.TaskRunning {
			continue
		}
		if !task.AssignedTo(nodeID) {
			continue
		}
		remaining := task.AssignedNodes[:0]
		for _, id := range task.AssignedNodes {
			if id != nodeID {
				remaining = append(remaining, id)
			}
		}
		task.AssignedNodes = remaining
		task.NeedsReassign = true
		if err := q.store.SaveTask(task); err != nil {
			q.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to persist node release")
		}
		affected = append(affected, task.ID)
	}
	return affected
}

// ClearReassign drops the reassignment flag, used when a task still
// holds live nodes and no replacement is available.
func (q *Queue) ClearReassign(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return
	}
	task.NeedsReassign = false
	if err := q.store.SaveTask(task); err != nil {
		q.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to persist reassign flag")
	}
}

// Unassign removes a single node from one task's assignment set,
// typically after a failed dispatch. Partials are preserved and the
// task is marked for reassignment so the scheduler picks a
// replacement. If the remaining reports already satisfy quorum the
// ready callback fires instead of waiting on a node that never
// received the work.
func (q *Queue) Unassign(taskID, nodeID string) {
	q.mu.Lock()

	task, ok := q.tasks[taskID]
	if !ok || task.Status.Terminal() {
		q.mu.Unlock()
		return
	}
	remaining := task.AssignedNodes[:0]
	for _, id := range task.AssignedNodes {
		if id != nodeID {
			remaining = append(remaining, id)
		}
	}
	task.AssignedNodes = remaining
	task.NeedsReassign = true
	if err := q.store.SaveTask(task); err != nil {
		q.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to persist unassignment")
	}

	ready := q.readyLocked(task)
	q.mu.Unlock()

	if ready && q.onReady != nil {
		q.onReady(taskID)
	}
}

// Ready reports whether the task currently satisfies the aggregation
// quorum; used when a released node shrinks the assignment set.
func (q *Queue) Ready(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return false
	}
	return q.readyLocked(task)
}

// Counts returns the number of queued and running tasks.
func (q *Queue) Counts() (queued, running int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, task := range q.tasks {
		switch task.Status {
		case types.TaskQueued:
			queued++
		case types.TaskAssigned, types.TaskRunning:
			running++
		}
	}
	return queued, running
}

// QueuedWithPriority returns queued tasks at the given priority.
func (q *Queue) QueuedWithPriority(priority types.TaskPriority) []*types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var matched []*types.Task
	for _, id := range q.order {
		task, ok := q.tasks[id]
		if ok && task.Status == types.TaskQueued && task.Constraints.Priority == priority {
			matched = append(matched, cloneTask(task))
		}
	}
	return matched
}

func cloneTask(task *types.Task) *types.Task {
	c := *task
	c.AssignedNodes = append([]string(nil), task.AssignedNodes...)
	c.Partials = append([]types.PartialResult(nil), task.Partials...)
	c.Constraints.RequiredCapabilities = append([]string(nil), task.Constraints.RequiredCapabilities...)
	return &c
}
