package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/conclave-io/conclave/pkg/log"
	"github.com/conclave-io/conclave/pkg/metrics"
	"github.com/conclave-io/conclave/pkg/queue"
	"github.com/conclave-io/conclave/pkg/registry"
	"github.com/conclave-io/conclave/pkg/types"
)

// Dispatcher hands an assignment to a node. Implementations talk to
// the node's endpoint; transport failures are reported as errors and
// trigger reassignment, never task failure.
type Dispatcher interface {
	// Dispatch sends the task to the node for execution.
	Dispatch(ctx context.Context, node *types.Node, task *types.Task) error

	// Signal asks the node to stop work on a task, best-effort.
	Signal(ctx context.Context, node *types.Node, taskID string) error
}

// Config holds scheduler tuning parameters
type Config struct {
	Interval     time.Duration
	Strategy     string
	MaxRetries   int
	RetryBackoff time.Duration
}

// Scheduler matches queued tasks to eligible nodes. It runs a single
// scheduling loop; heartbeats and submissions land concurrently and
// are serialized by the registry and queue themselves.
type Scheduler struct {
	registry   *registry.Registry
	queue      *queue.Queue
	dispatcher Dispatcher
	strategy   Strategy
	cfg        Config
	stopCh     chan struct{}
	logger     zerolog.Logger
}

// NewScheduler creates a scheduler
func NewScheduler(cfg Config, reg *registry.Registry, q *queue.Queue, d Dispatcher) *Scheduler {
	return &Scheduler{
		registry:   reg,
		queue:      q,
		dispatcher: d,
		strategy:   NewStrategy(cfg.Strategy),
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("scheduler"),
	}
}

// Start begins the scheduling loop
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Schedule()
		case <-s.stopCh:
			return
		}
	}
}

// Schedule performs one scheduling pass: expire overdue tasks, then
// drain schedulable work until nothing is placeable.
func (s *Scheduler) Schedule() {
	started := time.Now()
	defer func() {
		metrics.SchedulingLatency.Observe(time.Since(started).Seconds())
	}()

	s.queue.ExpireOverdue()

	for {
		task := s.queue.DequeueNext(nil)
		if task == nil {
			return
		}
		if !s.place(task) {
			return
		}
	}
}

// place assigns one task. Returns false when the pass should stop
// because no progress was made.
func (s *Scheduler) place(task *types.Task) bool {
	eligible := s.eligibleFor(task)
	if len(eligible) == 0 {
		// A task that still holds live nodes just keeps going with
		// fewer replicas when no replacement exists.
		if task.NeedsReassign && len(task.AssignedNodes) > 0 {
			s.queue.ClearReassign(task.ID)
			return true
		}
		if err := s.queue.Backoff(task.ID, s.cfg.RetryBackoff, s.cfg.MaxRetries); err != nil {
			s.logger.Warn().Str("task_id", task.ID).Msg("task failed: no eligible nodes after retries")
			metrics.TasksFailed.Inc()
		}
		// Either backed off or terminal-failed; nothing else is
		// placeable for this task this pass.
		return true
	}

	want := task.Constraints.MaxNodes - len(task.AssignedNodes)
	if want < 1 {
		want = 1
	}
	selected := s.strategy.Select(task, eligible, want)
	if len(selected) == 0 {
		return true
	}

	ids := make([]string, len(selected))
	for i, node := range selected {
		ids[i] = node.ID
	}
	if err := s.queue.Assign(task.ID, ids); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("assignment failed")
		return false
	}
	metrics.TasksScheduled.Inc()
	s.logger.Info().Str("task_id", task.ID).Strs("nodes", ids).
		Str("strategy", s.strategy.Name()).Msg("task assigned")

	for _, node := range selected {
		go s.dispatch(node, task.ID)
	}
	return true
}

// eligibleFor returns active nodes satisfying the task's required
// capabilities, minus nodes already assigned or already heard from.
func (s *Scheduler) eligibleFor(task *types.Task) []*types.Node {
	candidates := s.registry.EligibleNodes(task.Constraints.RequiredCapabilities)
	eligible := candidates[:0]
	for _, node := range candidates {
		if task.AssignedTo(node.ID) {
			continue
		}
		if _, seen := task.PartialFrom(node.ID); seen {
			continue
		}
		eligible = append(eligible, node)
	}
	return eligible
}

func (s *Scheduler) dispatch(node *types.Node, taskID string) {
	task, err := s.queue.Get(taskID)
	if err != nil || task.Status.Terminal() {
		return
	}

	ctx, cancel := context.WithDeadline(context.Background(), task.Deadline)
	defer cancel()

	if err := s.dispatcher.Dispatch(ctx, node, task); err != nil {
		// Transport failure: hand the slot back for reassignment.
		s.logger.Warn().Err(err).Str("task_id", taskID).Str("node_id", node.ID).
			Msg("dispatch failed, node unreachable")
		s.queue.Unassign(taskID, node.ID)
		return
	}
	s.queue.MarkRunning(taskID)
}

// SignalStop asks every listed node to abandon a task, best-effort.
func (s *Scheduler) SignalStop(taskID string, nodeIDs []string) {
	for _, id := range nodeIDs {
		node, err := s.registry.Get(id)
		if err != nil {
			continue
		}
		go func(n *types.Node) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.dispatcher.Signal(ctx, n, taskID); err != nil {
				s.logger.Debug().Err(err).Str("task_id", taskID).Str("node_id", n.ID).
					Msg("stop signal failed")
			}
		}(node)
	}
}

// HasEligibleNodes reports whether any active node could serve the
// task's required capabilities; the health check uses this to detect
// stranded critical work.
func (s *Scheduler) HasEligibleNodes(task *types.Task) bool {
	return len(s.registry.EligibleNodes(task.Constraints.RequiredCapabilities)) > 0
}
