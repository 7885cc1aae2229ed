package service

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/conclave-io/conclave/pkg/aggregator"
	"github.com/conclave-io/conclave/pkg/config"
	"github.com/conclave-io/conclave/pkg/events"
	"github.com/conclave-io/conclave/pkg/log"
	"github.com/conclave-io/conclave/pkg/metrics"
	"github.com/conclave-io/conclave/pkg/monitor"
	"github.com/conclave-io/conclave/pkg/queue"
	"github.com/conclave-io/conclave/pkg/registry"
	"github.com/conclave-io/conclave/pkg/scheduler"
	"github.com/conclave-io/conclave/pkg/storage"
	"github.com/conclave-io/conclave/pkg/types"
)

// Service is the coordination façade: the only surface external
// callers see. It composes the registry, queue, scheduler, aggregator
// and fault monitor.
type Service struct {
	registry   *registry.Registry
	queue      *queue.Queue
	scheduler  *scheduler.Scheduler
	aggregator *aggregator.Aggregator
	monitor    *monitor.Monitor
	broker     *events.Broker
	store      storage.Store
	collector  *metrics.Collector

	startedAt        time.Time
	completedAtStart int64
	logger           zerolog.Logger
}

// NewService wires the coordination components together.
func NewService(cfg *config.Config, store storage.Store, dispatcher scheduler.Dispatcher) (*Service, error) {
	broker := events.NewBroker()

	reg, err := registry.NewRegistry(registry.Config{
		NodeTimeout:        cfg.Monitor.NodeTimeout,
		ErrorRateThreshold: cfg.Monitor.ErrorRateThreshold,
	}, store, broker)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	q, err := queue.NewQueue(queue.Config{
		DefaultMaxNodes: cfg.Scheduler.DefaultMaxNodes,
		DefaultTimeout:  cfg.Scheduler.DefaultTimeout,
		DefaultPriority: cfg.Scheduler.DefaultPriority,
		DefaultStrategy: cfg.Aggregation.DefaultStrategy,
		Quorum:          cfg.Aggregation.Quorum,
	}, store, broker)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.Config{
		Interval:     cfg.Scheduler.Interval,
		Strategy:     cfg.Scheduler.Strategy,
		MaxRetries:   cfg.Scheduler.MaxRetries,
		RetryBackoff: cfg.Scheduler.RetryBackoff,
	}, reg, q, dispatcher)

	mon := monitor.NewMonitor(monitor.Config{
		Interval:     cfg.Monitor.Interval,
		NodeTimeout:  cfg.Monitor.NodeTimeout,
		FailureGrace: cfg.Monitor.FailureGrace,
		ProbeTimeout: cfg.Monitor.ProbeTimeout,
	}, reg, q, broker)

	s := &Service{
		registry:   reg,
		queue:      q,
		scheduler:  sched,
		aggregator: aggregator.NewAggregator(),
		monitor:    mon,
		broker:     broker,
		store:      store,
		logger:     log.WithComponent("service"),
	}

	q.SetReadyFunc(s.finalize)
	mon.SetReadyFunc(s.finalize)
	s.collector = metrics.NewCollector(s)

	return s, nil
}

// Start launches the background loops and recovers orphaned
// assignments from a previous run.
func (s *Service) Start() {
	s.startedAt = time.Now()
	if completed, err := s.store.GetCounter("tasks_completed"); err == nil {
		s.completedAtStart = completed
	}

	s.recoverOrphans()

	s.broker.Start()
	s.scheduler.Start()
	s.monitor.Start()
	s.collector.Start()
	s.logger.Info().Msg("coordination service started")
}

// Stop shuts the background loops down.
func (s *Service) Stop() {
	s.scheduler.Stop()
	s.monitor.Stop()
	s.collector.Stop()
	s.broker.Stop()
	s.logger.Info().Msg("coordination service stopped")
}

// recoverOrphans releases assignments held by nodes that vanished
// while the coordinator was down, so the scheduler can re-place them.
func (s *Service) recoverOrphans() {
	known := make(map[string]bool)
	for _, node := range s.registry.List() {
		known[node.ID] = true
	}
	for _, task := range s.queue.List() {
		if task.Status != types.TaskAssigned && task.Status != types.TaskRunning {
			continue
		}
		for _, nodeID := range task.AssignedNodes {
			if !known[nodeID] {
				s.logger.Warn().Str("task_id", task.ID).Str("node_id", nodeID).
					Msg("recovering assignment from unknown node")
				s.queue.ReleaseNode(nodeID)
				break
			}
		}
	}
}

// SubmitTask enqueues a reasoning task and returns immediately; the
// caller observes completion via polling or the event stream.
func (s *Service) SubmitTask(query types.ReasoningQuery, constraints types.TaskConstraints) (*types.Task, error) {
	return s.queue.Submit(query, constraints)
}

// GetTaskStatus returns the task record, including partial counts.
func (s *Service) GetTaskStatus(taskID string) (*types.Task, error) {
	return s.queue.Get(taskID)
}

// GetResult returns the finalized consensus result for a task.
func (s *Service) GetResult(taskID string) (*types.AggregatedResult, error) {
	return s.store.GetResult(taskID)
}

// CancelTask cancels a non-terminal task and signals its nodes to
// stop, best-effort.
func (s *Service) CancelTask(taskID string) error {
	assigned, err := s.queue.Cancel(taskID)
	if err != nil {
		return err
	}
	s.scheduler.SignalStop(taskID, assigned)
	return nil
}

// RegisterNode adds a worker node.
func (s *Service) RegisterNode(endpoint string, capabilities []string, metadata map[string]string) (*types.Node, error) {
	return s.registry.Register(endpoint, capabilities, metadata)
}

// DeregisterNode releases the node's in-flight assignments for
// reassignment, then purges the record.
func (s *Service) DeregisterNode(nodeID string) error {
	if _, err := s.registry.Get(nodeID); err != nil {
		return err
	}
	s.monitor.ReleaseNode(nodeID)
	return s.registry.Deregister(nodeID)
}

// SendHeartbeat processes a node liveness report. Unknown IDs are
// dropped silently per the registry contract.
func (s *Service) SendHeartbeat(hb types.Heartbeat) {
	s.registry.Heartbeat(hb)
}

// RecordPartialResult records a node's result for a task and folds
// the execution into the node's performance counters.
func (s *Service) RecordPartialResult(taskID, nodeID string, result types.ReasoningResult, execErr string, elapsed time.Duration) {
	s.queue.RecordPartial(taskID, nodeID, result, execErr)
	s.registry.RecordExecution(nodeID, elapsed, execErr != "")
	metrics.PartialResults.Inc()
}

// GetActiveNodes returns nodes that are online with fresh heartbeats.
func (s *Service) GetActiveNodes() []*types.Node {
	return s.registry.ActiveNodes()
}

// GetNodesByCapability returns active nodes declaring a capability,
// least-loaded first.
func (s *Service) GetNodesByCapability(capability string) []*types.Node {
	return s.registry.FindByCapability(capability)
}

// ListNodes returns every registered node.
func (s *Service) ListNodes() []*types.Node {
	return s.registry.List()
}

// ListTasks returns every known task.
func (s *Service) ListTasks() []*types.Task {
	return s.queue.List()
}

// Subscribe attaches an event stream consumer.
func (s *Service) Subscribe() events.Subscriber {
	return s.broker.Subscribe()
}

// Unsubscribe detaches an event stream consumer.
func (s *Service) Unsubscribe(sub events.Subscriber) {
	s.broker.Unsubscribe(sub)
}

// GetSystemStats aggregates throughput, latency and reliability.
func (s *Service) GetSystemStats() types.SystemStats {
	nodes := s.registry.List()
	active := s.registry.ActiveNodes()
	queued, running := s.queue.Counts()

	completed, _ := s.store.GetCounter("tasks_completed")
	failed, _ := s.store.GetCounter("tasks_failed")

	var throughput float64
	if minutes := time.Since(s.startedAt).Minutes(); minutes > 0 {
		throughput = float64(completed-s.completedAtStart) / minutes
	}

	var avgResponse time.Duration
	var reliabilitySum float64
	withHistory := 0
	for _, node := range nodes {
		perf := node.Performance
		reliabilitySum += perf.Reliability()
		if perf.TasksCompleted+perf.TasksErrored > 0 {
			avgResponse += perf.AverageResponseTime
			withHistory++
		}
	}
	if withHistory > 0 {
		avgResponse /= time.Duration(withHistory)
	}
	reliability := 1.0
	if len(nodes) > 0 {
		reliability = reliabilitySum / float64(len(nodes))
	}

	return types.SystemStats{
		TotalNodes:          len(nodes),
		ActiveNodes:         len(active),
		QueuedTasks:         queued,
		RunningTasks:        running,
		TasksCompleted:      completed,
		TasksFailed:         failed,
		SystemThroughput:    throughput,
		AverageResponseTime: avgResponse,
		SystemReliability:   reliability,
	}
}

// HealthCheck reports coordinator health: degraded while any node is
// suspected or unreachable by probe, unhealthy when queued critical
// work has no eligible node.
func (s *Service) HealthCheck() types.HealthReport {
	var issues []string
	status := "healthy"

	for _, nodeID := range s.monitor.SuspectedNodes() {
		issues = append(issues, "node "+nodeID+" suspected: heartbeat overdue")
		status = "degraded"
	}
	for _, issue := range s.monitor.ProbeIssues() {
		issues = append(issues, issue)
		if status == "healthy" {
			status = "degraded"
		}
	}

	for _, task := range s.queue.QueuedWithPriority(types.PriorityCritical) {
		if !s.scheduler.HasEligibleNodes(task) {
			issues = append(issues, "critical task "+task.ID+" has no eligible nodes")
			status = "unhealthy"
		}
	}

	return types.HealthReport{
		Healthy: status == "healthy",
		Status:  status,
		Issues:  issues,
	}
}

// finalize aggregates a quorum-complete task into its consensus
// result. Aggregation and confidence failures terminal-fail the task
// with an explanation; callers observe them via task status.
func (s *Service) finalize(taskID string) {
	task, err := s.queue.Get(taskID)
	if err != nil || task.Status.Terminal() {
		return
	}

	result, err := s.aggregator.Aggregate(task)
	if err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("aggregation failed")
		if failErr := s.queue.Fail(taskID, "AggregationFailure: "+err.Error()); failErr != nil {
			s.logger.Error().Err(failErr).Str("task_id", taskID).Msg("failed to record aggregation failure")
		}
		metrics.TasksFailed.Inc()
		return
	}

	if min := task.Constraints.MinConfidence; min > 0 && result.Result.Confidence < min {
		reason := fmt.Sprintf("AggregationFailure: aggregate confidence %.3f below minimum %.3f",
			result.Result.Confidence, min)
		if failErr := s.queue.Fail(taskID, reason); failErr != nil {
			s.logger.Error().Err(failErr).Str("task_id", taskID).Msg("failed to record confidence failure")
		}
		metrics.TasksFailed.Inc()
		return
	}

	if err := s.queue.Complete(taskID, result); err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to complete task")
		return
	}
	metrics.ConsensusLevel.Observe(result.ConsensusLevel)
	s.broker.Publish(&events.Event{
		Type:   events.EventResultAggregated,
		TaskID: taskID,
		Metadata: map[string]string{
			"strategy": string(result.Strategy),
		},
	})
}
