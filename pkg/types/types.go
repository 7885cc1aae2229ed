package types

import (
	"time"
)

// ReasoningQuery is the opaque payload handed to a node's reasoning
// engine. The coordinator routes it but never interprets it.
type ReasoningQuery struct {
	Type     string            `json:"type"`
	Premises []string          `json:"premises,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
}

// TaskPriority orders tasks in the queue
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// Weight returns the numeric rank of a priority (higher dequeues first).
// Unknown priorities rank below low.
func (p TaskPriority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// AggregationStrategy selects how partial results are reduced
type AggregationStrategy string

const (
	StrategyMajorityVote       AggregationStrategy = "majority-vote"
	StrategyWeightedAverage    AggregationStrategy = "weighted-average"
	StrategyConfidenceWeighted AggregationStrategy = "confidence-weighted"
	StrategyBestResult         AggregationStrategy = "best-result"
)

// TaskConstraints are caller-supplied scheduling requirements
type TaskConstraints struct {
	Priority             TaskPriority        `json:"priority,omitempty"`
	RequiredCapabilities []string            `json:"requiredCapabilities,omitempty"`
	MaxNodes             int                 `json:"maxNodes,omitempty"`
	MinConfidence        float64             `json:"minConfidence,omitempty"`
	Timeout              time.Duration       `json:"timeout,omitempty"`
	Strategy             AggregationStrategy `json:"strategy,omitempty"`
}

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ReasoningResult is a single engine's answer for a query
type ReasoningResult struct {
	Conclusion  string            `json:"conclusion"`
	Confidence  float64           `json:"confidence"`
	Explanation string            `json:"explanation,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PartialResult is one node's result plus arrival bookkeeping
type PartialResult struct {
	NodeID     string          `json:"nodeId"`
	Result     ReasoningResult `json:"result"`
	Err        string          `json:"error,omitempty"` // non-empty when the node's executor failed
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Task is a unit of distributed reasoning work
type Task struct {
	ID              string          `json:"id"`
	Query           ReasoningQuery  `json:"query"`
	Constraints     TaskConstraints `json:"constraints"`
	Status          TaskStatus      `json:"status"`
	Reason          string          `json:"reason,omitempty"` // set on failed/cancelled
	AssignedNodes   []string        `json:"assignedNodes,omitempty"`
	Partials        []PartialResult `json:"partials,omitempty"` // arrival order, at most one per node
	NeedsReassign   bool            `json:"needsReassign,omitempty"` // a failed node left the assignment set
	ScheduleRetries int             `json:"scheduleRetries,omitempty"`
	NotBefore       time.Time       `json:"notBefore,omitempty"` // backoff gate for rescheduling
	CreatedAt       time.Time       `json:"createdAt"`
	Deadline        time.Time       `json:"deadline"`
	CompletedAt     time.Time       `json:"completedAt,omitempty"`
}

// Expired reports whether the task's deadline has passed at now.
func (t *Task) Expired(now time.Time) bool {
	return !t.Deadline.IsZero() && now.After(t.Deadline)
}

// PartialFrom returns the recorded partial from the given node, if any.
func (t *Task) PartialFrom(nodeID string) (PartialResult, bool) {
	for _, p := range t.Partials {
		if p.NodeID == nodeID {
			return p, true
		}
	}
	return PartialResult{}, false
}

// AssignedTo reports whether the node is in the task's assignment set.
func (t *Task) AssignedTo(nodeID string) bool {
	for _, id := range t.AssignedNodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// NodeStatus represents the reported or derived state of a node
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
	NodeBusy    NodeStatus = "busy"
	NodeError   NodeStatus = "error"
)

// LivenessState is the fault monitor's view of a node
type LivenessState string

const (
	LivenessAlive     LivenessState = "alive"
	LivenessSuspected LivenessState = "suspected"
	LivenessFailed    LivenessState = "failed"
)

// NodePerformance tracks rolling execution counters for a node
type NodePerformance struct {
	TasksCompleted      int64         `json:"tasksCompleted"`
	TasksErrored        int64         `json:"tasksErrored"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	Uptime              time.Duration `json:"uptime"`
}

// Reliability is the completed fraction of all finished executions.
// A node with no history is treated as fully reliable.
func (p NodePerformance) Reliability() float64 {
	total := p.TasksCompleted + p.TasksErrored
	if total == 0 {
		return 1.0
	}
	return float64(p.TasksCompleted) / float64(total)
}

// Node is a registered reasoning worker
type Node struct {
	ID            string            `json:"id"`
	Endpoint      string            `json:"endpoint"`
	Capabilities  []string          `json:"capabilities"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Status        NodeStatus        `json:"status"`
	Liveness      LivenessState     `json:"liveness"`
	Load          float64           `json:"load"` // self-reported, [0,1]
	Performance   NodePerformance   `json:"performance"`
	LastHeartbeat time.Time         `json:"lastHeartbeat"`
	RegisteredAt  time.Time         `json:"registeredAt"`
	RegisterSeq   uint64            `json:"registerSeq"` // registration order, for deterministic tie-breaks
}

// HasCapability reports whether the node declares the given capability tag.
func (n *Node) HasCapability(capability string) bool {
	for _, c := range n.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// HasCapabilities reports whether the node declares every listed tag.
func (n *Node) HasCapabilities(capabilities []string) bool {
	for _, c := range capabilities {
		if !n.HasCapability(c) {
			return false
		}
	}
	return true
}

// AggregatedResult is the consensus output for a task
type AggregatedResult struct {
	TaskID              string              `json:"taskId"`
	Result              ReasoningResult     `json:"aggregatedResult"`
	ConsensusLevel      float64             `json:"consensusLevel"`
	NodesUsed           int                 `json:"nodesUsed"`
	ContributingNodeIDs []string            `json:"contributingNodeIds"`
	Strategy            AggregationStrategy `json:"aggregationStrategy"`
	CompletedAt         time.Time           `json:"completedAt"`
}

// Heartbeat is a node's periodic liveness report
type Heartbeat struct {
	NodeID      string          `json:"nodeId"`
	Status      NodeStatus      `json:"status"`
	Load        float64         `json:"load"`
	Performance NodePerformance `json:"performance"`
}

// SystemStats is the aggregate view returned by the service façade
type SystemStats struct {
	TotalNodes          int           `json:"totalNodes"`
	ActiveNodes         int           `json:"activeNodes"`
	QueuedTasks         int           `json:"queuedTasks"`
	RunningTasks        int           `json:"runningTasks"`
	TasksCompleted      int64         `json:"tasksCompleted"`
	TasksFailed         int64         `json:"tasksFailed"`
	SystemThroughput    float64       `json:"systemThroughput"` // completed tasks per minute
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	SystemReliability   float64       `json:"systemReliability"`
}

// HealthReport is the health-check response
type HealthReport struct {
	Healthy bool     `json:"healthy"`
	Status  string   `json:"status"` // "healthy", "degraded", "unhealthy"
	Issues  []string `json:"issues,omitempty"`
}
