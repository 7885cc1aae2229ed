package metrics

import (
	"time"

	"github.com/conclave-io/conclave/pkg/types"
)

// Source is the view of coordinator state the collector samples.
// The service façade implements it.
type Source interface {
	ListNodes() []*types.Node
	ListTasks() []*types.Task
}

// Collector periodically samples coordinator state into gauges
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a metrics collector
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectTaskMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes := c.source.ListNodes()

	counts := make(map[types.NodeStatus]int)
	suspected := 0
	for _, node := range nodes {
		counts[node.Status]++
		if node.Liveness == types.LivenessSuspected {
			suspected++
		}
	}

	for _, status := range []types.NodeStatus{types.NodeOnline, types.NodeOffline, types.NodeBusy, types.NodeError} {
		NodesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	NodesSuspected.Set(float64(suspected))
}

func (c *Collector) collectTaskMetrics() {
	tasks := c.source.ListTasks()

	counts := make(map[types.TaskStatus]int)
	for _, task := range tasks {
		counts[task.Status]++
	}

	statuses := []types.TaskStatus{
		types.TaskQueued, types.TaskAssigned, types.TaskRunning,
		types.TaskCompleted, types.TaskFailed, types.TaskCancelled,
	}
	for _, status := range statuses {
		TasksTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
