package storage

import "github.com/conclave-io/conclave/pkg/types"

// Store defines the persistence interface for coordinator state.
// The registry and queue write through to it so a restarted
// coordinator recovers its node roster and in-flight tasks.
type Store interface {
	// Node operations
	SaveNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	DeleteNode(id string) error

	// Task operations
	SaveTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	DeleteTask(id string) error

	// Aggregated result operations
	SaveResult(result *types.AggregatedResult) error
	GetResult(taskID string) (*types.AggregatedResult, error)

	// Counter operations (monotonic, survive restart)
	IncrCounter(name string, delta int64) (int64, error)
	GetCounter(name string) (int64, error)

	Close() error
}
