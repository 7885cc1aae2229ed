package scheduler

import (
	"sort"
	"sync/atomic"

	"github.com/conclave-io/conclave/pkg/types"
)

// Strategy picks up to want nodes for a task from the eligible set.
// Implementations must be deterministic: equal scores break ties by
// node ID so scheduling is reproducible.
type Strategy interface {
	Name() string
	Select(task *types.Task, eligible []*types.Node, want int) []*types.Node
}

// NewStrategy returns the named placement strategy, defaulting to
// least-loaded for unknown names.
func NewStrategy(name string) Strategy {
	switch name {
	case "round-robin":
		return &roundRobin{}
	case "capability-weighted":
		return capabilityWeighted{}
	default:
		return leastLoaded{}
	}
}

// leastLoaded prefers nodes with the lowest current load.
type leastLoaded struct{}

func (leastLoaded) Name() string { return "least-loaded" }

func (leastLoaded) Select(_ *types.Task, eligible []*types.Node, want int) []*types.Node {
	nodes := append([]*types.Node(nil), eligible...)
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Load != nodes[j].Load {
			return nodes[i].Load < nodes[j].Load
		}
		return nodes[i].ID < nodes[j].ID
	})
	return truncate(nodes, want)
}

// roundRobin walks the node list in ID order, advancing the start
// offset once per selection.
type roundRobin struct {
	counter atomic.Uint64
}

func (*roundRobin) Name() string { return "round-robin" }

func (r *roundRobin) Select(_ *types.Task, eligible []*types.Node, want int) []*types.Node {
	if len(eligible) == 0 {
		return nil
	}
	nodes := append([]*types.Node(nil), eligible...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	start := int(r.counter.Add(1)-1) % len(nodes)
	if want > len(nodes) {
		want = len(nodes)
	}
	selected := make([]*types.Node, 0, want)
	for i := 0; i < want; i++ {
		selected = append(selected, nodes[(start+i)%len(nodes)])
	}
	return selected
}

// capabilityWeighted prefers nodes whose capability set most closely
// matches the query type: nodes declaring the type itself first, then
// specialists with fewer unrelated capabilities.
type capabilityWeighted struct{}

func (capabilityWeighted) Name() string { return "capability-weighted" }

func (capabilityWeighted) Select(task *types.Task, eligible []*types.Node, want int) []*types.Node {
	nodes := append([]*types.Node(nil), eligible...)
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		am, bm := a.HasCapability(task.Query.Type), b.HasCapability(task.Query.Type)
		if am != bm {
			return am
		}
		if len(a.Capabilities) != len(b.Capabilities) {
			return len(a.Capabilities) < len(b.Capabilities)
		}
		return a.ID < b.ID
	})
	return truncate(nodes, want)
}

func truncate(nodes []*types.Node, want int) []*types.Node {
	if want < len(nodes) {
		return nodes[:want]
	}
	return nodes
}
