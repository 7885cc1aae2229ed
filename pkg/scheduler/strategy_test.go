package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-io/conclave/pkg/types"
)

func node(id string, load float64, capabilities ...string) *types.Node {
	return &types.Node{ID: id, Load: load, Capabilities: capabilities}
}

func ids(nodes []*types.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestLeastLoadedSelection(t *testing.T) {
	s := NewStrategy("least-loaded")
	assert.Equal(t, "least-loaded", s.Name())

	eligible := []*types.Node{
		node("node-c", 0.9),
		node("node-a", 0.2),
		node("node-b", 0.2),
	}

	selected := s.Select(&types.Task{}, eligible, 2)
	// Lowest load wins, node ID breaks the tie
	assert.Equal(t, []string{"node-a", "node-b"}, ids(selected))
}

func TestLeastLoadedWantExceedsEligible(t *testing.T) {
	s := NewStrategy("least-loaded")

	eligible := []*types.Node{node("node-a", 0.1)}
	selected := s.Select(&types.Task{}, eligible, 5)
	assert.Len(t, selected, 1)
}

func TestRoundRobinRotates(t *testing.T) {
	s := NewStrategy("round-robin")
	assert.Equal(t, "round-robin", s.Name())

	eligible := []*types.Node{node("node-a", 0), node("node-b", 0), node("node-c", 0)}

	first := s.Select(&types.Task{}, eligible, 1)
	second := s.Select(&types.Task{}, eligible, 1)
	third := s.Select(&types.Task{}, eligible, 1)
	fourth := s.Select(&types.Task{}, eligible, 1)

	assert.Equal(t, []string{"node-a"}, ids(first))
	assert.Equal(t, []string{"node-b"}, ids(second))
	assert.Equal(t, []string{"node-c"}, ids(third))
	// Wraps back around
	assert.Equal(t, []string{"node-a"}, ids(fourth))
}

func TestRoundRobinMultiNodeWrap(t *testing.T) {
	s := NewStrategy("round-robin")

	eligible := []*types.Node{node("node-a", 0), node("node-b", 0)}
	selected := s.Select(&types.Task{}, eligible, 3)
	// Capped at the eligible set, starting at the cursor
	require.Len(t, selected, 2)
	assert.ElementsMatch(t, []string{"node-a", "node-b"}, ids(selected))
}

func TestCapabilityWeightedPrefersMatchingType(t *testing.T) {
	s := NewStrategy("capability-weighted")
	assert.Equal(t, "capability-weighted", s.Name())

	task := &types.Task{Query: types.ReasoningQuery{Type: "deduction"}}
	eligible := []*types.Node{
		node("node-generalist", 0, "deduction", "induction", "abduction"),
		node("node-other", 0, "induction"),
		node("node-specialist", 0, "deduction"),
	}

	selected := s.Select(task, eligible, 2)
	// Nodes declaring the query type come first; among them the one
	// with the narrower capability set leads.
	assert.Equal(t, []string{"node-specialist", "node-generalist"}, ids(selected))
}

func TestUnknownStrategyFallsBackToLeastLoaded(t *testing.T) {
	s := NewStrategy("coin-flip")
	assert.Equal(t, "least-loaded", s.Name())
}
