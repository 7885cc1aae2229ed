package aggregator

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-io/conclave/pkg/types"
)

func makeTask(strategy types.AggregationStrategy, partials ...types.PartialResult) *types.Task {
	return &types.Task{
		ID:          "task-1",
		Constraints: types.TaskConstraints{Strategy: strategy},
		Status:      types.TaskRunning,
		Partials:    partials,
	}
}

func partial(nodeID, conclusion string, confidence float64) types.PartialResult {
	return types.PartialResult{
		NodeID: nodeID,
		Result: types.ReasoningResult{Conclusion: conclusion, Confidence: confidence},
	}
}

func TestSinglePartialReturnedVerbatim(t *testing.T) {
	agg := NewAggregator()

	for _, strategy := range []types.AggregationStrategy{
		types.StrategyMajorityVote,
		types.StrategyWeightedAverage,
		types.StrategyConfidenceWeighted,
		types.StrategyBestResult,
	} {
		task := makeTask(strategy, partial("node-1", "only answer", 0.7))
		result, err := agg.Aggregate(task)
		require.NoError(t, err, string(strategy))
		assert.Equal(t, "only answer", result.Result.Conclusion)
		assert.InDelta(t, 0.7, result.Result.Confidence, 0.001)
		assert.Equal(t, 1.0, result.ConsensusLevel, string(strategy))
		assert.Equal(t, 1, result.NodesUsed)
	}
}

func TestMajorityVote(t *testing.T) {
	agg := NewAggregator()

	task := makeTask(types.StrategyMajorityVote,
		partial("node-1", "wet ground", 0.9),
		partial("node-2", "wet ground", 0.7),
		partial("node-3", "dry ground", 0.95),
	)

	result, err := agg.Aggregate(task)
	require.NoError(t, err)
	assert.Equal(t, "wet ground", result.Result.Conclusion)
	assert.InDelta(t, 0.8, result.Result.Confidence, 0.001) // mean of the winning bucket
	assert.InDelta(t, 2.0/3.0, result.ConsensusLevel, 0.001)
	assert.Equal(t, 3, result.NodesUsed)
	assert.Equal(t, []string{"node-1", "node-2", "node-3"}, result.ContributingNodeIDs)
}

func TestMajorityVoteTieBrokenByNodeID(t *testing.T) {
	agg := NewAggregator()

	task := makeTask(types.StrategyMajorityVote,
		partial("node-b", "beta", 0.9),
		partial("node-a", "alpha", 0.5),
	)

	// Both buckets hold one vote; the bucket containing the lowest
	// node ID wins regardless of confidence or arrival order.
	result, err := agg.Aggregate(task)
	require.NoError(t, err)
	assert.Equal(t, "alpha", result.Result.Conclusion)
	assert.InDelta(t, 0.5, result.ConsensusLevel, 0.001)
}

func TestMajorityVoteOrderIndependent(t *testing.T) {
	agg := NewAggregator()

	forward := makeTask(types.StrategyMajorityVote,
		partial("node-1", "x", 0.6),
		partial("node-2", "y", 0.9),
		partial("node-3", "x", 0.7),
	)
	reversed := makeTask(types.StrategyMajorityVote,
		partial("node-3", "x", 0.7),
		partial("node-2", "y", 0.9),
		partial("node-1", "x", 0.6),
	)

	a, err := agg.Aggregate(forward)
	require.NoError(t, err)
	b, err := agg.Aggregate(reversed)
	require.NoError(t, err)
	assert.Equal(t, a.Result.Conclusion, b.Result.Conclusion)
	assert.Equal(t, a.ConsensusLevel, b.ConsensusLevel)
}

func TestWeightedAverage(t *testing.T) {
	agg := NewAggregator()

	task := makeTask(types.StrategyWeightedAverage,
		partial("node-1", "10", 0.5),
		partial("node-2", "20", 1.0),
	)

	result, err := agg.Aggregate(task)
	require.NoError(t, err)
	// (10*0.5 + 20*1.0) / 1.5
	mean, err := strconv.ParseFloat(result.Result.Conclusion, 64)
	require.NoError(t, err)
	assert.InDelta(t, 16.667, mean, 0.001)
	assert.InDelta(t, 0.75, result.Result.Confidence, 0.001)
	// Confidence spread lowers the consensus level
	assert.InDelta(t, 0.75, result.ConsensusLevel, 0.001)
}

func TestWeightedAverageEqualConfidencesFullConsensus(t *testing.T) {
	agg := NewAggregator()

	task := makeTask(types.StrategyWeightedAverage,
		partial("node-1", "10", 0.8),
		partial("node-2", "30", 0.8),
	)

	result, err := agg.Aggregate(task)
	require.NoError(t, err)
	assert.Equal(t, "20", result.Result.Conclusion)
	assert.Equal(t, 1.0, result.ConsensusLevel)
}

func TestWeightedAverageRejectsNonNumeric(t *testing.T) {
	agg := NewAggregator()

	task := makeTask(types.StrategyWeightedAverage,
		partial("node-1", "10", 0.5),
		partial("node-2", "not a number", 0.9),
	)

	_, err := agg.Aggregate(task)
	assert.True(t, errors.Is(err, types.ErrAggregationFailure))
}

func TestConfidenceWeighted(t *testing.T) {
	agg := NewAggregator()

	task := makeTask(types.StrategyConfidenceWeighted,
		partial("node-1", "alpha", 0.95),
		partial("node-2", "alpha", 0.6),
		partial("node-3", "beta", 0.8),
	)

	result, err := agg.Aggregate(task)
	require.NoError(t, err)
	assert.Equal(t, "alpha", result.Result.Conclusion)
	// Supporters pool confidence: (0.95² + 0.6²) / (0.95 + 0.6)
	assert.InDelta(t, (0.95*0.95+0.6*0.6)/(0.95+0.6), result.Result.Confidence, 0.001)
	assert.InDelta(t, 2.0/3.0, result.ConsensusLevel, 0.001)
}

func TestBestResult(t *testing.T) {
	agg := NewAggregator()

	task := makeTask(types.StrategyBestResult,
		partial("node-1", "weak answer", 0.4),
		partial("node-2", "strong answer", 0.92),
	)

	result, err := agg.Aggregate(task)
	require.NoError(t, err)
	assert.Equal(t, "strong answer", result.Result.Conclusion)
	assert.InDelta(t, 0.92, result.Result.Confidence, 0.001)
	assert.InDelta(t, 0.92, result.ConsensusLevel, 0.001)
}

func TestErroredPartialsExcluded(t *testing.T) {
	agg := NewAggregator()

	task := makeTask(types.StrategyMajorityVote,
		partial("node-1", "answer", 0.8),
		types.PartialResult{NodeID: "node-2", Err: "engine crashed"},
		types.PartialResult{NodeID: "node-3", Err: "out of memory"},
	)

	// Only the successful partial participates, so the single-result
	// shortcut applies.
	result, err := agg.Aggregate(task)
	require.NoError(t, err)
	assert.Equal(t, "answer", result.Result.Conclusion)
	assert.Equal(t, 1, result.NodesUsed)
	assert.Equal(t, []string{"node-1"}, result.ContributingNodeIDs)
	assert.Equal(t, 1.0, result.ConsensusLevel)
}

func TestAllPartialsErroredFailsAggregation(t *testing.T) {
	agg := NewAggregator()

	task := makeTask(types.StrategyMajorityVote,
		types.PartialResult{NodeID: "node-1", Err: "engine crashed"},
		types.PartialResult{NodeID: "node-2", Err: "timeout"},
	)

	_, err := agg.Aggregate(task)
	assert.True(t, errors.Is(err, types.ErrAggregationFailure))
}

func TestUnknownStrategyFailsAggregation(t *testing.T) {
	agg := NewAggregator()

	task := makeTask("median",
		partial("node-1", "a", 0.5),
		partial("node-2", "b", 0.6),
	)

	_, err := agg.Aggregate(task)
	assert.True(t, errors.Is(err, types.ErrAggregationFailure))
}
