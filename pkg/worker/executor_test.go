package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-io/conclave/pkg/types"
)

func TestDeductionForwardChains(t *testing.T) {
	e := &RuleExecutor{}

	result, err := e.Execute(context.Background(), types.ReasoningQuery{
		Type:     "deduction",
		Premises: []string{"it rains -> ground is wet", "ground is wet -> shoes get dirty", "it rains"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ground is wet, shoes get dirty", result.Conclusion)
	assert.InDelta(t, 0.95, result.Confidence, 0.001)
	assert.Equal(t, "2", result.Metadata["rulesFired"])
}

func TestDeductionNoRuleFires(t *testing.T) {
	e := &RuleExecutor{}

	result, err := e.Execute(context.Background(), types.ReasoningQuery{
		Type:     "deduction",
		Premises: []string{"a -> b", "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, "no new conclusions", result.Conclusion)
	assert.InDelta(t, 0.5, result.Confidence, 0.001)
}

func TestEstimationAveragesPremises(t *testing.T) {
	e := &RuleExecutor{}

	result, err := e.Execute(context.Background(), types.ReasoningQuery{
		Type:     "estimation",
		Premises: []string{"10", "20", "not a number", "30"},
	})
	require.NoError(t, err)
	assert.Equal(t, "20", result.Conclusion)
}

func TestEstimationWithoutNumbersErrors(t *testing.T) {
	e := &RuleExecutor{}

	_, err := e.Execute(context.Background(), types.ReasoningQuery{
		Type:     "estimation",
		Premises: []string{"apples", "oranges"},
	})
	assert.Error(t, err)
}

func TestUnknownTypeIsDeterministic(t *testing.T) {
	e := &RuleExecutor{}

	query := types.ReasoningQuery{Type: "divination", Premises: []string{"tea leaves"}}
	a, err := e.Execute(context.Background(), query)
	require.NoError(t, err)
	b, err := e.Execute(context.Background(), query)
	require.NoError(t, err)

	// Identical queries converge on every node running this engine
	assert.Equal(t, a.Conclusion, b.Conclusion)
	assert.Contains(t, a.Conclusion, "divination:")
}

func TestLatencyHonorsCancellation(t *testing.T) {
	e := &RuleExecutor{Latency: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, types.ReasoningQuery{Type: "deduction"})
	assert.ErrorIs(t, err, context.Canceled)
}
