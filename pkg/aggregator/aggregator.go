package aggregator

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/conclave-io/conclave/pkg/log"
	"github.com/conclave-io/conclave/pkg/types"
)

// Aggregator reduces a task's partial results into one consensus
// result. It only reads task snapshots; marking the task complete is
// the queue's job.
type Aggregator struct {
	logger zerolog.Logger
}

// NewAggregator creates an aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{logger: log.WithComponent("aggregator")}
}

// Aggregate reduces the task's successful partials using the task's
// strategy. A task with zero successful partials cannot produce a
// result. The output is independent of arrival order: partials are
// canonicalized by node ID before reduction, which also serves as the
// deterministic tie-break.
func (a *Aggregator) Aggregate(task *types.Task) (*types.AggregatedResult, error) {
	partials := successfulPartials(task)
	if len(partials) == 0 {
		return nil, fmt.Errorf("%w: no successful partial results for task %s", types.ErrAggregationFailure, task.ID)
	}

	sort.Slice(partials, func(i, j int) bool { return partials[i].NodeID < partials[j].NodeID })

	contributing := make([]string, len(partials))
	for i, p := range partials {
		contributing[i] = p.NodeID
	}

	result := &types.AggregatedResult{
		TaskID:              task.ID,
		NodesUsed:           len(partials),
		ContributingNodeIDs: contributing,
		Strategy:            task.Constraints.Strategy,
		CompletedAt:         time.Now(),
	}

	// A single partial cannot disagree with itself.
	if len(partials) == 1 {
		result.Result = partials[0].Result
		result.ConsensusLevel = 1.0
		return result, nil
	}

	var err error
	switch task.Constraints.Strategy {
	case types.StrategyMajorityVote:
		result.Result, result.ConsensusLevel = majorityVote(partials)
	case types.StrategyWeightedAverage:
		result.Result, result.ConsensusLevel, err = weightedAverage(partials)
	case types.StrategyConfidenceWeighted:
		result.Result, result.ConsensusLevel = confidenceWeighted(partials)
	case types.StrategyBestResult:
		result.Result, result.ConsensusLevel = bestResult(partials)
	default:
		err = fmt.Errorf("%w: unknown strategy %q", types.ErrAggregationFailure, task.Constraints.Strategy)
	}
	if err != nil {
		return nil, err
	}

	a.logger.Debug().Str("task_id", task.ID).
		Str("strategy", string(task.Constraints.Strategy)).
		Float64("consensus", result.ConsensusLevel).
		Msg("aggregated partial results")
	return result, nil
}

func successfulPartials(task *types.Task) []types.PartialResult {
	var ok []types.PartialResult
	for _, p := range task.Partials {
		if p.Err == "" {
			ok = append(ok, p)
		}
	}
	return ok
}

// majorityVote buckets partials by conclusion; the largest bucket
// wins, ties broken by the bucket holding the lowest node ID.
// Complete disagreement yields consensus 1/N, which is reported as-is.
func majorityVote(partials []types.PartialResult) (types.ReasoningResult, float64) {
	buckets := make(map[string][]types.PartialResult)
	for _, p := range partials {
		buckets[p.Result.Conclusion] = append(buckets[p.Result.Conclusion], p)
	}

	var winner []types.PartialResult
	for _, bucket := range buckets {
		if winner == nil || len(bucket) > len(winner) ||
			(len(bucket) == len(winner) && bucket[0].NodeID < winner[0].NodeID) {
			winner = bucket
		}
	}

	// The winning conclusion carries the mean confidence of its
	// bucket and the explanation of its most confident member.
	var sum float64
	best := winner[0]
	for _, p := range winner {
		sum += p.Result.Confidence
		if p.Result.Confidence > best.Result.Confidence {
			best = p
		}
	}

	merged := types.ReasoningResult{
		Conclusion:  best.Result.Conclusion,
		Confidence:  sum / float64(len(winner)),
		Explanation: best.Result.Explanation,
		Metadata:    map[string]string{"votes": strconv.Itoa(len(winner))},
	}
	return merged, float64(len(winner)) / float64(len(partials))
}

// weightedAverage requires commensurable (numeric) conclusions. The
// merged conclusion is the confidence-weighted mean; consensus is one
// minus the confidence spread, clamped to [0,1].
func weightedAverage(partials []types.PartialResult) (types.ReasoningResult, float64, error) {
	values := make([]float64, len(partials))
	for i, p := range partials {
		v, err := strconv.ParseFloat(p.Result.Conclusion, 64)
		if err != nil {
			return types.ReasoningResult{}, 0,
				fmt.Errorf("%w: conclusion %q from node %s is not numeric", types.ErrAggregationFailure, p.Result.Conclusion, p.NodeID)
		}
		values[i] = v
	}

	var weightedSum, weightTotal, confSum float64
	for i, p := range partials {
		weightedSum += values[i] * p.Result.Confidence
		weightTotal += p.Result.Confidence
		confSum += p.Result.Confidence
	}
	meanConf := confSum / float64(len(partials))

	var mean float64
	if weightTotal > 0 {
		mean = weightedSum / weightTotal
	} else {
		for _, v := range values {
			mean += v
		}
		mean /= float64(len(values))
	}

	var variance float64
	for _, p := range partials {
		d := p.Result.Confidence - meanConf
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(partials)))
	consensus := clamp01(1.0 - stddev)

	merged := types.ReasoningResult{
		Conclusion: strconv.FormatFloat(mean, 'f', -1, 64),
		Confidence: meanConf,
	}
	return merged, consensus, nil
}

// confidenceWeighted takes the conclusion of the most confident
// partial; the aggregate confidence is the weighted mean over the
// partials supporting that conclusion.
func confidenceWeighted(partials []types.PartialResult) (types.ReasoningResult, float64) {
	best := partials[0]
	for _, p := range partials[1:] {
		if p.Result.Confidence > best.Result.Confidence {
			best = p
		}
	}

	var weightedSum, weightTotal float64
	supporters := 0
	for _, p := range partials {
		if p.Result.Conclusion == best.Result.Conclusion {
			weightedSum += p.Result.Confidence * p.Result.Confidence
			weightTotal += p.Result.Confidence
			supporters++
		}
	}

	merged := best.Result
	if weightTotal > 0 {
		merged.Confidence = weightedSum / weightTotal
	}
	return merged, float64(supporters) / float64(len(partials))
}

// bestResult returns the single highest-confidence partial verbatim.
func bestResult(partials []types.PartialResult) (types.ReasoningResult, float64) {
	best := partials[0]
	for _, p := range partials[1:] {
		if p.Result.Confidence > best.Result.Confidence {
			best = p
		}
	}
	return best.Result, clamp01(best.Result.Confidence)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
