package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/conclave-io/conclave/pkg/types"
)

// RuleExecutor is a small built-in reasoning engine used by the
// bundled node agent. It handles forward-chaining deduction over
// "A -> B" premises and numeric estimation queries; anything else
// falls through to a deterministic echo answer so multi-node runs
// still converge under majority vote.
type RuleExecutor struct {
	// Latency simulates per-query work, zero means none
	Latency time.Duration
}

// Execute implements Executor
func (e *RuleExecutor) Execute(ctx context.Context, query types.ReasoningQuery) (types.ReasoningResult, error) {
	if e.Latency > 0 {
		select {
		case <-time.After(e.Latency):
		case <-ctx.Done():
			return types.ReasoningResult{}, ctx.Err()
		}
	}

	switch query.Type {
	case "deduction":
		return e.deduce(query)
	case "estimation":
		return e.estimate(query)
	default:
		return e.echo(query), nil
	}
}

// deduce forward-chains implications of the form "X -> Y" from the
// asserted facts until a fixed point, then reports what was derived.
func (e *RuleExecutor) deduce(query types.ReasoningQuery) (types.ReasoningResult, error) {
	facts := make(map[string]bool)
	type rule struct{ antecedent, consequent string }
	var rules []rule

	for _, p := range query.Premises {
		if left, right, ok := strings.Cut(p, "->"); ok {
			rules = append(rules, rule{
				antecedent: strings.TrimSpace(left),
				consequent: strings.TrimSpace(right),
			})
		} else {
			facts[strings.TrimSpace(p)] = true
		}
	}

	var derived []string
	for changed := true; changed; {
		changed = false
		for _, r := range rules {
			if facts[r.antecedent] && !facts[r.consequent] {
				facts[r.consequent] = true
				derived = append(derived, r.consequent)
				changed = true
			}
		}
	}

	if len(derived) == 0 {
		return types.ReasoningResult{
			Conclusion:  "no new conclusions",
			Confidence:  0.5,
			Explanation: "no rule fired from the asserted facts",
		}, nil
	}
	return types.ReasoningResult{
		Conclusion:  strings.Join(derived, ", "),
		Confidence:  0.95,
		Explanation: fmt.Sprintf("derived %d conclusion(s) by forward chaining over %d rule(s)", len(derived), len(rules)),
		Metadata:    map[string]string{"rulesFired": strconv.Itoa(len(derived))},
	}, nil
}

// estimate averages the numeric premises. Useful with the
// weighted-average aggregation strategy.
func (e *RuleExecutor) estimate(query types.ReasoningQuery) (types.ReasoningResult, error) {
	var sum float64
	var n int
	for _, p := range query.Premises {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return types.ReasoningResult{}, fmt.Errorf("estimation query has no numeric premises")
	}
	return types.ReasoningResult{
		Conclusion:  strconv.FormatFloat(sum/float64(n), 'f', -1, 64),
		Confidence:  0.8,
		Explanation: fmt.Sprintf("mean of %d numeric premise(s)", n),
	}, nil
}

// echo produces a stable answer derived from the query content alone,
// so identical queries yield identical conclusions on every node.
func (e *RuleExecutor) echo(query types.ReasoningQuery) types.ReasoningResult {
	h := fnv.New32a()
	_, _ = h.Write([]byte(query.Type))
	for _, p := range query.Premises {
		_, _ = h.Write([]byte(p))
	}
	return types.ReasoningResult{
		Conclusion:  fmt.Sprintf("%s:%08x", query.Type, h.Sum32()),
		Confidence:  0.6,
		Explanation: "unrecognized query type, answered with content digest",
	}
}
