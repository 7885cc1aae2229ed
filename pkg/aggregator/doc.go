/*
Package aggregator reduces a task's partial results into a single
consensus answer.

Aggregation runs once per task, after every assigned node has reported
and the success quorum is met. Only successful partials participate;
if none succeeded the task cannot produce an answer and aggregation
fails. Partials are processed in node-ID order so the outcome is
deterministic regardless of arrival order.

# Strategies

majority-vote:
  - Buckets partials by exact conclusion, largest bucket wins
  - Ties go to the bucket containing the lowest node ID
  - Confidence is the winning bucket's mean confidence
  - Consensus level is winners / total participants

weighted-average:
  - Requires numeric conclusions; non-numeric input fails aggregation
  - Conclusion is the confidence-weighted mean of the values
  - Consensus level falls as confidence spread grows

confidence-weighted:
  - The highest-confidence conclusion wins
  - Supporters of that conclusion pool their confidence
  - Consensus level is supporters / total participants

best-result:
  - Returns the single highest-confidence partial verbatim
  - Consensus level is that partial's confidence

A single successful partial short-circuits every strategy: the result
is returned verbatim with a consensus level of 1.0.

# Usage

	result, err := aggregator.Aggregate(task)
	if err != nil {
		// no successful partials, or strategy cannot apply
	}
*/
package aggregator
