package types

import "errors"

// Error taxonomy for the coordination core. Callers match with
// errors.Is after any wrapping the components apply.
var (
	// ErrInvalidTask is returned for malformed constraints at submission.
	ErrInvalidTask = errors.New("invalid task")

	// ErrInvalidRegistration is returned when a node registers with an
	// empty capability set.
	ErrInvalidRegistration = errors.New("invalid registration")

	// ErrNoEligibleNodes terminal-fails a task after bounded scheduling
	// retries found no node satisfying its required capabilities.
	ErrNoEligibleNodes = errors.New("no eligible nodes")

	// ErrTimeout terminal-fails a task whose deadline passed before completion.
	ErrTimeout = errors.New("timeout")

	// ErrNodeUnreachable signals a transport-level failure talking to an
	// assigned node; it triggers reassignment, not task failure.
	ErrNodeUnreachable = errors.New("node unreachable")

	// ErrAggregationFailure is returned when a strategy cannot produce a
	// result, e.g. weighted-average over incommensurable conclusions.
	ErrAggregationFailure = errors.New("aggregation failure")

	// ErrNotFound is returned for lookups of unknown task or node IDs.
	ErrNotFound = errors.New("not found")

	// ErrTerminalState rejects mutations of completed, failed or
	// cancelled tasks.
	ErrTerminalState = errors.New("task in terminal state")
)
