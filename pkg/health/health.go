package health

import (
	"context"
	"time"
)

// CheckType represents the type of node probe
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes a node endpoint. The fault monitor uses probes as a
// secondary liveness signal beside heartbeats.
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result

	// Type returns the probe type
	Type() CheckType
}

// Status tracks consecutive probe outcomes for a node endpoint
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a Status that assumes health until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a new probe result into the status. retries is the
// number of consecutive failures before the endpoint counts as down.
func (s *Status) Update(result Result, retries int) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= retries {
			s.Healthy = false
		}
	}
}
