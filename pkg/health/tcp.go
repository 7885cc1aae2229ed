package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker probes a node endpoint with a bare TCP connect
type TCPChecker struct {
	// Address is the TCP address to connect to (e.g. "node-host:9200")
	Address string

	// Timeout is the connection timeout
	Timeout time.Duration
}

// NewTCPChecker creates a TCP prober
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Check performs the TCP probe
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("dial %s: %v", t.Address, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s accepting connections", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the connection timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
