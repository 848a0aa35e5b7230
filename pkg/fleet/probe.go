package fleet

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultStartupTimeout is the overall readiness deadline for a freshly
// spawned process.
const DefaultStartupTimeout = 90 * time.Second

// probeInterval is the sleep between connection attempts; each failed dial is
// followed by a sleep so the probe never busy-loops.
const probeInterval = 250 * time.Millisecond

// WaitUntilReady repeatedly attempts a TCP connection to host:port until one
// succeeds or timeout elapses. The successful connection is discarded; the
// caller only learns that the process is accepting connections.
func WaitUntilReady(ctx context.Context, host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.Now().Add(timeout)

	for {
		conn, err := net.DialTimeout("tcp", addr, probeInterval)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%s not reachable after %s: %w", addr, timeout, ErrStartupTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(probeInterval):
		}
	}
}
