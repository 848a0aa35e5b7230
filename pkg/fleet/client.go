package fleet

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// NewClient constructs a gRPC client connection to host:port. The connection
// is bound to the port, not the process instance, so it stays valid across a
// restart of the member behind it.
func NewClient(host string, port int) (*grpc.ClientConn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrClientConstruction, addr, err)
	}
	return conn, nil
}

// CheckHealth issues a standard gRPC health check over conn and reports
// whether the service answered as serving.
func CheckHealth(ctx context.Context, conn *grpc.ClientConn, timeout time.Duration) error {
	rpcCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(rpcCtx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("health check returned %s", resp.GetStatus())
	}
	return nil
}
