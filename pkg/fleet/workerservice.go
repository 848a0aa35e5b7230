package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// WorkerServiceConfig configures the companion worker-service process. It
// listens on three independent ports and talks to persistent storage in
// addition to the template service and shard manager.
type WorkerServiceConfig struct {
	Executable        string
	WorkingDirectory  string
	HTTPPort          int
	GRPCPort          int
	CustomRequestPort int
	Collaborators     Collaborators
	Database          Database

	Verbosity slog.Level
	OutLevel  slog.Level
	ErrLevel  slog.Level

	StartupTimeout time.Duration

	// SharedClient selects the client policy: one gRPC client built at spawn
	// time and returned on every Client call, or a fresh client per call.
	SharedClient bool

	Starter Starter
	Env     ServiceEnvBuilder
}

// WorkerService supervises the single companion worker-service process.
type WorkerService struct {
	cfg WorkerServiceConfig

	mu     sync.Mutex
	handle Handle
	logger *ChildProcessLogger
	client *grpc.ClientConn
}

// StartWorkerService spawns the worker-service process and blocks until it
// passes its readiness probe on the gRPC port.
func StartWorkerService(ctx context.Context, cfg WorkerServiceConfig) (*WorkerService, error) {
	if cfg.Starter == nil {
		cfg.Starter = LocalStarter{}
	}
	if cfg.Env == nil {
		cfg.Env = DefaultEnv{}
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}

	slog.Info("Starting worker-service process", "httpPort", cfg.HTTPPort, "grpcPort", cfg.GRPCPort, "customRequestPort", cfg.CustomRequestPort)

	spec := ProcessSpec{
		Name:             "workersvc",
		Executable:       cfg.Executable,
		WorkingDirectory: cfg.WorkingDirectory,
		Env:              cfg.Env.ServiceEnv(cfg.HTTPPort, cfg.GRPCPort, cfg.CustomRequestPort, cfg.Collaborators, cfg.Database, cfg.Verbosity),
	}

	handle, stdout, stderr, err := cfg.Starter.Start(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("worker-service: %w", err)
	}

	logger := LogChildProcess("[workersvc]", cfg.OutLevel, cfg.ErrLevel, stdout, stderr)

	s := &WorkerService{cfg: cfg, handle: handle, logger: logger}

	if err := WaitUntilReady(ctx, s.Host(), cfg.GRPCPort, cfg.StartupTimeout); err != nil {
		handle.Kill()
		return nil, fmt.Errorf("worker-service: %w", err)
	}

	if cfg.SharedClient {
		if _, err := s.Client(); err != nil {
			slog.Warn("Failed to pre-build worker-service client", "error", err)
		}
	}
	return s, nil
}

func (s *WorkerService) Host() string           { return "localhost" }
func (s *WorkerService) HTTPPort() int          { return s.cfg.HTTPPort }
func (s *WorkerService) GRPCPort() int          { return s.cfg.GRPCPort }
func (s *WorkerService) CustomRequestPort() int { return s.cfg.CustomRequestPort }

// ProcessID identifies the current underlying process.
func (s *WorkerService) ProcessID() string {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return ""
	}
	return handle.ID()
}

// Alive reports whether the worker-service process is still running.
func (s *WorkerService) Alive() bool {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	return handle != nil && handle.Alive()
}

// Logs exposes the captured worker-service output.
func (s *WorkerService) Logs() *ChildProcessLogger {
	return s.logger
}

// Client returns a gRPC client for the worker-service. Under the shared
// policy the cached client is returned; otherwise a fresh one is constructed
// per call. Construction failures are surfaced to the caller.
func (s *WorkerService) Client() (*grpc.ClientConn, error) {
	s.mu.Lock()
	if s.client != nil {
		defer s.mu.Unlock()
		return s.client, nil
	}
	s.mu.Unlock()

	conn, err := NewClient(s.Host(), s.cfg.GRPCPort)
	if err != nil {
		return nil, err
	}

	if s.cfg.SharedClient {
		s.mu.Lock()
		if s.client == nil {
			s.client = conn
		} else {
			_ = conn.Close()
			conn = s.client
		}
		s.mu.Unlock()
	}
	return conn, nil
}

// Kill terminates the worker-service process. The handle is consumed on the
// first call, so repeated kills (including the one on teardown) are no-ops.
func (s *WorkerService) Kill() {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle != nil {
		slog.Info("Stopping worker-service")
		handle.Kill()
	}
}

// Close kills the worker-service; it satisfies io.Closer so teardown paths
// can defer it.
func (s *WorkerService) Close() error {
	s.Kill()
	return nil
}
