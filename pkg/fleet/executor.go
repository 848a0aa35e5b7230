package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// ExecutorConfig carries everything needed to spawn one worker-executor
// member. The same config is reused verbatim on restart, so a restarted
// member keeps its ports and collaborator addresses.
type ExecutorConfig struct {
	Index            int
	HTTPPort         int
	GRPCPort         int
	Executable       string
	WorkingDirectory string
	Collaborators    Collaborators

	// Verbosity is handed to the process itself; OutLevel and ErrLevel are
	// the severities for its captured stdout and stderr lines.
	Verbosity slog.Level
	OutLevel  slog.Level
	ErrLevel  slog.Level

	// StartupTimeout bounds the readiness probe; zero means
	// DefaultStartupTimeout.
	StartupTimeout time.Duration

	// SharedClient pre-builds one gRPC client at spawn time and caches it.
	SharedClient bool

	// Starter and Env select the deployment strategy; nil means a local
	// child process with the default environment shape.
	Starter Starter
	Env     EnvBuilder
}

// Executor is one supervised worker-executor member. Its index and ports are
// stable for its lifetime; Restart replaces the underlying process, not the
// member's identity.
type Executor struct {
	cfg ExecutorConfig

	mu     sync.Mutex
	handle Handle
	logger *ChildProcessLogger
	client *grpc.ClientConn
}

// StartExecutor spawns a member and blocks until it passes its readiness
// probe. A missing executable, a refused spawn or a probe timeout all fail
// the construction; no partially initialized member is returned.
func StartExecutor(ctx context.Context, cfg ExecutorConfig) (*Executor, error) {
	if cfg.Starter == nil {
		cfg.Starter = LocalStarter{}
	}
	if cfg.Env == nil {
		cfg.Env = DefaultEnv{}
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}

	e := &Executor{cfg: cfg}
	if err := e.spawn(ctx); err != nil {
		return nil, err
	}

	if cfg.SharedClient {
		// A failed eager construction is not fatal to the member; Client
		// retries and caches on the next call.
		if _, err := e.Client(); err != nil {
			slog.Warn("Failed to pre-build executor client", "index", cfg.Index, "error", err)
		}
	}
	return e, nil
}

func (e *Executor) spawn(ctx context.Context) error {
	cfg := e.cfg
	slog.Info("Starting worker-executor", "index", cfg.Index, "httpPort", cfg.HTTPPort, "grpcPort", cfg.GRPCPort)

	spec := ProcessSpec{
		Name:             fmt.Sprintf("executor-%d", cfg.Index),
		Executable:       cfg.Executable,
		WorkingDirectory: cfg.WorkingDirectory,
		Env:              cfg.Env.ExecutorEnv(cfg.HTTPPort, cfg.GRPCPort, cfg.Collaborators, cfg.Verbosity),
	}

	handle, stdout, stderr, err := cfg.Starter.Start(ctx, spec)
	if err != nil {
		return fmt.Errorf("worker-executor %d: %w", cfg.Index, err)
	}

	logger := LogChildProcess(fmt.Sprintf("[%s]", spec.Name), cfg.OutLevel, cfg.ErrLevel, stdout, stderr)

	if err := WaitUntilReady(ctx, e.Host(), cfg.GRPCPort, cfg.StartupTimeout); err != nil {
		handle.Kill()
		return fmt.Errorf("worker-executor %d: %w", cfg.Index, err)
	}

	e.mu.Lock()
	e.handle = handle
	e.logger = logger
	e.mu.Unlock()
	return nil
}

func (e *Executor) Index() int    { return e.cfg.Index }
func (e *Executor) HTTPPort() int { return e.cfg.HTTPPort }
func (e *Executor) GRPCPort() int { return e.cfg.GRPCPort }

// Host is where the member's listeners are reachable. All members run as
// local processes (or host-networked containers).
func (e *Executor) Host() string { return "localhost" }

// ProcessID identifies the current underlying process (pid or container id);
// it changes across restarts.
func (e *Executor) ProcessID() string {
	e.mu.Lock()
	handle := e.handle
	e.mu.Unlock()
	if handle == nil {
		return ""
	}
	return handle.ID()
}

// Alive reports whether the underlying process is still running.
func (e *Executor) Alive() bool {
	e.mu.Lock()
	handle := e.handle
	e.mu.Unlock()
	return handle != nil && handle.Alive()
}

// Logs exposes the member's captured output.
func (e *Executor) Logs() *ChildProcessLogger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logger
}

// Client returns a gRPC client bound to the member's gRPC port. With
// SharedClient the first successful construction is cached; otherwise every
// call dials fresh. Construction failures are surfaced, never retried
// silently.
func (e *Executor) Client() (*grpc.ClientConn, error) {
	e.mu.Lock()
	if e.client != nil {
		defer e.mu.Unlock()
		return e.client, nil
	}
	e.mu.Unlock()

	conn, err := NewClient(e.Host(), e.cfg.GRPCPort)
	if err != nil {
		return nil, err
	}

	if e.cfg.SharedClient {
		e.mu.Lock()
		if e.client == nil {
			e.client = conn
		} else {
			// Another caller cached first; discard the extra connection.
			_ = conn.Close()
			conn = e.client
		}
		e.mu.Unlock()
	}
	return conn, nil
}

// Kill signals the member's process. It is best effort and safe to call any
// number of times, including over a member that already exited.
func (e *Executor) Kill() {
	e.mu.Lock()
	handle := e.handle
	e.mu.Unlock()
	if handle != nil {
		slog.Info("Stopping worker-executor", "index", e.cfg.Index)
		handle.Kill()
	}
}

// Restart kills the member's process and spawns a fresh one with the same
// configuration, blocking until the new process passes its readiness probe.
// A cached client stays valid because it is bound to the port.
func (e *Executor) Restart(ctx context.Context) error {
	e.Kill()
	return e.spawn(ctx)
}
