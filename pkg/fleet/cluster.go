// Package fleet supervises a cluster of worker-executor processes and the
// companion worker-service: it spawns them with injected configuration,
// captures their output, waits for network readiness and exposes per-member
// lifecycle control.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ClusterConfig configures a fleet of worker-executor members. Member i
// listens on BaseHTTPPort+i and BaseGRPCPort+i, so no two members ever share
// a port.
type ClusterConfig struct {
	Size             int
	BaseHTTPPort     int
	BaseGRPCPort     int
	Executable       string
	WorkingDirectory string
	Collaborators    Collaborators

	Verbosity slog.Level
	OutLevel  slog.Level
	ErrLevel  slog.Level

	StartupTimeout time.Duration
	SharedClients  bool

	Starter Starter
	Env     EnvBuilder
}

// Cluster owns an ordered, fixed-size collection of worker-executor members
// plus the set of indices administratively stopped through Stop. The stopped
// set is guarded by a mutex that is never held across a kill, spawn or
// readiness wait.
//
// Concurrent Stop/Start calls on the same index are not a supported input;
// callers serialize per-index lifecycle operations themselves.
type Cluster struct {
	members []*Executor

	mu      sync.Mutex
	stopped map[int]struct{}

	closeOnce sync.Once
}

// NewCluster spawns size members concurrently and waits until every one has
// passed its readiness probe. Construction is atomic: if any member fails,
// the already-started members are killed and only the error is returned.
func NewCluster(ctx context.Context, cfg ClusterConfig) (*Cluster, error) {
	slog.Info("Starting a cluster of worker-executors", "size", cfg.Size)

	members := make([]*Executor, cfg.Size)
	errs := make([]error, cfg.Size)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Size; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			members[i], errs[i] = StartExecutor(ctx, ExecutorConfig{
				Index:            i,
				HTTPPort:         cfg.BaseHTTPPort + i,
				GRPCPort:         cfg.BaseGRPCPort + i,
				Executable:       cfg.Executable,
				WorkingDirectory: cfg.WorkingDirectory,
				Collaborators:    cfg.Collaborators,
				Verbosity:        cfg.Verbosity,
				OutLevel:         cfg.OutLevel,
				ErrLevel:         cfg.ErrLevel,
				StartupTimeout:   cfg.StartupTimeout,
				SharedClient:     cfg.SharedClients,
				Starter:          cfg.Starter,
				Env:              cfg.Env,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			for _, m := range members {
				if m != nil {
					m.Kill()
				}
			}
			return nil, fmt.Errorf("cluster construction failed at member %d: %w", i, err)
		}
	}

	return &Cluster{
		members: members,
		stopped: make(map[int]struct{}),
	}, nil
}

// Size is the configured member count, constant for the cluster's lifetime.
func (c *Cluster) Size() int {
	return len(c.members)
}

// KillAll kills every member regardless of its stopped state. It is a
// teardown primitive: the stopped set is deliberately left untouched.
func (c *Cluster) KillAll() {
	slog.Info("Killing all worker-executors")
	for _, m := range c.members {
		m.Kill()
	}
}

// RestartAll restarts every member regardless of its stopped state, waiting
// for each restart to reach readiness. The stopped set is not altered.
func (c *Cluster) RestartAll(ctx context.Context) error {
	slog.Info("Restarting all worker-executors")
	for _, m := range c.members {
		if err := m.Restart(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop kills the member at index and records it as stopped. Stopping an
// already stopped member is a no-op.
func (c *Cluster) Stop(index int) error {
	if index < 0 || index >= len(c.members) {
		return fmt.Errorf("stop %d of %d: %w", index, len(c.members), ErrIndexOutOfRange)
	}

	c.mu.Lock()
	if _, ok := c.stopped[index]; ok {
		c.mu.Unlock()
		return nil
	}
	c.stopped[index] = struct{}{}
	c.mu.Unlock()

	c.members[index].Kill()
	return nil
}

// Start respawns the member at index if it was stopped, waiting for its
// readiness probe before clearing it from the stopped set. Starting a member
// that was never stopped is a no-op. If the restart fails the index stays
// recorded as stopped.
func (c *Cluster) Start(ctx context.Context, index int) error {
	if index < 0 || index >= len(c.members) {
		return fmt.Errorf("start %d of %d: %w", index, len(c.members), ErrIndexOutOfRange)
	}

	c.mu.Lock()
	_, ok := c.stopped[index]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	if err := c.members[index].Restart(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.stopped, index)
	c.mu.Unlock()
	return nil
}

// StoppedIndices is a sorted snapshot of the administratively stopped
// members.
func (c *Cluster) StoppedIndices() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int, 0, len(c.stopped))
	for i := range c.stopped {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// StartedIndices is the complement of StoppedIndices within the cluster:
// together they always partition [0, Size).
func (c *Cluster) StartedIndices() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int, 0, len(c.members)-len(c.stopped))
	for i := range c.members {
		if _, ok := c.stopped[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// Members hands out every member for direct per-member access. Killing a
// member through its own handle bypasses the cluster's stopped bookkeeping;
// that side door is the caller's responsibility.
func (c *Cluster) Members() []*Executor {
	out := make([]*Executor, len(c.members))
	copy(out, c.members)
	return out
}

// Member returns the member at index.
func (c *Cluster) Member(index int) (*Executor, error) {
	if index < 0 || index >= len(c.members) {
		return nil, fmt.Errorf("member %d of %d: %w", index, len(c.members), ErrIndexOutOfRange)
	}
	return c.members[index], nil
}

// Close kills every member exactly once. It runs on every teardown path and
// is safe over members that were already stopped or killed directly.
func (c *Cluster) Close() error {
	c.closeOnce.Do(c.KillAll)
	return nil
}
