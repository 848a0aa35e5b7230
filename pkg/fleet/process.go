package fleet

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// ProcessSpec is everything a Starter needs to launch one supervised process.
type ProcessSpec struct {
	// Name is a short role label, used for container names and log tags.
	Name string
	// Executable is the binary to launch. For the local strategy it must
	// exist on disk; for the container strategy it is the entrypoint inside
	// the image.
	Executable       string
	Args             []string
	WorkingDirectory string
	Env              []string
}

// Handle wraps one spawned process. Kill consumes the handle: the first call
// signals the process, every later call is a silent no-op, so kill is safe
// from teardown paths that may race with explicit calls.
type Handle interface {
	// ID identifies the underlying process (pid or container id).
	ID() string
	// Alive reports whether the process is still registered and running.
	Alive() bool
	// Kill sends a termination signal, best effort.
	Kill()
}

// Starter launches processes for one deployment strategy. LocalStarter runs
// them as child processes; DockerStarter runs them as containers. The
// returned readers are the process's stdout and stderr streams.
type Starter interface {
	Start(ctx context.Context, spec ProcessSpec) (Handle, io.ReadCloser, io.ReadCloser, error)
}

// LocalStarter launches processes as local children with piped stdio.
type LocalStarter struct{}

func (LocalStarter) Start(ctx context.Context, spec ProcessSpec) (Handle, io.ReadCloser, io.ReadCloser, error) {
	if _, err := os.Stat(spec.Executable); err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", spec.Executable, ErrExecutableNotFound)
	}

	cmd := exec.CommandContext(ctx, spec.Executable, spec.Args...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w: %v", spec.Executable, ErrSpawnFailed, err)
	}

	h := &localHandle{cmd: cmd}
	go h.reap(cmd.Process)
	return h, stdout, stderr, nil
}

// localHandle wraps an exec.Cmd. Kill takes the command out of the handle
// under the mutex, so a second kill finds nothing to do. A reaper goroutine
// waits on the process from spawn, so a child that exits on its own is
// collected immediately and stops reporting as alive.
type localHandle struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	exited bool
}

// reap blocks until the process exits, whether it was killed or stopped by
// itself, and records the exit. This is the only Wait on the process, so the
// child never lingers as a zombie.
func (h *localHandle) reap(p *os.Process) {
	_, _ = p.Wait()
	h.mu.Lock()
	h.exited = true
	h.mu.Unlock()
}

func (h *localHandle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return ""
	}
	return strconv.Itoa(h.cmd.Process.Pid)
}

func (h *localHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cmd != nil && !h.exited
}

func (h *localHandle) Kill() {
	h.mu.Lock()
	cmd := h.cmd
	h.cmd = nil
	h.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	// The reaper goroutine collects the exit status.
	_ = cmd.Process.Kill()
}
