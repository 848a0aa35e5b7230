package fleet

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// DockerStarter launches supervised processes as containers instead of local
// children. Containers run with host networking so the configured base ports
// stay reachable on localhost, matching the local strategy.
type DockerStarter struct {
	Image string
	cli   *client.Client
}

func NewDockerStarter(image string) (*DockerStarter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerStarter{Image: image, cli: cli}, nil
}

func (d *DockerStarter) Start(ctx context.Context, spec ProcessSpec) (Handle, io.ReadCloser, io.ReadCloser, error) {
	name := fmt.Sprintf("%s-%s", spec.Name, uuid.NewString()[:8])

	cfg := &container.Config{
		Image:      d.Image,
		Entrypoint: append([]string{spec.Executable}, spec.Args...),
		WorkingDir: spec.WorkingDirectory,
		Env:        spec.Env,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode("host"),
	}

	created, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("container %s: %w: %v", name, ErrSpawnFailed, err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = d.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, nil, nil, fmt.Errorf("container %s: %w: %v", name, ErrSpawnFailed, err)
	}

	logs, err := d.cli.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		_ = d.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, nil, nil, fmt.Errorf("container %s logs: %w: %v", name, ErrSpawnFailed, err)
	}

	// The engine multiplexes both streams over one connection; demux them
	// into the same stdout/stderr pipe pair the local strategy produces.
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(outW, errW, logs)
		_ = outW.CloseWithError(err)
		_ = errW.CloseWithError(err)
	}()

	return &containerHandle{cli: d.cli, id: created.ID, logs: logs}, outR, errR, nil
}

type containerHandle struct {
	cli  *client.Client
	logs io.Closer

	mu sync.Mutex
	id string
}

func (h *containerHandle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

func (h *containerHandle) Alive() bool {
	h.mu.Lock()
	id := h.id
	h.mu.Unlock()
	if id == "" {
		return false
	}

	inspect, err := h.cli.ContainerInspect(context.Background(), id)
	if err != nil || inspect.State == nil {
		return false
	}
	return inspect.State.Running
}

func (h *containerHandle) Kill() {
	h.mu.Lock()
	id := h.id
	h.id = ""
	h.mu.Unlock()

	if id == "" {
		return
	}
	ctx := context.Background()
	_ = h.cli.ContainerKill(ctx, id, "KILL")
	_ = h.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	_ = h.logs.Close()
}
