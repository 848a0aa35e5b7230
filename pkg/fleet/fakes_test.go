package fleet

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

// fakeStarter spawns no real processes: each "process" is a TCP listener on
// the member's gRPC port, which is all the readiness probe needs.
type fakeStarter struct {
	mu        sync.Mutex
	starts    map[string]int
	handles   []*fakeHandle
	failNames map[string]bool
}

func newFakeStarter() *fakeStarter {
	return &fakeStarter{
		starts:    make(map[string]int),
		failNames: make(map[string]bool),
	}
}

func (s *fakeStarter) failOn(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNames[name] = true
}

func (s *fakeStarter) Start(_ context.Context, spec ProcessSpec) (Handle, io.ReadCloser, io.ReadCloser, error) {
	s.mu.Lock()
	s.starts[spec.Name]++
	fail := s.failNames[spec.Name]
	s.mu.Unlock()

	if fail {
		return nil, nil, nil, fmt.Errorf("%s: %w", spec.Name, ErrSpawnFailed)
	}

	port, err := grpcPortFromEnv(spec.Env)
	if err != nil {
		return nil, nil, nil, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w: %v", spec.Name, ErrSpawnFailed, err)
	}

	h := &fakeHandle{name: spec.Name, ln: ln}
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()

	return h, io.NopCloser(strings.NewReader("")), io.NopCloser(strings.NewReader("")), nil
}

func (s *fakeStarter) startCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts[name]
}

// killCounts maps process name to the number of handles of that name that
// were actually killed, counting each handle at most once.
func (s *fakeStarter) killCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int)
	for _, h := range s.handles {
		if h.killCount() > 0 {
			out[h.name]++
		}
	}
	return out
}

// totalKills sums every Kill that reached a live handle; an idempotent Kill
// never raises this twice for the same handle.
func (s *fakeStarter) totalKills() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, h := range s.handles {
		total += h.killCount()
	}
	return total
}

func grpcPortFromEnv(env []string) (int, error) {
	for _, kv := range env {
		for _, key := range []string{"WORKER_EXECUTOR_GRPC_PORT=", "WORKER_SERVICE_GRPC_PORT="} {
			if v, ok := strings.CutPrefix(kv, key); ok {
				return strconv.Atoi(v)
			}
		}
	}
	return 0, fmt.Errorf("no grpc port in env")
}

type fakeHandle struct {
	name string

	mu    sync.Mutex
	ln    net.Listener
	kills int
}

func (h *fakeHandle) ID() string {
	return h.name
}

func (h *fakeHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ln != nil
}

func (h *fakeHandle) Kill() {
	h.mu.Lock()
	ln := h.ln
	h.ln = nil
	if ln != nil {
		h.kills++
	}
	h.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
}

func (h *fakeHandle) killCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kills
}

// dialable reports whether a TCP connection to localhost:port succeeds.
func dialable(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)), probeInterval)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
