package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridworks-dev/go-fleet/pkg/fleet"
	"github.com/gridworks-dev/go-fleet/pkg/shared/defs"
)

// listenerStarter stands in for real worker-executors: each "process" is a
// TCP listener on the member's gRPC port, which satisfies the readiness
// probe. Its stdout is a pipe the test can keep writing to.
type listenerStarter struct {
	mu      sync.Mutex
	handles []*listenerHandle
	outs    []*io.PipeWriter
}

func (s *listenerStarter) Start(_ context.Context, spec fleet.ProcessSpec) (fleet.Handle, io.ReadCloser, io.ReadCloser, error) {
	var port string
	for _, kv := range spec.Env {
		if v, ok := strings.CutPrefix(kv, "WORKER_EXECUTOR_GRPC_PORT="); ok {
			port = v
		}
	}
	ln, err := net.Listen("tcp", "localhost:"+port)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", spec.Name, err)
	}

	outR, outW := io.Pipe()
	go func() { _, _ = io.WriteString(outW, spec.Name+" up\n") }()

	h := &listenerHandle{name: spec.Name, ln: ln}
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.outs = append(s.outs, outW)
	s.mu.Unlock()

	return h, outR, io.NopCloser(strings.NewReader("")), nil
}

// out returns the stdout writer of the i-th spawned process.
func (s *listenerStarter) out(i int) *io.PipeWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outs[i]
}

type listenerHandle struct {
	name string

	mu sync.Mutex
	ln net.Listener
}

func (h *listenerHandle) ID() string { return h.name }

func (h *listenerHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ln != nil
}

func (h *listenerHandle) Kill() {
	h.mu.Lock()
	ln := h.ln
	h.ln = nil
	h.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
}

// freeBasePort finds a base with size consecutive free ports above it, for
// both the HTTP and gRPC ranges.
func freeBasePort(t *testing.T, size int) int {
	t.Helper()
	for attempt := 0; attempt < 20; attempt++ {
		ln, err := net.Listen("tcp", "localhost:0")
		require.NoError(t, err)
		base := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		ok := true
		for i := 1; i < size; i++ {
			probe, err := net.Listen("tcp", "localhost:"+strconv.Itoa(base+i))
			if err != nil {
				ok = false
				break
			}
			_ = probe.Close()
		}
		if ok {
			return base
		}
	}
	t.Fatal("no consecutive free ports found")
	return 0
}

func testCluster(t *testing.T, size int, starter *listenerStarter) *fleet.Cluster {
	t.Helper()
	cluster, err := fleet.NewCluster(context.Background(), fleet.ClusterConfig{
		Size:             size,
		BaseHTTPPort:     freeBasePort(t, size),
		BaseGRPCPort:     freeBasePort(t, size),
		Executable:       "worker-executor",
		WorkingDirectory: ".",
		Verbosity:        slog.LevelInfo,
		OutLevel:         slog.LevelDebug,
		ErrLevel:         slog.LevelError,
		StartupTimeout:   5 * time.Second,
		Starter:          starter,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cluster.Close() })
	return cluster
}

func adminServer(t *testing.T, cluster *fleet.Cluster, service *fleet.WorkerService) *httptest.Server {
	t.Helper()
	h := &ClusterHandler{Cluster: cluster, Service: service}
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func post(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestListMembers(t *testing.T) {
	cluster := testCluster(t, 3, &listenerStarter{})
	srv := adminServer(t, cluster, nil)

	var info defs.ClusterInfo
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/members", &info))

	assert.Equal(t, 3, info.Size)
	assert.Equal(t, []int{0, 1, 2}, info.Started)
	assert.Empty(t, info.Stopped)
	require.Len(t, info.Members, 3)
	assert.False(t, info.Members[1].Stopped)
}

func TestStopAndStartMember(t *testing.T) {
	cluster := testCluster(t, 2, &listenerStarter{})
	srv := adminServer(t, cluster, nil)

	require.Equal(t, http.StatusOK, post(t, srv.URL+"/members/1/stop"))
	assert.Equal(t, []int{1}, cluster.StoppedIndices())

	// Stopping again is a no-op, not an error.
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/members/1/stop"))

	var info defs.ClusterInfo
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/members", &info))
	assert.Equal(t, []int{0}, info.Started)
	assert.Equal(t, []int{1}, info.Stopped)
	assert.True(t, info.Members[1].Stopped)

	require.Equal(t, http.StatusOK, post(t, srv.URL+"/members/1/start"))
	assert.Empty(t, cluster.StoppedIndices())
}

func TestMemberStatusReachability(t *testing.T) {
	cluster := testCluster(t, 1, &listenerStarter{})
	srv := adminServer(t, cluster, nil)

	var status defs.MemberStatus
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/members/0", &status))
	assert.True(t, status.Alive)
	assert.True(t, status.IsReachable)

	require.Equal(t, http.StatusOK, post(t, srv.URL+"/members/0/stop"))

	status = defs.MemberStatus{}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/members/0", &status))
	assert.True(t, status.Stopped)
	assert.False(t, status.Alive)
	assert.False(t, status.IsReachable)
}

func TestMemberIndexValidation(t *testing.T) {
	cluster := testCluster(t, 1, &listenerStarter{})
	srv := adminServer(t, cluster, nil)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/members/notanumber", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/members/7", nil))
	assert.Equal(t, http.StatusNotFound, post(t, srv.URL+"/members/7/stop"))
}

func TestRestartAll(t *testing.T) {
	cluster := testCluster(t, 2, &listenerStarter{})
	srv := adminServer(t, cluster, nil)

	require.Equal(t, http.StatusOK, post(t, srv.URL+"/members/0/stop"))
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/restart"))

	// A full restart leaves the stopped bookkeeping alone.
	assert.Equal(t, []int{0}, cluster.StoppedIndices())

	var status defs.MemberStatus
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/members/0", &status))
	assert.True(t, status.Alive)
}

func TestMemberLogsWebsocket(t *testing.T) {
	starter := &listenerStarter{}
	cluster := testCluster(t, 1, starter)
	srv := adminServer(t, cluster, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/members/0/logs"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// The startup line reaches the client whether it landed in the tail
	// snapshot or in the live subscription; nothing may fall in between.
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "[executor-0] executor-0 up", string(msg))

	// A line emitted after the connection arrives through the subscription.
	_, err = io.WriteString(starter.out(0), "handling invocation\n")
	require.NoError(t, err)
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "[executor-0] handling invocation", string(msg))
}

func TestServiceStatusWithoutService(t *testing.T) {
	cluster := testCluster(t, 1, &listenerStarter{})
	srv := adminServer(t, cluster, nil)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/service", nil))
}
