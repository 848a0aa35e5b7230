package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/gridworks-dev/go-fleet/pkg/fleet"
	helpers "github.com/gridworks-dev/go-fleet/pkg/shared"
	"github.com/gridworks-dev/go-fleet/pkg/shared/defs"
	"github.com/gridworks-dev/go-fleet/services/fleet-admin/internal/httpHelpers"
)

var upgrader = websocket.Upgrader{
	// Ignore Origin header
	CheckOrigin: func(r *http.Request) bool {
		slog.Debug("Upgrading WebSocket connection", "origin", r.Header.Get("Origin"))
		return true
	},
}

// ClusterHandler exposes the fleet's lifecycle operations over HTTP.
type ClusterHandler struct {
	Cluster *fleet.Cluster
	Service *fleet.WorkerService
}

func (h *ClusterHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/members", h.listMembers)
	r.Post("/restart", h.restartAll)
	r.Get("/members/{index}", h.memberStatus)
	r.Post("/members/{index}/stop", h.stopMember)
	r.Post("/members/{index}/start", h.startMember)
	r.Get("/members/{index}/logs", h.memberLogs)
	r.Get("/service", h.serviceStatus)
	return r
}

func (h *ClusterHandler) memberInfo(m *fleet.Executor, stopped map[int]bool) defs.MemberInfo {
	return defs.MemberInfo{
		Index:     m.Index(),
		HTTPPort:  m.HTTPPort(),
		GRPCPort:  m.GRPCPort(),
		Stopped:   stopped[m.Index()],
		ProcessId: m.ProcessID(),
	}
}

func (h *ClusterHandler) stoppedSet() map[int]bool {
	stopped := make(map[int]bool)
	for _, i := range h.Cluster.StoppedIndices() {
		stopped[i] = true
	}
	return stopped
}

func (h *ClusterHandler) listMembers(w http.ResponseWriter, r *http.Request) {
	stopped := h.stoppedSet()

	info := defs.ClusterInfo{
		Size:    h.Cluster.Size(),
		Started: h.Cluster.StartedIndices(),
		Stopped: h.Cluster.StoppedIndices(),
	}
	for _, m := range h.Cluster.Members() {
		info.Members = append(info.Members, h.memberInfo(m, stopped))
	}
	httpHelpers.WriteOutput(w, info)
}

func (h *ClusterHandler) member(w http.ResponseWriter, r *http.Request) (*fleet.Executor, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httpHelpers.WriteError(w, http.StatusBadRequest, "Invalid member index")
		return nil, false
	}
	m, err := h.Cluster.Member(index)
	if err != nil {
		httpHelpers.WriteError(w, http.StatusNotFound, "Member not found")
		return nil, false
	}
	return m, true
}

func (h *ClusterHandler) memberStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := h.member(w, r)
	if !ok {
		return
	}

	status := defs.MemberStatus{
		MemberInfo: h.memberInfo(m, h.stoppedSet()),
		Alive:      m.Alive(),
	}

	if status.Alive {
		start := time.Now()
		err := fleet.WaitUntilReady(r.Context(), m.Host(), m.GRPCPort(), 1*time.Second)
		elapsed := time.Since(start)
		if err != nil {
			slog.Error("Error connecting to member", "index", m.Index(), "error", err)
		} else {
			httpHelpers.WriteTimings(w, httpHelpers.Timings{"check-time": elapsed})
		}
		status.IsReachable = err == nil
	}

	httpHelpers.WriteOutput(w, status)
}

func (h *ClusterHandler) stopMember(w http.ResponseWriter, r *http.Request) {
	m, ok := h.member(w, r)
	if !ok {
		return
	}

	start := time.Now()
	err := h.Cluster.Stop(m.Index())
	elapsed := time.Since(start)
	if err != nil {
		slog.Error("Error stopping member", "index", m.Index(), "error", err)
		httpHelpers.WriteError(w, http.StatusInternalServerError, "Error stopping member")
		return
	}

	httpHelpers.WriteTimings(w, httpHelpers.Timings{"stop-time": elapsed})
	httpHelpers.WriteOutput(w, map[string]any{"msg": "Member stopped", "stopped": h.Cluster.StoppedIndices()})
}

func (h *ClusterHandler) startMember(w http.ResponseWriter, r *http.Request) {
	m, ok := h.member(w, r)
	if !ok {
		return
	}

	start := time.Now()
	err := h.Cluster.Start(r.Context(), m.Index())
	elapsed := time.Since(start)
	if err != nil {
		slog.Error("Error starting member", "index", m.Index(), "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, fleet.ErrStartupTimeout) {
			status = http.StatusGatewayTimeout
		}
		httpHelpers.WriteError(w, status, "Error starting member")
		return
	}

	httpHelpers.WriteTimings(w, httpHelpers.Timings{"start-time": elapsed})
	httpHelpers.WriteOutput(w, map[string]any{"msg": "Member started", "stopped": h.Cluster.StoppedIndices()})
}

func (h *ClusterHandler) restartAll(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := h.Cluster.RestartAll(r.Context())
	elapsed := time.Since(start)
	if err != nil {
		slog.Error("Error restarting cluster", "error", err)
		httpHelpers.WriteError(w, http.StatusInternalServerError, "Error restarting cluster")
		return
	}

	httpHelpers.WriteTimings(w, httpHelpers.Timings{"restart-time": elapsed})
	httpHelpers.WriteOutput(w, map[string]any{"msg": "Cluster restarted"})
}

// memberLogs streams a member's captured output over a websocket: first the
// recent tail, then live lines until the client disconnects.
func (h *ClusterHandler) memberLogs(w http.ResponseWriter, r *http.Request) {
	m, ok := h.member(w, r)
	if !ok {
		return
	}

	logs := m.Logs()
	if logs == nil {
		httpHelpers.WriteError(w, http.StatusNotFound, "Member has no captured output")
		return
	}

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Problem with HTTP upgrade", "error", err)
		return
	}
	defer helpers.CloseOrLog(c)

	// Subscribe before snapshotting the tail so no line falls between the
	// two; a line landing in both is sent twice rather than lost.
	lines, cancel := logs.Subscribe()
	defer cancel()

	for _, line := range logs.Tail(tailLines) {
		if err := c.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}

	// Reader goroutine: a read error means the client went away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case line := <-lines:
			if err := c.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

const tailLines = 100

func (h *ClusterHandler) serviceStatus(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		httpHelpers.WriteError(w, http.StatusNotFound, "No worker-service configured")
		return
	}
	httpHelpers.WriteOutput(w, defs.ServiceStatus{
		HTTPPort:          h.Service.HTTPPort(),
		GRPCPort:          h.Service.GRPCPort(),
		CustomRequestPort: h.Service.CustomRequestPort(),
		ProcessId:         h.Service.ProcessID(),
		Alive:             h.Service.Alive(),
	})
}
