package fleet

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServiceConfig(t *testing.T, starter Starter, sharedClient bool) WorkerServiceConfig {
	return WorkerServiceConfig{
		Executable:        "worker-service",
		WorkingDirectory:  ".",
		HTTPPort:          freePort(t),
		GRPCPort:          freePort(t),
		CustomRequestPort: freePort(t),
		Collaborators: Collaborators{
			TemplateService: NewStaticEndpoint("localhost", 8083),
			ShardManager:    NewStaticEndpoint("localhost", 9020),
		},
		Database:       StaticDatabase("postgres://localhost:5432/workersvc"),
		Verbosity:      slog.LevelInfo,
		OutLevel:       slog.LevelDebug,
		ErrLevel:       slog.LevelError,
		StartupTimeout: 5 * time.Second,
		SharedClient:   sharedClient,
		Starter:        starter,
	}
}

func TestStartWorkerServicePorts(t *testing.T) {
	starter := newFakeStarter()
	cfg := testServiceConfig(t, starter, false)

	svc, err := StartWorkerService(context.Background(), cfg)
	require.NoError(t, err)
	defer svc.Close()

	assert.Equal(t, cfg.HTTPPort, svc.HTTPPort())
	assert.Equal(t, cfg.GRPCPort, svc.GRPCPort())
	assert.Equal(t, cfg.CustomRequestPort, svc.CustomRequestPort())
	assert.True(t, svc.Alive())
	assert.True(t, dialable(svc.GRPCPort()))
	assert.Equal(t, 1, starter.startCount("workersvc"))
}

func TestWorkerServiceSharedClient(t *testing.T) {
	svc, err := StartWorkerService(context.Background(), testServiceConfig(t, newFakeStarter(), true))
	require.NoError(t, err)
	defer svc.Close()

	c1, err := svc.Client()
	require.NoError(t, err)
	c2, err := svc.Client()
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestWorkerServicePerCallClient(t *testing.T) {
	svc, err := StartWorkerService(context.Background(), testServiceConfig(t, newFakeStarter(), false))
	require.NoError(t, err)
	defer svc.Close()

	c1, err := svc.Client()
	require.NoError(t, err)
	defer c1.Close()
	c2, err := svc.Client()
	require.NoError(t, err)
	defer c2.Close()
	assert.NotSame(t, c1, c2)
}

func TestWorkerServiceKillIsIdempotent(t *testing.T) {
	starter := newFakeStarter()
	svc, err := StartWorkerService(context.Background(), testServiceConfig(t, starter, false))
	require.NoError(t, err)

	svc.Kill()
	svc.Kill()
	require.NoError(t, svc.Close())

	assert.Equal(t, 1, starter.totalKills())
	assert.False(t, svc.Alive())
	assert.False(t, dialable(svc.GRPCPort()))
}

func TestWorkerServiceEnvCarriesAllThreePorts(t *testing.T) {
	env := DefaultEnv{}.ServiceEnv(8082, 9092, 9093, Collaborators{
		TemplateService: NewStaticEndpoint("localhost", 8083),
		ShardManager:    NewStaticEndpoint("localhost", 9020),
	}, StaticDatabase("postgres://localhost:5432/workersvc"), slog.LevelDebug)

	assert.Contains(t, env, "WORKER_SERVICE_HTTP_PORT=8082")
	assert.Contains(t, env, "WORKER_SERVICE_GRPC_PORT=9092")
	assert.Contains(t, env, "WORKER_SERVICE_CUSTOM_REQUEST_PORT=9093")
	assert.Contains(t, env, "TEMPLATE_SERVICE_HOST=localhost")
	assert.Contains(t, env, "SHARD_MANAGER_PORT=9020")
	assert.Contains(t, env, "DATABASE_URL=postgres://localhost:5432/workersvc")
	assert.Contains(t, env, "LOG_LEVEL=debug")
}
