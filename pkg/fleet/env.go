package fleet

import (
	"fmt"
	"log/slog"
	"strings"
)

// EnvBuilder computes the environment for a worker-executor process. It is
// pluggable so alternate deployment strategies can inject their own key/value
// shape without changing the spawner.
type EnvBuilder interface {
	ExecutorEnv(httpPort, grpcPort int, c Collaborators, verbosity slog.Level) []string
}

// ServiceEnvBuilder computes the environment for the worker-service process,
// which listens on a third port and talks to persistent storage.
type ServiceEnvBuilder interface {
	ServiceEnv(httpPort, grpcPort, customRequestPort int, c Collaborators, db Database, verbosity slog.Level) []string
}

// DefaultEnv is the environment builder for locally spawned processes.
type DefaultEnv struct{}

func (DefaultEnv) ExecutorEnv(httpPort, grpcPort int, c Collaborators, verbosity slog.Level) []string {
	env := []string{
		fmt.Sprintf("WORKER_EXECUTOR_HTTP_PORT=%d", httpPort),
		fmt.Sprintf("WORKER_EXECUTOR_GRPC_PORT=%d", grpcPort),
		fmt.Sprintf("LOG_LEVEL=%s", levelName(verbosity)),
	}
	env = appendEndpoint(env, "COORDINATOR", c.Coordinator)
	env = appendEndpoint(env, "TEMPLATE_SERVICE", c.TemplateService)
	env = appendEndpoint(env, "SHARD_MANAGER", c.ShardManager)
	return env
}

func (DefaultEnv) ServiceEnv(httpPort, grpcPort, customRequestPort int, c Collaborators, db Database, verbosity slog.Level) []string {
	env := []string{
		fmt.Sprintf("WORKER_SERVICE_HTTP_PORT=%d", httpPort),
		fmt.Sprintf("WORKER_SERVICE_GRPC_PORT=%d", grpcPort),
		fmt.Sprintf("WORKER_SERVICE_CUSTOM_REQUEST_PORT=%d", customRequestPort),
		fmt.Sprintf("LOG_LEVEL=%s", levelName(verbosity)),
	}
	env = appendEndpoint(env, "TEMPLATE_SERVICE", c.TemplateService)
	env = appendEndpoint(env, "SHARD_MANAGER", c.ShardManager)
	if db != nil {
		env = append(env, fmt.Sprintf("DATABASE_URL=%s", db.URL()))
	}
	return env
}

func appendEndpoint(env []string, prefix string, e Endpoint) []string {
	if e == nil {
		return env
	}
	return append(env,
		fmt.Sprintf("%s_HOST=%s", prefix, e.Host()),
		fmt.Sprintf("%s_PORT=%d", prefix, e.Port()),
	)
}

func levelName(level slog.Level) string {
	return strings.ToLower(level.String())
}
