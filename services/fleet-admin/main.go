package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/gridworks-dev/go-fleet/pkg/config"
	"github.com/gridworks-dev/go-fleet/pkg/fleet"
	helpers "github.com/gridworks-dev/go-fleet/pkg/shared"
	"github.com/gridworks-dev/go-fleet/services/fleet-admin/internal/handlers"
)

func main() {
	logger := helpers.NewLogger("fleet-admin", "info")
	slog.SetDefault(logger)

	id := uuid.New()
	slog.Info("Starting fleet admin", "uuid", id.String())

	pflag.String("config", "", "Path to config file (default: ./config.toml)")
	pflag.String("log_level", "info", "Log level (debug|info|warn|error)")
	pflag.Int("port", 8080, "Admin HTTP server port")
	pflag.String("hostname", "", "Hostname to listen on")
	pflag.Int("size", 3, "Number of worker-executor members")
	pflag.Int("base_http_port", 9000, "Base HTTP port for members (member i listens on base+i)")
	pflag.Int("base_grpc_port", 9100, "Base gRPC port for members (member i listens on base+i)")
	pflag.String("executable", "build/worker-executor", "Path to the worker-executor binary")
	pflag.String("override", "", "Override simple config values (string, int, bool) as comma-separated key:value pairs (e.g., fleet.size:5,log_level:debug)")

	pflag.Parse()

	config.BindFlags(map[string]string{
		"log_level":      "log_level",
		"port":           "admin.port",
		"hostname":       "admin.hostname",
		"size":           "fleet.size",
		"base_http_port": "fleet.base_http_port",
		"base_grpc_port": "fleet.base_grpc_port",
		"executable":     "fleet.executable",
	})

	cfg := config.Load(pflag.Lookup("config").Value.String(), pflag.Lookup("override").Value.String())

	// Update the logger to use the configured log level
	logger = helpers.NewLogger("fleet-admin", cfg.LogLevel)
	slog.SetDefault(logger)

	// Global context that cancels all spawned processes on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collaborators, err := buildCollaborators(cfg)
	if err != nil {
		slog.Error("Invalid collaborator address", "error", err)
		os.Exit(1)
	}

	cluster, err := fleet.NewCluster(ctx, fleet.ClusterConfig{
		Size:             cfg.Fleet.Size,
		BaseHTTPPort:     cfg.Fleet.BaseHTTPPort,
		BaseGRPCPort:     cfg.Fleet.BaseGRPCPort,
		Executable:       cfg.Fleet.Executable,
		WorkingDirectory: cfg.Fleet.WorkingDirectory,
		Collaborators:    collaborators,
		Verbosity:        helpers.ParseLevel(cfg.Fleet.Verbosity),
		OutLevel:         helpers.ParseLevel(cfg.Fleet.OutLevel),
		ErrLevel:         helpers.ParseLevel(cfg.Fleet.ErrLevel),
		StartupTimeout:   cfg.Fleet.StartupTimeout,
	})
	if err != nil {
		slog.Error("Failed to start cluster", "error", err)
		os.Exit(1)
	}
	defer helpers.CloseOrLog(cluster)

	service, err := fleet.StartWorkerService(ctx, fleet.WorkerServiceConfig{
		Executable:        cfg.WorkerService.Executable,
		WorkingDirectory:  cfg.WorkerService.WorkingDirectory,
		HTTPPort:          cfg.WorkerService.HTTPPort,
		GRPCPort:          cfg.WorkerService.GRPCPort,
		CustomRequestPort: cfg.WorkerService.CustomRequestPort,
		Collaborators:     collaborators,
		Database:          fleet.StaticDatabase(cfg.WorkerService.DatabaseURL),
		Verbosity:         helpers.ParseLevel(cfg.Fleet.Verbosity),
		OutLevel:          helpers.ParseLevel(cfg.Fleet.OutLevel),
		ErrLevel:          helpers.ParseLevel(cfg.Fleet.ErrLevel),
		StartupTimeout:    cfg.Fleet.StartupTimeout,
		SharedClient:      cfg.WorkerService.SharedClient,
	})
	if err != nil {
		slog.Error("Failed to start worker-service", "error", err)
		helpers.CloseOrLog(cluster)
		os.Exit(1)
	}
	defer helpers.CloseOrLog(service)

	h := &handlers.ClusterHandler{Cluster: cluster, Service: service}

	r := chi.NewRouter()
	r.Mount("/", h.Routes())

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Admin.Hostname, cfg.Admin.Port),
		Handler: r,
	}
	// Run server in background
	go func() {
		slog.Info("Admin API listening", "hostname", cfg.Admin.Hostname, "port", cfg.Admin.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ListenAndServe error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	slog.Info("Signal received, shutting down...")

	service.Kill()
	cluster.KillAll()

	// Shutdown the HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server Shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shut down gracefully")
	}

	slog.Info("Fleet admin exited gracefully")
}

func buildCollaborators(cfg *config.Config) (fleet.Collaborators, error) {
	coordinator, err := fleet.ParseEndpoint(cfg.Fleet.CoordinatorAddress)
	if err != nil {
		return fleet.Collaborators{}, err
	}
	templates, err := fleet.ParseEndpoint(cfg.Fleet.TemplateServiceAddress)
	if err != nil {
		return fleet.Collaborators{}, err
	}
	shards, err := fleet.ParseEndpoint(cfg.Fleet.ShardManagerAddress)
	if err != nil {
		return fleet.Collaborators{}, err
	}
	return fleet.Collaborators{
		Coordinator:     coordinator,
		TemplateService: templates,
		ShardManager:    shards,
	}, nil
}
