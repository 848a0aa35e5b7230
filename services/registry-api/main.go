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
	"github.com/gridworks-dev/go-fleet/pkg/registry"
	helpers "github.com/gridworks-dev/go-fleet/pkg/shared"
	"github.com/gridworks-dev/go-fleet/services/registry-api/internal/handlers"
)

func main() {
	logger := helpers.NewLogger("registry-api", "info")
	slog.SetDefault(logger)

	id := uuid.New()
	slog.Info("Starting registry API", "uuid", id.String())

	pflag.String("config", "", "Path to config file (default: ./config.toml)")
	pflag.String("log_level", "info", "Log level (debug|info|warn|error)")
	pflag.Int("port", 8081, "HTTP server port")
	pflag.String("hostname", "", "Hostname to listen on")
	pflag.String("override", "", "Override simple config values (string, int, bool) as comma-separated key:value pairs (e.g., registry.port:9000,log_level:debug)")

	pflag.Parse()

	config.BindFlags(map[string]string{
		"log_level": "log_level",
		"port":      "registry.port",
		"hostname":  "registry.hostname",
	})

	cfg := config.Load(pflag.Lookup("config").Value.String(), pflag.Lookup("override").Value.String())

	// Update the logger to use the configured log level
	logger = helpers.NewLogger("registry-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := &handlers.DefinitionHandler{Service: registry.NewInMemoryDefinitionService()}

	r := chi.NewRouter()
	r.Mount("/v1/api/definitions", h.Routes())

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Registry.Hostname, cfg.Registry.Port),
		Handler: r,
	}
	// Run server in background
	go func() {
		slog.Info("Registry API listening", "hostname", cfg.Registry.Hostname, "port", cfg.Registry.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ListenAndServe error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	slog.Info("Signal received, shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server Shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shut down gracefully")
	}

	slog.Info("Registry API exited gracefully")
}
