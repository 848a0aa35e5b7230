// Package config provides shared configuration functionality using Viper
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type FleetConfig struct {
	Size             int           `mapstructure:"size"`
	BaseHTTPPort     int           `mapstructure:"base_http_port"`
	BaseGRPCPort     int           `mapstructure:"base_grpc_port"`
	Executable       string        `mapstructure:"executable"`
	WorkingDirectory string        `mapstructure:"working_directory"`
	StartupTimeout   time.Duration `mapstructure:"startup_timeout"`
	Verbosity        string        `mapstructure:"verbosity"`
	OutLevel         string        `mapstructure:"out_level"`
	ErrLevel         string        `mapstructure:"err_level"`

	CoordinatorAddress     string `mapstructure:"coordinator_address"`
	TemplateServiceAddress string `mapstructure:"template_service_address"`
	ShardManagerAddress    string `mapstructure:"shard_manager_address"`
}

type WorkerServiceConfig struct {
	Executable        string `mapstructure:"executable"`
	WorkingDirectory  string `mapstructure:"working_directory"`
	HTTPPort          int    `mapstructure:"http_port"`
	GRPCPort          int    `mapstructure:"grpc_port"`
	CustomRequestPort int    `mapstructure:"custom_request_port"`
	DatabaseURL       string `mapstructure:"database_url"`
	SharedClient      bool   `mapstructure:"shared_client"`
}

type AdminConfig struct {
	Port     int    `mapstructure:"port"`
	Hostname string `mapstructure:"hostname"`
}

type RegistryConfig struct {
	Port     int    `mapstructure:"port"`
	Hostname string `mapstructure:"hostname"`
}

// Config holds common configuration values shared across all services
type Config struct {
	// Basic configuration
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Fleet         FleetConfig         `mapstructure:"fleet"`
	WorkerService WorkerServiceConfig `mapstructure:"workersvc"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Registry      RegistryConfig      `mapstructure:"registry"`
}

func setFleetDefaults(v *viper.Viper) {
	v.SetDefault("fleet.size", 3)
	v.SetDefault("fleet.base_http_port", 9000)
	v.SetDefault("fleet.base_grpc_port", 9100)
	v.SetDefault("fleet.executable", "build/worker-executor")
	v.SetDefault("fleet.working_directory", ".")
	v.SetDefault("fleet.startup_timeout", 90*time.Second)
	v.SetDefault("fleet.verbosity", "info")
	v.SetDefault("fleet.out_level", "debug")
	v.SetDefault("fleet.err_level", "error")

	v.SetDefault("fleet.coordinator_address", "localhost:6379")
	v.SetDefault("fleet.template_service_address", "localhost:8083")
	v.SetDefault("fleet.shard_manager_address", "localhost:9020")
}

func setWorkerServiceDefaults(v *viper.Viper) {
	v.SetDefault("workersvc.executable", "build/worker-service")
	v.SetDefault("workersvc.working_directory", ".")
	v.SetDefault("workersvc.http_port", 8082)
	v.SetDefault("workersvc.grpc_port", 9092)
	v.SetDefault("workersvc.custom_request_port", 9093)
	v.SetDefault("workersvc.database_url", "postgres://localhost:5432/workersvc")
	v.SetDefault("workersvc.shared_client", true)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	setFleetDefaults(v)
	setWorkerServiceDefaults(v)

	v.SetDefault("admin.port", 8080)
	v.SetDefault("admin.hostname", "")
	v.SetDefault("registry.port", 8081)
	v.SetDefault("registry.hostname", "")
}

func ConfigureViper() {
	// We can pull config from env variables with a `FLEET_` prefix if we want
	viper.SetEnvPrefix("FLEET")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
}

func init() {
	ConfigureViper()
}

// Load loads shared configuration using Viper with defaults
func Load(configPath string, overrideStr string) *Config {
	setDefaults(viper.GetViper())

	// If a custom config path is provided, use it
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	err := viper.ReadInConfig()
	if err != nil {
		// Ignore file not found errors (config is optional)
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			slog.Error("Failed to read config file", "error", err, "config_file", viper.ConfigFileUsed())
			os.Exit(1)
		}
		slog.Info("No config file found, using defaults")
	} else {
		slog.Info("Loaded config file", "path", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to unmarshal config: %w", err))
	}

	// Process override flag if provided (after loading config to ensure highest precedence)
	if overrideStr != "" {
		// Split into key-value pairs
		pairs := strings.Split(overrideStr, ",")
		for _, pair := range pairs {
			// Split into key and value
			parts := strings.SplitN(pair, ":", 2)
			if len(parts) != 2 {
				slog.Error("Invalid override format", "pair", pair, "expected", "key:value")
				os.Exit(1)
			}
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			viper.Set(key, value)
		}
		// Reload config struct to pick up overrides
		if err := viper.Unmarshal(&cfg); err != nil {
			slog.Error("Failed to apply overrides to config", "error", err)
			os.Exit(1)
		}
	}

	return &cfg
}

// BindFlags binds pflags to viper keys. bindFlags is a map of pflag names to viper keys.
func BindFlags(bindFlags map[string]string) {
	for flagName, viperKey := range bindFlags {
		if err := viper.BindPFlag(viperKey, pflag.Lookup(flagName)); err != nil {
			slog.Error("Failed to bind flag", "flag", flagName, "error", err)
			os.Exit(1)
		}
	}
}
