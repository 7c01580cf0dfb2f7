package configs

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variables. Unprefixed names
// (e.g. WORKSPACE_PATH) are accepted as a fallback.
const EnvPrefix = "devtools"

// Session modes.
const (
	SessionModeGlobal    = "global"
	SessionModePerClient = "per-client"
)

// ShutdownMargin is the time on top of CommandTimeout that a graceful
// shutdown leaves for a timed-out command to be reaped and answered.
const ShutdownMargin = 5 * time.Second

// Config holds the application configuration, merged from defaults, an
// optional YAML file and environment variables (in that order of precedence).
type Config struct {
	// Config File Path (env only)
	ConfigFilePath string `envconfig:"CONFIG_FILE" yaml:"-"`

	ServerName string `envconfig:"MCP_SERVER_NAME" yaml:"server_name"`
	LogLevel   string `envconfig:"LOG_LEVEL" yaml:"log_level"`
	ListenHost string `envconfig:"LISTEN_HOST" yaml:"listen_host"`
	Port       int    `envconfig:"HEALTH_PORT" yaml:"port"`

	// Workspace root used to sandbox file and command operations.
	WorkspacePath string `envconfig:"WORKSPACE_PATH" yaml:"workspace_path"`
	ConfinePaths  bool   `envconfig:"CONFINE_PATHS" yaml:"confine_paths"`

	CommandTimeout        time.Duration `envconfig:"COMMAND_TIMEOUT" yaml:"command_timeout"`
	CommandShell          string        `envconfig:"COMMAND_SHELL" yaml:"command_shell"`
	MaxConcurrentCommands int64         `envconfig:"MAX_CONCURRENT_COMMANDS" yaml:"max_concurrent_commands"`

	SessionMode        string        `envconfig:"SESSION_MODE" yaml:"session_mode"`
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" yaml:"session_idle_timeout"`

	AuthEnabled   bool   `envconfig:"AUTH_ENABLED" yaml:"auth_enabled"`
	AuthJWTSecret string `envconfig:"AUTH_JWT_SECRET" yaml:"auth_jwt_secret"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" yaml:"metrics_enabled"`

	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" yaml:"server_read_timeout"`
	ServerWriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" yaml:"server_write_timeout"`
	ServerIdleTimeout  time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" yaml:"server_idle_timeout"`

	OtelExporterOtlpEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" yaml:"otel_exporter_otlp_endpoint"`
	OtelExporterOtlpInsecure bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" yaml:"otel_exporter_otlp_insecure"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		ServerName:               "dev-tools-production",
		LogLevel:                 "info",
		ListenHost:               "0.0.0.0",
		Port:                     8080,
		WorkspacePath:            "/workspace",
		ConfinePaths:             true,
		CommandTimeout:           30 * time.Second,
		CommandShell:             "/bin/sh",
		MaxConcurrentCommands:    4,
		SessionMode:              SessionModeGlobal,
		SessionIdleTimeout:       30 * time.Minute,
		MetricsEnabled:           true,
		ShutdownTimeout:          40 * time.Second,
		ServerReadTimeout:        10 * time.Second,
		ServerWriteTimeout:       45 * time.Second,
		ServerIdleTimeout:        120 * time.Second,
		OtelExporterOtlpInsecure: true,
	}
}

// ParsedLogLevel returns the slog.Level based on the configured LogLevel string.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// ListenAddr is the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.WorkspacePath == "" {
		errs = append(errs, errors.New("workspace path must not be empty"))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("command timeout must be positive, got %s", c.CommandTimeout))
	}
	// In-flight commands must be able to finish or time out before the server
	// stops waiting for their responses.
	if c.ShutdownTimeout < c.CommandTimeout+ShutdownMargin {
		errs = append(errs, fmt.Errorf("shutdown timeout %s must be at least command timeout %s plus %s", c.ShutdownTimeout, c.CommandTimeout, ShutdownMargin))
	}
	if c.ServerWriteTimeout > 0 && c.ServerWriteTimeout <= c.CommandTimeout {
		errs = append(errs, fmt.Errorf("server write timeout %s must exceed command timeout %s", c.ServerWriteTimeout, c.CommandTimeout))
	}
	if c.MaxConcurrentCommands <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent commands must be positive, got %d", c.MaxConcurrentCommands))
	}
	switch c.SessionMode {
	case SessionModeGlobal, SessionModePerClient:
	default:
		errs = append(errs, fmt.Errorf("unknown session mode %q (want %q or %q)", c.SessionMode, SessionModeGlobal, SessionModePerClient))
	}
	if c.AuthEnabled && c.AuthJWTSecret == "" {
		errs = append(errs, errors.New("auth is enabled but no JWT secret is configured"))
	}
	return errors.Join(errs...)
}

// Load builds the configuration: defaults first, then the YAML file named by
// DEVTOOLS_CONFIG_FILE (if any), then environment variables on top.
func Load() (*Config, error) {
	// 1. Defaults plus env, primarily to get ConfigFilePath
	cfg := Defaults()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process initial environment variables: %w", err)
	}

	// 2. Overlay the YAML file; keys absent from the file keep their current value.
	if cfg.ConfigFilePath != "" {
		yamlFile, err := os.ReadFile(cfg.ConfigFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", cfg.ConfigFilePath, err)
		}
		if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", cfg.ConfigFilePath, err)
		}
		slog.Info("Loaded configuration from file.", "path", cfg.ConfigFilePath)
	}

	// 3. Environment variables win over the file. Fields without a matching
	// variable are left untouched because no field carries a default tag.
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process overriding environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
