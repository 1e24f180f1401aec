package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/heron/internal/core/domain"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Control  ControlConfig  `mapstructure:"control"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
	GitHub   GitHubConfig   `mapstructure:"github"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ControlConfig identifies the control plane's own cloud footprint: the
// project hosting the registry and context bucket, the public URL build
// notifications push to, and the identity it acts as.
type ControlConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	URL            string `mapstructure:"url"`
	ServiceAccount string `mapstructure:"service_account"`
}

// DefaultsConfig holds the conventions used when bootstrapping applications.
type DefaultsConfig struct {
	DatabaseVersion string `mapstructure:"database_version"`
	DatabaseTier    string `mapstructure:"database_tier"`
	DefaultRole     string `mapstructure:"default_role"`
}

// Domain converts to the domain-level defaults.
func (c DefaultsConfig) Domain() domain.DefaultsConfig {
	return domain.DefaultsConfig{
		DatabaseVersion: c.DatabaseVersion,
		DatabaseTier:    c.DatabaseTier,
		DefaultRole:     c.DefaultRole,
	}
}

// GitHubConfig holds source hosting configuration.
type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/heron.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("control.project_id", "")
	v.SetDefault("control.region", "us-central1")
	v.SetDefault("control.bucket", "")
	v.SetDefault("control.url", "")
	v.SetDefault("control.service_account", "")
	v.SetDefault("defaults.database_version", "POSTGRES_13")
	v.SetDefault("defaults.database_tier", "db-f1-micro")
	v.SetDefault("defaults.default_role", "")
	v.SetDefault("github.token", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only a parse failure is fatal; a missing file means defaults.
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("HERON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
