// Package config provides configuration management for the relay server.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the relay server.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Session    SessionConfig    `mapstructure:"session"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// EngineConfig holds the recommendation engine process configuration.
type EngineConfig struct {
	// Command is the executable used to launch the engine.
	Command string `mapstructure:"command"`

	// Args are passed to the command verbatim.
	Args []string `mapstructure:"args"`

	// WorkDir is the base directory under which each session gets its own
	// working directory. Empty means the OS temp directory.
	WorkDir string `mapstructure:"workDir"`

	// ArtifactName is the result file the engine writes into the session
	// working directory on success.
	ArtifactName string `mapstructure:"artifactName"`

	// Env holds extra KEY=VALUE pairs appended to the engine environment.
	Env []string `mapstructure:"env"`

	// TerminateGrace is how long to wait after SIGTERM before SIGKILL, in seconds.
	TerminateGrace int `mapstructure:"terminateGrace"`

	// StderrTailBytes is how much trailing stderr to retain for failure reports.
	StderrTailBytes int `mapstructure:"stderrTailBytes"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	// IdleTimeout is how long a session may go without client activity
	// before it is stopped, in seconds. Zero disables the reaper.
	IdleTimeout int `mapstructure:"idleTimeout"`

	// MaxSessions caps concurrently running engine processes. Zero means unlimited.
	MaxSessions int `mapstructure:"maxSessions"`
}

// TranscriptConfig selects the transcript store backend.
type TranscriptConfig struct {
	// Backend is one of: memory, sqlite, postgres.
	Backend string `mapstructure:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `mapstructure:"sqlitePath"`

	// MaxEventsPerSession caps stored history for the memory backend.
	// Zero means unlimited.
	MaxEventsPerSession int `mapstructure:"maxEventsPerSession"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the
// postgres transcript backend.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TerminateGraceDuration returns the termination grace period as a time.Duration.
func (e *EngineConfig) TerminateGraceDuration() time.Duration {
	return time.Duration(e.TerminateGrace) * time.Second
}

// IdleTimeoutDuration returns the idle timeout as a time.Duration.
func (s *SessionConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("RELAY_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Engine defaults
	v.SetDefault("engine.command", "python3")
	v.SetDefault("engine.args", []string{"-m", "property_recommender.orchestrator"})
	v.SetDefault("engine.workDir", "")
	v.SetDefault("engine.artifactName", "property_matches.json")
	v.SetDefault("engine.env", []string{})
	v.SetDefault("engine.terminateGrace", 5)
	v.SetDefault("engine.stderrTailBytes", 8192)

	// Session defaults
	v.SetDefault("session.idleTimeout", 1800) // 30 minutes
	v.SetDefault("session.maxSessions", 0)

	// Transcript defaults - in-memory unless a backend is selected
	v.SetDefault("transcript.backend", "memory")
	v.SetDefault("transcript.sqlitePath", "relay.db")
	v.SetDefault("transcript.maxEventsPerSession", 1000)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "relay")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "relay")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "relay-server")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix RELAY_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/relay/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("engine.workDir", "RELAY_ENGINE_WORK_DIR")
	_ = v.BindEnv("engine.artifactName", "RELAY_ENGINE_ARTIFACT_NAME")
	_ = v.BindEnv("engine.terminateGrace", "RELAY_ENGINE_TERMINATE_GRACE")
	_ = v.BindEnv("session.idleTimeout", "RELAY_SESSION_IDLE_TIMEOUT")
	_ = v.BindEnv("transcript.sqlitePath", "RELAY_TRANSCRIPT_SQLITE_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/relay/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Engine validation
	if cfg.Engine.Command == "" {
		errs = append(errs, "engine.command is required")
	}
	if cfg.Engine.ArtifactName == "" {
		errs = append(errs, "engine.artifactName is required")
	}
	if cfg.Engine.TerminateGrace <= 0 {
		errs = append(errs, "engine.terminateGrace must be positive")
	}
	if cfg.Engine.StderrTailBytes <= 0 {
		errs = append(errs, "engine.stderrTailBytes must be positive")
	}

	// Session validation
	if cfg.Session.IdleTimeout < 0 {
		errs = append(errs, "session.idleTimeout must not be negative")
	}
	if cfg.Session.MaxSessions < 0 {
		errs = append(errs, "session.maxSessions must not be negative")
	}

	// Transcript validation
	switch strings.ToLower(cfg.Transcript.Backend) {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, "transcript.backend must be one of: memory, sqlite, postgres")
	}
	if strings.ToLower(cfg.Transcript.Backend) == "sqlite" && cfg.Transcript.SQLitePath == "" {
		errs = append(errs, "transcript.sqlitePath is required for the sqlite backend")
	}

	// Database validation - only for the postgres transcript backend
	if strings.ToLower(cfg.Transcript.Backend) == "postgres" {
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres backend")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres backend")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres backend")
		}
	}

	// NATS validation - optional (uses in-memory event bus if not set)
	// No validation needed - empty URL means use in-memory

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
