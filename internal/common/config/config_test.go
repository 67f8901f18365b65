package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "python3", cfg.Engine.Command)
	assert.Equal(t, []string{"-m", "property_recommender.orchestrator"}, cfg.Engine.Args)
	assert.Equal(t, "property_matches.json", cfg.Engine.ArtifactName)
	assert.Equal(t, 5, cfg.Engine.TerminateGrace)
	assert.Equal(t, 1800, cfg.Session.IdleTimeout)
	assert.Equal(t, "memory", cfg.Transcript.Backend)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoadFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  port: 9090
engine:
  command: /usr/bin/engine
  artifactName: matches.json
transcript:
  backend: sqlite
  sqlitePath: /tmp/relay-test.db
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/usr/bin/engine", cfg.Engine.Command)
	assert.Equal(t, "matches.json", cfg.Engine.ArtifactName)
	assert.Equal(t, "sqlite", cfg.Transcript.Backend)
	assert.Equal(t, "/tmp/relay-test.db", cfg.Transcript.SQLitePath)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_SERVER_PORT", "7070")
	t.Setenv("RELAY_ENGINE_ARTIFACT_NAME", "results.json")
	t.Setenv("RELAY_SESSION_IDLE_TIMEOUT", "60")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "results.json", cfg.Engine.ArtifactName)
	assert.Equal(t, 60, cfg.Session.IdleTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"missing engine command", func(cfg *Config) { cfg.Engine.Command = "" }},
		{"missing artifact name", func(cfg *Config) { cfg.Engine.ArtifactName = "" }},
		{"invalid port", func(cfg *Config) { cfg.Server.Port = 0 }},
		{"negative idle timeout", func(cfg *Config) { cfg.Session.IdleTimeout = -1 }},
		{"unknown transcript backend", func(cfg *Config) { cfg.Transcript.Backend = "redis" }},
		{"sqlite without path", func(cfg *Config) {
			cfg.Transcript.Backend = "sqlite"
			cfg.Transcript.SQLitePath = ""
		}},
		{"postgres without user", func(cfg *Config) {
			cfg.Transcript.Backend = "postgres"
			cfg.Database.User = ""
		}},
		{"bad log level", func(cfg *Config) { cfg.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadWithPath(t.TempDir())
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, cfg.Engine.TerminateGraceDuration().Seconds(), float64(cfg.Engine.TerminateGrace))
	assert.Equal(t, cfg.Session.IdleTimeoutDuration().Seconds(), float64(cfg.Session.IdleTimeout))
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "db.internal", Port: 5433, User: "relay",
		Password: "secret", DBName: "relaydb", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=relay password=secret dbname=relaydb sslmode=require",
		db.DSN())
}
