package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ">", cfg.Prompt)
	assert.Equal(t, "=", cfg.ResultMarker)
	assert.Equal(t, 6, cfg.Precision)
	assert.Equal(t, 1000, cfg.MaxDepth)
	assert.Equal(t, 8787, cfg.Server.Port)
	assert.Equal(t, 8788, cfg.Server.GRPCPort)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
prompt: "calc> "
precision: 10
server:
  port: 9000
  programsDir: /srv/programs
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "calc> ", cfg.Prompt)
	assert.Equal(t, 10, cfg.Precision)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/srv/programs", cfg.Server.ProgramsDir)

	// untouched fields keep their defaults
	assert.Equal(t, "=", cfg.ResultMarker)
	assert.Equal(t, 8788, cfg.Server.GRPCPort)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "prompt: x\ncolour: blue\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CALC_PROMPT", "? ")
	t.Setenv("CALC_PRECISION", "12")
	t.Setenv("CALC_MAX_DEPTH", "50")
	t.Setenv("PORT", "8080")
	t.Setenv("HOST", "127.0.0.1")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "? ", cfg.Prompt)
	assert.Equal(t, 12, cfg.Precision)
	assert.Equal(t, 50, cfg.MaxDepth)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8788, cfg.Server.GRPCPort)
}

func TestApplyEnvInvalidNumber(t *testing.T) {
	t.Setenv("GRPC_PORT", "eighty")
	err := Default().ApplyEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRPC_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"precision too high", func(c *Config) { c.Precision = 30 }},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }},
		{"negative statements", func(c *Config) { c.MaxStatements = -5 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
	cfg.LogLevel = "???"
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestSessionOptions(t *testing.T) {
	cfg := Default()
	cfg.Prompt = "$ "
	cfg.Precision = -1
	cfg.MaxStatements = 10

	opts := cfg.SessionOptions()
	assert.Equal(t, "$ ", opts.Prompt)
	assert.Equal(t, "=", opts.ResultMarker)
	assert.Equal(t, -1, opts.Precision)
	assert.Equal(t, 1000, opts.MaxDepth)
	assert.Equal(t, 10, opts.MaxStatements)
	assert.False(t, opts.Interactive)
}
