// Package config loads calculator settings from a YAML file and the
// environment. Command-line flags are layered on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/calcd/pkg/expr"
	"github.com/lemonberrylabs/calcd/pkg/session"
)

// Config holds every tunable of the CLI and the servers.
type Config struct {
	Prompt        string `yaml:"prompt"`
	ResultMarker  string `yaml:"resultMarker"`
	Precision     int    `yaml:"precision"`
	MaxDepth      int    `yaml:"maxDepth"`
	MaxStatements int    `yaml:"maxStatements"`
	LogLevel      string `yaml:"logLevel"`

	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds the `calc serve` settings.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	GRPCPort    int    `yaml:"grpcPort"`
	ProgramsDir string `yaml:"programsDir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Prompt:        session.DefaultPrompt,
		ResultMarker:  session.DefaultResultMarker,
		Precision:     expr.DefaultPrecision,
		MaxDepth:      expr.DefaultMaxDepth,
		MaxStatements: 0,
		LogLevel:      "info",
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8787,
			GRPCPort: 8788,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// decode overlays YAML data onto cfg, rejecting unknown fields.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv() error {
	c.Prompt = envOrDefault("CALC_PROMPT", c.Prompt)
	c.LogLevel = envOrDefault("CALC_LOG_LEVEL", c.LogLevel)
	c.Server.Host = envOrDefault("HOST", c.Server.Host)
	c.Server.ProgramsDir = envOrDefault("PROGRAMS_DIR", c.Server.ProgramsDir)

	ints := []struct {
		key string
		dst *int
	}{
		{"CALC_PRECISION", &c.Precision},
		{"CALC_MAX_DEPTH", &c.MaxDepth},
		{"PORT", &c.Server.Port},
		{"GRPC_PORT", &c.Server.GRPCPort},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
		}
		*e.dst = n
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Precision > 17 {
		return fmt.Errorf("precision %d out of range (max 17)", c.Precision)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("maxDepth must not be negative")
	}
	if c.MaxStatements < 0 {
		return fmt.Errorf("maxStatements must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid logLevel %q: %w", c.LogLevel, err)
	}
	for _, p := range []int{c.Server.Port, c.Server.GRPCPort} {
		if p < 0 || p > 65535 {
			return fmt.Errorf("port %d out of range", p)
		}
	}
	return nil
}

// Level returns the configured log level, falling back to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// SessionOptions derives driver options. Interactive mode and the logger
// are left to the caller.
func (c *Config) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.Prompt = c.Prompt
	opts.ResultMarker = c.ResultMarker
	opts.Precision = c.Precision
	opts.MaxDepth = c.MaxDepth
	opts.MaxStatements = c.MaxStatements
	return opts
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
