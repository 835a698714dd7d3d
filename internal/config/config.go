// Package config provides configuration loading and structs for the embedding server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Cache     CacheConfig     `yaml:"cache"`
	Engine    EngineConfig    `yaml:"engine"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelConfig selects and tunes the embedding model.
type ModelConfig struct {
	ID              string        `yaml:"id"`
	Backend         string        `yaml:"backend"`
	Dir             string        `yaml:"dir"`
	Device          string        `yaml:"device"`
	Pooling         string        `yaml:"pooling"`
	Tokenizer       string        `yaml:"tokenizer"`
	MaxInputLength  int           `yaml:"max_input_length"`
	Dimension       int           `yaml:"dimension"`
	LoadTimeout     time.Duration `yaml:"load_timeout"`
	Download        *bool         `yaml:"download"`
	ONNXLibraryPath string        `yaml:"onnx_library_path"`
}

// DownloadOrDefault reports whether missing models may be fetched; defaults to true when unset.
func (m *ModelConfig) DownloadOrDefault() bool {
	if m.Download != nil {
		return *m.Download
	}
	return true
}

// CacheConfig holds the single-item result cache settings.
type CacheConfig struct {
	Capacity    int    `yaml:"capacity"`
	PersistPath string `yaml:"persist_path"`
}

// EngineConfig bounds encode concurrency. Zero means one slot per CPU.
type EngineConfig struct {
	Workers int `yaml:"workers"`
}

// TelemetryConfig controls metrics and tracing export.
type TelemetryConfig struct {
	MetricsEnabled *bool  `yaml:"metrics_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

// MetricsOrDefault reports whether /metrics is served; defaults to true when unset.
func (t *TelemetryConfig) MetricsOrDefault() bool {
	if t.MetricsEnabled != nil {
		return *t.MetricsEnabled
	}
	return true
}

// Environment overrides.
const (
	EnvModelID = "MODEL_ID"
	EnvHost    = "EMBEDSERVER_HOST"
	EnvPort    = "EMBEDSERVER_PORT"
)

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.Model.Dir = expandPath(cfg.Model.Dir, ".")
	return &cfg
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Model.Dir = expandPath(cfg.Model.Dir, configDir)
	if cfg.Cache.PersistPath != "" {
		cfg.Cache.PersistPath = expandPath(cfg.Cache.PersistPath, configDir)
	}

	return &cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
// The returned bool reports whether a file was read.
func LoadOrDefault(path string) (*Config, bool, error) {
	if path == "" {
		return Default(), false, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), false, nil
		}
		return nil, false, fmt.Errorf("failed to stat config: %w", err)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// Save writes the config to path, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment overrides. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvModelID); ok && strings.TrimSpace(v) != "" {
		cfg.Model.ID = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvHost); ok && strings.TrimSpace(v) != "" {
		cfg.Server.Host = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
