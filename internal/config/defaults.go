package config

import (
	"fmt"
	"time"
)

// Defaults shared with the CLI help text.
const (
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 11411
	DefaultModelID       = "Qwen/Qwen3-Embedding-0.6B"
	DefaultBackend       = "onnx"
	DefaultModelDir      = "~/.cache/embedserver/models"
	DefaultCacheCapacity = 1024
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Model.ID == "" {
		cfg.Model.ID = DefaultModelID
	}
	if cfg.Model.Backend == "" {
		cfg.Model.Backend = DefaultBackend
	}
	if cfg.Model.Dir == "" {
		cfg.Model.Dir = DefaultModelDir
	}
	if cfg.Model.Device == "" {
		cfg.Model.Device = "auto"
	}
	if cfg.Model.Pooling == "" {
		cfg.Model.Pooling = "auto"
	}
	if cfg.Model.Tokenizer == "" {
		cfg.Model.Tokenizer = "hf"
	}
	if cfg.Model.LoadTimeout == 0 {
		cfg.Model.LoadTimeout = 5 * time.Minute
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = DefaultCacheCapacity
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "embedserver"
	}
}

var (
	validBackends   = map[string]bool{"onnx": true, "hugot": true, "hash": true}
	validDevices    = map[string]bool{"auto": true, "coreml": true, "mps": true, "cuda": true, "gpu": true, "cpu": true}
	validPooling    = map[string]bool{"auto": true, "mean": true, "cls": true, "last": true}
	validTokenizers = map[string]bool{"hf": true, "simple": true}
)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !validBackends[c.Model.Backend] {
		return fmt.Errorf("model.backend %q: want onnx, hugot or hash", c.Model.Backend)
	}
	if !validDevices[c.Model.Device] {
		return fmt.Errorf("model.device %q: want auto, coreml, cuda or cpu", c.Model.Device)
	}
	if !validPooling[c.Model.Pooling] {
		return fmt.Errorf("model.pooling %q: want auto, mean, cls or last", c.Model.Pooling)
	}
	if !validTokenizers[c.Model.Tokenizer] {
		return fmt.Errorf("model.tokenizer %q: want hf or simple", c.Model.Tokenizer)
	}
	if c.Model.MaxInputLength < 0 {
		return fmt.Errorf("model.max_input_length must not be negative")
	}
	if c.Model.Dimension < 0 {
		return fmt.Errorf("model.dimension must not be negative")
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("cache.capacity must be positive")
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}
	return nil
}
