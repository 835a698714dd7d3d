package watcher

import (
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/config"
	"github.com/hyperjump/embedserver/pkg/utils"
)

// ReloadResult describes what a config reload changed.
type ReloadResult struct {
	// Debug is the debug flag now in effect.
	Debug bool
	// DebugChanged is true when the log level was switched.
	DebugChanged bool
	// RestartRequired names config sections that changed but only take effect on restart.
	RestartRequired []string
}

// ConfigReloader applies config file edits to a running process. Only the debug flag is
// applied live; other edits are reported.
type ConfigReloader struct {
	path   string
	level  zap.AtomicLevel
	logger *zap.Logger

	mu       sync.Mutex
	previous *config.Config
}

// NewConfigReloader seeds the reloader with the file's current contents.
func NewConfigReloader(path string, level zap.AtomicLevel, logger *zap.Logger) (*ConfigReloader, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigReloader{path: path, level: level, logger: logger, previous: cfg}, nil
}

// Path returns the config file path.
func (r *ConfigReloader) Path() string { return r.path }

// Reload re-reads the file and applies the debug flag. An unreadable or invalid file
// leaves the running settings untouched.
func (r *ConfigReloader) Reload() (ReloadResult, error) {
	cfg, err := config.Load(r.path)
	if err != nil {
		return ReloadResult{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ReloadResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	res := ReloadResult{
		Debug:           cfg.Debug,
		DebugChanged:    cfg.Debug != r.previous.Debug,
		RestartRequired: changedSections(r.previous, cfg),
	}
	r.previous = cfg

	if res.DebugChanged {
		utils.SetDebug(r.level, cfg.Debug)
		r.logger.Info("log level changed", zap.Bool("debug", cfg.Debug))
	}
	if len(res.RestartRequired) > 0 {
		r.logger.Warn("config changes require a restart to take effect",
			zap.String("path", r.path),
			zap.Strings("sections", res.RestartRequired))
	}
	return res, nil
}

// OnChange is a Watcher callback that reloads and logs failures.
func (r *ConfigReloader) OnChange(path string) {
	if _, err := r.Reload(); err != nil {
		r.logger.Warn("config reload failed", zap.String("path", path), zap.Error(err))
	}
}

func changedSections(a, b *config.Config) []string {
	var out []string
	if !reflect.DeepEqual(a.Server, b.Server) {
		out = append(out, "server")
	}
	if !reflect.DeepEqual(a.Model, b.Model) {
		out = append(out, "model")
	}
	if !reflect.DeepEqual(a.Cache, b.Cache) {
		out = append(out, "cache")
	}
	if !reflect.DeepEqual(a.Engine, b.Engine) {
		out = append(out, "engine")
	}
	if !reflect.DeepEqual(a.Telemetry, b.Telemetry) {
		out = append(out, "telemetry")
	}
	return out
}
