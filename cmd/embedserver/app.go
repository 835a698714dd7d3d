package main

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/config"
	"github.com/hyperjump/embedserver/internal/device"
	"github.com/hyperjump/embedserver/internal/embedding"
	"github.com/hyperjump/embedserver/internal/observe"
	"github.com/hyperjump/embedserver/internal/server"
	"github.com/hyperjump/embedserver/internal/storage"
	"github.com/hyperjump/embedserver/internal/watcher"
)

// serveModule wires the server process. Start hooks run in order: telemetry, store, the
// HTTP listener, then the model load, so /health and /ready answer while the model loads.
// Stop hooks run in reverse: the engine drains before the listener shuts down.
func serveModule(cfg *config.Config, src configSource, logger *zap.Logger, level zap.AtomicLevel) fx.Option {
	return fx.Options(
		fx.Supply(cfg, src, logger, level),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Provide(
			newTelemetry,
			newMetrics,
			newVectorStore,
			newHandle,
			newEngine,
			newServer,
		),
		fx.Invoke(
			registerServer,
			registerEngine,
			registerConfigWatcher,
		),
	)
}

func newTelemetry(lc fx.Lifecycle, cfg *config.Config) (*observe.Provider, error) {
	p, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: p.Shutdown})
	return p, nil
}

func newMetrics(p *observe.Provider) (*observe.Metrics, error) {
	return observe.NewMetrics(p.MeterProvider)
}

// newVectorStore opens the persistent store when cache.persist_path is set, else nil.
func newVectorStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (embedding.VectorStore, error) {
	if cfg.Cache.PersistPath == "" {
		return nil, nil
	}
	store, err := storage.NewSQLiteStore(cfg.Cache.PersistPath)
	if err != nil {
		return nil, err
	}
	logger.Info("persistent vector store opened", zap.String("path", cfg.Cache.PersistPath))
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return store.Close() }})
	return store, nil
}

func newHandle(cfg *config.Config, logger *zap.Logger, metrics *observe.Metrics) (*embedding.Handle, error) {
	return buildHandle(cfg, embedding.WithLogger(logger), embedding.WithMetrics(metrics))
}

// buildHandle maps the model config onto a handle.
func buildHandle(cfg *config.Config, opts ...embedding.Option) (*embedding.Handle, error) {
	dev, err := device.Parse(cfg.Model.Device)
	if err != nil {
		return nil, err
	}
	return embedding.NewHandle(embedding.HandleConfig{
		ModelID:         cfg.Model.ID,
		Backend:         cfg.Model.Backend,
		ModelRoot:       cfg.Model.Dir,
		Device:          dev,
		Pooling:         cfg.Model.Pooling,
		Tokenizer:       cfg.Model.Tokenizer,
		MaxInputLength:  cfg.Model.MaxInputLength,
		Dimension:       cfg.Model.Dimension,
		Download:        cfg.Model.DownloadOrDefault(),
		ONNXLibraryPath: cfg.Model.ONNXLibraryPath,
	}, opts...)
}

func newEngine(h *embedding.Handle, cfg *config.Config, store embedding.VectorStore, logger *zap.Logger, metrics *observe.Metrics) *embedding.Engine {
	return embedding.NewEngine(h, embedding.EngineConfig{
		CacheCapacity: cfg.Cache.Capacity,
		Workers:       cfg.Engine.Workers,
		Store:         store,
	}, embedding.WithLogger(logger), embedding.WithMetrics(metrics))
}

func newServer(e *embedding.Engine, cfg *config.Config, logger *zap.Logger, metrics *observe.Metrics, p *observe.Provider) *server.Server {
	opts := []server.Option{server.WithMetrics(metrics)}
	if cfg.Telemetry.MetricsOrDefault() {
		opts = append(opts, server.WithMetricsHandler(p.Handler()))
	}
	return server.NewServer(e, &cfg.Server, logger, opts...)
}

func registerServer(lc fx.Lifecycle, srv *server.Server, cfg *config.Config, logger *zap.Logger, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := srv.Listen(); err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(); err != nil {
					logger.Error("server failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Stop(ctx)
		},
	})
}

func registerEngine(lc fx.Lifecycle, e *embedding.Engine, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.Model.LoadTimeout)
			defer cancel()
			if err := e.Start(ctx, ""); err != nil {
				return fmt.Errorf("failed to load model %s: %w", cfg.Model.ID, err)
			}
			info := e.Handle().Describe()
			logger.Info("embedding model ready",
				zap.String("model_id", info.ModelID),
				zap.Int("dimension", info.EmbeddingDimension),
				zap.Int("max_input_length", info.MaxInputLength),
				zap.String("device", info.Device))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down...")
			return e.Stop(ctx)
		},
	})
}

// registerConfigWatcher reloads the config file on change when one was loaded.
func registerConfigWatcher(lc fx.Lifecycle, src configSource, level zap.AtomicLevel, logger *zap.Logger) error {
	if !src.Found {
		return nil
	}
	reloader, err := watcher.NewConfigReloader(src.Path, level, logger)
	if err != nil {
		return err
	}
	w, err := watcher.NewWatcher(src.Path, reloader.OnChange, watcher.WithLogger(logger))
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := w.Start(context.Background()); err != nil {
				logger.Warn("config watch disabled", zap.String("path", src.Path), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			w.Stop()
			return nil
		},
	})
	return nil
}
