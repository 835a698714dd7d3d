package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/pkg/utils"
)

// lifecycleSlack is added to the configured load and shutdown timeouts so the inner
// deadlines fire before fx gives up on a hook.
const lifecycleSlack = 15 * time.Second

func newServeCommand(g *globalOptions) *cobra.Command {
	o := &overrideOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve the HTTP API",
		Long: `Start the HTTP server, then load the embedding model. Until the model is loaded
/ready and /embed answer 503 with Retry-After.

The config file is watched: the debug flag applies immediately, other changes
are logged and take effect on restart.

Backends and the build they need:
  onnx   CGO_ENABLED=1, the onnxruntime shared library (model.onnx_library_path),
         and -tags tokenizers for the default hf tokenizer
  hugot  -tags hugot (pure Go, CPU only)
  hash   always available; deterministic vectors for testing

With model.download (the default) a missing model is fetched from Hugging Face into
model.dir on first start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(g, cmd, o)
		},
	}
	addOverrideFlags(cmd.Flags(), o)
	return cmd
}

func runServe(g *globalOptions, cmd *cobra.Command, o *overrideOptions) error {
	cfg, src, err := resolveConfig(g, cmd.Flags(), o)
	if err != nil {
		return err
	}
	logger, level, err := utils.NewLeveledLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("config loaded",
		zap.String("config_path", src.Path),
		zap.Bool("config_found", src.Found),
		zap.Bool("debug", cfg.Debug),
		zap.String("model_id", cfg.Model.ID),
		zap.String("backend", cfg.Model.Backend),
	)

	app := fx.New(
		serveModule(cfg, src, logger, level),
		fx.StartTimeout(cfg.Model.LoadTimeout+lifecycleSlack),
		fx.StopTimeout(cfg.Server.ShutdownTimeout+lifecycleSlack),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	sig := <-app.Wait()
	if sig.Signal != nil {
		logger.Info("shutdown signal received", zap.String("signal", sig.Signal.String()))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		return err
	}
	if sig.ExitCode != 0 {
		return fmt.Errorf("server exited with code %d", sig.ExitCode)
	}
	return nil
}
