package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hyperjump/embedserver/internal/config"
)

const defaultConfigPath = "/usr/local/etc/embedserver/config.yaml"

// globalOptions holds flags shared by every command.
type globalOptions struct {
	configPath string
	debug      bool
	output     string
}

// overrideOptions holds flags that override config values.
type overrideOptions struct {
	model   string
	host    string
	port    int
	workers int
}

func newRootCommand() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "embedserver",
		Short: "Text embedding inference server",
		Long: `embedserver loads a sentence-embedding model once and serves unit-normalized
vectors over HTTP.

Texts embedded as queries are prefixed with a retrieval instruction; documents
are embedded verbatim. Single texts are cached, batches always hit the model.

Examples:
  embedserver serve --model BAAI/bge-small-en-v1.5 --port 11411
  embedserver embed --query "what is the capital of France?"
  embedserver info --output json
  embedserver config init ./config.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("embedserver version {{.Version}}\n")

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServeCommand(g),
		newEmbedCommand(g),
		newInfoCommand(g),
		newHealthCommand(g),
		newConfigCommand(g),
		newCacheCommand(g),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "embedserver version %s\n", version)
		},
	}
}

// addOverrideFlags registers the config override flags on fs.
func addOverrideFlags(fs *pflag.FlagSet, o *overrideOptions) {
	fs.StringVarP(&o.model, "model", "m", "", "model ID or local path (overrides model.id and "+config.EnvModelID+")")
	fs.StringVarP(&o.host, "host", "H", "", "bind host (overrides server.host)")
	fs.IntVarP(&o.port, "port", "p", 0, "bind port (overrides server.port)")
	fs.IntVarP(&o.workers, "workers", "w", 0, "concurrent encode calls, 0 = one per CPU (overrides engine.workers)")
}

// applyOverrides copies explicitly set flags onto cfg. Flags win over env and file.
func applyOverrides(cfg *config.Config, fs *pflag.FlagSet, o *overrideOptions) {
	if fs.Changed("model") {
		cfg.Model.ID = o.model
	}
	if fs.Changed("host") {
		cfg.Server.Host = o.host
	}
	if fs.Changed("port") {
		cfg.Server.Port = o.port
	}
	if fs.Changed("workers") {
		cfg.Engine.Workers = o.workers
	}
}

// configSource records where the effective config came from.
type configSource struct {
	Path  string
	Found bool
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory so that running from a project dir picks up the
// project's config. A missing file yields defaults. Env overrides are applied.
func loadConfig(path string) (*config.Config, configSource, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, found, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, configSource{}, err
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, configSource{}, err
	}
	return cfg, configSource{Path: path, Found: found}, nil
}

// resolveConfig loads the config, applies flag overrides from fs and validates the result.
func resolveConfig(g *globalOptions, fs *pflag.FlagSet, o *overrideOptions) (*config.Config, configSource, error) {
	cfg, src, err := loadConfig(g.configPath)
	if err != nil {
		return nil, src, err
	}
	if o != nil {
		applyOverrides(cfg, fs, o)
	}
	if g.debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, src, fmt.Errorf("invalid config %s: %w", src.Path, err)
	}
	return cfg, src, nil
}
