package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/embedserver/internal/cli"
	"github.com/hyperjump/embedserver/internal/config"
	"github.com/hyperjump/embedserver/internal/storage"
)

var errNoPersistPath = errors.New("cache.persist_path is not set; the persistent store is disabled")

func newCacheCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persistent vector store",
	}
	cmd.AddCommand(newCacheStatsCommand(g), newCacheClearCommand(g))
	return cmd
}

func openStore(cfg *config.Config) (*storage.SQLiteStore, error) {
	if cfg.Cache.PersistPath == "" {
		return nil, errNoPersistPath
	}
	return storage.NewSQLiteStore(cfg.Cache.PersistPath)
}

func newCacheStatsCommand(g *globalOptions) *cobra.Command {
	o := &overrideOptions{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored vector counts and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseOutputFormat(g.output)
			if err != nil {
				return err
			}
			cfg, _, err := resolveConfig(g, cmd.Flags(), o)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			stats := &cli.CacheStats{Path: cfg.Cache.PersistPath, ModelID: cfg.Model.ID}
			if stats.ModelVectors, err = store.Count(ctx, cfg.Model.ID); err != nil {
				return err
			}
			if stats.TotalVectors, err = store.Count(ctx, ""); err != nil {
				return err
			}
			if stats.DiskUsageBytes, err = storage.DiskUsageBytes(storage.DatabaseFiles(cfg.Cache.PersistPath)...); err != nil {
				return err
			}
			return cli.WriteCacheStats(cmd.OutOrStdout(), stats, format)
		},
	}
	addOverrideFlags(cmd.Flags(), o)
	return cmd
}

func newCacheClearCommand(g *globalOptions) *cobra.Command {
	var all bool
	o := &overrideOptions{}
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete stored vectors for the configured model, or every model with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(g, cmd.Flags(), o)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			modelID := cfg.Model.ID
			if all {
				modelID = ""
			}
			n, err := store.DeleteModel(cmd.Context(), modelID)
			if err != nil {
				return err
			}
			scope := modelID
			if all {
				scope = "all models"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d vectors (%s)\n", n, scope)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "clear vectors for every model")
	addOverrideFlags(cmd.Flags(), o)
	return cmd
}
