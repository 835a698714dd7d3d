package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/cli"
	"github.com/hyperjump/embedserver/internal/client"
	"github.com/hyperjump/embedserver/internal/config"
	"github.com/hyperjump/embedserver/internal/embedding"
	"github.com/hyperjump/embedserver/pkg/utils"
)

// serverURL returns flagURL, or the configured listen address when flagURL was not set.
func serverURL(cmd *cobra.Command, flagURL string, cfg *config.Config) string {
	if cmd.Flags().Changed("server") {
		return flagURL
	}
	return "http://" + cfg.Server.Addr()
}

func newEmbedCommand(g *globalOptions) *cobra.Command {
	var (
		query       bool
		noTruncate  bool
		url         string
		file        string
		timeout     time.Duration
		batchSize   int
		concurrency int
	)
	o := &overrideOptions{}
	cmd := &cobra.Command{
		Use:   "embed [flags] [TEXT...]",
		Short: "Embed texts with a running server, or in-process with --server \"\"",
		Long: `Embed each argument, and each non-empty line of --file, as a separate text.

Documents are sent to the server in chunks of --batch-size, with up to --concurrency
requests in flight. With --server "" the model is loaded in-process instead.`,
		Example: `  embedserver embed "first document" "second document"
  embedserver embed --query "capital of France" --output json
  embedserver embed --file corpus.txt --batch-size 64 --concurrency 8 -o json
  embedserver embed --server "" --model ./models/bge-small "offline text"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(g.output)
			if err != nil {
				return err
			}
			cfg, _, err := resolveConfig(g, cmd.Flags(), o)
			if err != nil {
				return err
			}
			texts, err := collectTexts(args, file)
			if err != nil {
				return err
			}
			intent := embedding.IntentDocument
			if query {
				intent = embedding.IntentQuery
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var vectors [][]float32
			if base := serverURL(cmd, url, cfg); base != "" {
				c := client.New(base,
					client.WithBatchSize(batchSize),
					client.WithConcurrency(concurrency),
					client.WithTruncate(!noTruncate),
					client.WithLogger(cliLogger(cfg)),
				)
				vectors, err = embedRemote(ctx, c, texts, intent, !noTruncate)
			} else {
				vectors, err = embedLocal(ctx, cfg, texts, intent, !noTruncate)
			}
			if err != nil {
				return err
			}
			return cli.WriteEmbeddings(cmd.OutOrStdout(), texts, vectors, format)
		},
	}
	cmd.Flags().BoolVarP(&query, "query", "q", false, "embed as search queries (adds the retrieval instruction)")
	cmd.Flags().BoolVar(&noTruncate, "no-truncate", false, "fail instead of truncating over-long input")
	cmd.Flags().StringVarP(&url, "server", "s", "", "server URL (default from config; empty = load the model in-process)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read texts from `PATH`, one per line (- for stdin)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall deadline, including an in-process model load")
	cmd.Flags().IntVar(&batchSize, "batch-size", client.DefaultBatchSize, "documents per request")
	cmd.Flags().IntVar(&concurrency, "concurrency", client.DefaultConcurrency, "document requests in flight")
	addOverrideFlags(cmd.Flags(), o)
	return cmd
}

// collectTexts joins positional texts with the non-empty lines of path.
func collectTexts(args []string, path string) ([]string, error) {
	texts := append([]string(nil), args...)
	if path != "" {
		var r io.Reader = os.Stdin
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			r = f
		}
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				texts = append(texts, line)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if len(texts) == 0 {
		return nil, errors.New("no texts to embed: pass TEXT arguments or --file")
	}
	return texts, nil
}

// embedRemote sends one query through the single-item path, several queries as one batch,
// and documents in concurrent chunks.
func embedRemote(ctx context.Context, c *client.Client, texts []string, intent embedding.Intent, truncate bool) ([][]float32, error) {
	if intent != embedding.IntentQuery {
		return c.EmbedDocuments(ctx, texts)
	}
	if len(texts) == 1 {
		v, err := c.EmbedQuery(ctx, texts[0])
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	}
	return c.Embed(ctx, texts, intent, truncate)
}

func cliLogger(cfg *config.Config) *zap.Logger {
	if !cfg.Debug {
		return zap.NewNop()
	}
	l, err := utils.NewLogger(true)
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// embedLocal loads the model in-process, embeds texts, and shuts the engine down.
func embedLocal(ctx context.Context, cfg *config.Config, texts []string, intent embedding.Intent, truncate bool) ([][]float32, error) {
	logger := cliLogger(cfg)
	defer func() { _ = logger.Sync() }()
	h, err := buildHandle(cfg, embedding.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	e := embedding.NewEngine(h, embedding.EngineConfig{
		CacheCapacity: cfg.Cache.Capacity,
		Workers:       cfg.Engine.Workers,
	}, embedding.WithLogger(logger))
	if err := e.Start(ctx, ""); err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", cfg.Model.ID, err)
	}
	defer func() { _ = e.Stop(context.Background()) }()
	return e.Embed(ctx, texts, intent, truncate)
}

func newInfoCommand(g *globalOptions) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the served model's metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseOutputFormat(g.output)
			if err != nil {
				return err
			}
			cfg, _, err := resolveConfig(g, cmd.Flags(), nil)
			if err != nil {
				return err
			}
			info, err := client.New(serverURL(cmd, url, cfg)).Info(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteInfo(cmd.OutOrStdout(), info, format)
		},
	}
	cmd.Flags().StringVarP(&url, "server", "s", "", "server URL (default from config)")
	return cmd
}

func newHealthCommand(g *globalOptions) *cobra.Command {
	var (
		url  string
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up, optionally waiting until the model is ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(g, cmd.Flags(), nil)
			if err != nil {
				return err
			}
			c := client.New(serverURL(cmd, url, cfg))
			ctx := cmd.Context()
			if wait > 0 {
				waitCtx, cancel := context.WithTimeout(ctx, wait)
				defer cancel()
				if err := c.WaitReady(waitCtx); err != nil {
					return err
				}
			}
			h, err := c.Health(ctx)
			if err != nil {
				return err
			}
			state := "ready"
			if _, err := c.Ready(ctx); err != nil {
				var apiErr *client.APIError
				if !errors.As(err, &apiErr) {
					return err
				}
				state = "not ready"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", h.Status, h.ModelID, state)
			return nil
		},
	}
	cmd.Flags().StringVarP(&url, "server", "s", "", "server URL (default from config)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "poll /ready up to this long before reporting")
	return cmd
}
