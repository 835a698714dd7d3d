//go:build hugot

package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/device"
)

// HugotEncoder runs a feature-extraction pipeline on hugot's pure-Go backend. It always
// runs on the CPU and truncates to the model's own limit.
type HugotEncoder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	dim      int
	maxLen   int
	mu       sync.Mutex
}

func openHugot(ctx context.Context, opts LoadOptions) (Encoder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dir, err := ensureModelDir(opts, logger, dirExists)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}
	cfg := hugot.FeatureExtractionConfig{
		ModelPath: dir,
		Name:      "embedserver",
		Options: []hugot.FeatureExtractionOption{
			pipelines.WithNormalization(),
		},
	}
	pipe, err := hugot.NewPipeline(session, cfg)
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to create pipeline for %s: %w", dir, err)
	}

	e := &HugotEncoder{
		session:  session,
		pipeline: pipe,
		maxLen:   resolveMaxInputLength(opts.MaxInputLength, readArtifactMeta(dir)),
	}
	if err := ctx.Err(); err != nil {
		_ = e.Close()
		return nil, err
	}
	probe, err := pipe.RunPipeline([]string{"dimension probe"})
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to probe embedding dimension: %w", err)
	}
	if len(probe.Embeddings) != 1 {
		_ = e.Close()
		return nil, fmt.Errorf("dimension probe returned %d embeddings", len(probe.Embeddings))
	}
	e.dim = len(probe.Embeddings[0])
	if opts.Device != device.CPU {
		logger.Info("hugot backend runs on cpu", zap.String("requested_device", string(opts.Device)))
	}
	return e, nil
}

// Encode runs the pipeline. The pipeline truncates on its own; when truncate is false an
// input over the word limit is rejected up front.
func (e *HugotEncoder) Encode(ctx context.Context, texts []string, truncate bool) ([][]float32, error) {
	if !truncate {
		for i, text := range texts {
			if n := len(SplitWords(text)); n > e.maxLen {
				return nil, errInputTooLong(i, n, e.maxLen)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("pipeline failed: %w", err)
	}
	return res.Embeddings, nil
}

// Dimension returns the embedding dimension.
func (e *HugotEncoder) Dimension() int { return e.dim }

// MaxInputLength returns the token limit.
func (e *HugotEncoder) MaxInputLength() int { return e.maxLen }

// Device reports CPU.
func (e *HugotEncoder) Device() device.Device { return device.CPU }

// Close destroys the session.
func (e *HugotEncoder) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
