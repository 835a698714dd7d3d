package embedding

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
	"go.uber.org/zap"
)

// modelSource is where a model ID is downloaded from.
type modelSource struct {
	Repo     string
	OnnxFile string
}

// onnxExports maps model IDs whose own repository ships no ONNX graph to one that does.
var onnxExports = map[string]modelSource{
	DefaultModelID: {Repo: "onnx-community/Qwen3-Embedding-0.6B-ONNX", OnnxFile: "onnx/model.onnx"},
}

func sourceFor(modelID string) modelSource {
	if src, ok := onnxExports[modelID]; ok {
		return src
	}
	return modelSource{Repo: modelID}
}

// fetchModel downloads a Hugging Face repository under dest and returns the directory it
// created.
var fetchModel = func(src modelSource, dest string) (string, error) {
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = src.OnnxFile
	return hugot.DownloadModel(src.Repo, dest, opts)
}

// isLocalModelPath reports whether modelID names a directory rather than a repository.
func isLocalModelPath(modelID string) bool {
	return filepath.IsAbs(modelID) || strings.HasPrefix(modelID, ".")
}

// ensureModelDir returns opts.Dir once complete reports it usable, downloading the model
// first when the directory is missing and opts.Download allows it. An existing but
// incomplete directory is never overwritten.
func ensureModelDir(opts LoadOptions, logger *zap.Logger, complete func(dir string) bool) (string, error) {
	if complete(opts.Dir) {
		return opts.Dir, nil
	}
	_, err := os.Stat(opts.Dir)
	switch {
	case err == nil:
		return "", fmt.Errorf("model directory %s is incomplete; remove it to download again", opts.Dir)
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("failed to stat model dir: %w", err)
	case isLocalModelPath(opts.ModelID):
		return "", fmt.Errorf("model path %s does not exist", opts.Dir)
	case !opts.Download:
		return "", fmt.Errorf("model %s not found at %s and download is disabled", opts.ModelID, opts.Dir)
	}

	root := filepath.Dir(opts.Dir)
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("failed to create model root: %w", err)
	}
	staging, err := os.MkdirTemp(root, ".download-")
	if err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}
	defer os.RemoveAll(staging)

	src := sourceFor(opts.ModelID)
	logger.Info("downloading model",
		zap.String("model", opts.ModelID),
		zap.String("repo", src.Repo),
		zap.String("dest", opts.Dir))
	fetched, err := fetchModel(src, staging)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", src.Repo, err)
	}
	if err := os.Rename(fetched, opts.Dir); err != nil {
		return "", fmt.Errorf("failed to move downloaded model into place: %w", err)
	}
	if !complete(opts.Dir) {
		return "", fmt.Errorf("downloaded %s but %s is incomplete", src.Repo, opts.Dir)
	}
	return opts.Dir, nil
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
