package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/device"
	"github.com/hyperjump/embedserver/internal/observe"
	"github.com/hyperjump/embedserver/pkg/utils"
)

// DefaultModelID is loaded when neither the caller nor the config names a model.
const DefaultModelID = "Qwen/Qwen3-Embedding-0.6B"

// ModelType is reported by Describe.
const ModelType = "embedding"

// ErrAlreadyLoaded is returned by a second successful-path Load.
var ErrAlreadyLoaded = errors.New("model already loaded")

// HandleConfig selects the model and how it is opened.
type HandleConfig struct {
	ModelID         string
	Backend         string
	ModelRoot       string
	Device          device.Device
	Pooling         string
	Tokenizer       string
	MaxInputLength  int
	Dimension       int
	Download        bool
	ONNXLibraryPath string
}

// Info describes the resident model.
type Info struct {
	ModelID            string `json:"model_id"`
	ModelType          string `json:"model_type"`
	MaxInputLength     int    `json:"max_input_length"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	Device             string `json:"device"`
	InstructionAware   bool   `json:"instruction_aware"`
}

type loadedModel struct {
	id          string
	dev         device.Device
	enc         Encoder
	maxLen      int
	dim         int
	fingerprint string
}

// Handle owns the loaded model. It is loaded at most once and read-only afterwards;
// Encode may be called from many goroutines.
type Handle struct {
	cfg      HandleConfig
	open     OpenFunc
	selector *device.Selector
	logger   *zap.Logger
	metrics  *observe.Metrics

	loadMu sync.Mutex
	loaded bool
	closed atomic.Bool
	model  atomic.Pointer[loadedModel]
}

// NewHandle returns an unloaded handle. It fails only on an unknown backend.
func NewHandle(cfg HandleConfig, opts ...Option) (*Handle, error) {
	o := buildOptions(opts)
	open := o.open
	if open == nil {
		var err error
		if open, err = Backend(cfg.Backend); err != nil {
			return nil, err
		}
	}
	probes := device.DefaultProbes()
	if o.probes != nil {
		probes = *o.probes
	}
	return &Handle{
		cfg:      cfg,
		open:     open,
		selector: device.NewSelector(probes, cfg.Device),
		logger:   o.logger,
		metrics:  o.metrics,
	}, nil
}

func (h *Handle) resolveID(modelID string) string {
	switch {
	case modelID != "":
		return modelID
	case h.cfg.ModelID != "":
		return h.cfg.ModelID
	default:
		return DefaultModelID
	}
}

// Load selects a device and opens the model. modelID may be empty to use the configured
// one. A failed load leaves the handle unloaded; after a successful one every further call
// returns ErrAlreadyLoaded.
func (h *Handle) Load(ctx context.Context, modelID string) error {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	if h.loaded {
		return ErrAlreadyLoaded
	}
	if h.closed.Load() {
		return newError(KindUnavailable, "load", errors.New("handle closed"))
	}

	id := h.resolveID(modelID)
	dir := ModelDir(h.cfg.ModelRoot, id)
	dev := h.selector.Select()

	ctx, span := observe.StartSpan(ctx, "embedding.load", trace.WithAttributes(
		attribute.String("model.id", id),
		attribute.String("device", string(dev)),
	))
	defer span.End()

	h.logger.Info("loading embedding model",
		zap.String("model", id),
		zap.String("backend", h.cfg.Backend),
		zap.String("device", string(dev)))
	start := time.Now()

	enc, err := h.open(ctx, LoadOptions{
		ModelID:         id,
		Dir:             dir,
		Device:          dev,
		Pooling:         h.cfg.Pooling,
		Tokenizer:       h.cfg.Tokenizer,
		MaxInputLength:  h.cfg.MaxInputLength,
		Dimension:       h.cfg.Dimension,
		Download:        h.cfg.Download,
		ONNXLibraryPath: h.cfg.ONNXLibraryPath,
		Logger:          h.logger,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return fmt.Errorf("failed to load model %s on %s: %w", id, dev, err)
	}
	if r, ok := enc.(deviceReporter); ok {
		dev = r.Device()
	}
	m := &loadedModel{
		id:     id,
		dev:    dev,
		enc:    enc,
		maxLen: enc.MaxInputLength(),
		dim:    enc.Dimension(),
	}
	if m.dim <= 0 {
		_ = enc.Close()
		return fmt.Errorf("model %s reports dimension %d", id, m.dim)
	}
	if m.maxLen <= 0 {
		m.maxLen = DefaultMaxInputLength
	}
	m.fingerprint = artifactFingerprint(h.cfg, enc, dir, m.dim, m.maxLen)

	elapsed := time.Since(start)
	h.metrics.ModelLoadDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("model", id),
		attribute.String("device", string(dev)),
	))
	h.logger.Info("model loaded",
		zap.String("model", id),
		zap.String("device", string(dev)),
		zap.Int("dimension", m.dim),
		zap.Int("max_input_length", m.maxLen),
		zap.Duration("elapsed", elapsed))

	h.loaded = true
	h.model.Store(m)
	return nil
}

// Encode returns one unit vector per text, in order.
func (h *Handle) Encode(ctx context.Context, texts []string, truncate bool) ([][]float32, error) {
	const op = "encode"
	if h.closed.Load() {
		return nil, newError(KindUnavailable, op, nil)
	}
	m := h.model.Load()
	if m == nil {
		return nil, newError(KindNotReady, op, nil)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, span := observe.StartSpan(ctx, "embedding.encode", trace.WithAttributes(
		attribute.Int("batch.size", len(texts)),
	))
	defer span.End()

	out, err := m.enc.Encode(ctx, texts, truncate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, newError(KindEncodeFailure, op, err)
	}
	if len(out) != len(texts) {
		return nil, newError(KindEncodeFailure, op,
			fmt.Errorf("model returned %d vectors for %d inputs", len(out), len(texts)))
	}
	for i, v := range out {
		if len(v) != m.dim {
			return nil, newError(KindEncodeFailure, op,
				fmt.Errorf("vector %d has length %d, want %d", i, len(v), m.dim))
		}
		if norm := utils.NormalizeL2(v); norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return nil, newError(KindEncodeFailure, op,
				fmt.Errorf("vector %d has norm %v and cannot be normalized", i, norm))
		}
	}
	return out, nil
}

// Loaded reports whether the model is resident.
func (h *Handle) Loaded() bool { return h.model.Load() != nil }

// ModelID returns the loaded model, or the one that will be loaded.
func (h *Handle) ModelID() string {
	if m := h.model.Load(); m != nil {
		return m.id
	}
	return h.resolveID("")
}

// Dimension returns the embedding length, or DefaultDimension before load.
func (h *Handle) Dimension() int {
	if m := h.model.Load(); m != nil {
		return m.dim
	}
	return DefaultDimension
}

// MaxInputLength returns the token limit, or DefaultMaxInputLength before load.
func (h *Handle) MaxInputLength() int {
	if m := h.model.Load(); m != nil {
		return m.maxLen
	}
	return DefaultMaxInputLength
}

// Fingerprint identifies the loaded artifact and the settings that shape its vectors. It is
// empty before load.
func (h *Handle) Fingerprint() string {
	if m := h.model.Load(); m != nil {
		return m.fingerprint
	}
	return ""
}

// artifactFingerprint digests the backend, the effective settings and the size and mtime of
// the model files, so a replaced export under the same ID gets a new fingerprint.
func artifactFingerprint(cfg HandleConfig, enc Encoder, dir string, dim, maxLen int) string {
	d := sha256.New()
	fmt.Fprintf(d, "%s|%T|%s|%s|%d|%d\n", cfg.Backend, enc, cfg.Pooling, cfg.Tokenizer, dim, maxLen)
	for _, sub := range []string{"", "onnx", "1_Pooling"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil {
			continue
		}
		for _, de := range entries {
			if !de.Type().IsRegular() {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			fmt.Fprintf(d, "%s|%d|%d\n", filepath.Join(sub, de.Name()), info.Size(), info.ModTime().UnixNano())
		}
	}
	return hex.EncodeToString(d.Sum(nil))[:16]
}

// Device returns the bound device, or CPU before load.
func (h *Handle) Device() device.Device {
	if m := h.model.Load(); m != nil {
		return m.dev
	}
	return device.CPU
}

// Describe returns the model metadata.
func (h *Handle) Describe() Info {
	return Info{
		ModelID:            h.ModelID(),
		ModelType:          ModelType,
		MaxInputLength:     h.MaxInputLength(),
		EmbeddingDimension: h.Dimension(),
		Device:             string(h.Device()),
		InstructionAware:   true,
	}
}

// Close releases the model. Further Encode calls fail with KindUnavailable.
func (h *Handle) Close() error {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	h.closed.Store(true)
	if m := h.model.Swap(nil); m != nil {
		h.logger.Info("model released", zap.String("model", m.id))
		return m.enc.Close()
	}
	return nil
}
