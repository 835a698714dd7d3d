//go:build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/device"
)

// ONNXEncoder runs a transformer export with ONNX Runtime. It requires CGO and the
// onnxruntime shared library. Batches are padded to their longest member.
type ONNXEncoder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  Tokenizer
	inputNames []string
	dimension  int
	maxLen     int
	pooling    string
	device     device.Device
}

var ortInitMu sync.Mutex

func initONNXRuntime(libraryPath string) error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	return ort.InitializeEnvironment()
}

var supportedInputs = map[string]bool{
	"input_ids":      true,
	"attention_mask": true,
	"token_type_ids": true,
	"position_ids":   true,
}

func openONNX(_ context.Context, opts LoadOptions) (Encoder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dir, err := ensureModelDir(opts, logger, func(dir string) bool {
		_, err := findONNXModel(dir)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	opts.Dir = dir
	modelPath, err := findONNXModel(dir)
	if err != nil {
		return nil, err
	}
	if err := initONNXRuntime(opts.ONNXLibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", modelPath, err)
	}
	inputNames := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if !supportedInputs[in.Name] {
			return nil, fmt.Errorf("unsupported model input %q", in.Name)
		}
		inputNames = append(inputNames, in.Name)
	}
	output, err := pickOutput(outputs)
	if err != nil {
		return nil, err
	}

	meta := readArtifactMeta(opts.Dir)
	dim := 0
	if n := len(output.Dimensions); n > 0 {
		dim = int(output.Dimensions[n-1])
	}
	if dim <= 0 {
		dim = meta.Dimension
	}
	if dim <= 0 {
		dim = opts.Dimension
	}
	if dim <= 0 {
		return nil, fmt.Errorf("cannot determine embedding dimension of %s; set model.dimension", modelPath)
	}
	if opts.Dimension > 0 && opts.Dimension != dim {
		logger.Warn("configured dimension differs from model output, using model",
			zap.Int("configured", opts.Dimension), zap.Int("model", dim))
	}

	so, err := sessionOptions(opts.Device)
	if err != nil {
		return nil, err
	}
	defer so.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{output.Name}, so)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session on %s: %w", opts.Device, err)
	}

	tok, err := newTokenizer(opts.Tokenizer, opts.Dir)
	if err != nil {
		_ = session.Destroy()
		return nil, err
	}

	e := &ONNXEncoder{
		session:    session,
		tokenizer:  tok,
		inputNames: inputNames,
		dimension:  dim,
		maxLen:     resolveMaxInputLength(opts.MaxInputLength, meta),
		pooling:    resolvePooling(opts.Pooling, meta),
		device:     opts.Device,
	}
	logger.Debug("onnx session ready",
		zap.String("path", modelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", output.Name),
		zap.String("pooling", e.pooling))
	return e, nil
}

func findONNXModel(dir string) (string, error) {
	for _, name := range []string{"model.onnx", filepath.Join("onnx", "model.onnx")} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no model.onnx found in %s", dir)
}

// pickOutput prefers an already pooled output.
func pickOutput(outputs []ort.InputOutputInfo) (ort.InputOutputInfo, error) {
	if len(outputs) == 0 {
		return ort.InputOutputInfo{}, errors.New("model has no outputs")
	}
	for _, want := range []string{"sentence_embedding", "last_hidden_state"} {
		for _, o := range outputs {
			if o.Name == want {
				return o, nil
			}
		}
	}
	return outputs[0], nil
}

func sessionOptions(dev device.Device) (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	switch dev {
	case device.CUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			so.Destroy()
			return nil, fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := so.AppendExecutionProviderCUDA(cuda); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("failed to enable CUDA: %w", err)
		}
	case device.CoreML:
		if err := so.AppendExecutionProviderCoreML(0); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("failed to enable CoreML: %w", err)
		}
	}
	return so, nil
}

// Encode tokenizes, pads, runs one session call for the whole batch and pools the result.
func (e *ONNXEncoder) Encode(ctx context.Context, texts []string, truncate bool) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	encs := make([]Encoding, len(texts))
	lengths := make([]int, len(texts))
	seqLen := 0
	for i, text := range texts {
		enc, err := e.tokenizer.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("tokenize input %d: %w", i, err)
		}
		if enc, err = fitLength(enc, i, e.maxLen, truncate); err != nil {
			return nil, err
		}
		encs[i] = enc
		lengths[i] = enc.Len()
		seqLen = max(seqLen, enc.Len())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := len(texts)
	shape := ort.NewShape(int64(batch), int64(seqLen))
	inputs := make([]ort.Value, len(e.inputNames))
	for k, name := range e.inputNames {
		t, err := ort.NewTensor(shape, buildInput(name, encs, seqLen))
		if err != nil {
			destroyValues(inputs[:k])
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		inputs[k] = t
	}
	defer destroyValues(inputs)

	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer destroyValues(outputs)

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	return poolOutput(out.GetShape(), out.GetData(), lengths, e.pooling)
}

// buildInput lays out one right-padded [batch, seqLen] input.
func buildInput(name string, encs []Encoding, seqLen int) []int64 {
	data := make([]int64, len(encs)*seqLen)
	for i, enc := range encs {
		row := data[i*seqLen : (i+1)*seqLen]
		switch name {
		case "input_ids":
			copy(row, enc.IDs)
		case "attention_mask":
			copy(row, enc.AttentionMask)
		case "token_type_ids":
			copy(row, enc.TypeIDs)
		case "position_ids":
			for j := 0; j < enc.Len(); j++ {
				row[j] = int64(j)
			}
		}
	}
	return data
}

func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			_ = v.Destroy()
		}
	}
}

// Dimension returns the embedding dimension.
func (e *ONNXEncoder) Dimension() int { return e.dimension }

// MaxInputLength returns the token limit.
func (e *ONNXEncoder) MaxInputLength() int { return e.maxLen }

// Device returns the execution provider's device.
func (e *ONNXEncoder) Device() device.Device { return e.device }

// Close destroys the session and the tokenizer.
func (e *ONNXEncoder) Close() error {
	var errs []error
	if e.session != nil {
		errs = append(errs, e.session.Destroy())
		e.session = nil
	}
	if e.tokenizer != nil {
		errs = append(errs, e.tokenizer.Close())
		e.tokenizer = nil
	}
	return errors.Join(errs...)
}
