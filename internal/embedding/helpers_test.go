package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/embedserver/internal/device"
)

// countingEncoder wraps another encoder and records every call.
type countingEncoder struct {
	Encoder
	calls  atomic.Int64
	mu     sync.Mutex
	inputs [][]string
}

func (c *countingEncoder) Encode(ctx context.Context, texts []string, truncate bool) ([][]float32, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.inputs = append(c.inputs, append([]string(nil), texts...))
	c.mu.Unlock()
	return c.Encoder.Encode(ctx, texts, truncate)
}

func (c *countingEncoder) lastInputs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inputs) == 0 {
		return nil
	}
	return c.inputs[len(c.inputs)-1]
}

// vocabEncoder is a bag-of-words encoder with a growing vocabulary, so texts that share
// words have proportionally higher cosine similarity and no two words collide.
type vocabEncoder struct {
	mu    sync.Mutex
	vocab map[string]int
	dim   int
}

func newVocabEncoder(dim int) *vocabEncoder {
	return &vocabEncoder{vocab: map[string]int{}, dim: dim}
}

func (v *vocabEncoder) Encode(_ context.Context, texts []string, _ bool) ([][]float32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, v.dim)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			w = strings.Trim(w, ".,?!:")
			if w == "" {
				continue
			}
			idx, ok := v.vocab[w]
			if !ok {
				idx = len(v.vocab)
				if idx >= v.dim {
					return nil, errors.New("vocabulary full")
				}
				v.vocab[w] = idx
			}
			vec[idx]++
		}
		out[i] = vec
	}
	return out, nil
}

func (v *vocabEncoder) Dimension() int      { return v.dim }
func (v *vocabEncoder) MaxInputLength() int { return 512 }
func (v *vocabEncoder) Close() error        { return nil }

// fixedEncoder returns the same vector (or error) for every input.
type fixedEncoder struct {
	vec []float32
	err error
}

func (f *fixedEncoder) Encode(_ context.Context, texts []string, _ bool) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = append([]float32(nil), f.vec...)
	}
	return out, nil
}

func (f *fixedEncoder) Dimension() int      { return len(f.vec) }
func (f *fixedEncoder) MaxInputLength() int { return 512 }
func (f *fixedEncoder) Close() error        { return nil }

func openerFor(enc Encoder) OpenFunc {
	return func(context.Context, LoadOptions) (Encoder, error) { return enc, nil }
}

func newTestHandle(t testing.TB, enc Encoder) *Handle {
	t.Helper()
	h, err := NewHandle(HandleConfig{ModelID: "test/model", Backend: "hash"},
		WithOpener(openerFor(enc)),
		WithProbes(device.Probes{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// newTestEngine returns a started engine around enc.
func newTestEngine(t testing.TB, enc Encoder, cfg EngineConfig) *Engine {
	t.Helper()
	e := NewEngine(newTestHandle(t, enc), cfg)
	if err := e.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s / (norm(a) * norm(b))
}

func sameVector(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
