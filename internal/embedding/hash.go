package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/hyperjump/embedserver/internal/device"
)

// DefaultDimension is reported before a model is loaded.
const DefaultDimension = 1024

// HashEncoder is a deterministic encoder with no model files. Each word is hashed into a
// signed bucket, so texts sharing words get similar vectors, plus a small text-hash term so
// no text maps to the zero vector. Words count as tokens for max_input_length.
type HashEncoder struct {
	dimension int
	maxLen    int
}

// NewHashEncoder returns a hash encoder. Non-positive sizes use the package defaults.
func NewHashEncoder(dimension, maxInputLength int) *HashEncoder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	if maxInputLength <= 0 {
		maxInputLength = DefaultMaxInputLength
	}
	return &HashEncoder{dimension: dimension, maxLen: maxInputLength}
}

func openHash(_ context.Context, opts LoadOptions) (Encoder, error) {
	return NewHashEncoder(opts.Dimension, opts.MaxInputLength), nil
}

// Encode returns one vector per text.
func (e *HashEncoder) Encode(ctx context.Context, texts []string, truncate bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		words := SplitWords(text)
		if len(words) > e.maxLen {
			if !truncate {
				return nil, errInputTooLong(i, len(words), e.maxLen)
			}
			words = TruncateWords(words, e.maxLen)
		}
		out[i] = e.vector(words)
	}
	return out, nil
}

func (e *HashEncoder) vector(words []string) []float32 {
	emb := make([]float32, e.dimension)
	for _, w := range words {
		w = strings.ToLower(strings.TrimFunc(w, unicode.IsPunct))
		if w == "" {
			continue
		}
		h := HashString(w)
		sign := float32(1)
		if (h/e.dimension)%2 == 1 {
			sign = -1
		}
		emb[h%e.dimension] += sign
	}
	h := HashString(JoinWords(words))
	for i := range emb {
		emb[i] += float32(math.Sin(float64(h*(i+1)))*0.001 + 0.0001)
	}
	return emb
}

// Dimension returns the embedding dimension.
func (e *HashEncoder) Dimension() int { return e.dimension }

// MaxInputLength returns the word limit.
func (e *HashEncoder) MaxInputLength() int { return e.maxLen }

// Device reports CPU; the hash encoder never uses an accelerator.
func (e *HashEncoder) Device() device.Device { return device.CPU }

// Close is a no-op.
func (e *HashEncoder) Close() error { return nil }
