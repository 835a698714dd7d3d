//go:build cgo && tokenizers

package embedding

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// hfTokenizer wraps a Hugging Face tokenizer.json via the Rust tokenizers library.
type hfTokenizer struct {
	tk *tokenizers.Tokenizer
}

func newHFTokenizer(path string) (Tokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}
	return &hfTokenizer{tk: tk}, nil
}

// Encode adds the model's special tokens; truncation is left to fitLength.
func (t *hfTokenizer) Encode(text string) (Encoding, error) {
	res := t.tk.EncodeWithOptions(text, true,
		tokenizers.WithReturnAttentionMask(),
		tokenizers.WithReturnTypeIDs(),
	)
	enc := Encoding{
		IDs:           widen(res.IDs),
		AttentionMask: widen(res.AttentionMask),
		TypeIDs:       widen(res.TypeIDs),
	}
	if len(enc.AttentionMask) != len(enc.IDs) {
		enc.AttentionMask = make([]int64, len(enc.IDs))
		for i := range enc.AttentionMask {
			enc.AttentionMask[i] = 1
		}
	}
	if len(enc.TypeIDs) != len(enc.IDs) {
		enc.TypeIDs = make([]int64, len(enc.IDs))
	}
	return enc, nil
}

func (t *hfTokenizer) Close() error {
	return t.tk.Close()
}

func widen(in []uint32) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
