package embedding

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"unicode"
)

// Encoding is one tokenized text, unpadded, special tokens included.
type Encoding struct {
	IDs           []int64
	AttentionMask []int64
	TypeIDs       []int64
}

// Len returns the number of tokens.
func (e Encoding) Len() int { return len(e.IDs) }

// Tokenizer turns text into token IDs for a transformer model.
type Tokenizer interface {
	Encode(text string) (Encoding, error)
	Close() error
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type SimpleTokenizer struct{}

const (
	clsTokenID = 101
	sepTokenID = 102
	vocabSize  = 30000
)

// Encode wraps the words of text in [CLS] ... [SEP].
func (t *SimpleTokenizer) Encode(text string) (Encoding, error) {
	words := SplitWords(text)
	n := len(words) + 2
	enc := Encoding{
		IDs:           make([]int64, 0, n),
		AttentionMask: make([]int64, n),
		TypeIDs:       make([]int64, n),
	}
	enc.IDs = append(enc.IDs, clsTokenID)
	for _, word := range words {
		enc.IDs = append(enc.IDs, int64(HashString(word)%vocabSize))
	}
	enc.IDs = append(enc.IDs, sepTokenID)
	for i := range enc.AttentionMask {
		enc.AttentionMask[i] = 1
	}
	return enc, nil
}

// Close is a no-op.
func (t *SimpleTokenizer) Close() error { return nil }

// fitLength enforces maxLen on enc. With truncate the last token (the closing special token)
// is kept and the body is cut; without it an over-length input is an error.
func fitLength(enc Encoding, index, maxLen int, truncate bool) (Encoding, error) {
	if maxLen <= 0 || enc.Len() <= maxLen {
		return enc, nil
	}
	if !truncate {
		return enc, errInputTooLong(index, enc.Len(), maxLen)
	}
	cut := func(s []int64) []int64 {
		if len(s) == 0 {
			return s
		}
		out := make([]int64, 0, maxLen)
		out = append(out, s[:maxLen-1]...)
		return append(out, s[len(s)-1])
	}
	return Encoding{
		IDs:           cut(enc.IDs),
		AttentionMask: cut(enc.AttentionMask),
		TypeIDs:       cut(enc.TypeIDs),
	}, nil
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	return strings.FieldsFunc(text, unicode.IsSpace)
}

// HashString returns a deterministic hash for use as a simple token ID.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	return h & math.MaxInt
}

// TruncateWords returns up to maxWords words from the slice.
func TruncateWords(words []string, maxWords int) []string {
	if len(words) <= maxWords {
		return words
	}
	return words[:maxWords]
}

// JoinWords joins words with a space.
func JoinWords(words []string) string {
	return strings.Join(words, " ")
}

// newTokenizer opens the tokenizer kind for a model directory.
func newTokenizer(kind, dir string) (Tokenizer, error) {
	switch kind {
	case "simple":
		return &SimpleTokenizer{}, nil
	case "", "hf":
		return newHFTokenizer(filepath.Join(dir, "tokenizer.json"))
	default:
		return nil, fmt.Errorf("unknown tokenizer %q (want hf or simple)", kind)
	}
}
