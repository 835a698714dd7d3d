//go:build !(cgo && tokenizers)

package embedding

import "errors"

func newHFTokenizer(_ string) (Tokenizer, error) {
	return nil, errors.New("hf tokenizer not compiled in; build with -tags tokenizers (needs libtokenizers) or set model.tokenizer: simple")
}
