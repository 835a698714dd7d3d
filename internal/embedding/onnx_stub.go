//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

func openONNX(_ context.Context, _ LoadOptions) (Encoder, error) {
	return nil, errors.New("onnx backend requires CGO; build with CGO_ENABLED=1 and onnxruntime, or use backend hash or hugot")
}
