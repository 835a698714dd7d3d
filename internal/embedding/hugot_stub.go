//go:build !hugot

package embedding

import (
	"context"
	"errors"
)

func openHugot(_ context.Context, _ LoadOptions) (Encoder, error) {
	return nil, errors.New("hugot backend not compiled in; build with -tags hugot")
}
