package embedding

import "fmt"

// poolOutput turns a flat model output into one vector per input. A rank-2 output
// [batch, dim] is already pooled. A rank-3 output [batch, seq, dim] is pooled over each
// row's first lengths[i] tokens.
func poolOutput(shape []int64, data []float32, lengths []int, mode string) ([][]float32, error) {
	batch := len(lengths)
	switch len(shape) {
	case 2:
		if int(shape[0]) != batch {
			return nil, fmt.Errorf("output batch %d, want %d", shape[0], batch)
		}
		dim := int(shape[1])
		out := make([][]float32, batch)
		for i := range out {
			out[i] = append([]float32(nil), data[i*dim:(i+1)*dim]...)
		}
		return out, nil
	case 3:
		if int(shape[0]) != batch {
			return nil, fmt.Errorf("output batch %d, want %d", shape[0], batch)
		}
		seq, dim := int(shape[1]), int(shape[2])
		out := make([][]float32, batch)
		for i, n := range lengths {
			if n <= 0 || n > seq {
				return nil, fmt.Errorf("input %d: %d tokens for sequence length %d", i, n, seq)
			}
			rows := data[i*seq*dim : (i+1)*seq*dim]
			token := func(j int) []float32 { return rows[j*dim : (j+1)*dim] }
			vec := make([]float32, dim)
			switch mode {
			case PoolingCLS:
				copy(vec, token(0))
			case PoolingLast:
				copy(vec, token(n-1))
			case PoolingMean, "", PoolingAuto:
				for j := 0; j < n; j++ {
					for k, v := range token(j) {
						vec[k] += v
					}
				}
				for k := range vec {
					vec[k] /= float32(n)
				}
			default:
				return nil, fmt.Errorf("unknown pooling mode %q", mode)
			}
			out[i] = vec
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported output rank %d", len(shape))
	}
}
