// Package cli formats command output for the embedserver CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/embedserver/internal/embedding"
	"github.com/hyperjump/embedserver/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text", "json" or "" (text).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// previewValues is how many leading components the text format shows per vector.
const previewValues = 6

// previewChars bounds the input text echoed in text output.
const previewChars = 60

// WriteEmbeddings writes one vector per input. JSON output is the bare array of vectors,
// the same shape POST /embed returns.
func WriteEmbeddings(w io.Writer, inputs []string, vectors [][]float32, format OutputFormat) error {
	if format == OutputJSON {
		return json.NewEncoder(w).Encode(vectors)
	}
	for i, vec := range vectors {
		text := ""
		if i < len(inputs) {
			text = inputs[i]
		}
		fmt.Fprintf(w, "[%d] %q\n", i, utils.Truncate(text, previewChars))
		fmt.Fprintf(w, "    dim=%d norm=%.4f [%s]\n", len(vec), utils.L2Norm(vec), preview(vec))
	}
	// Vectors are unit length, so the dot product is the cosine similarity.
	for i := 1; i < len(vectors); i++ {
		fmt.Fprintf(w, "similarity [0]~[%d]: %.4f\n", i, utils.Dot(vectors[0], vectors[i]))
	}
	return nil
}

func preview(vec []float32) string {
	n := min(len(vec), previewValues)
	parts := make([]string, 0, n+1)
	for _, v := range vec[:n] {
		parts = append(parts, fmt.Sprintf("%.4f", v))
	}
	if len(vec) > n {
		parts = append(parts, "...")
	}
	return strings.Join(parts, " ")
}

// WriteInfo writes model metadata.
func WriteInfo(w io.Writer, info *embedding.Info, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, info)
	}
	fmt.Fprintf(w, "Model:             %s\n", info.ModelID)
	fmt.Fprintf(w, "Type:              %s\n", info.ModelType)
	fmt.Fprintf(w, "Dimension:         %d\n", info.EmbeddingDimension)
	fmt.Fprintf(w, "Max input length:  %d\n", info.MaxInputLength)
	fmt.Fprintf(w, "Device:            %s\n", info.Device)
	fmt.Fprintf(w, "Instruction aware: %t\n", info.InstructionAware)
	return nil
}

// CacheStats describes the persistent vector store.
type CacheStats struct {
	Path           string `json:"path"`
	ModelID        string `json:"model_id"`
	ModelVectors   int64  `json:"model_vectors"`
	TotalVectors   int64  `json:"total_vectors"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
}

// WriteCacheStats writes persistent store statistics.
func WriteCacheStats(w io.Writer, stats *CacheStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Store:       %s\n", stats.Path)
	fmt.Fprintf(w, "Vectors:     %d (%s), %d total\n", stats.ModelVectors, stats.ModelID, stats.TotalVectors)
	fmt.Fprintf(w, "Disk usage:  %s\n", FormatBytes(stats.DiskUsageBytes))
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
