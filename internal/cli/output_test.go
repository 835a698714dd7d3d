package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/embedserver/internal/embedding"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteEmbeddings_JSON(t *testing.T) {
	var buf bytes.Buffer
	vecs := [][]float32{{0.6, 0.8}, {1, 0}}
	if err := WriteEmbeddings(&buf, []string{"a", "b"}, vecs, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded [][]float32
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if len(decoded) != 2 || decoded[0][1] != 0.8 {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestWriteEmbeddings_text(t *testing.T) {
	var buf bytes.Buffer
	vec := []float32{0.6, 0.8, 0, 0, 0, 0, 0, 0}
	long := strings.Repeat("x", 100)
	if err := WriteEmbeddings(&buf, []string{long}, [][]float32{vec}, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "dim=8 norm=1.0000") {
		t.Errorf("missing dim/norm line: %s", out)
	}
	if !strings.Contains(out, "...") {
		t.Errorf("long input and vector should be abbreviated: %s", out)
	}
	if strings.Contains(out, long) {
		t.Error("input text was not truncated")
	}
}

func TestWriteEmbeddings_similarity(t *testing.T) {
	var buf bytes.Buffer
	vecs := [][]float32{{1, 0}, {0.6, 0.8}, {0, 1}}
	if err := WriteEmbeddings(&buf, []string{"a", "b", "c"}, vecs, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "similarity [0]~[1]: 0.6000") || !strings.Contains(out, "similarity [0]~[2]: 0.0000") {
		t.Errorf("missing similarity lines:\n%s", out)
	}
}

func TestWriteInfo(t *testing.T) {
	info := &embedding.Info{
		ModelID:            "Qwen/Qwen3-Embedding-0.6B",
		ModelType:          "embedding",
		MaxInputLength:     512,
		EmbeddingDimension: 1024,
		Device:             "cpu",
		InstructionAware:   true,
	}
	var buf bytes.Buffer
	if err := WriteInfo(&buf, info, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Dimension:         1024") {
		t.Errorf("text output: %s", buf.String())
	}

	buf.Reset()
	if err := WriteInfo(&buf, info, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["embedding_dimension"] != float64(1024) {
		t.Errorf("json output: %v", decoded)
	}
}

func TestWriteCacheStats(t *testing.T) {
	var buf bytes.Buffer
	stats := &CacheStats{Path: "/tmp/v.db", ModelID: "m", ModelVectors: 3, TotalVectors: 5, DiskUsageBytes: 2048}
	if err := WriteCacheStats(&buf, stats, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "3 (m), 5 total") || !strings.Contains(out, "2.0 KiB") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
