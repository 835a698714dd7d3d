package embedding

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxInputLength is reported before a model is loaded and used when the artifact
// does not declare its own limit.
const DefaultMaxInputLength = 512

// Pooling modes for rank-3 model outputs.
const (
	PoolingAuto = "auto"
	PoolingMean = "mean"
	PoolingCLS  = "cls"
	PoolingLast = "last"
)

// artifactMeta is what a sentence-transformers export says about itself.
type artifactMeta struct {
	MaxSeqLength int
	Pooling      string
	Dimension    int
}

type sentenceBertConfig struct {
	MaxSeqLength int `json:"max_seq_length"`
}

type modelConfig struct {
	MaxPositionEmbeddings int `json:"max_position_embeddings"`
	HiddenSize            int `json:"hidden_size"`
}

type poolingConfig struct {
	WordEmbeddingDimension int  `json:"word_embedding_dimension"`
	ModeCLSToken           bool `json:"pooling_mode_cls_token"`
	ModeMeanTokens         bool `json:"pooling_mode_mean_tokens"`
	ModeLastToken          bool `json:"pooling_mode_lasttoken"`
}

// readArtifactMeta reads optional metadata files from dir. Missing or malformed files are
// skipped; zero fields mean unknown.
func readArtifactMeta(dir string) artifactMeta {
	var meta artifactMeta

	var sb sentenceBertConfig
	if readJSON(filepath.Join(dir, "sentence_bert_config.json"), &sb) {
		meta.MaxSeqLength = sb.MaxSeqLength
	}

	var mc modelConfig
	if readJSON(filepath.Join(dir, "config.json"), &mc) {
		if meta.MaxSeqLength == 0 {
			meta.MaxSeqLength = mc.MaxPositionEmbeddings
		}
		meta.Dimension = mc.HiddenSize
	}

	var pc poolingConfig
	if readJSON(filepath.Join(dir, "1_Pooling", "config.json"), &pc) {
		switch {
		case pc.ModeLastToken:
			meta.Pooling = PoolingLast
		case pc.ModeCLSToken:
			meta.Pooling = PoolingCLS
		case pc.ModeMeanTokens:
			meta.Pooling = PoolingMean
		}
		if pc.WordEmbeddingDimension > 0 {
			meta.Dimension = pc.WordEmbeddingDimension
		}
	}
	return meta
}

func readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// resolveMaxInputLength picks the configured override, then the artifact's own limit,
// then DefaultMaxInputLength.
func resolveMaxInputLength(configured int, meta artifactMeta) int {
	switch {
	case configured > 0:
		return configured
	case meta.MaxSeqLength > 0:
		return meta.MaxSeqLength
	default:
		return DefaultMaxInputLength
	}
}

// resolvePooling picks the configured mode unless it is auto, then the artifact's, then mean.
func resolvePooling(configured string, meta artifactMeta) string {
	if configured != "" && configured != PoolingAuto {
		return configured
	}
	if meta.Pooling != "" {
		return meta.Pooling
	}
	return PoolingMean
}

// ModelDir maps a model ID to its directory under root. IDs that are existing paths are
// used as-is; hub IDs like "org/name" become root/org_name.
func ModelDir(root, modelID string) string {
	if isLocalModelPath(modelID) {
		return modelID
	}
	return filepath.Join(root, strings.ReplaceAll(modelID, "/", "_"))
}
