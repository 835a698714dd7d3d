// Package storage persists computed embeddings so a restarted server can skip the model for
// texts it has already seen.
package storage

import "context"

// VectorStore maps (model ID, content key) to a vector.
type VectorStore interface {
	Get(ctx context.Context, modelID, key string) ([]float32, bool, error)
	Put(ctx context.Context, modelID, key string, vec []float32) error

	// Stats
	Count(ctx context.Context, modelID string) (int64, error)

	// DeleteModel removes every vector stored for modelID and returns how many were removed.
	DeleteModel(ctx context.Context, modelID string) (int64, error)

	Close() error
}
