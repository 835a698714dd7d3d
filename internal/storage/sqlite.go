package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements VectorStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		model_id TEXT NOT NULL,
		content_key TEXT NOT NULL,
		dimension INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (model_id, content_key)
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_created_at ON embeddings(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Get returns the vector stored under (modelID, key).
func (s *SQLiteStore) Get(ctx context.Context, modelID, key string) ([]float32, bool, error) {
	var (
		dim  int
		blob []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, vector FROM embeddings WHERE model_id = ? AND content_key = ?`,
		modelID, key,
	).Scan(&dim, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec := bytesToFloat32Slice(blob)
	if len(vec) != dim {
		return nil, false, fmt.Errorf("corrupt vector for %s/%s: %d values, want %d", modelID, key, len(vec), dim)
	}
	return vec, true, nil
}

// Put stores vec under (modelID, key), replacing any previous value.
func (s *SQLiteStore) Put(ctx context.Context, modelID, key string, vec []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embeddings (model_id, content_key, dimension, vector, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		modelID, key, len(vec), float32SliceToBytes(vec), time.Now(),
	)
	return err
}

// Count returns the number of stored vectors for modelID, or for all models when empty.
func (s *SQLiteStore) Count(ctx context.Context, modelID string) (int64, error) {
	var n int64
	var err error
	if modelID == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings WHERE model_id = ?", modelID).Scan(&n)
	}
	return n, err
}

// DeleteModel removes the vectors of modelID, or of every model when empty.
func (s *SQLiteStore) DeleteModel(ctx context.Context, modelID string) (int64, error) {
	var res sql.Result
	var err error
	if modelID == "" {
		res, err = s.db.ExecContext(ctx, "DELETE FROM embeddings")
	} else {
		res, err = s.db.ExecContext(ctx, "DELETE FROM embeddings WHERE model_id = ?", modelID)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
