package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/alqutdigital/finance-chat/internal/embedder"
	"github.com/pgvector/pgvector-go"
)

// ErrIndexNotFound is returned when a local index has not been built.
var ErrIndexNotFound = errors.New("vector index not found")

// VectorStore defines the vector storage operations used by retrieval.
type VectorStore interface {
	// UpsertBatch inserts or replaces chunks. Every chunk must carry an embedding.
	UpsertBatch(ctx context.Context, chunks []DocumentChunk) error

	// Search returns the topK chunks closest to embedding, best first.
	Search(ctx context.Context, embedding []float32, topK int) ([]RetrievedChunk, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	// Health checks the backing store.
	Health(ctx context.Context) error
}

// PgVectorStore implements VectorStore using PostgreSQL with pgvector.
type PgVectorStore struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// NewPgVectorStore creates a new PgVectorStore instance.
func NewPgVectorStore(db *sql.DB, logger *slog.Logger) *PgVectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgVectorStore{
		db:     db,
		table:  "manual_chunks",
		logger: logger.With("component", "vector_store"),
	}
}

// EnsureSchema creates the extension and chunk table for the given dimension.
func (vs *PgVectorStore) EnsureSchema(ctx context.Context, dimension int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			size INTEGER NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vs.table, dimension),
	}
	for _, stmt := range stmts {
		if _, err := vs.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure vector schema: %w", err)
		}
	}
	return nil
}

// Health checks database connectivity.
func (vs *PgVectorStore) Health(ctx context.Context) error {
	return vs.db.PingContext(ctx)
}

// UpsertBatch inserts or updates chunks in a single transaction.
func (vs *PgVectorStore) UpsertBatch(ctx context.Context, chunks []DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	start := time.Now()
	tx, err := vs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, size, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			size = EXCLUDED.size,
			embedding = EXCLUDED.embedding
	`, vs.table))
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		chunk := chunks[i]
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("chunk %d has no embedding", i)
		}
		chunk.EnsureID()

		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}

		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.Content, meta, chunk.Size, pgvector.NewVector(chunk.Embedding)); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.logger.Debug("batch upsert completed",
		"count", len(chunks),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Search performs cosine similarity search.
func (vs *PgVectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]RetrievedChunk, error) {
	if topK <= 0 {
		topK = 4
	}

	rows, err := vs.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, metadata, size, 1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vs.table), pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var results []RetrievedChunk
	for rows.Next() {
		var (
			rc   RetrievedChunk
			meta []byte
		)
		if err := rows.Scan(&rc.ID, &rc.Content, &meta, &rc.Size, &rc.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
			}
		}
		results = append(results, rc)
	}
	return results, rows.Err()
}

// Count returns the number of stored chunks.
func (vs *PgVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := vs.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, vs.table)).Scan(&n)
	return n, err
}

// LocalIndexFile is the file name of a saved local index inside its directory.
const LocalIndexFile = "index.json"

// LocalVectorStore keeps all chunks in memory and searches them exhaustively.
// It persists to a single JSON file so a prebuilt index can be shipped next
// to the binary or pulled from object storage.
type LocalVectorStore struct {
	mu     sync.RWMutex
	dir    string
	chunks []DocumentChunk
	byID   map[string]int
}

// NewLocalVectorStore creates an empty store rooted at dir.
func NewLocalVectorStore(dir string) *LocalVectorStore {
	return &LocalVectorStore{dir: dir, byID: make(map[string]int)}
}

// LoadLocalVectorStore reads a saved index from dir.
func LoadLocalVectorStore(dir string) (*LocalVectorStore, error) {
	data, err := os.ReadFile(filepath.Join(dir, LocalIndexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, dir)
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var chunks []DocumentChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("failed to decode index: %w", err)
	}

	store := NewLocalVectorStore(dir)
	if err := store.UpsertBatch(context.Background(), chunks); err != nil {
		return nil, err
	}
	return store, nil
}

// Dir returns the directory the store persists to.
func (s *LocalVectorStore) Dir() string { return s.dir }

// Save writes the index to disk atomically.
func (s *LocalVectorStore) Save() error {
	s.mu.RLock()
	data, err := json.Marshal(s.chunks)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}
	tmp := filepath.Join(s.dir, LocalIndexFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, LocalIndexFile))
}

// UpsertBatch inserts or replaces chunks by ID.
func (s *LocalVectorStore) UpsertBatch(_ context.Context, chunks []DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range chunks {
		chunk := chunks[i]
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("chunk %d has no embedding", i)
		}
		chunk.EnsureID()
		if idx, ok := s.byID[chunk.ID]; ok {
			s.chunks[idx] = chunk
			continue
		}
		s.byID[chunk.ID] = len(s.chunks)
		s.chunks = append(s.chunks, chunk)
	}
	return nil
}

// Search ranks every chunk by cosine similarity. Ties keep insertion order.
func (s *LocalVectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]RetrievedChunk, error) {
	if topK <= 0 {
		topK = 4
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	scored := make([]RetrievedChunk, len(s.chunks))
	for i, c := range s.chunks {
		scored[i] = RetrievedChunk{
			DocumentChunk: c,
			Similarity:    float64(embedder.CosineSimilarity(embedding, c.Embedding)),
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Count returns the number of stored chunks.
func (s *LocalVectorStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// Health always succeeds once the index is loaded.
func (s *LocalVectorStore) Health(context.Context) error { return nil }
