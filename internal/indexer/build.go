package indexer

import (
	"context"
	"fmt"

	"github.com/alqutdigital/finance-chat/internal/storage"
	"github.com/alqutdigital/finance-chat/pkg/logger"
)

// BatchEmbedder embeds many texts in one call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ProgressFunc is called after each batch with the number of chunks done so far.
type ProgressFunc func(done, total int)

// Builder embeds chunks and writes them to a vector store.
type Builder struct {
	embedder  BatchEmbedder
	store     storage.VectorStore
	batchSize int
	progress  ProgressFunc
	log       *logger.Logger
}

// NewBuilder creates a Builder. progress may be nil.
func NewBuilder(embedder BatchEmbedder, store storage.VectorStore, batchSize int, progress ProgressFunc, log *logger.Logger) *Builder {
	if batchSize <= 0 {
		batchSize = 100
	}
	if log == nil {
		log = logger.Default()
	}
	if progress == nil {
		progress = func(int, int) {}
	}
	return &Builder{
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		progress:  progress,
		log:       log.WithComponent("index-builder"),
	}
}

// BuildIndex embeds and stores chunks batch by batch and returns how many were stored.
// A local store is saved to disk once every batch has been written.
func (b *Builder) BuildIndex(ctx context.Context, chunks []storage.DocumentChunk) (int, error) {
	stored := 0
	for start := 0; start < len(chunks); start += b.batchSize {
		end := min(start+b.batchSize, len(chunks))
		batch := make([]storage.DocumentChunk, end-start)
		copy(batch, chunks[start:end])

		texts := make([]string, len(batch))
		for i := range batch {
			batch[i].EnsureID()
			texts[i] = batch[i].Content
		}

		vectors, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return stored, fmt.Errorf("failed to embed chunks %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return stored, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		if err := b.store.UpsertBatch(ctx, batch); err != nil {
			return stored, fmt.Errorf("failed to store chunks %d-%d: %w", start, end, err)
		}
		stored += len(batch)
		b.progress(stored, len(chunks))
	}

	if local, ok := b.store.(*storage.LocalVectorStore); ok {
		if err := local.Save(); err != nil {
			return stored, err
		}
	}

	b.log.Info("index built", "chunks", stored)
	return stored, nil
}
