// Package rag answers documentation questions from retrieved manual passages.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alqutdigital/finance-chat/internal/storage"
)

// Embedder defines the interface for generating query embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds the passages nearest to a query.
type Retriever struct {
	vectorStore storage.VectorStore
	embedder    Embedder
	cache       storage.EmbeddingCache
	logger      *slog.Logger
	config      RetrieverConfig
}

// RetrieverConfig holds configuration for the retriever.
type RetrieverConfig struct {
	TopK         int
	CacheEnabled bool
}

// DefaultRetrieverConfig returns a default configuration.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		TopK:         4,
		CacheEnabled: true,
	}
}

// RetrievalResult represents the result of a retrieval operation.
type RetrievalResult struct {
	Chunks   []storage.RetrievedChunk `json:"chunks"`
	Query    string                   `json:"query"`
	Timing   RetrievalTiming          `json:"timing"`
	CacheHit bool                     `json:"cache_hit"`
}

// RetrievalTiming tracks timing information for retrieval.
type RetrievalTiming struct {
	EmbeddingMs int64 `json:"embedding_ms"`
	SearchMs    int64 `json:"search_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// NewRetriever creates a new Retriever instance. cache may be nil.
func NewRetriever(vectorStore storage.VectorStore, embedder Embedder, cache storage.EmbeddingCache, logger *slog.Logger, config RetrieverConfig) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TopK <= 0 {
		config.TopK = 4
	}
	if cache == nil {
		cache = storage.NullCacheManager{}
	}

	return &Retriever{
		vectorStore: vectorStore,
		embedder:    embedder,
		cache:       cache,
		logger:      logger.With("component", "retriever"),
		config:      config,
	}
}

// Retrieve embeds query and returns the nearest passages, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string) (*RetrievalResult, error) {
	start := time.Now()
	result := &RetrievalResult{Query: query}
	retrievalKey := storage.BuildRetrievalKey(query, r.config.TopK)

	if r.config.CacheEnabled {
		if chunks, hit, err := r.cache.GetRetrieval(ctx, retrievalKey); err == nil && hit {
			result.Chunks = chunks
			result.CacheHit = true
			result.Timing.TotalMs = time.Since(start).Milliseconds()
			return result, nil
		}
	}

	embedding, err := r.queryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	result.Timing.EmbeddingMs = time.Since(start).Milliseconds()

	searchStart := time.Now()
	chunks, err := r.vectorStore.Search(ctx, embedding, r.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	result.Chunks = chunks
	result.Timing.SearchMs = time.Since(searchStart).Milliseconds()

	if r.config.CacheEnabled {
		if err := r.cache.SetRetrieval(ctx, retrievalKey, chunks); err != nil {
			r.logger.Warn("failed to cache retrieval", "error", err)
		}
	}

	result.Timing.TotalMs = time.Since(start).Milliseconds()
	r.logger.Info("retrieval completed",
		"results", len(chunks),
		"total_ms", result.Timing.TotalMs,
	)
	return result, nil
}

func (r *Retriever) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if r.config.CacheEnabled {
		if emb, hit, err := r.cache.GetEmbedding(ctx, query); err == nil && hit {
			return emb, nil
		}
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	if r.config.CacheEnabled {
		if err := r.cache.SetEmbedding(ctx, query, embedding); err != nil {
			r.logger.Warn("failed to cache embedding", "error", err)
		}
	}
	return embedding, nil
}
