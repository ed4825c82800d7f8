package storage

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// EmbeddingCache caches query embeddings and retrieval results.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, query string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, query string, embedding []float32) error
	GetRetrieval(ctx context.Context, key string) ([]RetrievedChunk, bool, error)
	SetRetrieval(ctx context.Context, key string, chunks []RetrievedChunk) error
}

// CacheConfig holds configuration for the cache manager.
type CacheConfig struct {
	Prefix              string
	EmbeddingTTL        time.Duration
	RetrievalTTL        time.Duration
	GracefulDegradation bool // Continue without cache if Redis errors
}

// DefaultCacheConfig returns a default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Prefix:              "finchat",
		EmbeddingTTL:        time.Hour,
		RetrievalTTL:        5 * time.Minute,
		GracefulDegradation: true,
	}
}

// CacheMetrics tracks cache hit/miss statistics.
type CacheMetrics struct {
	EmbeddingHits   uint64
	EmbeddingMisses uint64
	RetrievalHits   uint64
	RetrievalMisses uint64
	Errors          uint64
}

// CacheManager is a Redis-backed EmbeddingCache.
type CacheManager struct {
	client  RedisClient
	config  CacheConfig
	logger  *slog.Logger
	metrics CacheMetrics
}

// NewCacheManager creates a CacheManager over client.
func NewCacheManager(client RedisClient, logger *slog.Logger, config CacheConfig) *CacheManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheManager{
		client: client,
		config: config,
		logger: logger.With("component", "cache_manager"),
	}
}

// GetMetrics returns current cache metrics.
func (cm *CacheManager) GetMetrics() CacheMetrics {
	return CacheMetrics{
		EmbeddingHits:   atomic.LoadUint64(&cm.metrics.EmbeddingHits),
		EmbeddingMisses: atomic.LoadUint64(&cm.metrics.EmbeddingMisses),
		RetrievalHits:   atomic.LoadUint64(&cm.metrics.RetrievalHits),
		RetrievalMisses: atomic.LoadUint64(&cm.metrics.RetrievalMisses),
		Errors:          atomic.LoadUint64(&cm.metrics.Errors),
	}
}

// GetEmbedding retrieves a cached embedding for a query.
func (cm *CacheManager) GetEmbedding(ctx context.Context, query string) ([]float32, bool, error) {
	data, err := cm.client.Get(ctx, cm.key("emb", query))
	if err != nil {
		atomic.AddUint64(&cm.metrics.EmbeddingMisses, 1)
		return nil, false, cm.degrade(err)
	}

	embedding, err := decodeEmbedding([]byte(data))
	if err != nil {
		atomic.AddUint64(&cm.metrics.Errors, 1)
		return nil, false, cm.degrade(err)
	}

	atomic.AddUint64(&cm.metrics.EmbeddingHits, 1)
	return embedding, true, nil
}

// SetEmbedding caches an embedding for a query.
func (cm *CacheManager) SetEmbedding(ctx context.Context, query string, embedding []float32) error {
	err := cm.client.Set(ctx, cm.key("emb", query), encodeEmbedding(embedding), cm.config.EmbeddingTTL)
	return cm.degrade(err)
}

// GetRetrieval retrieves cached retrieval results.
func (cm *CacheManager) GetRetrieval(ctx context.Context, key string) ([]RetrievedChunk, bool, error) {
	data, err := cm.client.Get(ctx, cm.key("ret", key))
	if err != nil {
		atomic.AddUint64(&cm.metrics.RetrievalMisses, 1)
		return nil, false, cm.degrade(err)
	}

	var chunks []RetrievedChunk
	if err := json.Unmarshal([]byte(data), &chunks); err != nil {
		atomic.AddUint64(&cm.metrics.Errors, 1)
		return nil, false, cm.degrade(err)
	}

	atomic.AddUint64(&cm.metrics.RetrievalHits, 1)
	return chunks, true, nil
}

// SetRetrieval caches retrieval results without their embeddings.
func (cm *CacheManager) SetRetrieval(ctx context.Context, key string, chunks []RetrievedChunk) error {
	slim := make([]RetrievedChunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = nil
		slim[i] = c
	}
	data, err := json.Marshal(slim)
	if err != nil {
		return fmt.Errorf("failed to encode retrieval: %w", err)
	}
	return cm.degrade(cm.client.Set(ctx, cm.key("ret", key), data, cm.config.RetrievalTTL))
}

// InvalidateRetrievals drops every cached retrieval. Call it after the index
// changes; cached query embeddings stay valid.
func (cm *CacheManager) InvalidateRetrievals(ctx context.Context) (int64, error) {
	keys, err := cm.client.Keys(ctx, fmt.Sprintf("%s:ret:*", cm.config.Prefix))
	if err != nil {
		return 0, fmt.Errorf("failed to list cached retrievals: %w", err)
	}

	var deleted int64
	for start := 0; start < len(keys); start += 500 {
		end := min(start+500, len(keys))
		n, err := cm.client.Del(ctx, keys[start:end]...)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete cached retrievals: %w", err)
		}
		deleted += n
	}

	cm.logger.Info("retrieval cache invalidated", "keys", deleted)
	return deleted, nil
}

// BuildRetrievalKey builds the cache key for a query and result size.
func BuildRetrievalKey(query string, topK int) string {
	return fmt.Sprintf("%s:%d", query, topK)
}

func (cm *CacheManager) key(kind, raw string) string {
	return fmt.Sprintf("%s:%s:%s", cm.config.Prefix, kind, hashQuery(raw))
}

// degrade swallows errors when graceful degradation is enabled. A missing key
// is never an error.
func (cm *CacheManager) degrade(err error) error {
	if err == nil || err == ErrKeyNotFound {
		return nil
	}
	atomic.AddUint64(&cm.metrics.Errors, 1)
	cm.logger.Warn("cache operation failed", "error", err)
	if cm.config.GracefulDegradation {
		return nil
	}
	return err
}

func hashQuery(query string) string {
	h := sha256.Sum256([]byte(query))
	return hex.EncodeToString(h[:16])
}

func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding data length: %d", len(data))
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding, nil
}

// NullCacheManager is a no-op cache for when Redis is not configured.
type NullCacheManager struct{}

// GetEmbedding always returns a cache miss.
func (NullCacheManager) GetEmbedding(context.Context, string) ([]float32, bool, error) {
	return nil, false, nil
}

// SetEmbedding does nothing.
func (NullCacheManager) SetEmbedding(context.Context, string, []float32) error { return nil }

// GetRetrieval always returns a cache miss.
func (NullCacheManager) GetRetrieval(context.Context, string) ([]RetrievedChunk, bool, error) {
	return nil, false, nil
}

// SetRetrieval does nothing.
func (NullCacheManager) SetRetrieval(context.Context, string, []RetrievedChunk) error { return nil }
