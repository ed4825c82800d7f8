// Package embedder turns text into vectors for document retrieval.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alqutdigital/finance-chat/pkg/logger"
	gocache "github.com/patrickmn/go-cache"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Embedder defines the interface for embedding generation.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int

	// ModelName returns the model name.
	ModelName() string
}

// Config holds configuration for the OpenAI embedder.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxBatchSize   int           // Max texts per API call
	MaxRetries     int           // Max retry attempts
	RetryDelay     time.Duration // Initial retry delay, doubled per attempt
	RateLimitRPS   int           // Requests per second
	CacheTTL       time.Duration // Zero disables caching
	RequestTimeout time.Duration // Timeout per request
}

// DefaultConfig returns the configuration used for the documentation index.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		Model:          string(openai.AdaEmbeddingV2),
		MaxBatchSize:   100,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		RateLimitRPS:   50,
		CacheTTL:       time.Hour,
		RequestTimeout: 60 * time.Second,
	}
}

// Stats tracks embedding usage.
type Stats struct {
	TotalRequests int64 `json:"total_requests"`
	TotalTokens   int64 `json:"total_tokens"`
	TotalTexts    int64 `json:"total_texts"`
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	Errors        int64 `json:"errors"`
}

// OpenAIEmbedder implements Embedder using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client      *openai.Client
	config      Config
	rateLimiter *rate.Limiter
	cache       *gocache.Cache
	log         *logger.Logger

	statsMu sync.Mutex
	stats   Stats
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(cfg Config, log *logger.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	var cache *gocache.Cache
	if cfg.CacheTTL > 0 {
		cache = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}

	return &OpenAIEmbedder{
		client:      openai.NewClientWithConfig(clientCfg),
		config:      cfg,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitRPS),
		cache:       cache,
		log:         log.WithComponent("embedder"),
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	startTime := time.Now()
	results := make([][]float32, len(texts))
	pending := make([]int, 0, len(texts))

	for i, text := range texts {
		if emb, ok := e.cached(text); ok {
			results[i] = emb
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) == 0 {
		return results, nil
	}

	for start := 0; start < len(pending); start += e.config.MaxBatchSize {
		end := min(start+e.config.MaxBatchSize, len(pending))
		batchIdx := pending[start:end]

		batch := make([]string, len(batchIdx))
		for j, idx := range batchIdx {
			batch[j] = texts[idx]
		}

		embeddings, tokens, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			e.record(func(s *Stats) { s.Errors++ })
			return nil, fmt.Errorf("batch embedding failed: %w", err)
		}

		for j, emb := range embeddings {
			results[batchIdx[j]] = emb
			if e.cache != nil {
				e.cache.SetDefault(hashText(batch[j]), emb)
			}
		}

		e.record(func(s *Stats) {
			s.TotalRequests++
			s.TotalTokens += int64(tokens)
			s.TotalTexts += int64(len(batch))
		})
	}

	e.log.Debug("batch embedding complete",
		"total_texts", len(texts),
		"from_api", len(pending),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return results, nil
}

func (e *OpenAIEmbedder) cached(text string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	if v, ok := e.cache.Get(hashText(text)); ok {
		e.record(func(s *Stats) { s.CacheHits++ })
		return v.([]float32), true
	}
	e.record(func(s *Stats) { s.CacheMisses++ })
	return nil, false
}

func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, int, error) {
	var lastErr error
	delay := e.config.RetryDelay

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := e.rateLimiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limiter error: %w", err)
		}

		embeddings, tokens, err := e.doEmbedBatch(ctx, texts)
		if err == nil {
			return embeddings, tokens, nil
		}

		lastErr = err
		e.log.WithError(err).Warn("embedding request failed", "attempt", attempt)
	}

	return nil, 0, fmt.Errorf("all retries failed: %w", lastErr)
}

func (e *OpenAIEmbedder) doEmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, 0, fmt.Errorf("unexpected response: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, 0, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}

	return embeddings, resp.Usage.TotalTokens, nil
}

// Dimension returns the embedding dimension for the model.
func (e *OpenAIEmbedder) Dimension() int {
	switch e.config.Model {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// ModelName returns the model name.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// GetStats returns current embedding statistics.
func (e *OpenAIEmbedder) GetStats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *OpenAIEmbedder) record(fn func(*Stats)) {
	e.statsMu.Lock()
	fn(&e.stats)
	e.statsMu.Unlock()
}

func hashText(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:16])
}

// HashEmbedder produces deterministic vectors from a text hash. It has no
// semantic meaning and exists for offline runs and tests.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a HashEmbedder.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

// Embed generates a deterministic embedding.
func (m *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash := sha256.Sum256([]byte(text))
	embedding := make([]float32, m.dimension)
	for i := range embedding {
		embedding[i] = float32(hash[i%len(hash)]) / 255.0
	}
	return embedding, nil
}

// EmbedBatch embeds each text in order.
func (m *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimension returns the embedding dimension.
func (m *HashEmbedder) Dimension() int { return m.dimension }

// ModelName returns the model name.
func (m *HashEmbedder) ModelName() string { return "hash-embedder" }

// CosineSimilarity calculates cosine similarity between two embeddings.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
