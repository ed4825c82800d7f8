package rag

import (
	"log/slog"
	"strings"

	"github.com/alqutdigital/finance-chat/internal/storage"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts prompt tokens.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates four characters per token.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// NewTokenCounter returns a tiktoken counter for model, falling back to
// cl100k_base and then to EstimateCounter when no encoding can be loaded.
func NewTokenCounter(model string, logger *slog.Logger) TokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		logger.Warn("tokenizer unavailable, estimating token counts", "error", err)
		return EstimateCounter{}
	}
	return tiktokenCounter{enc: enc}
}

// ContextBuilder joins retrieved passages into prompt context within a token budget.
type ContextBuilder struct {
	counter   TokenCounter
	maxTokens int
	separator string
	logger    *slog.Logger
}

// BuiltContext represents the result of context building.
type BuiltContext struct {
	Text           string                   `json:"text"`
	TokenCount     int                      `json:"token_count"`
	IncludedChunks []storage.RetrievedChunk `json:"included_chunks"`
	TruncatedCount int                      `json:"truncated_count"`
}

// NewContextBuilder creates a ContextBuilder. A non-positive maxTokens disables the budget.
func NewContextBuilder(counter TokenCounter, maxTokens int, logger *slog.Logger) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if counter == nil {
		counter = EstimateCounter{}
	}
	return &ContextBuilder{
		counter:   counter,
		maxTokens: maxTokens,
		separator: "\n\n",
		logger:    logger.With("component", "context_builder"),
	}
}

// Build keeps chunks in retrieval order and stops at the first one that
// would exceed the budget. The first chunk is always included.
func (cb *ContextBuilder) Build(chunks []storage.RetrievedChunk) *BuiltContext {
	result := &BuiltContext{}
	var sb strings.Builder

	for i, chunk := range chunks {
		cost := cb.counter.Count(chunk.Content)
		if i > 0 {
			cost += cb.counter.Count(cb.separator)
		}
		if cb.maxTokens > 0 && i > 0 && result.TokenCount+cost > cb.maxTokens {
			result.TruncatedCount = len(chunks) - i
			break
		}
		if i > 0 {
			sb.WriteString(cb.separator)
		}
		sb.WriteString(chunk.Content)
		result.TokenCount += cost
		result.IncludedChunks = append(result.IncludedChunks, chunk)
	}

	result.Text = sb.String()
	if result.TruncatedCount > 0 {
		cb.logger.Debug("token budget reached",
			"included", len(result.IncludedChunks),
			"truncated", result.TruncatedCount,
		)
	}
	return result
}
