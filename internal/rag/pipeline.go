package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alqutdigital/finance-chat/internal/chat"
	"github.com/alqutdigital/finance-chat/internal/llm"
	"github.com/alqutdigital/finance-chat/internal/storage"
)

// Result is the outcome of one documentation question.
type Result struct {
	Status  chat.Status
	Answer  string
	Context []chat.PageRef
	// ErrorText is the client-facing error detail.
	ErrorText string
	Err       error
}

// Pipeline retrieves passages and asks the model for a grounded answer.
type Pipeline struct {
	retriever    *Retriever
	builder      *ContextBuilder
	provider     llm.Provider
	stageTimeout time.Duration
	logger       *slog.Logger
}

// NewPipeline creates a Pipeline. A zero stageTimeout leaves the caller's deadline in charge.
func NewPipeline(retriever *Retriever, builder *ContextBuilder, provider llm.Provider, stageTimeout time.Duration, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		retriever:    retriever,
		builder:      builder,
		provider:     provider,
		stageTimeout: stageTimeout,
		logger:       logger.With("component", "rag_pipeline"),
	}
}

// Answer runs retrieval and generation. Failures are folded into the Result.
func (p *Pipeline) Answer(ctx context.Context, question string) Result {
	if p.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}

	retrieved, err := p.retriever.Retrieve(ctx, question)
	if err != nil {
		return p.fail(err)
	}

	built := p.builder.Build(retrieved.Chunks)
	completion, err := p.provider.Complete(ctx, llm.UserPrompt("", BuildPrompt(built.Text, question)))
	if err != nil {
		return p.fail(fmt.Errorf("answer generation failed: %w", err))
	}

	p.logger.Info("rag answer generated",
		"chunks", len(built.IncludedChunks),
		"context_tokens", built.TokenCount,
		"output_tokens", completion.Usage.OutputTokens,
	)

	return Result{
		Status:  chat.StatusSuccess,
		Answer:  completion.Text,
		Context: pageRefs(built.IncludedChunks),
	}
}

func (p *Pipeline) fail(err error) Result {
	p.logger.Warn("rag pipeline failed", "error", err)
	return Result{
		Status:    chat.StatusError,
		Context:   []chat.PageRef{},
		ErrorText: err.Error(),
		Err:       err,
	}
}

func pageRefs(chunks []storage.RetrievedChunk) []chat.PageRef {
	refs := make([]chat.PageRef, 0, len(chunks))
	for _, c := range chunks {
		refs = append(refs, chat.PageRef{
			Page:      c.Metadata.Page,
			PageStart: c.Metadata.PageStart,
			PageEnd:   c.Metadata.PageEnd,
		})
	}
	return refs
}
