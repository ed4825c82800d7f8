package rag

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/alqutdigital/finance-chat/internal/chat"
	"github.com/alqutdigital/finance-chat/internal/llm"
	"github.com/alqutdigital/finance-chat/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	return m.vector, m.err
}

type MockVectorStore struct {
	results []storage.RetrievedChunk
	err     error
	lastK   int
}

func (m *MockVectorStore) UpsertBatch(context.Context, []storage.DocumentChunk) error { return nil }

func (m *MockVectorStore) Search(_ context.Context, _ []float32, topK int) ([]storage.RetrievedChunk, error) {
	m.lastK = topK
	return m.results, m.err
}

func (m *MockVectorStore) Count(context.Context) (int, error) { return len(m.results), nil }
func (m *MockVectorStore) Health(context.Context) error       { return nil }

type MockCacheManager struct {
	embeddings map[string][]float32
	retrievals map[string][]storage.RetrievedChunk
}

func NewMockCacheManager() *MockCacheManager {
	return &MockCacheManager{
		embeddings: map[string][]float32{},
		retrievals: map[string][]storage.RetrievedChunk{},
	}
}

func (m *MockCacheManager) GetEmbedding(_ context.Context, q string) ([]float32, bool, error) {
	e, ok := m.embeddings[q]
	return e, ok, nil
}

func (m *MockCacheManager) SetEmbedding(_ context.Context, q string, e []float32) error {
	m.embeddings[q] = e
	return nil
}

func (m *MockCacheManager) GetRetrieval(_ context.Context, k string) ([]storage.RetrievedChunk, bool, error) {
	c, ok := m.retrievals[k]
	return c, ok, nil
}

func (m *MockCacheManager) SetRetrieval(_ context.Context, k string, c []storage.RetrievedChunk) error {
	m.retrievals[k] = c
	return nil
}

type MockProvider struct {
	answer string
	err    error
	last   llm.Request
}

func (m *MockProvider) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Completion{Text: m.answer}, nil
}

func (m *MockProvider) Name() string  { return "mock" }
func (m *MockProvider) Model() string { return "gpt-4.1-nano" }

func policyChunk() storage.RetrievedChunk {
	return storage.RetrievedChunk{
		DocumentChunk: storage.NewDocumentChunk("A policy defines approval rules for invoices.", storage.PageRange(12, 14)),
		Similarity:    0.91,
	}
}

func TestRetriever_UsesTopKAndCaches(t *testing.T) {
	store := &MockVectorStore{results: []storage.RetrievedChunk{policyChunk()}}
	emb := &MockEmbedder{vector: []float32{1, 0}}
	cache := NewMockCacheManager()

	r := NewRetriever(store, emb, cache, nil, RetrieverConfig{CacheEnabled: true})

	res, err := r.Retrieve(context.Background(), "what is a policy?")
	require.NoError(t, err)
	assert.Equal(t, 4, store.lastK)
	assert.Len(t, res.Chunks, 1)
	assert.False(t, res.CacheHit)

	res, err = r.Retrieve(context.Background(), "what is a policy?")
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, 1, emb.calls)
	assert.Contains(t, cache.embeddings, "what is a policy?")
}

func TestRetriever_EmbedError(t *testing.T) {
	r := NewRetriever(&MockVectorStore{}, &MockEmbedder{err: errors.New("quota")}, nil, nil, DefaultRetrieverConfig())
	_, err := r.Retrieve(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestContextBuilder_Budget(t *testing.T) {
	chunks := []storage.RetrievedChunk{
		{DocumentChunk: storage.DocumentChunk{Content: strings.Repeat("a", 40)}},
		{DocumentChunk: storage.DocumentChunk{Content: strings.Repeat("b", 40)}},
		{DocumentChunk: storage.DocumentChunk{Content: strings.Repeat("c", 40)}},
	}

	built := NewContextBuilder(EstimateCounter{}, 22, nil).Build(chunks)
	assert.Len(t, built.IncludedChunks, 2)
	assert.Equal(t, 1, built.TruncatedCount)
	assert.Equal(t, strings.Repeat("a", 40)+"\n\n"+strings.Repeat("b", 40), built.Text)

	unlimited := NewContextBuilder(nil, 0, nil).Build(chunks)
	assert.Len(t, unlimited.IncludedChunks, 3)

	tiny := NewContextBuilder(EstimateCounter{}, 1, nil).Build(chunks)
	assert.Len(t, tiny.IncludedChunks, 1)
}

func TestPipeline_AnswerWithPages(t *testing.T) {
	store := &MockVectorStore{results: []storage.RetrievedChunk{policyChunk()}}
	provider := &MockProvider{answer: "A policy sets approval rules."}
	p := NewPipeline(
		NewRetriever(store, &MockEmbedder{vector: []float32{1}}, nil, nil, DefaultRetrieverConfig()),
		NewContextBuilder(EstimateCounter{}, 6000, nil),
		provider, 0, nil,
	)

	res := p.Answer(context.Background(), "what is a policy?")
	require.Equal(t, chat.StatusSuccess, res.Status)
	assert.Equal(t, "A policy sets approval rules.", res.Answer)

	raw, err := json.Marshal(res.Context)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"page_start":12,"page_end":14}]`, string(raw))

	prompt := provider.last.Messages[0].Content
	assert.Contains(t, prompt, "Context:\nA policy defines approval rules for invoices.")
	assert.Contains(t, prompt, "Question: what is a policy?")
	assert.Contains(t, prompt, NoInformationAnswer)
}

func TestPipeline_Errors(t *testing.T) {
	tests := []struct {
		name     string
		store    *MockVectorStore
		embedder *MockEmbedder
		provider *MockProvider
	}{
		{"embed", &MockVectorStore{}, &MockEmbedder{err: errors.New("embed down")}, &MockProvider{}},
		{"search", &MockVectorStore{err: errors.New("index missing")}, &MockEmbedder{vector: []float32{1}}, &MockProvider{}},
		{"generate", &MockVectorStore{}, &MockEmbedder{vector: []float32{1}}, &MockProvider{err: errors.New("502")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(
				NewRetriever(tt.store, tt.embedder, nil, nil, DefaultRetrieverConfig()),
				NewContextBuilder(nil, 0, nil),
				tt.provider, 0, nil,
			)
			res := p.Answer(context.Background(), "q")
			assert.Equal(t, chat.StatusError, res.Status)
			assert.NotEmpty(t, res.ErrorText)
			assert.Error(t, res.Err)
			assert.Empty(t, res.Context)
		})
	}
}
