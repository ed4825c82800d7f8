package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alqutdigital/finance-chat/internal/embedder"
	"github.com/alqutdigital/finance-chat/internal/storage"
)

func TestSplitParagraphs(t *testing.T) {
	page := "Oracle Payables\n\n" +
		"Invoices can be entered manually or imported from external systems.\n\n\n\n" +
		"12\n\n" +
		"  A hold prevents payment of an invoice until it is released.  "

	got := SplitParagraphs(page, 7)
	require.Len(t, got, 2)
	assert.Equal(t, Paragraph{Text: "Invoices can be entered manually or imported from external systems.", Page: 7}, got[0])
	assert.Equal(t, "A hold prevents payment of an invoice until it is released.", got[1].Text)
}

func TestGroupParagraphs(t *testing.T) {
	paras := []Paragraph{
		{Text: "first", Page: 1},
		{Text: "second", Page: 1},
		{Text: "third", Page: 2},
		{Text: "fourth", Page: 4},
	}

	groups := GroupParagraphs(paras, 3)
	require.Len(t, groups, 2)

	assert.Equal(t, "first\n\nsecond\n\nthird", groups[0].Content)
	assert.Equal(t, 1, *groups[0].Metadata.PageStart)
	assert.Equal(t, 2, *groups[0].Metadata.PageEnd)

	assert.Equal(t, "fourth", groups[1].Content)
	assert.Equal(t, 4, *groups[1].Metadata.PageStart)
	assert.Equal(t, 4, *groups[1].Metadata.PageEnd)
}

func TestChunker_Split(t *testing.T) {
	c, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)

	var sentences []string
	for i := 0; i < 60; i++ {
		sentences = append(sentences, fmt.Sprintf("Sentence %d explains how payment batches are created.", i))
	}
	groups := []Group{
		{Content: strings.Join(sentences, " "), Metadata: storage.PageRange(12, 14)},
		{Content: "A short group that fits in one chunk.", Metadata: storage.PageRange(15, 15)},
	}

	chunks, err := c.Split(groups)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), DefaultChunkSize)
		assert.NotEmpty(t, ch.ID)
		assert.Equal(t, len(ch.Content), ch.Size)
	}

	last := chunks[len(chunks)-1]
	assert.Equal(t, "A short group that fits in one chunk.", last.Content)
	assert.Equal(t, 15, *last.Metadata.PageStart)
	assert.Equal(t, 12, *chunks[0].Metadata.PageStart)
	assert.Equal(t, 14, *chunks[0].Metadata.PageEnd)
}

func TestNewChunker_RejectsBadOverlap(t *testing.T) {
	_, err := NewChunker(100, 100)
	assert.Error(t, err)
	_, err = NewChunker(0, 0)
	assert.Error(t, err)
}

func TestSaveAndLoadChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resources", "chunks.json")
	in := []storage.DocumentChunk{storage.NewDocumentChunk("Payables options control invoice defaults.", storage.PageRange(3, 4))}
	in[0].Embedding = []float32{0.1}

	require.NoError(t, SaveChunks(path, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"page_start": 3`)
	assert.NotContains(t, string(raw), "embedding")

	out, err := LoadChunks(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in[0].ID, out[0].ID)
	assert.Equal(t, in[0].Content, out[0].Content)
}

func TestLoadChunks_AssignsMissingIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"content":"abc","metadata":{"page":2}}]`), 0o644))

	out, err := LoadChunks(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.NotEmpty(t, out[0].ID)
	assert.Equal(t, 3, out[0].Size)
	assert.Equal(t, 2, *out[0].Metadata.Page)
}

func TestBuilder_BuildIndex(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewLocalVectorStore(dir)

	chunks := make([]storage.DocumentChunk, 5)
	for i := range chunks {
		chunks[i] = storage.NewDocumentChunk(fmt.Sprintf("chunk number %d", i), storage.PageRange(i+1, i+1))
	}

	var progress []int
	b := NewBuilder(embedder.NewHashEmbedder(16), store, 2, func(done, total int) {
		assert.Equal(t, 5, total)
		progress = append(progress, done)
	}, nil)

	n, err := b.BuildIndex(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int{2, 4, 5}, progress)

	loaded, err := storage.LoadLocalVectorStore(dir)
	require.NoError(t, err)
	count, err := loaded.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("quota exceeded")
}

func TestBuilder_EmbedError(t *testing.T) {
	b := NewBuilder(failingEmbedder{}, storage.NewLocalVectorStore(t.TempDir()), 10, nil, nil)
	_, err := b.BuildIndex(context.Background(), []storage.DocumentChunk{storage.NewDocumentChunk("x", storage.ChunkMetadata{})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

// memObjects is an in-memory storage.ObjectStorage.
type memObjects struct {
	objects map[string][]byte
}

func (m *memObjects) UploadFile(_ context.Context, localPath, remotePath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	m.objects[remotePath] = data
	return remotePath, nil
}

func (m *memObjects) UploadReader(_ context.Context, r io.Reader, _ int64, remotePath, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.objects[remotePath] = data
	return remotePath, nil
}

func (m *memObjects) DownloadFile(_ context.Context, remotePath, localPath string) error {
	data, ok := m.objects[remotePath]
	if !ok {
		return errors.New("not found")
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (m *memObjects) Exists(_ context.Context, remotePath string) (bool, error) {
	_, ok := m.objects[remotePath]
	return ok, nil
}

func (m *memObjects) List(context.Context, string) ([]storage.ObjectInfo, error) { return nil, nil }
func (m *memObjects) Health(context.Context) error { return nil }

func TestPushAndPullIndex(t *testing.T) {
	src := t.TempDir()
	store := storage.NewLocalVectorStore(src)
	chunk := storage.NewDocumentChunk("Payment terms define due dates.", storage.PageRange(40, 41))
	chunk.Embedding = []float32{1, 0}
	require.NoError(t, store.UpsertBatch(context.Background(), []storage.DocumentChunk{chunk}))
	require.NoError(t, store.Save())

	objects := &memObjects{objects: map[string][]byte{}}

	ok, err := PullIndex(context.Background(), objects, "index", t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := PushIndex(context.Background(), objects, "index", src, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"index/index.json"}, keys)

	dst := t.TempDir()
	ok, err = PullIndex(context.Background(), objects, "index", dst)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := storage.LoadLocalVectorStore(dst)
	require.NoError(t, err)
	n, _ := loaded.Count(context.Background())
	assert.Equal(t, 1, n)
}
