package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/alqutdigital/finance-chat/internal/storage"
)

// Chunking defaults.
const (
	DefaultGroupSize    = 3
	DefaultChunkSize    = 700
	DefaultChunkOverlap = 200
)

// Separators are tried in order when splitting a group.
var Separators = []string{"\n\n", "\n", " ", ""}

// Group is consecutive paragraphs joined together with their page span.
type Group struct {
	Content  string
	Metadata storage.ChunkMetadata
}

// GroupParagraphs joins every size paragraphs with a blank line. The group's
// page range runs from its first paragraph's page to its last.
func GroupParagraphs(paragraphs []Paragraph, size int) []Group {
	if size <= 0 {
		size = DefaultGroupSize
	}

	groups := make([]Group, 0, (len(paragraphs)+size-1)/size)
	for i := 0; i < len(paragraphs); i += size {
		end := min(i+size, len(paragraphs))
		batch := paragraphs[i:end]

		texts := make([]string, len(batch))
		for j, p := range batch {
			texts[j] = p.Text
		}
		groups = append(groups, Group{
			Content:  strings.TrimSpace(strings.Join(texts, "\n\n")),
			Metadata: storage.PageRange(batch[0].Page, batch[len(batch)-1].Page),
		})
	}
	return groups
}

// Chunker splits groups into overlapping chunks.
type Chunker struct {
	splitter textsplitter.TextSplitter
}

// NewChunker creates a recursive character splitter.
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d)", chunkSize)
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(Separators),
		),
	}, nil
}

// Split chunks every group. Each chunk inherits its group's page range.
func (c *Chunker) Split(groups []Group) ([]storage.DocumentChunk, error) {
	var chunks []storage.DocumentChunk
	for i, g := range groups {
		parts, err := c.splitter.SplitText(g.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to split group %d: %w", i, err)
		}
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			chunks = append(chunks, storage.NewDocumentChunk(part, g.Metadata))
		}
	}
	return chunks, nil
}

// SaveChunks writes chunks as an indented JSON array.
func SaveChunks(path string, chunks []storage.DocumentChunk) error {
	out := make([]storage.DocumentChunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = nil
		c.Size = len(c.Content)
		out[i] = c
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode chunks: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create chunks directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write chunks: %w", err)
	}
	return nil
}

// LoadChunks reads a chunks file, filling in IDs for entries without one.
func LoadChunks(path string) ([]storage.DocumentChunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}

	var chunks []storage.DocumentChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}
	for i := range chunks {
		chunks[i].EnsureID()
		if chunks[i].Size == 0 {
			chunks[i].Size = len(chunks[i].Content)
		}
	}
	return chunks, nil
}
