// Package storage provides database, cache, vector and object storage access.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// chunkNamespace scopes deterministic chunk IDs.
var chunkNamespace = uuid.MustParse("5b7e1d1c-3f0a-4a55-9d0e-2f6d8b1c7a42")

// ChunkMetadata locates a chunk in the source manual.
type ChunkMetadata struct {
	Page      *int `json:"page,omitempty"`
	PageStart *int `json:"page_start,omitempty"`
	PageEnd   *int `json:"page_end,omitempty"`
}

// IsEmpty reports whether no page information is set.
func (m ChunkMetadata) IsEmpty() bool {
	return m.Page == nil && m.PageStart == nil && m.PageEnd == nil
}

// PageRange builds metadata for a chunk spanning pages start..end (1-based).
func PageRange(start, end int) ChunkMetadata {
	return ChunkMetadata{PageStart: &start, PageEnd: &end}
}

// DocumentChunk is a passage of the manual, optionally with its embedding.
// The JSON shape matches chunks.json: {content, metadata, size}.
type DocumentChunk struct {
	ID        string        `json:"id,omitempty"`
	Content   string        `json:"content"`
	Metadata  ChunkMetadata `json:"metadata"`
	Size      int           `json:"size"`
	Embedding []float32     `json:"embedding,omitempty"`
}

// NewDocumentChunk builds a chunk with a content-derived ID.
func NewDocumentChunk(content string, meta ChunkMetadata) DocumentChunk {
	c := DocumentChunk{Content: content, Metadata: meta, Size: len(content)}
	c.EnsureID()
	return c
}

// EnsureID assigns a deterministic ID when none is set, so re-indexing
// the same passage overwrites rather than duplicates.
func (c *DocumentChunk) EnsureID() {
	if c.ID != "" {
		return
	}
	key := c.Content
	if raw, err := json.Marshal(c.Metadata); err == nil {
		key = string(raw) + "\x00" + c.Content
	}
	c.ID = uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// RetrievedChunk is a chunk with its similarity to the query.
type RetrievedChunk struct {
	DocumentChunk
	Similarity float64 `json:"similarity"`
}

func (c RetrievedChunk) String() string {
	return fmt.Sprintf("chunk %s (%.3f)", c.ID, c.Similarity)
}
