// Package indexer splits extracted pages into chunks and writes their embeddings into a
// document-scoped vector namespace.
package indexer

import (
	"fmt"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/models"
)

// Chunker splits page text into overlapping rune-based windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in runes).
// Overlap must be smaller than size so every window advances.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", chunkSize, chunkOverlap)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// ChunkID returns the deterministic id of the chunk at index on page.
func ChunkID(docID string, page, index int) string {
	return fmt.Sprintf("%s#p%d-c%d", docID, page, index)
}

// Split chunks every page in order. Page text is normalized with Preprocess first; blank
// pages produce no chunks. Returns an EmptyContentError when no page has any text.
func (c *Chunker) Split(docID string, pages []models.Page) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	for _, p := range pages {
		for i, text := range c.windows(Preprocess(p.Text)) {
			chunks = append(chunks, &models.Chunk{
				ID:         ChunkID(docID, p.Index, i),
				DocumentID: docID,
				Text:       text,
				Page:       p.Index,
				Index:      i,
				Ordinal:    len(chunks),
			})
		}
	}
	if len(chunks) == 0 {
		return nil, apperr.Errorf(apperr.KindEmptyContent, "chunk", "document %s has no extractable text", docID)
	}
	return chunks, nil
}

// windows returns the window texts of s. Windows start every chunkSize-chunkOverlap runes
// and the last one ends exactly at the end of s.
func (c *Chunker) windows(s string) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.chunkSize {
		return []string{s}
	}
	step := c.chunkSize - c.chunkOverlap
	var out []string
	for start := 0; ; start += step {
		end := start + c.chunkSize
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
