// Package models defines core data structures for documents, chunks, conversations, and answers.
package models

import "time"

// Document is a registered upload owned by a single user.
type Document struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Location    string    `json:"location"`
	FileName    string    `json:"file_name,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Location is where the raw bytes of a document can be retrieved from.
type Location struct {
	URL         string `json:"url"`
	FileName    string `json:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Page is the extracted text of one page. Index is 1-based.
type Page struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Chunk is a bounded span of page text used as the unit of embedding and retrieval.
// Index increases within a page; Ordinal is the position within the whole document.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Page       int    `json:"page"`
	Index      int    `json:"index"`
	Ordinal    int    `json:"ordinal"`
}

// Record pairs a chunk with its embedding for writing into a vector store.
type Record struct {
	Chunk  *Chunk
	Vector []float32
}
