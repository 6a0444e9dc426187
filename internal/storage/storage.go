// Package storage persists document registrations and pipeline status snapshots.
package storage

import (
	"context"

	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/status"
)

// Storage defines registration and status persistence operations.
type Storage interface {
	// Registration operations
	RegisterDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, ownerID, docID string) (*models.Document, error)
	ListDocuments(ctx context.Context, ownerID string, offset, limit int) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, ownerID, docID string) error

	// Resolve returns where the raw bytes of a document owned by ownerID live.
	Resolve(ctx context.Context, ownerID, docID string) (models.Location, error)

	// Status operations
	status.Store

	// Stats
	CountDocuments(ctx context.Context) (int64, error)

	Close() error
}
